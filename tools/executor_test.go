package tools

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/scoutagent/scout/ignore"
	"github.com/scoutagent/scout/llm"
	"github.com/scoutagent/scout/snapshot"
)

// fakeConfirmer returns scripted outcomes and records what it was asked.
type fakeConfirmer struct {
	outcomes []Outcome
	requests []ConfirmationRequest
}

func (f *fakeConfirmer) Confirm(_ context.Context, req ConfirmationRequest) (Outcome, error) {
	f.requests = append(f.requests, req)
	if len(f.outcomes) == 0 {
		return ProceedOnce, nil
	}
	out := f.outcomes[0]
	f.outcomes = f.outcomes[1:]
	return out, nil
}

func newTestScheduler(t *testing.T, confirmer Confirmer, ignoreRules string) (*Scheduler, *LocalEnvironment) {
	t.Helper()
	root := t.TempDir()
	if ignoreRules != "" {
		writeRaw(t, filepath.Join(root, ignore.GeminiIgnoreFileName), ignoreRules)
	}
	filter, err := ignore.NewFilter(root)
	if err != nil {
		t.Fatal(err)
	}
	env, err := NewLocalEnvironment(root, filter)
	if err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry()
	RegisterCoreTools(reg, CoreToolsConfig{})
	return NewScheduler(reg, env, nil, confirmer, nil), env
}

func call(name, args string) llm.ToolCall {
	return llm.ToolCall{ID: "call_" + name, Name: name, Arguments: json.RawMessage(args)}
}

func TestExecuteUnknownTool(t *testing.T) {
	s, _ := newTestScheduler(t, nil, "")

	res := s.ExecuteOne(context.Background(), call("launch_rockets", `{}`))
	if !res.IsError || !strings.Contains(res.Content, string(FailUnknownTool)) {
		t.Errorf("result = %+v, want unknown_tool error", res)
	}
}

func TestExecuteInvalidArguments(t *testing.T) {
	s, _ := newTestScheduler(t, nil, "")

	// Missing required parameter.
	res := s.ExecuteOne(context.Background(), call("read_file", `{}`))
	if !res.IsError || !strings.Contains(res.Content, string(FailInvalidArguments)) {
		t.Errorf("missing param: %+v", res)
	}

	// Malformed JSON.
	res = s.ExecuteOne(context.Background(), call("read_file", `{broken`))
	if !res.IsError || !strings.Contains(res.Content, string(FailInvalidArguments)) {
		t.Errorf("malformed json: %+v", res)
	}

	// Path escaping the project root.
	res = s.ExecuteOne(context.Background(), call("read_file", `{"path": "../../etc/passwd"}`))
	if !res.IsError || !strings.Contains(res.Content, string(FailInvalidArguments)) {
		t.Errorf("escaping path: %+v", res)
	}
}

func TestExecutePathExcludedSkipsConfirmationAndSnapshot(t *testing.T) {
	fc := &fakeConfirmer{}
	s, _ := newTestScheduler(t, fc, "private.txt\n")

	res := s.ExecuteOne(context.Background(), call("write_file", `{"path": "private.txt", "content": "x"}`))
	if !res.IsError || !strings.Contains(res.Content, string(FailPathExcluded)) {
		t.Errorf("result = %+v, want path_excluded", res)
	}
	if len(fc.requests) != 0 {
		t.Error("excluded path must not prompt for confirmation")
	}
}

func TestExecuteUserDeniedLeavesFileUntouched(t *testing.T) {
	fc := &fakeConfirmer{outcomes: []Outcome{Cancel}}
	s, env := newTestScheduler(t, fc, "")
	mustWrite(t, env, "a.txt", "original")

	res := s.ExecuteOne(context.Background(), call("replace_in_file",
		`{"path": "a.txt", "old": "original", "new": "changed"}`))
	if !res.IsError || !strings.Contains(res.Content, string(FailUserDenied)) {
		t.Errorf("result = %+v, want user_denied", res)
	}

	content, _ := env.ReadRawFile("a.txt")
	if content != "original" {
		t.Errorf("file content changed after denial: %q", content)
	}
}

func TestConfirmationShowsDiff(t *testing.T) {
	fc := &fakeConfirmer{outcomes: []Outcome{ProceedOnce}}
	s, env := newTestScheduler(t, fc, "")
	mustWrite(t, env, "a.txt", "old line\n")

	res := s.ExecuteOne(context.Background(), call("replace_in_file",
		`{"path": "a.txt", "old": "old line", "new": "new line"}`))
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	if len(fc.requests) != 1 {
		t.Fatalf("expected one confirmation, got %d", len(fc.requests))
	}
	diff := fc.requests[0].Diff
	if !strings.Contains(diff, "-old line") || !strings.Contains(diff, "+new line") {
		t.Errorf("confirmation diff missing change:\n%s", diff)
	}
	if !strings.Contains(diff, "a/a.txt") || !strings.Contains(diff, "b/a.txt") {
		t.Errorf("diff headers missing:\n%s", diff)
	}
}

func TestProceedAlwaysWhitelistsTool(t *testing.T) {
	fc := &fakeConfirmer{outcomes: []Outcome{ProceedAlways}}
	s, env := newTestScheduler(t, fc, "")

	res := s.ExecuteOne(context.Background(), call("write_file", `{"path": "a.txt", "content": "1"}`))
	if res.IsError {
		t.Fatalf("first call failed: %s", res.Content)
	}
	res = s.ExecuteOne(context.Background(), call("write_file", `{"path": "b.txt", "content": "2"}`))
	if res.IsError {
		t.Fatalf("second call failed: %s", res.Content)
	}
	if len(fc.requests) != 1 {
		t.Errorf("whitelisted tool prompted %d times, want 1", len(fc.requests))
	}
	if !env.FileExists("b.txt") {
		t.Error("second write did not land")
	}

	s.ResetApprovals()
	_ = s.ExecuteOne(context.Background(), call("write_file", `{"path": "c.txt", "content": "3"}`))
	if len(fc.requests) != 2 {
		t.Error("ResetApprovals should re-enable prompting")
	}
}

func TestExecuteBatchPreservesOrder(t *testing.T) {
	s, env := newTestScheduler(t, nil, "")
	mustWrite(t, env, "a.txt", "alpha\n")
	mustWrite(t, env, "b.txt", "beta\n")

	calls := []llm.ToolCall{
		{ID: "c1", Name: "read_file", Arguments: json.RawMessage(`{"path": "a.txt"}`)},
		{ID: "c2", Name: "write_file", Arguments: json.RawMessage(`{"path": "c.txt", "content": "gamma"}`)},
		{ID: "c3", Name: "read_file", Arguments: json.RawMessage(`{"path": "b.txt"}`)},
	}
	results := s.ExecuteBatch(context.Background(), calls)

	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	for i, id := range []string{"c1", "c2", "c3"} {
		if results[i].CallID != id {
			t.Errorf("results[%d].CallID = %s, want %s", i, results[i].CallID, id)
		}
	}
	if results[0].IsError || results[1].IsError || results[2].IsError {
		t.Errorf("unexpected errors: %+v", results)
	}
	if !strings.Contains(results[0].Content, "alpha") || !strings.Contains(results[2].Content, "beta") {
		t.Error("read results mismatched")
	}
}

func TestExecuteBatchCancelledContext(t *testing.T) {
	s, env := newTestScheduler(t, nil, "")
	mustWrite(t, env, "a.txt", "alpha\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := s.ExecuteBatch(ctx, []llm.ToolCall{
		{ID: "c1", Name: "read_file", Arguments: json.RawMessage(`{"path": "a.txt"}`)},
		{ID: "c2", Name: "shell", Arguments: json.RawMessage(`{"command": "echo hi"}`)},
	})
	for i, res := range results {
		if !res.IsError || !strings.Contains(res.Content, string(FailCancelled)) {
			t.Errorf("results[%d] = %+v, want cancelled", i, res)
		}
	}
}

func TestExecuteReadOnlyConcurrently(t *testing.T) {
	root := t.TempDir()
	env, err := NewLocalEnvironment(root, nil)
	if err != nil {
		t.Fatal(err)
	}

	var inFlight, peak int32
	reg := NewRegistry()
	reg.Register(Tool{
		Descriptor: Descriptor{
			Name:       "probe",
			Parameters: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		},
		Run: func(inv *Invocation, env Environment) (string, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			defer atomic.AddInt32(&inFlight, -1)
			// Hold until another probe is also running, bounded by spin count.
			for i := 0; i < 100_000; i++ {
				if atomic.LoadInt32(&peak) > 1 {
					break
				}
				runtime.Gosched()
			}
			return "ok", nil
		},
	})
	s := NewScheduler(reg, env, nil, nil, nil)

	results := s.ExecuteBatch(context.Background(), []llm.ToolCall{
		{ID: "p1", Name: "probe", Arguments: json.RawMessage(`{}`)},
		{ID: "p2", Name: "probe", Arguments: json.RawMessage(`{}`)},
	})
	for _, r := range results {
		if r.IsError {
			t.Fatalf("probe failed: %s", r.Content)
		}
	}
	if atomic.LoadInt32(&peak) < 2 {
		t.Error("read-only calls did not overlap")
	}
}

func TestMutatingToolSnapshotsOncePerBatch(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	root := t.TempDir()
	env, err := NewLocalEnvironment(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	mgr, err := snapshot.NewManagerAt(root, filepath.Join(t.TempDir(), "shadow"), nil)
	if err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry()
	RegisterCoreTools(reg, CoreToolsConfig{})
	s := NewScheduler(reg, env, mgr, nil, nil)

	writeRaw(t, filepath.Join(root, "seed.txt"), "seed")
	results := s.ExecuteBatch(context.Background(), []llm.ToolCall{
		{ID: "w1", Name: "write_file", Arguments: json.RawMessage(`{"path": "a.txt", "content": "1"}`)},
		{ID: "w2", Name: "write_file", Arguments: json.RawMessage(`{"path": "b.txt", "content": "2"}`)},
	})
	for _, r := range results {
		if r.IsError {
			t.Fatalf("write failed: %s", r.Content)
		}
	}
	if !mgr.HasPendingCheckpoint() {
		t.Fatal("batch should have checkpointed")
	}
	first := mgr.Pending().Hash

	s.EndBatch()
	if mgr.HasPendingCheckpoint() {
		t.Error("EndBatch should clear the pending checkpoint")
	}

	results = s.ExecuteBatch(context.Background(), []llm.ToolCall{
		{ID: "w3", Name: "write_file", Arguments: json.RawMessage(`{"path": "c.txt", "content": "3"}`)},
	})
	if results[0].IsError {
		t.Fatalf("write failed: %s", results[0].Content)
	}
	if mgr.Pending().Hash == first {
		t.Error("new batch should take a fresh checkpoint")
	}
}

func TestOutputTruncationApplied(t *testing.T) {
	s, env := newTestScheduler(t, nil, "")
	big := strings.Repeat("x", 60000)
	mustWrite(t, env, "big.txt", big)

	res := s.ExecuteOne(context.Background(), call("read_file", `{"path": "big.txt"}`))
	if res.IsError {
		t.Fatalf("read failed: %s", res.Content)
	}
	if len(res.Content) >= 60000 {
		t.Errorf("output not truncated: %d chars", len(res.Content))
	}
	if !strings.Contains(res.Content, "truncated") {
		t.Error("truncation marker missing")
	}
}

func TestSaveMemoryTool(t *testing.T) {
	root := t.TempDir()
	env, err := NewLocalEnvironment(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	store, err := NewMemoryStore(filepath.Join(t.TempDir(), "GEMINI.md"))
	if err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry()
	RegisterCoreTools(reg, CoreToolsConfig{Memory: store})
	s := NewScheduler(reg, env, nil, nil, nil)

	res := s.ExecuteOne(context.Background(), call("save_memory", `{"fact": "prefers tabs"}`))
	if res.IsError {
		t.Fatalf("save_memory failed: %s", res.Content)
	}
	data, err := os.ReadFile(store.GlobalPath())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "prefers tabs") {
		t.Errorf("memory file missing fact:\n%s", data)
	}
}

func TestExecuteShellTimeoutYieldsTimeoutFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell required")
	}
	s, _ := newTestScheduler(t, nil, "")

	res := s.ExecuteOne(context.Background(), call("shell",
		`{"command": "echo started; sleep 5", "timeout_ms": 100}`))
	if !res.IsError {
		t.Fatalf("expected error result, got %+v", res)
	}
	if !strings.Contains(res.Content, string(FailTimeout)) {
		t.Errorf("result should carry the timeout kind: %s", res.Content)
	}
	if !strings.Contains(res.Content, "started") {
		t.Errorf("partial output missing from result: %s", res.Content)
	}
}
