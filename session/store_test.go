package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/scoutagent/scout/llm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "session.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestLoadMissingFileYieldsFreshSession(t *testing.T) {
	store := newTestStore(t)

	state, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.ID == "" {
		t.Error("fresh session should have an id")
	}
	if len(state.Turns) != 0 {
		t.Error("fresh session should have no turns")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	state := NewState()
	state.ActiveModel = "gemini-2.5-flash"
	state.FallbackUsed = true
	state.LastSnapshot = "abc123"

	state.Append(UserTurn("list the files"))
	state.Append(ModelTurn("", []llm.ToolCall{
		{ID: "call_1", Name: "list_directory", Arguments: json.RawMessage(`{"path": "."}`)},
	}))
	state.Append(ToolTurn([]llm.ToolResult{
		{CallID: "call_1", Content: "main.go\n"},
	}))
	state.Append(ModelTurn("There is one file: main.go.", nil))

	if err := store.Save(state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != state.ID {
		t.Errorf("id = %s, want %s", loaded.ID, state.ID)
	}
	if loaded.ActiveModel != "gemini-2.5-flash" || !loaded.FallbackUsed {
		t.Errorf("metadata lost: %+v", loaded)
	}
	if len(loaded.Turns) != 4 {
		t.Fatalf("turns = %d, want 4", len(loaded.Turns))
	}
	for i, turn := range loaded.Turns {
		if turn.Seq != i {
			t.Errorf("turn %d has seq %d", i, turn.Seq)
		}
	}
	if loaded.Turns[1].ToolCalls[0].Name != "list_directory" {
		t.Errorf("tool call lost: %+v", loaded.Turns[1])
	}
	calls := loaded.Turns[1].Calls()
	if string(calls[0].Arguments) != `{"path": "."}` {
		t.Errorf("arguments mangled: %s", calls[0].Arguments)
	}
}

func TestLoadCorruptFileDegradesToFresh(t *testing.T) {
	store := newTestStore(t)
	if err := os.WriteFile(store.Path(), []byte(":\nnot yaml at all\n\t"), 0o600); err != nil {
		t.Fatal(err)
	}

	state, err := store.Load()
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
	if state == nil || state.ID == "" {
		t.Fatal("corrupt load must still return a usable fresh session")
	}
}

func TestLoadBrokenSequenceDegradesToFresh(t *testing.T) {
	store := newTestStore(t)
	broken := "id: abc\ncreated_at: 2026-01-01T00:00:00Z\nupdated_at: 2026-01-01T00:00:00Z\nturns:\n  - seq: 5\n    role: user\n    timestamp: 2026-01-01T00:00:00Z\n    text: hi\n"
	if err := os.WriteFile(store.Path(), []byte(broken), 0o600); err != nil {
		t.Fatal(err)
	}

	state, err := store.Load()
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
	if len(state.Turns) != 0 {
		t.Error("fresh session expected after sequence corruption")
	}
}

func TestResetClearsPersistedState(t *testing.T) {
	store := newTestStore(t)
	state := NewState()
	state.Append(UserTurn("hello"))
	if err := store.Save(state); err != nil {
		t.Fatal(err)
	}

	fresh, err := store.Reset()
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if fresh.ID == state.ID {
		t.Error("reset should mint a new session id")
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Error("state file should be gone after reset")
	}

	// Reset is idempotent.
	if _, err := store.Reset(); err != nil {
		t.Errorf("second Reset: %v", err)
	}
}

func TestToMessages(t *testing.T) {
	state := NewState()
	state.Append(UserTurn("do it"))
	state.Append(ModelTurn("working", []llm.ToolCall{
		{ID: "c1", Name: "shell", Arguments: json.RawMessage(`{"command": "ls"}`)},
	}))
	state.Append(ToolTurn([]llm.ToolResult{{CallID: "c1", Content: "out", IsError: false}}))

	msgs := ToMessages(state.Turns)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser || msgs[0].Text != "do it" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != llm.RoleModel || len(msgs[1].ToolCalls) != 1 {
		t.Errorf("model message = %+v", msgs[1])
	}
	if msgs[2].Role != llm.RoleTool || len(msgs[2].ToolResults) != 1 {
		t.Errorf("tool message = %+v", msgs[2])
	}
}

func TestLastModelText(t *testing.T) {
	state := NewState()
	if state.LastModelText() != "" {
		t.Error("empty session has no model text")
	}
	state.Append(UserTurn("q"))
	state.Append(ModelTurn("first answer", nil))
	state.Append(UserTurn("q2"))
	state.Append(ModelTurn("second answer", nil))
	if got := state.LastModelText(); got != "second answer" {
		t.Errorf("LastModelText = %q", got)
	}
}
