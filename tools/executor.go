package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/scoutagent/scout/llm"
	"github.com/scoutagent/scout/snapshot"
)

// FailureKind classifies why a tool call did not produce a normal result.
// Failures are reported back to the model as error results; they never
// abort the surrounding turn.
type FailureKind string

const (
	FailUnknownTool      FailureKind = "unknown_tool"
	FailInvalidArguments FailureKind = "invalid_arguments"
	FailPathExcluded     FailureKind = "path_excluded"
	FailUserDenied       FailureKind = "user_denied"
	FailTimeout          FailureKind = "timeout"
	FailCancelled        FailureKind = "cancelled"
	FailExecution        FailureKind = "execution_error"
)

// ToolError is a classified tool-call failure.
type ToolError struct {
	Kind    FailureKind
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func toolErrorf(kind FailureKind, format string, args ...interface{}) *ToolError {
	return &ToolError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Outcome is the user's answer to a confirmation prompt.
type Outcome int

const (
	// ProceedOnce approves this single call.
	ProceedOnce Outcome = iota
	// ProceedAlways approves this call and whitelists the tool for the
	// rest of the session.
	ProceedAlways
	// Cancel denies the call.
	Cancel
)

// ConfirmationRequest carries what the user needs to decide on a call.
type ConfirmationRequest struct {
	ToolName string
	Args     map[string]interface{}
	// Diff is a unified diff of the proposed change, when the tool
	// produces one.
	Diff string
}

// Confirmer asks the user to approve a gated tool call.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmationRequest) (Outcome, error)
}

// AutoApprove is a Confirmer that approves everything, for non-interactive
// runs.
type AutoApprove struct{}

func (AutoApprove) Confirm(context.Context, ConfirmationRequest) (Outcome, error) {
	return ProceedOnce, nil
}

// Scheduler runs tool-call batches through the execution pipeline:
// lookup, argument validation, ignore check, confirmation, snapshot, run,
// output truncation.
type Scheduler struct {
	registry  *Registry
	env       Environment
	snapshots *snapshot.Manager
	confirmer Confirmer
	logger    *slog.Logger

	mu            sync.Mutex
	alwaysAllowed map[string]bool
}

// NewScheduler creates a Scheduler. snapshots may be nil (checkpointing
// disabled); confirmer may be nil (everything auto-approved).
func NewScheduler(registry *Registry, env Environment, snapshots *snapshot.Manager, confirmer Confirmer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if confirmer == nil {
		confirmer = AutoApprove{}
	}
	return &Scheduler{
		registry:      registry,
		env:           env,
		snapshots:     snapshots,
		confirmer:     confirmer,
		logger:        logger,
		alwaysAllowed: make(map[string]bool),
	}
}

// ResetApprovals clears the session's ProceedAlways whitelist.
func (s *Scheduler) ResetApprovals() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alwaysAllowed = make(map[string]bool)
}

// EndBatch closes the current snapshot batch. Called at user-turn
// boundaries so the next mutating call snapshots fresh state.
func (s *Scheduler) EndBatch() {
	s.snapshots.EndBatch()
}

// ExecuteBatch runs one batch of tool calls and returns a result for every
// call, in call order. Read-only tools run concurrently; mutating tools
// run strictly sequentially, interleaved at their position in the batch.
// Once the context is cancelled, remaining calls complete as cancelled
// results rather than executing.
func (s *Scheduler) ExecuteBatch(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		tool := s.registry.Get(call.Name)
		readOnly := tool != nil && !tool.Descriptor.Mutating

		if readOnly {
			wg.Add(1)
			go func(i int, call llm.ToolCall) {
				defer wg.Done()
				results[i] = s.ExecuteOne(ctx, call)
			}(i, call)
			continue
		}

		// Mutating (or unknown) calls wait for in-flight reads, then run
		// alone.
		wg.Wait()
		results[i] = s.ExecuteOne(ctx, call)
	}
	wg.Wait()

	return results
}

// ExecuteOne runs a single tool call through the full pipeline.
func (s *Scheduler) ExecuteOne(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	output, err := s.run(ctx, call)
	if err != nil {
		var te *ToolError
		if !errors.As(err, &te) {
			te = classifyError(err)
		}
		s.logger.Warn("tool call failed",
			"tool", call.Name, "call_id", call.ID, "kind", string(te.Kind), "error", te.Message)
		return llm.ToolResult{
			CallID:  call.ID,
			Content: fmt.Sprintf("Error (%s): %s", te.Kind, te.Message),
			IsError: true,
		}
	}
	return llm.ToolResult{CallID: call.ID, Content: output}
}

func classifyError(err error) *ToolError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ToolError{Kind: FailTimeout, Message: "operation timed out"}
	case errors.Is(err, context.Canceled):
		return &ToolError{Kind: FailCancelled, Message: "operation cancelled"}
	case errors.Is(err, ErrPathOutsideRoot):
		return &ToolError{Kind: FailInvalidArguments, Message: err.Error()}
	default:
		return &ToolError{Kind: FailExecution, Message: err.Error()}
	}
}

// pathArgKeys are argument names the pipeline treats as filesystem targets
// for containment and ignore checks.
var pathArgKeys = []string{"file_path", "path", "directory"}

func (s *Scheduler) run(ctx context.Context, call llm.ToolCall) (string, error) {
	if ctx.Err() != nil {
		return "", toolErrorf(FailCancelled, "tool call skipped: %v", ctx.Err())
	}

	tool := s.registry.Get(call.Name)
	if tool == nil {
		return "", toolErrorf(FailUnknownTool, "no tool named %q is registered", call.Name)
	}

	args, err := ParseArguments(call.Arguments)
	if err != nil {
		return "", toolErrorf(FailInvalidArguments, "%v", err)
	}
	if err := ValidateArguments(tool.Descriptor, args); err != nil {
		return "", toolErrorf(FailInvalidArguments, "%v", err)
	}
	inv := &Invocation{Call: call, Args: args}

	if err := s.checkPaths(args); err != nil {
		return "", err
	}

	if tool.Descriptor.RequiresConfirmation {
		if err := s.confirm(ctx, tool, inv); err != nil {
			return "", err
		}
	}

	if tool.Descriptor.Mutating && s.snapshots != nil {
		if _, err := s.snapshots.Checkpoint(ctx, "before "+call.Name); err != nil {
			// Snapshots degrade; the call still runs.
			s.logger.Warn("checkpoint unavailable", "tool", call.Name, "error", err)
		}
	}

	output, err := tool.Run(inv, s.env)
	if err != nil {
		return "", err
	}
	return TruncateToolOutput(output, call.Name), nil
}

// checkPaths validates every path-like argument: it must stay inside the
// project root and must not be excluded by the ignore filter.
func (s *Scheduler) checkPaths(args map[string]interface{}) error {
	filter := s.env.IgnoreFilter()
	for _, key := range pathArgKeys {
		p, ok := StringArg(args, key)
		if !ok || p == "" {
			continue
		}
		resolved, err := s.env.ResolvePath(p)
		if err != nil {
			return toolErrorf(FailInvalidArguments, "%v", err)
		}
		if filter != nil && filter.IsIgnored(resolved) {
			return toolErrorf(FailPathExcluded, "%s is excluded by ignore rules", p)
		}
	}
	return nil
}

func (s *Scheduler) confirm(ctx context.Context, tool *Tool, inv *Invocation) error {
	name := tool.Descriptor.Name
	s.mu.Lock()
	allowed := s.alwaysAllowed[name]
	s.mu.Unlock()
	if allowed {
		return nil
	}

	req := ConfirmationRequest{ToolName: name, Args: inv.Args}
	if tool.Descriptor.ProducesDiff && tool.Preview != nil {
		diff, err := tool.Preview(inv, s.env)
		if err == nil {
			req.Diff = diff
		}
	}

	outcome, err := s.confirmer.Confirm(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return toolErrorf(FailCancelled, "confirmation interrupted")
		}
		return toolErrorf(FailUserDenied, "confirmation failed: %v", err)
	}

	switch outcome {
	case ProceedAlways:
		s.mu.Lock()
		s.alwaysAllowed[name] = true
		s.mu.Unlock()
		return nil
	case ProceedOnce:
		return nil
	default:
		return toolErrorf(FailUserDenied, "user declined the %s call", name)
	}
}
