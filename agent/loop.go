// Package agent implements the turn-taking state machine coordinating
// model requests and tool execution: user input goes out to the model
// through the retry/fallback controller, tool-call requests come back and
// are dispatched through the scheduler, and the cycle repeats until the
// model produces a final answer or a bound trips.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/scoutagent/scout/llm"
	"github.com/scoutagent/scout/session"
	"github.com/scoutagent/scout/snapshot"
	"github.com/scoutagent/scout/tools"
)

// State is the loop's position in the turn cycle.
type State string

const (
	StateAwaitingUser State = "awaiting_user"
	StateModelPending State = "model_pending"
	StateToolsPending State = "tools_pending"
	StateTerminated   State = "terminated"
)

// OutcomeKind classifies how a user exchange ended.
type OutcomeKind string

const (
	// OutcomeCompleted is a natural final answer from the model.
	OutcomeCompleted OutcomeKind = "completed"
	// OutcomeDidNotConverge means the iteration cap stopped the exchange.
	OutcomeDidNotConverge OutcomeKind = "did_not_converge"
	// OutcomeInterrupted is a user-initiated cancellation.
	OutcomeInterrupted OutcomeKind = "interrupted"
	// OutcomeFailed is a fatal model error after retries were exhausted.
	OutcomeFailed OutcomeKind = "failed"
)

// Outcome is the result of one user exchange.
type Outcome struct {
	Kind       OutcomeKind
	Text       string
	Iterations int
}

// Config bounds the loop.
type Config struct {
	// MaxIterations caps consecutive model/tool cycles per user exchange.
	MaxIterations       int
	EnableLoopDetection bool
	LoopDetectionWindow int
}

// DefaultConfig returns the default loop bounds.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       50,
		EnableLoopDetection: true,
		LoopDetectionWindow: 10,
	}
}

// Options wires the loop's collaborators.
type Options struct {
	Config     Config
	Controller *llm.Controller
	Registry   *tools.Registry
	Scheduler  *tools.Scheduler
	Snapshots  *snapshot.Manager
	Store      *session.Store
	Logger     *slog.Logger
	// SystemPrompt is assembled once at startup (BuildSystemPrompt).
	SystemPrompt string
}

// Loop is the central state machine. One Loop serves one conversation;
// RunTurn must not be called concurrently.
type Loop struct {
	cfg        Config
	controller *llm.Controller
	registry   *tools.Registry
	scheduler  *tools.Scheduler
	snapshots  *snapshot.Manager
	store      *session.Store
	logger     *slog.Logger
	emitter    *EventEmitter
	prompt     string

	mu    sync.Mutex
	state State
	sess  *session.State
	usage llm.Usage
}

// NewLoop restores (or creates) the session and builds the loop. Corrupt
// persisted state degrades to a fresh session with a warning.
func NewLoop(opts Options) (*Loop, error) {
	if opts.Controller == nil || opts.Registry == nil || opts.Scheduler == nil || opts.Store == nil {
		return nil, fmt.Errorf("controller, registry, scheduler and store are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Config.MaxIterations <= 0 {
		opts.Config = DefaultConfig()
	}

	sess, err := opts.Store.Load()
	if err != nil {
		if !errors.Is(err, session.ErrCorrupt) {
			return nil, err
		}
		logger.Warn("persisted session unreadable, starting fresh", "error", err)
	}
	opts.Controller.Restore(sess.ActiveModel, sess.FallbackUsed)

	l := &Loop{
		cfg:        opts.Config,
		controller: opts.Controller,
		registry:   opts.Registry,
		scheduler:  opts.Scheduler,
		snapshots:  opts.Snapshots,
		store:      opts.Store,
		logger:     logger,
		emitter:    NewEventEmitter(sess.ID, 256),
		prompt:     opts.SystemPrompt,
		state:      StateAwaitingUser,
		sess:       sess,
	}
	opts.Controller.SetOnSwitch(func(from, to string) {
		l.logger.Warn("model variant switched", "from", from, "to", to)
		l.emitter.Emit(EventFallbackSwitch, map[string]interface{}{
			"from": from, "to": to,
		})
	})
	return l, nil
}

// SessionID returns the active session identifier.
func (l *Loop) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sess.ID
}

// State returns the loop's current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// History returns a copy of the conversation turns.
func (l *Loop) History() []session.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := make([]session.Turn, len(l.sess.Turns))
	copy(h, l.sess.Turns)
	return h
}

// Usage returns cumulative token usage for this process.
func (l *Loop) Usage() llm.Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usage
}

// ActiveModel returns the variant the next request will use.
func (l *Loop) ActiveModel() string { return l.controller.ActiveModel() }

// FallbackActive reports whether the session downgraded to flash.
func (l *Loop) FallbackActive() bool { return l.controller.FallbackActive() }

// Events returns the loop's event channel.
func (l *Loop) Events() <-chan Event { return l.emitter.Events() }

// Close terminates the loop, persisting final state.
func (l *Loop) Close() {
	l.mu.Lock()
	l.state = StateTerminated
	sess := l.sess
	l.mu.Unlock()

	if err := l.store.Save(sess); err != nil {
		l.logger.Error("failed to persist session on close", "error", err)
	}
	l.emitter.Close()
}

// SetModel explicitly selects a model variant (the /m command), accepting
// an id or alias. Returns the resolved id.
func (l *Loop) SetModel(idOrAlias string) (string, error) {
	info := llm.GetModelInfo(idOrAlias)
	if info == nil {
		return "", fmt.Errorf("unknown model %q (available: %v)", idOrAlias, llm.ModelIDs())
	}
	l.controller.SetActiveModel(info.ID)

	l.mu.Lock()
	l.sess.ActiveModel = info.ID
	l.sess.FallbackUsed = false
	sess := l.sess
	l.mu.Unlock()
	l.persist(sess)
	return info.ID, nil
}

// Reset clears the session entirely: history, persisted state, approvals,
// fallback state. The loop returns to awaiting user input.
func (l *Loop) Reset() error {
	fresh, err := l.store.Reset()
	if err != nil {
		return err
	}
	l.controller.Reset()
	l.scheduler.ResetApprovals()
	l.scheduler.EndBatch()
	l.emitter.SetSessionID(fresh.ID)

	l.mu.Lock()
	l.sess = fresh
	l.state = StateAwaitingUser
	l.usage = llm.Usage{}
	l.mu.Unlock()
	return nil
}

// RunTurn processes one user input through the model/tool cycle and
// returns when the model produces a final answer, a bound trips, or the
// context is cancelled.
func (l *Loop) RunTurn(ctx context.Context, input string) (Outcome, error) {
	l.mu.Lock()
	if l.state == StateTerminated {
		l.mu.Unlock()
		return Outcome{}, fmt.Errorf("loop is terminated")
	}
	if l.state != StateAwaitingUser {
		l.mu.Unlock()
		return Outcome{}, fmt.Errorf("a turn is already in progress")
	}
	l.state = StateModelPending
	sess := l.sess
	l.mu.Unlock()

	// New user exchange: the previous mutation batch is complete, so the
	// next mutating tool call gets a fresh checkpoint.
	l.scheduler.EndBatch()

	sess.Append(session.UserTurn(input))
	l.persist(sess)
	l.emitter.Emit(EventUserInput, map[string]interface{}{"content": input})

	iterations := 0
	for {
		if iterations >= l.cfg.MaxIterations {
			l.emitter.Emit(EventIterationLimit, map[string]interface{}{"iterations": iterations})
			return l.finish(Outcome{
				Kind:       OutcomeDidNotConverge,
				Text:       fmt.Sprintf("Task did not converge after %d tool cycles; stopping. Rephrase or narrow the request to continue.", iterations),
				Iterations: iterations,
			}), nil
		}

		l.setState(StateModelPending)
		resp, err := l.controller.Send(ctx, llm.Request{
			System:   l.prompt,
			Messages: session.ToMessages(l.History()),
			Tools:    l.registry.Definitions(),
		})
		if err != nil {
			// An interrupt mid-request returns to awaiting input without a
			// model turn.
			if ctx.Err() != nil {
				return l.finish(Outcome{Kind: OutcomeInterrupted, Iterations: iterations}), nil
			}
			l.emitter.Emit(EventError, map[string]interface{}{"error": err.Error()})
			return l.finish(Outcome{
				Kind:       OutcomeFailed,
				Text:       fmt.Sprintf("Model request failed: %v", err),
				Iterations: iterations,
			}), err
		}

		l.mu.Lock()
		l.usage = l.usage.Add(resp.Usage)
		l.mu.Unlock()

		sess.Append(session.ModelTurn(resp.Text, resp.ToolCalls))
		l.recordVariant(sess)
		l.persist(sess)
		l.emitter.Emit(EventModelResponse, map[string]interface{}{
			"text":       resp.Text,
			"tool_calls": len(resp.ToolCalls),
		})

		if !resp.HasToolCalls() {
			return l.finish(Outcome{
				Kind:       OutcomeCompleted,
				Text:       resp.Text,
				Iterations: iterations,
			}), nil
		}

		l.setState(StateToolsPending)
		iterations++
		for _, call := range resp.ToolCalls {
			l.emitter.Emit(EventToolCallStart, map[string]interface{}{
				"tool": call.Name, "call_id": call.ID,
			})
		}
		results := l.scheduler.ExecuteBatch(ctx, resp.ToolCalls)
		for _, res := range results {
			l.emitter.Emit(EventToolCallEnd, map[string]interface{}{
				"call_id": res.CallID, "is_error": res.IsError,
			})
		}

		sess.Append(session.ToolTurn(results))
		if ref := l.snapshots.Pending(); ref != nil {
			sess.LastSnapshot = ref.Hash
		}
		l.persist(sess)

		if ctx.Err() != nil {
			return l.finish(Outcome{Kind: OutcomeInterrupted, Iterations: iterations}), nil
		}

		l.maybeWarnAboutLoop(sess)
	}
}

// maybeWarnAboutLoop injects a steering warning when recent tool calls
// repeat, so the model breaks the pattern instead of burning iterations.
func (l *Loop) maybeWarnAboutLoop(sess *session.State) {
	if !l.cfg.EnableLoopDetection {
		return
	}
	if !DetectLoop(l.History(), l.cfg.LoopDetectionWindow) {
		return
	}
	warning := fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach.",
		l.cfg.LoopDetectionWindow)
	sess.Append(session.UserTurn(warning))
	l.persist(sess)
	l.emitter.Emit(EventLoopDetection, map[string]interface{}{"message": warning})
}

// recordVariant mirrors controller variant state into the persisted
// session so a restart resumes with the same model.
func (l *Loop) recordVariant(sess *session.State) {
	sess.ActiveModel = l.controller.ActiveModel()
	sess.FallbackUsed = l.controller.FallbackActive()
}

func (l *Loop) finish(o Outcome) Outcome {
	l.setState(StateAwaitingUser)
	l.mu.Lock()
	sess := l.sess
	l.mu.Unlock()
	l.persist(sess)
	return o
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// persist saves the session after a state transition. Persistence failure
// is reported but never aborts the exchange.
func (l *Loop) persist(sess *session.State) {
	if err := l.store.Save(sess); err != nil {
		l.logger.Error("failed to persist session", "error", err)
		l.emitter.Emit(EventWarning, map[string]interface{}{
			"message": "session state could not be saved: " + err.Error(),
		})
	}
}
