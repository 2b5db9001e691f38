package agent

import (
	"sync"
	"time"
)

// EventKind identifies the type of loop event.
type EventKind string

const (
	EventUserInput      EventKind = "user_input"
	EventModelResponse  EventKind = "model_response"
	EventToolCallStart  EventKind = "tool_call_start"
	EventToolCallEnd    EventKind = "tool_call_end"
	EventFallbackSwitch EventKind = "fallback_switch"
	EventLoopDetection  EventKind = "loop_detection"
	EventIterationLimit EventKind = "iteration_limit"
	EventWarning        EventKind = "warning"
	EventError          EventKind = "error"
)

// Event is a typed notification emitted by the loop so the host can show
// the user every tool invocation and variant switch before the final
// answer.
type Event struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventEmitter delivers events to the host application via a buffered
// channel. Emission never blocks the loop; on a full buffer the event is
// dropped.
type EventEmitter struct {
	sessionID string
	mu        sync.Mutex
	ch        chan Event
	closed    bool
}

// NewEventEmitter creates an emitter with the given buffer size.
func NewEventEmitter(sessionID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		sessionID: sessionID,
		ch:        make(chan Event, bufferSize),
	}
}

// SetSessionID re-keys events emitted from now on. Called when a reset
// replaces the session.
func (e *EventEmitter) SetSessionID(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionID = id
}

// Emit sends an event. After Close it is silently dropped.
func (e *EventEmitter) Emit(kind EventKind, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := Event{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan Event {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
