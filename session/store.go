// Package session persists conversation state between runs. State is a
// YAML document written atomically at loop checkpoints; unreadable state
// degrades to a fresh session instead of crashing.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ErrCorrupt marks persisted state that could not be restored. Callers get
// a fresh State alongside it and should warn, not abort.
var ErrCorrupt = errors.New("session state corrupt")

// State is the persisted session: the full turn sequence plus loop
// metadata. Mutated append-only while the session runs.
type State struct {
	ID           string    `yaml:"id"`
	CreatedAt    time.Time `yaml:"created_at"`
	UpdatedAt    time.Time `yaml:"updated_at"`
	ActiveModel  string    `yaml:"active_model,omitempty"`
	FallbackUsed bool      `yaml:"fallback_used,omitempty"`
	LastSnapshot string    `yaml:"last_snapshot,omitempty"`
	Turns        []Turn    `yaml:"turns"`
}

// NewState creates an empty session.
func NewState() *State {
	now := time.Now()
	return &State{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a turn to the sequence, assigning its index.
func (s *State) Append(t Turn) {
	t.Seq = len(s.Turns)
	s.Turns = append(s.Turns, t)
}

// LastModelText returns the text of the most recent model turn.
func (s *State) LastModelText() string {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == RoleModel && s.Turns[i].Text != "" {
			return s.Turns[i].Text
		}
	}
	return ""
}

// Store reads and writes State at a fixed path. One process owns the file
// at a time; there is no cross-process locking.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store at path. An empty path defaults to session.yaml
// under the user's scout state directory.
func NewStore(path string) (*Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".scout", "session.yaml")
	}
	return &Store{path: path}, nil
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Load restores persisted state. A missing file yields a fresh session;
// an unreadable or malformed file yields a fresh session and ErrCorrupt.
func (s *Store) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return NewState(), fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var state State
	if err := yaml.Unmarshal(data, &state); err != nil {
		return NewState(), fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if state.ID == "" {
		return NewState(), fmt.Errorf("%w: missing session id", ErrCorrupt)
	}
	// Sequence indexes must be dense; anything else means the file was
	// edited or torn.
	for i, t := range state.Turns {
		if t.Seq != i {
			return NewState(), fmt.Errorf("%w: turn sequence broken at %d", ErrCorrupt, i)
		}
	}
	return &state, nil
}

// Save writes state atomically (temp file + rename).
func (s *Store) Save(state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.UpdatedAt = time.Now()
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Reset deletes persisted state and returns a fresh session.
func (s *Store) Reset() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return NewState(), nil
}
