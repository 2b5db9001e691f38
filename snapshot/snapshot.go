// Package snapshot checkpoints the project working tree before mutating
// tool calls, so a session's file edits can be inspected or rolled back.
//
// Checkpoints are commits in a shadow git repository kept outside the
// project (under the user's state directory), so the project's own
// repository, index and hooks are never touched. All git invocations point
// GIT_DIR at the shadow repository and GIT_WORK_TREE at the project root.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnavailable wraps any git failure. Snapshotting degrades, it never
// blocks tool execution.
type ErrUnavailable struct {
	Op    string
	Cause error
}

func (e *ErrUnavailable) Error() string {
	return fmt.Sprintf("snapshot %s: %v", e.Op, e.Cause)
}

func (e *ErrUnavailable) Unwrap() error { return e.Cause }

// Ref identifies one checkpoint commit in the shadow repository.
type Ref struct {
	Hash      string
	Message   string
	CreatedAt time.Time
}

// Manager owns the shadow repository for one project root.
//
// At most one checkpoint is taken per batch of tool calls: the first
// mutating call in a batch snapshots, subsequent ones reuse it. EndBatch
// re-arms checkpointing at the next user-turn boundary.
type Manager struct {
	projectRoot string
	shadowDir   string
	gitPath     string
	logger      *slog.Logger

	pending *Ref
}

// Dir returns the shadow repository path for a project root: a hash of the
// absolute root under the scout state directory, so distinct projects never
// collide and renaming the project directory starts fresh history.
func Dir(projectRoot string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(projectRoot))
	return filepath.Join(home, ".scout", "history", hex.EncodeToString(sum[:])), nil
}

// NewManager initializes (or reopens) the shadow repository for projectRoot.
// A nil Manager is safe to use; all operations on it fail with
// ErrUnavailable, which callers treat as a warning.
func NewManager(projectRoot string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, &ErrUnavailable{Op: "resolve root", Cause: err}
	}
	shadowDir, err := Dir(abs)
	if err != nil {
		return nil, &ErrUnavailable{Op: "resolve state dir", Cause: err}
	}
	return NewManagerAt(abs, shadowDir, logger)
}

// NewManagerAt is NewManager with an explicit shadow repository location.
func NewManagerAt(projectRoot, shadowDir string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, &ErrUnavailable{Op: "resolve root", Cause: err}
	}
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, &ErrUnavailable{Op: "locate git", Cause: err}
	}

	m := &Manager{
		projectRoot: abs,
		shadowDir:   shadowDir,
		gitPath:     gitPath,
		logger:      logger,
	}
	if err := m.setup(); err != nil {
		return nil, err
	}
	return m, nil
}

// setup creates the shadow repository on first use: an isolated git dir with
// its own identity config, so user-level git configuration (signing keys,
// hooks templates) never applies, plus an empty initial commit so HEAD
// always resolves.
func (m *Manager) setup() error {
	initialized, err := m.isInitialized()
	if err != nil {
		return err
	}
	if initialized {
		return nil
	}

	if err := os.MkdirAll(m.shadowDir, 0o700); err != nil {
		return &ErrUnavailable{Op: "create shadow dir", Cause: err}
	}
	if _, err := m.git(context.Background(), "init", "-b", "main"); err != nil {
		return err
	}

	config := "[user]\n  name = scout-agent\n  email = scout-agent@localhost\n[commit]\n  gpgsign = false\n"
	if err := os.WriteFile(filepath.Join(m.shadowDir, ".gitconfig"), []byte(config), 0o600); err != nil {
		return &ErrUnavailable{Op: "write config", Cause: err}
	}

	if _, err := m.git(context.Background(), "commit", "--allow-empty", "-m", "initial commit"); err != nil {
		return err
	}
	return nil
}

func (m *Manager) isInitialized() (bool, error) {
	if _, err := os.Stat(filepath.Join(m.shadowDir, "HEAD")); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &ErrUnavailable{Op: "stat shadow dir", Cause: err}
	}
	return true, nil
}

// git runs one git command against the shadow repository with the project
// root as the work tree. HOME is pointed at the shadow dir so only the
// repository's own .gitconfig is read.
func (m *Manager) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, m.gitPath, args...)
	cmd.Dir = m.projectRoot
	cmd.Env = append(os.Environ(),
		"GIT_DIR="+m.shadowDir,
		"GIT_WORK_TREE="+m.projectRoot,
		"HOME="+m.shadowDir,
		"XDG_CONFIG_HOME="+m.shadowDir,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", &ErrUnavailable{
			Op:    "git " + args[0],
			Cause: fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out))),
		}
	}
	return strings.TrimSpace(string(out)), nil
}

// ProjectRoot returns the work tree this manager snapshots.
func (m *Manager) ProjectRoot() string { return m.projectRoot }

// HasPendingCheckpoint reports whether the current batch already snapshotted.
func (m *Manager) HasPendingCheckpoint() bool {
	return m != nil && m.pending != nil
}

// Pending returns the checkpoint taken for the current batch, if any.
func (m *Manager) Pending() *Ref {
	if m == nil {
		return nil
	}
	return m.pending
}

// Checkpoint commits the current working-tree state to the shadow
// repository and returns its ref. Within one batch the first call commits
// and later calls return the same ref.
func (m *Manager) Checkpoint(ctx context.Context, message string) (*Ref, error) {
	if m == nil {
		return nil, &ErrUnavailable{Op: "checkpoint", Cause: fmt.Errorf("snapshots disabled")}
	}
	if m.pending != nil {
		return m.pending, nil
	}
	if message == "" {
		message = "checkpoint"
	}

	if _, err := m.git(ctx, "add", "-A"); err != nil {
		return nil, err
	}
	status, err := m.git(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	if status != "" {
		if _, err := m.git(ctx, "commit", "-m", message); err != nil {
			return nil, err
		}
	}
	hash, err := m.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}

	m.pending = &Ref{Hash: hash, Message: message, CreatedAt: time.Now()}
	m.logger.Debug("working tree checkpointed", "hash", hash, "message", message)
	return m.pending, nil
}

// EndBatch closes the current tool-call batch so the next mutating call
// takes a fresh checkpoint. Called at each user-turn boundary.
func (m *Manager) EndBatch() {
	if m != nil {
		m.pending = nil
	}
}

// Head returns the current checkpoint hash without committing.
func (m *Manager) Head(ctx context.Context) (string, error) {
	if m == nil {
		return "", &ErrUnavailable{Op: "head", Cause: fmt.Errorf("snapshots disabled")}
	}
	return m.git(ctx, "rev-parse", "HEAD")
}

// DiffSince returns a unified diff of the working tree against a checkpoint.
func (m *Manager) DiffSince(ctx context.Context, ref string) (string, error) {
	if m == nil {
		return "", &ErrUnavailable{Op: "diff", Cause: fmt.Errorf("snapshots disabled")}
	}
	return m.git(ctx, "diff", ref)
}
