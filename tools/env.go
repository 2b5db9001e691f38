package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/scoutagent/scout/ignore"
)

// ErrPathOutsideRoot is returned when a tool call targets a path outside
// the project root.
var ErrPathOutsideRoot = fmt.Errorf("path resolves outside the project root")

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	DurationMs int64  `json:"duration_ms"`
}

// Output returns combined stdout and stderr.
func (r ExecResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// DirEntry represents a filesystem directory entry.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`
}

// GrepOptions configures content search behavior.
type GrepOptions struct {
	Include         string
	CaseInsensitive bool
	MaxResults      int
}

// Environment abstracts where tool operations run.
type Environment interface {
	ReadFile(path string, offset, limit int) (string, error)
	ReadRawFile(path string) (string, error)
	WriteFile(path string, content string) error
	FileExists(path string) bool
	ListDirectory(path string) ([]DirEntry, error)

	ExecCommand(ctx context.Context, command string, timeoutMs int, workingDir string) (*ExecResult, error)

	Grep(ctx context.Context, pattern string, path string, options GrepOptions) (string, error)
	Glob(pattern string, path string) ([]string, error)

	// ResolvePath maps a tool-supplied path to an absolute path inside the
	// project root, failing with ErrPathOutsideRoot on escape.
	ResolvePath(path string) (string, error)
	ProjectRoot() string
	Platform() string
	// IgnoreFilter returns the active exclusion rules, or nil.
	IgnoreFilter() *ignore.Filter
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment
// variables that are excluded from subprocess environments.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always included regardless of filtering.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"NVM_DIR": true, "RUSTUP_HOME": true, "PYENV_ROOT": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

func filterEnvironment() []string {
	var filtered []string
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if safeEnvVars[parts[0]] || !isSensitiveEnvVar(parts[0]) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// LocalEnvironment runs tools on the local machine, confined to one
// project root and filtered through an ignore set.
type LocalEnvironment struct {
	root     string
	platform string
	filter   *ignore.Filter
}

// NewLocalEnvironment creates an environment rooted at root. A nil filter
// disables ignore-based exclusion.
func NewLocalEnvironment(root string, filter *ignore.Filter) (*LocalEnvironment, error) {
	if root == "" {
		root, _ = os.Getwd()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &LocalEnvironment{
		root:     abs,
		platform: runtime.GOOS,
		filter:   filter,
	}, nil
}

func (e *LocalEnvironment) ProjectRoot() string { return e.root }
func (e *LocalEnvironment) Platform() string    { return e.platform }

func (e *LocalEnvironment) IgnoreFilter() *ignore.Filter { return e.filter }

// ResolvePath joins relative paths onto the root and rejects any result
// that escapes it, including via .. traversal in absolute paths.
func (e *LocalEnvironment) ResolvePath(path string) (string, error) {
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(e.root, resolved)
	}
	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(e.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, path)
	}
	return resolved, nil
}

// isIgnored applies the filter when one is configured.
func (e *LocalEnvironment) isIgnored(abs string) bool {
	return e.filter != nil && e.filter.IsIgnored(abs)
}

func (e *LocalEnvironment) ReadFile(path string, offset, limit int) (string, error) {
	resolved, err := e.ResolvePath(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	// Offset is 1-based.
	startLine := 0
	if offset > 0 {
		startLine = offset - 1
	}
	if startLine >= len(lines) {
		return "", nil
	}

	endLine := len(lines)
	if limit > 0 && startLine+limit < endLine {
		endLine = startLine + limit
	}

	var sb strings.Builder
	for i := startLine; i < endLine; i++ {
		fmt.Fprintf(&sb, "%d | %s\n", i+1, lines[i])
	}
	return sb.String(), nil
}

// ReadRawFile returns file content without line numbers, for editing and
// diff generation.
func (e *LocalEnvironment) ReadRawFile(path string) (string, error) {
	resolved, err := e.ResolvePath(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (e *LocalEnvironment) WriteFile(path string, content string) error {
	resolved, err := e.ResolvePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("write_file: failed to create directory: %w", err)
	}
	return os.WriteFile(resolved, []byte(content), 0o644)
}

func (e *LocalEnvironment) FileExists(path string) bool {
	resolved, err := e.ResolvePath(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(resolved)
	return err == nil
}

func (e *LocalEnvironment) ListDirectory(path string) ([]DirEntry, error) {
	resolved, err := e.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("list_directory: %w", err)
	}

	var result []DirEntry
	for _, entry := range entries {
		if e.isIgnored(filepath.Join(resolved, entry.Name())) {
			continue
		}
		de := DirEntry{Name: entry.Name(), IsDir: entry.IsDir()}
		if info, err := entry.Info(); err == nil && !entry.IsDir() {
			de.Size = info.Size()
		}
		result = append(result, de)
	}
	// Directories first, then files, each alphabetical.
	sort.Slice(result, func(i, j int) bool {
		if result[i].IsDir != result[j].IsDir {
			return result[i].IsDir
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (e *LocalEnvironment) ExecCommand(ctx context.Context, command string, timeoutMs int, workingDir string) (*ExecResult, error) {
	if workingDir == "" {
		workingDir = e.root
	} else {
		resolved, err := e.ResolvePath(workingDir)
		if err != nil {
			return nil, err
		}
		workingDir = resolved
	}

	if timeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	shell := "/bin/bash"
	shellArg := "-c"
	if runtime.GOOS == "windows" {
		shell = "cmd.exe"
		shellArg = "/c"
	}

	cmd := exec.CommandContext(ctx, shell, shellArg, command)
	cmd.Dir = workingDir
	// Own process group so a timeout kills the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = filterEnvironment()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: duration.Milliseconds(),
	}

	if runErr != nil {
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			result.TimedOut = true
			result.ExitCode = -1
			if cmd.Process != nil {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
		case ctx.Err() == context.Canceled:
			if cmd.Process != nil {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
			return nil, ctx.Err()
		default:
			if exitErr, ok := runErr.(*exec.ExitError); ok {
				result.ExitCode = exitErr.ExitCode()
			} else {
				return nil, fmt.Errorf("exec: %w", runErr)
			}
		}
	}

	return result, nil
}

// Grep searches file contents in-process so ignore rules apply uniformly
// and no external search binary is required.
func (e *LocalEnvironment) Grep(ctx context.Context, pattern string, path string, options GrepOptions) (string, error) {
	if path == "" {
		path = e.root
	}
	resolved, err := e.ResolvePath(path)
	if err != nil {
		return "", err
	}

	if options.CaseInsensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid regex: %w", err)
	}

	maxResults := options.MaxResults
	if maxResults <= 0 {
		maxResults = 100
	}

	var sb strings.Builder
	matches := 0
	walkErr := filepath.WalkDir(resolved, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.isIgnored(p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if options.Include != "" {
			if ok, _ := doublestar.Match(options.Include, d.Name()); !ok {
				return nil
			}
		}
		if matches >= maxResults {
			return filepath.SkipAll
		}

		n, err := e.grepFile(p, re, maxResults-matches, &sb)
		if err != nil {
			return nil
		}
		matches += n
		return nil
	})
	if walkErr != nil && walkErr != filepath.SkipAll && walkErr == ctx.Err() {
		return "", walkErr
	}

	if matches == 0 {
		return "No matches found.", nil
	}
	return sb.String(), nil
}

// grepFile appends "path:line: text" matches to sb, skipping binary files.
func (e *LocalEnvironment) grepFile(path string, re *regexp.Regexp, remaining int, sb *strings.Builder) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	rel, err := filepath.Rel(e.root, path)
	if err != nil {
		rel = path
	}

	count := 0
	lineNo := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.IndexByte(line, 0) >= 0 {
			return count, nil
		}
		if re.MatchString(line) {
			fmt.Fprintf(sb, "%s:%d: %s\n", rel, lineNo, line)
			count++
			if count >= remaining {
				return count, nil
			}
		}
	}
	return count, nil
}

// Glob matches files under path with doublestar semantics, excluding
// ignored paths, sorted newest first.
func (e *LocalEnvironment) Glob(pattern string, path string) ([]string, error) {
	if path == "" {
		path = e.root
	}
	resolved, err := e.ResolvePath(path)
	if err != nil {
		return nil, err
	}

	matches, err := doublestar.Glob(os.DirFS(resolved), pattern)
	if err != nil {
		return nil, fmt.Errorf("glob: %w", err)
	}

	type entry struct {
		rel   string
		mtime time.Time
	}
	var entries []entry
	for _, m := range matches {
		abs := filepath.Join(resolved, filepath.FromSlash(m))
		if e.isIgnored(abs) {
			continue
		}
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(e.root, abs)
		if err != nil {
			rel = abs
		}
		entries = append(entries, entry{rel: rel, mtime: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].mtime.Equal(entries[j].mtime) {
			return entries[i].mtime.After(entries[j].mtime)
		}
		return entries[i].rel < entries[j].rel
	})

	result := make([]string, len(entries))
	for i, en := range entries {
		result[i] = en.rel
	}
	return result, nil
}
