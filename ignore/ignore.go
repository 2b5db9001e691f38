// Package ignore evaluates whether a path is excluded from agent visibility.
// It combines version-control ignore rules (.gitignore, .git/info/exclude)
// with a supplementary ignore file (.geminiignore); a path is ignored if it
// matches either set.
package ignore

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// GeminiIgnoreFileName is the supplementary ignore file at the project root.
const GeminiIgnoreFileName = ".geminiignore"

// pattern is one compiled ignore rule with gitwildmatch-style semantics.
type pattern struct {
	glob     string
	negate   bool
	dirOnly  bool
	anchored bool
}

// compilePattern parses a single ignore-file line. Returns ok=false for
// blank lines and comments.
func compilePattern(line string) (pattern, bool) {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") {
		return pattern{}, false
	}

	var p pattern
	if strings.HasPrefix(line, "!") {
		p.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	// A slash anywhere in the pattern anchors it to the rule-file root.
	if strings.Contains(line, "/") {
		p.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	if line == "" {
		return pattern{}, false
	}
	p.glob = line
	return p, true
}

// matches reports whether the pattern matches rel (slash-separated, relative
// to the root) or any of its ancestor directories. Matching an ancestor
// ignores everything beneath it.
func (p pattern) matches(rel string, isDir bool) bool {
	candidates := ancestorsAndSelf(rel)
	for i, c := range candidates {
		self := i == len(candidates)-1
		if p.dirOnly && self && !isDir {
			continue
		}
		if p.anchored {
			if ok, _ := doublestar.Match(p.glob, c); ok {
				return true
			}
		} else {
			if ok, _ := doublestar.Match(p.glob, path.Base(c)); ok {
				return true
			}
		}
	}
	return false
}

// ancestorsAndSelf returns "a", "a/b", "a/b/c" for "a/b/c".
func ancestorsAndSelf(rel string) []string {
	parts := strings.Split(rel, "/")
	out := make([]string, 0, len(parts))
	for i := range parts {
		out = append(out, strings.Join(parts[:i+1], "/"))
	}
	return out
}

// RuleSet is a compiled matcher over one source of ignore patterns.
// Immutable after construction.
type RuleSet struct {
	patterns []pattern
}

// Compile builds a RuleSet from raw pattern lines.
func Compile(lines []string) *RuleSet {
	rs := &RuleSet{}
	for _, line := range lines {
		if p, ok := compilePattern(line); ok {
			rs.patterns = append(rs.patterns, p)
		}
	}
	return rs
}

// Match evaluates rel against the rules; the last matching rule wins, so a
// later negated rule can re-include a path.
func (rs *RuleSet) Match(rel string, isDir bool) bool {
	ignored := false
	for _, p := range rs.patterns {
		if p.matches(rel, isDir) {
			ignored = !p.negate
		}
	}
	return ignored
}

// Len returns the number of compiled rules.
func (rs *RuleSet) Len() int { return len(rs.patterns) }

// Filter is the combined ignore filter for one project root. Compiled once
// per root per session; rule-file changes mid-session require a new Filter.
type Filter struct {
	root   string
	git    *RuleSet
	gemini *RuleSet
}

// NewFilter builds the Filter for a project root. Version-control rules are
// loaded only when the root is inside a git repository; the supplementary
// file is loaded unconditionally.
func NewFilter(root string) (*Filter, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var gitLines []string
	if IsGitRepository(abs) {
		gitLines = append(gitLines, ".git/")
		gitLines = append(gitLines, readPatternFile(filepath.Join(abs, ".gitignore"))...)
		gitLines = append(gitLines, readPatternFile(filepath.Join(abs, ".git", "info", "exclude"))...)
	}
	geminiLines := readPatternFile(filepath.Join(abs, GeminiIgnoreFileName))

	return &Filter{
		root:   abs,
		git:    Compile(gitLines),
		gemini: Compile(geminiLines),
	}, nil
}

// readPatternFile returns the lines of an ignore file, or nil if it does
// not exist or cannot be read.
func readPatternFile(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

// Root returns the absolute project root the filter was compiled for.
func (f *Filter) Root() string { return f.root }

// IsIgnored reports whether the path is excluded by either rule set.
// Paths outside the project root are never ignored (they are rejected
// elsewhere by the path-containment guard).
func (f *Filter) IsIgnored(p string) bool {
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(f.root, p)
	}
	rel, err := filepath.Rel(f.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)

	isDir := false
	if info, err := os.Stat(abs); err == nil {
		isDir = info.IsDir()
	}

	return f.git.Match(rel, isDir) || f.gemini.Match(rel, isDir)
}

// IsGitRepository walks up from dir looking for a .git directory.
func IsGitRepository(dir string) bool {
	_, ok := FindGitRoot(dir)
	return ok
}

// FindGitRoot returns the nearest ancestor of dir containing .git.
func FindGitRoot(dir string) (string, bool) {
	current, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	for {
		if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			return current, true
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", false
		}
		current = parent
	}
}
