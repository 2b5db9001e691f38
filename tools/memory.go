package tools

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scoutagent/scout/ignore"
)

// ContextFileName is the per-directory instruction file picked up during
// memory discovery.
const ContextFileName = "GEMINI.md"

// memorySectionHeader marks the block of facts the agent has saved itself.
const memorySectionHeader = "## Added Memories"

// MemoryFile is one discovered context file.
type MemoryFile struct {
	Path    string
	Content string
}

// MemoryStore owns the global memory file and discovers per-project
// context files for the system prompt.
type MemoryStore struct {
	mu         sync.Mutex
	globalPath string
}

// NewMemoryStore creates a store writing to globalPath. An empty path
// defaults to GEMINI.md under the user's scout state directory.
func NewMemoryStore(globalPath string) (*MemoryStore, error) {
	if globalPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		globalPath = filepath.Join(home, ".scout", ContextFileName)
	}
	return &MemoryStore{globalPath: globalPath}, nil
}

// GlobalPath returns the location of the global memory file.
func (m *MemoryStore) GlobalPath() string { return m.globalPath }

// SaveFact appends one fact to the global memory file, creating the file
// and its memory section on first use.
func (m *MemoryStore) SaveFact(fact string) error {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return fmt.Errorf("fact must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.globalPath), 0o755); err != nil {
		return err
	}

	content := ""
	if data, err := os.ReadFile(m.globalPath); err == nil {
		content = string(data)
	}

	entry := fmt.Sprintf("- %s (%s)", fact, time.Now().Format("2006-01-02"))
	if strings.Contains(content, memorySectionHeader) {
		idx := strings.Index(content, memorySectionHeader)
		sectionEnd := len(content)
		if next := strings.Index(content[idx+len(memorySectionHeader):], "\n## "); next >= 0 {
			sectionEnd = idx + len(memorySectionHeader) + next
		}
		section := strings.TrimRight(content[:sectionEnd], "\n")
		content = section + "\n" + entry + "\n" + content[sectionEnd:]
	} else {
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		if content != "" {
			content += "\n"
		}
		content += memorySectionHeader + "\n" + entry + "\n"
	}

	tmp := m.globalPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.globalPath)
}

// Discover collects context files in priority order: the global memory
// file, then files from the git root (or filesystem root of the walk)
// down to the project root, then files in subdirectories of the project,
// skipping ignored paths.
func (m *MemoryStore) Discover(projectRoot string, filter *ignore.Filter) ([]MemoryFile, error) {
	var files []MemoryFile

	if mf, ok := readMemoryFile(m.globalPath); ok {
		files = append(files, mf)
	}

	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return files, err
	}

	// Ancestors, outermost first. The walk stops at the repository
	// boundary so unrelated parent projects never leak in.
	top := abs
	if root, ok := ignore.FindGitRoot(abs); ok {
		top = root
	}
	var ancestors []string
	for dir := abs; ; dir = filepath.Dir(dir) {
		ancestors = append(ancestors, dir)
		if dir == top || filepath.Dir(dir) == dir {
			break
		}
	}
	for i := len(ancestors) - 1; i >= 0; i-- {
		candidate := filepath.Join(ancestors[i], ContextFileName)
		if candidate == m.globalPath {
			continue
		}
		if mf, ok := readMemoryFile(candidate); ok {
			files = append(files, mf)
		}
	}

	// Subdirectories of the project, depth-first, ignore-filtered.
	var subFiles []MemoryFile
	_ = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if filter != nil && filter.IsIgnored(p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || d.Name() != ContextFileName {
			return nil
		}
		if filepath.Dir(p) == abs {
			// Already collected as the innermost ancestor.
			return nil
		}
		if mf, ok := readMemoryFile(p); ok {
			subFiles = append(subFiles, mf)
		}
		return nil
	})
	sort.Slice(subFiles, func(i, j int) bool { return subFiles[i].Path < subFiles[j].Path })
	files = append(files, subFiles...)

	return files, nil
}

// Concatenate renders discovered files as one context block for the
// system prompt.
func Concatenate(files []MemoryFile) string {
	if len(files) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, f := range files {
		fmt.Fprintf(&sb, "--- Context from: %s ---\n%s\n--- End of context from: %s ---\n\n",
			f.Path, strings.TrimRight(f.Content, "\n"), f.Path)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func readMemoryFile(path string) (MemoryFile, bool) {
	data, err := os.ReadFile(path)
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return MemoryFile{}, false
	}
	return MemoryFile{Path: path, Content: string(data)}, true
}
