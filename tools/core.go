package tools

import (
	"context"
	"fmt"
	"strings"
)

// CoreToolsConfig wires external collaborators into the built-in tools.
type CoreToolsConfig struct {
	DefaultTimeoutMs int
	MaxTimeoutMs     int
	Memory           *MemoryStore
	Search           SearchProvider
}

// RegisterCoreTools registers the built-in tool set on a registry.
func RegisterCoreTools(reg *Registry, cfg CoreToolsConfig) {
	if cfg.DefaultTimeoutMs <= 0 {
		cfg.DefaultTimeoutMs = 60_000
	}
	if cfg.MaxTimeoutMs <= 0 {
		cfg.MaxTimeoutMs = 600_000
	}
	registerReadFile(reg)
	registerWriteFile(reg)
	registerReplaceInFile(reg)
	registerShell(reg, cfg.DefaultTimeoutMs, cfg.MaxTimeoutMs)
	registerListDirectory(reg)
	registerGlob(reg)
	registerSearchFileContent(reg)
	if cfg.Memory != nil {
		registerSaveMemory(reg, cfg.Memory)
	}
	if cfg.Search != nil {
		registerGoogleSearch(reg, cfg.Search)
	}
}

func registerReadFile(reg *Registry) {
	reg.Register(Tool{
		Descriptor: Descriptor{
			Name:        "read_file",
			Description: "Read a file from the project. Returns line-numbered content.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Path to the file, relative to the project root or absolute.",
					},
					"offset": map[string]interface{}{
						"type":        "integer",
						"description": "1-based line number to start reading from.",
					},
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of lines to read. Default: 2000.",
					},
				},
				"required": []string{"path"},
			},
		},
		Run: func(inv *Invocation, env Environment) (string, error) {
			path, _ := StringArg(inv.Args, "path")
			offset, _ := IntArg(inv.Args, "offset")
			limit, _ := IntArg(inv.Args, "limit")
			if limit == 0 {
				limit = 2000
			}
			return env.ReadFile(path, offset, limit)
		},
	})
}

func registerWriteFile(reg *Registry) {
	reg.Register(Tool{
		Descriptor: Descriptor{
			Name:        "write_file",
			Description: "Write content to a file. Creates the file and parent directories if needed.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Path to write to.",
					},
					"content": map[string]interface{}{
						"type":        "string",
						"description": "The full file content to write.",
					},
				},
				"required": []string{"path", "content"},
			},
			Mutating:             true,
			RequiresConfirmation: true,
			ProducesDiff:         true,
		},
		Run: func(inv *Invocation, env Environment) (string, error) {
			path, _ := StringArg(inv.Args, "path")
			content, _ := StringArg(inv.Args, "content")
			if err := env.WriteFile(path, content); err != nil {
				return "", err
			}
			return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
		},
		Preview: func(inv *Invocation, env Environment) (string, error) {
			path, _ := StringArg(inv.Args, "path")
			content, _ := StringArg(inv.Args, "content")
			old, err := env.ReadRawFile(path)
			if err != nil {
				old = ""
			}
			return UnifiedDiff(path, old, content)
		},
	})
}

func registerReplaceInFile(reg *Registry) {
	reg.Register(Tool{
		Descriptor: Descriptor{
			Name:        "replace_in_file",
			Description: "Replace an exact string occurrence in a file. The old string must be unique unless replace_all is set.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Path to the file to edit.",
					},
					"old": map[string]interface{}{
						"type":        "string",
						"description": "Exact text to find in the file.",
					},
					"new": map[string]interface{}{
						"type":        "string",
						"description": "Replacement text.",
					},
					"replace_all": map[string]interface{}{
						"type":        "boolean",
						"description": "Replace all occurrences. Default: false.",
					},
				},
				"required": []string{"path", "old", "new"},
			},
			Mutating:             true,
			RequiresConfirmation: true,
			ProducesDiff:         true,
		},
		Run: func(inv *Invocation, env Environment) (string, error) {
			newContent, count, err := replacedContent(inv, env)
			if err != nil {
				return "", err
			}
			path, _ := StringArg(inv.Args, "path")
			if err := env.WriteFile(path, newContent); err != nil {
				return "", err
			}
			return fmt.Sprintf("Successfully replaced %d occurrence(s) in %s", count, path), nil
		},
		Preview: func(inv *Invocation, env Environment) (string, error) {
			newContent, _, err := replacedContent(inv, env)
			if err != nil {
				return "", err
			}
			path, _ := StringArg(inv.Args, "path")
			old, err := env.ReadRawFile(path)
			if err != nil {
				return "", err
			}
			return UnifiedDiff(path, old, newContent)
		},
	})
}

// replacedContent computes the post-edit file content for replace_in_file,
// shared between the preview and the executor.
func replacedContent(inv *Invocation, env Environment) (string, int, error) {
	path, _ := StringArg(inv.Args, "path")
	oldString, _ := StringArg(inv.Args, "old")
	newString, _ := StringArg(inv.Args, "new")
	replaceAll, _ := BoolArg(inv.Args, "replace_all")

	if oldString == "" {
		return "", 0, fmt.Errorf("old must not be empty")
	}

	content, err := env.ReadRawFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("cannot read %s: %w", path, err)
	}

	count := strings.Count(content, oldString)
	if count == 0 {
		return "", 0, fmt.Errorf("old string not found in %s", path)
	}
	if count > 1 && !replaceAll {
		return "", 0, fmt.Errorf("old string found %d times in %s; provide more context to make it unique, or set replace_all", count, path)
	}

	if replaceAll {
		return strings.ReplaceAll(content, oldString, newString), count, nil
	}
	return strings.Replace(content, oldString, newString, 1), 1, nil
}

func registerShell(reg *Registry, defaultTimeoutMs, maxTimeoutMs int) {
	reg.Register(Tool{
		Descriptor: Descriptor{
			Name:        "shell",
			Description: "Execute a shell command in the project root. Returns stdout, stderr, and exit code.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"command": map[string]interface{}{
						"type":        "string",
						"description": "The command to run.",
					},
					"timeout_ms": map[string]interface{}{
						"type":        "integer",
						"description": "Override the default command timeout in milliseconds.",
					},
					"description": map[string]interface{}{
						"type":        "string",
						"description": "Human-readable description of what this command does.",
					},
				},
				"required": []string{"command"},
			},
			Mutating:             true,
			RequiresConfirmation: true,
		},
		Run: func(inv *Invocation, env Environment) (string, error) {
			command, _ := StringArg(inv.Args, "command")
			timeoutMs, _ := IntArg(inv.Args, "timeout_ms")
			if timeoutMs <= 0 {
				timeoutMs = defaultTimeoutMs
			}
			if timeoutMs > maxTimeoutMs {
				timeoutMs = maxTimeoutMs
			}

			result, err := env.ExecCommand(context.Background(), command, timeoutMs, "")
			if err != nil {
				return "", err
			}

			if result.TimedOut {
				return "", toolErrorf(FailTimeout,
					"command timed out after %dms; retry with a longer timeout via the timeout_ms parameter. Partial output:\n%s",
					timeoutMs, result.Output())
			}

			var sb strings.Builder
			sb.WriteString(result.Output())
			if result.ExitCode != 0 {
				fmt.Fprintf(&sb, "\n\n[Exit code: %d]", result.ExitCode)
			}
			return sb.String(), nil
		},
	})
}

func registerListDirectory(reg *Registry) {
	reg.Register(Tool{
		Descriptor: Descriptor{
			Name:        "list_directory",
			Description: "List directory contents. Ignored paths are excluded.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Directory to list. Default: project root.",
					},
				},
			},
		},
		Run: func(inv *Invocation, env Environment) (string, error) {
			path, _ := StringArg(inv.Args, "path")
			if path == "" {
				path = "."
			}
			entries, err := env.ListDirectory(path)
			if err != nil {
				return "", err
			}
			if len(entries) == 0 {
				return "Directory is empty.", nil
			}
			var sb strings.Builder
			for _, e := range entries {
				if e.IsDir {
					fmt.Fprintf(&sb, "%s/\n", e.Name)
				} else {
					fmt.Fprintf(&sb, "%s\n", e.Name)
				}
			}
			return sb.String(), nil
		},
	})
}

func registerGlob(reg *Registry) {
	reg.Register(Tool{
		Descriptor: Descriptor{
			Name:        "glob",
			Description: "Find files matching a glob pattern. Returns paths sorted by modification time, newest first. Ignored paths are excluded.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pattern": map[string]interface{}{
						"type":        "string",
						"description": "Glob pattern (e.g., \"**/*.go\").",
					},
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Base directory. Default: project root.",
					},
				},
				"required": []string{"pattern"},
			},
		},
		Run: func(inv *Invocation, env Environment) (string, error) {
			pattern, _ := StringArg(inv.Args, "pattern")
			path, _ := StringArg(inv.Args, "path")
			matches, err := env.Glob(pattern, path)
			if err != nil {
				return "", err
			}
			if len(matches) == 0 {
				return "No files matched the pattern.", nil
			}
			return strings.Join(matches, "\n"), nil
		},
	})
}

func registerSearchFileContent(reg *Registry) {
	reg.Register(Tool{
		Descriptor: Descriptor{
			Name:        "search_file_content",
			Description: "Search file contents with a regex pattern. Returns matching lines with file paths and line numbers. Ignored paths are excluded.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pattern": map[string]interface{}{
						"type":        "string",
						"description": "Regex pattern to search for.",
					},
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Directory to search. Default: project root.",
					},
					"include": map[string]interface{}{
						"type":        "string",
						"description": "File name filter (e.g., \"*.go\").",
					},
					"case_insensitive": map[string]interface{}{
						"type":        "boolean",
						"description": "Case insensitive search. Default: false.",
					},
					"max_results": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of matches. Default: 100.",
					},
				},
				"required": []string{"pattern"},
			},
		},
		Run: func(inv *Invocation, env Environment) (string, error) {
			pattern, _ := StringArg(inv.Args, "pattern")
			path, _ := StringArg(inv.Args, "path")
			include, _ := StringArg(inv.Args, "include")
			caseInsensitive, _ := BoolArg(inv.Args, "case_insensitive")
			maxResults, _ := IntArg(inv.Args, "max_results")

			return env.Grep(context.Background(), pattern, path, GrepOptions{
				Include:         include,
				CaseInsensitive: caseInsensitive,
				MaxResults:      maxResults,
			})
		},
	})
}

func registerSaveMemory(reg *Registry, store *MemoryStore) {
	reg.Register(Tool{
		Descriptor: Descriptor{
			Name:        "save_memory",
			Description: "Save a fact to long-term memory. Use for user preferences and durable project facts, not transient task state.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"fact": map[string]interface{}{
						"type":        "string",
						"description": "The fact to remember, phrased as a standalone statement.",
					},
				},
				"required": []string{"fact"},
			},
			Mutating:             true,
			RequiresConfirmation: true,
		},
		Run: func(inv *Invocation, env Environment) (string, error) {
			fact, _ := StringArg(inv.Args, "fact")
			if err := store.SaveFact(fact); err != nil {
				return "", err
			}
			return fmt.Sprintf("Okay, I've remembered that: %q", strings.TrimSpace(fact)), nil
		},
	})
}

func registerGoogleSearch(reg *Registry, provider SearchProvider) {
	reg.Register(Tool{
		Descriptor: Descriptor{
			Name:        "google_search",
			Description: "Search the web. Returns a list of result snippets with links.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "The search query.",
					},
				},
				"required": []string{"query"},
			},
		},
		Run: func(inv *Invocation, env Environment) (string, error) {
			query, _ := StringArg(inv.Args, "query")
			if strings.TrimSpace(query) == "" {
				return "", fmt.Errorf("query must not be empty")
			}
			return provider.Search(context.Background(), query)
		},
	})
}
