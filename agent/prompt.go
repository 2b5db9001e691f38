package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/scoutagent/scout/ignore"
	"github.com/scoutagent/scout/tools"
)

// BuildSystemPrompt assembles the full system prompt: base instructions,
// environment context, tool descriptions, and discovered memory context.
func BuildSystemPrompt(env tools.Environment, registry *tools.Registry, memoryContext string) string {
	var sb strings.Builder

	sb.WriteString(basePrompt)
	sb.WriteString("\n\n")

	sb.WriteString(buildEnvironmentContext(env))
	sb.WriteString("\n\n")

	sb.WriteString("# Available Tools\n\n")
	for _, def := range registry.Definitions() {
		fmt.Fprintf(&sb, "## %s\n%s\n\n", def.Name, def.Description)
	}

	if memoryContext != "" {
		sb.WriteString("# Context and Memory\n\n")
		sb.WriteString(memoryContext)
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}

func buildEnvironmentContext(env tools.Environment) string {
	root := env.ProjectRoot()
	isRepo := ignore.IsGitRepository(root)

	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Project root: %s\n", root)
	fmt.Fprintf(&sb, "Is git repository: %v\n", isRepo)
	fmt.Fprintf(&sb, "Platform: %s\n", env.Platform())
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	sb.WriteString("</environment>")
	return sb.String()
}

const basePrompt = `You are an autonomous coding agent. You help users with software engineering tasks by reading files, editing code, running commands, and iterating until the task is done.

# Core Principles

- Read files before editing them. Understand existing code before suggesting modifications.
- Use replace_in_file for targeted modifications with search-and-replace.
- Use write_file for creating new files.
- Keep changes minimal and focused. Only make changes that are directly requested or clearly necessary.
- After making changes, verify them by reading the modified file or running relevant tests.

# Tool Usage Guidelines

- Use read_file to examine file contents before editing.
- Use replace_in_file for modifications with old/new search-and-replace.
- Use shell for running commands; long commands can raise timeout_ms.
- Use search_file_content to search file contents by regex.
- Use glob to find files by name pattern.
- Use save_memory only for durable facts and preferences, never transient task state.
- Paths listed in ignore files are off limits; do not try to work around exclusions.

# Error Handling

- If a tool call fails, analyze the error and try a different approach.
- If replace_in_file fails, re-read the file to get current content.
- If a command fails, inspect the output and fix the issue.

# Best Practices

- Write clean, idiomatic code that follows the project's existing style.
- Do not introduce security vulnerabilities.
- Do not add unnecessary dependencies.
- Test changes when possible.`
