package tools

import (
	"fmt"
	"strings"
)

// TruncationMode specifies how oversized tool output is cut.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// Character limits per tool. Anything else falls back to 30000.
var defaultCharLimits = map[string]int{
	"read_file":           50000,
	"shell":               30000,
	"search_file_content": 20000,
	"glob":                20000,
	"list_directory":      20000,
	"google_search":       20000,
	"replace_in_file":     10000,
	"write_file":          1000,
}

var defaultTruncationModes = map[string]TruncationMode{
	"read_file":           TruncateHeadTail,
	"shell":               TruncateHeadTail,
	"search_file_content": TruncateTail,
	"glob":                TruncateTail,
	"list_directory":      TruncateTail,
	"google_search":       TruncateTail,
	"replace_in_file":     TruncateTail,
	"write_file":          TruncateTail,
}

// Line limits applied after character truncation.
var defaultLineLimits = map[string]int{
	"shell":               256,
	"search_file_content": 200,
	"glob":                500,
}

// TruncateOutput applies character-based truncation.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars

	switch mode {
	case TruncateTail:
		return fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed.]\n\n", removed) +
			output[len(output)-maxChars:]
	default:
		half := maxChars / 2
		return output[:half] +
			fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
				"Re-run the tool with more targeted parameters to see specific parts.]\n\n", removed) +
			output[len(output)-half:]
	}
}

// TruncateLines applies line-based truncation using a head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateToolOutput applies the per-tool truncation pipeline: characters
// first (bounds pathological output), then lines (readability).
func TruncateToolOutput(output string, toolName string) string {
	maxChars, ok := defaultCharLimits[toolName]
	if !ok {
		maxChars = 30000
	}
	mode, ok := defaultTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}
	result := TruncateOutput(output, maxChars, mode)

	if maxLines, ok := defaultLineLimits[toolName]; ok {
		result = TruncateLines(result, maxLines)
	}
	return result
}
