package agent

import (
	"crypto/sha256"
	"fmt"

	"github.com/scoutagent/scout/session"
)

// toolCallSignature is a deterministic fingerprint of a tool call
// (name plus argument hash).
func toolCallSignature(name, arguments string) string {
	h := sha256.Sum256([]byte(arguments))
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// recentToolCallSignatures returns the signatures of the most recent tool
// calls in the history, in chronological order.
func recentToolCallSignatures(turns []session.Turn, count int) []string {
	var sigs []string
	for i := len(turns) - 1; i >= 0 && len(sigs) < count; i-- {
		t := turns[i]
		if t.Role != session.RoleModel {
			continue
		}
		for j := len(t.ToolCalls) - 1; j >= 0 && len(sigs) < count; j-- {
			tc := t.ToolCalls[j]
			sigs = append(sigs, toolCallSignature(tc.Name, tc.Arguments))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop reports whether the last windowSize tool calls follow a
// repeating pattern of length 1, 2, or 3.
func DetectLoop(turns []session.Turn, windowSize int) bool {
	sigs := recentToolCallSignatures(turns, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		// Trim the window to the largest multiple of the pattern length,
		// keeping the most recent calls.
		span := windowSize - windowSize%patternLen
		if span < 2*patternLen {
			continue
		}
		tail := sigs[len(sigs)-span:]
		pattern := tail[:patternLen]
		allMatch := true
		for i := patternLen; i < span && allMatch; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if tail[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}
