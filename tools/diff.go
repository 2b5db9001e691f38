package tools

import (
	"github.com/pmezard/go-difflib/difflib"
)

// UnifiedDiff renders the change between two file states as a unified diff
// with three lines of context, for confirmation previews.
func UnifiedDiff(path, oldContent, newContent string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldContent),
		B:        difflib.SplitLines(newContent),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	})
}
