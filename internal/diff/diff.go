// Package diff renders a line-based, ANSI-colored diff between two texts
// for the edit and multiedit tool previews. It is grounded on a Myers
// diff (via go-difflib's SequenceMatcher, the same algorithm the original
// Rust implementation gets from the "similar" crate) rather than a custom
// diff algorithm.
package diff

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	ansiReset   = "\x1b[0m"
	ansiDarkRed = "\x1b[48;5;52m"
	ansiDarkGrn = "\x1b[48;5;22m"
)

// Render returns an ANSI-colored, line-numbered unified view of the change
// from oldText to newText. Deleted lines are shown with a dark-red
// background, inserted lines with a dark-green background, unchanged lines
// are shown plain. When oldText equals newText, Render returns the literal
// marker "No changes".
func Render(oldText, newText string) string {
	if oldText == newText {
		return "No changes"
	}

	oldLines := difflib.SplitLines(oldText)
	newLines := difflib.SplitLines(newText)
	matcher := difflib.NewMatcher(oldLines, newLines)

	var b strings.Builder
	oldLineNo, newLineNo := 1, 1
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'e':
			for i := op.I1; i < op.I2; i++ {
				fmt.Fprintf(&b, " %4d %4d  %s", oldLineNo, newLineNo, oldLines[i])
				oldLineNo++
				newLineNo++
			}
		case 'd':
			for i := op.I1; i < op.I2; i++ {
				fmt.Fprintf(&b, "%s-%4d      %s%s", ansiDarkRed, oldLineNo, oldLines[i], ansiReset)
				oldLineNo++
			}
		case 'i':
			for j := op.J1; j < op.J2; j++ {
				fmt.Fprintf(&b, "%s+     %4d %s%s", ansiDarkGrn, newLineNo, newLines[j], ansiReset)
				newLineNo++
			}
		case 'r':
			for i := op.I1; i < op.I2; i++ {
				fmt.Fprintf(&b, "%s-%4d      %s%s", ansiDarkRed, oldLineNo, oldLines[i], ansiReset)
				oldLineNo++
			}
			for j := op.J1; j < op.J2; j++ {
				fmt.Fprintf(&b, "%s+     %4d %s%s", ansiDarkGrn, newLineNo, newLines[j], ansiReset)
				newLineNo++
			}
		}
	}
	return b.String()
}
