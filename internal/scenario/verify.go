package scenario

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffLine is one line of a transcript comparison.
type DiffLine struct {
	Op   diffmatchpatch.Operation
	Text string
}

// Verify compares an expected transcript with the actual one line by line.
// It returns nil when they match after normalizing trailing whitespace.
func Verify(expected, actual string) []DiffLine {
	expected, actual = normalize(expected), normalize(actual)
	if expected == actual {
		return nil
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(expected+"\n", actual+"\n")
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var out []DiffLine
	for _, d := range diffs {
		for _, l := range strings.SplitAfter(d.Text, "\n") {
			if l == "" {
				continue
			}
			out = append(out, DiffLine{Op: d.Type, Text: strings.TrimSuffix(l, "\n")})
		}
	}
	return out
}

// FormatDiff renders diff lines with -, + and space prefixes.
func FormatDiff(diff []DiffLine) string {
	var b strings.Builder
	for _, d := range diff {
		switch d.Op {
		case diffmatchpatch.DiffDelete:
			b.WriteString("- ")
		case diffmatchpatch.DiffInsert:
			b.WriteString("+ ")
		default:
			b.WriteString("  ")
		}
		b.WriteString(d.Text)
		b.WriteString("\n")
	}
	return b.String()
}
