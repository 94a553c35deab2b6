package scenario

import (
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/require"
)

func TestVerify_MatchIgnoresTrailingWhitespace(t *testing.T) {
	require.Nil(t, Verify("a\nb  \n\n", "a\nb"))
}

func TestVerify_ReportsChangedLines(t *testing.T) {
	diff := Verify("one\ntwo\nthree", "one\n2\nthree\nfour")
	require.NotNil(t, diff)

	var deleted, inserted, equal []string
	for _, d := range diff {
		switch d.Op {
		case diffmatchpatch.DiffDelete:
			deleted = append(deleted, d.Text)
		case diffmatchpatch.DiffInsert:
			inserted = append(inserted, d.Text)
		default:
			equal = append(equal, d.Text)
		}
	}
	require.Equal(t, []string{"two"}, deleted)
	require.Equal(t, []string{"2", "four"}, inserted)
	require.Equal(t, []string{"one", "three"}, equal)

	out := FormatDiff(diff)
	require.Contains(t, out, "- two\n")
	require.Contains(t, out, "+ 2\n")
	require.Contains(t, out, "  one\n")
}
