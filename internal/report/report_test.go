package report

import (
	"testing"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/observ/internal/history"
	"github.com/zjrosen/observ/internal/scenario"
)

func result() *scenario.Result {
	return &scenario.Result{
		Scenario:   "demo",
		Transcript: []string{"on a.x h", "emit a.x callbacks=1 failures=0", "  h <- x [1]"},
		Emits:      1,
		Duration:   3 * time.Millisecond,
	}
}

func TestRender_Matched(t *testing.T) {
	out := Render(Input{Result: result(), Verified: true})
	require.Contains(t, out, "scenario demo")
	require.Contains(t, out, "1 emits, 0 failed callbacks")
	require.Contains(t, out, "h <- x [1]")
	require.Contains(t, out, "transcript matches")
	require.NotContains(t, out, "last emits")
}

func TestRender_Unverified(t *testing.T) {
	out := Render(Input{Result: result()})
	require.Contains(t, out, "no expectation")
}

func TestRender_Diff(t *testing.T) {
	out := Render(Input{
		Result:   result(),
		Verified: true,
		Diff: []scenario.DiffLine{
			{Op: diffmatchpatch.DiffEqual, Text: "on a.x h"},
			{Op: diffmatchpatch.DiffDelete, Text: "emit a.x callbacks=2 failures=0"},
			{Op: diffmatchpatch.DiffInsert, Text: "emit a.x callbacks=1 failures=0"},
		},
	})
	require.Contains(t, out, "differs")
	require.Contains(t, out, "- emit a.x callbacks=2")
	require.Contains(t, out, "+ emit a.x callbacks=1")
}

func TestRender_Recent(t *testing.T) {
	out := Render(Input{
		Result: result(),
		Recent: []history.Entry{
			{Source: "a", Event: "x", Callbacks: 2, Failures: 1},
			{Source: "a", Event: "y", Callbacks: 1},
		},
	})
	require.Contains(t, out, "last emits")
	require.Contains(t, out, "a.x  2 callbacks  1 failed")
	require.Contains(t, out, "a.y  1 callbacks  ok")
}

func TestRender_EmptyTranscript(t *testing.T) {
	out := Render(Input{Result: &scenario.Result{Scenario: "empty"}})
	require.Contains(t, out, "(empty)")
}
