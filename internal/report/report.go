package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/zjrosen/observ/internal/history"
	"github.com/zjrosen/observ/internal/scenario"
)

// Input is everything a report shows.
type Input struct {
	Result *scenario.Result
	// Diff is nil when the transcript matched or no expectation was given.
	Diff     []scenario.DiffLine
	Verified bool
	Recent   []history.Entry
}

// Render draws the transcript panel, the verification outcome and the most
// recent emit per event.
func Render(in Input) string {
	res := in.Result
	header := titleStyle.Render("scenario "+res.Scenario) + "  " +
		mutedStyle.Render(fmt.Sprintf("%d emits, %d failed callbacks, %s",
			res.Emits, res.Failures, res.Duration.Round(time.Microsecond)))

	sections := []string{header, panelStyle.Render(transcript(res.Transcript))}

	switch {
	case !in.Verified:
		sections = append(sections, warningStyle.Render("no expectation to verify"))
	case in.Diff == nil:
		sections = append(sections, successStyle.Render("✓ transcript matches"))
	default:
		sections = append(sections,
			errorStyle.Render("✗ transcript differs from expectation"),
			panelStyle.Render(diff(in.Diff)))
	}

	if len(in.Recent) > 0 {
		sections = append(sections, titleStyle.Render("last emits"), panelStyle.Render(recent(in.Recent)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func transcript(lines []string) string {
	if len(lines) == 0 {
		return mutedStyle.Render("(empty)")
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		if strings.HasPrefix(l, "  ") {
			out[i] = callbackStyle.Render(l)
			continue
		}
		op, rest, _ := strings.Cut(l, " ")
		out[i] = opStyle.Render(op) + " " + rest
	}
	return strings.Join(out, "\n")
}

func diff(lines []scenario.DiffLine) string {
	out := make([]string, len(lines))
	for i, d := range lines {
		switch d.Op {
		case diffmatchpatch.DiffDelete:
			out[i] = errorStyle.Render("- " + d.Text)
		case diffmatchpatch.DiffInsert:
			out[i] = successStyle.Render("+ " + d.Text)
		default:
			out[i] = mutedStyle.Render("  " + d.Text)
		}
	}
	return strings.Join(out, "\n")
}

func recent(entries []history.Entry) string {
	out := make([]string, len(entries))
	for i, e := range entries {
		status := successStyle.Render("ok")
		if e.Failures > 0 {
			status = errorStyle.Render(fmt.Sprintf("%d failed", e.Failures))
		}
		out[i] = fmt.Sprintf("%s.%s  %d callbacks  %s", e.Source, e.Event, e.Callbacks, status)
	}
	return strings.Join(out, "\n")
}
