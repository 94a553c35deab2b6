// Package report renders playground results for the terminal.
package report

import "github.com/charmbracelet/lipgloss"

var (
	TextPrimaryColor   = lipgloss.AdaptiveColor{Light: "#1F1F1F", Dark: "#CCCCCC"}
	TextMutedColor     = lipgloss.AdaptiveColor{Light: "#8C8C8C", Dark: "#696969"}
	BorderDefaultColor = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#696969"}

	StatusSuccessColor = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	StatusWarningColor = lipgloss.AdaptiveColor{Light: "#FECA57", Dark: "#FECA57"}
	StatusErrorColor   = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}

	OpColor       = lipgloss.AdaptiveColor{Light: "#1E66F5", Dark: "#89B4FA"}
	CallbackColor = lipgloss.AdaptiveColor{Light: "#179299", Dark: "#94E2D5"}
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(TextPrimaryColor)
	mutedStyle    = lipgloss.NewStyle().Foreground(TextMutedColor)
	opStyle       = lipgloss.NewStyle().Foreground(OpColor).Bold(true)
	callbackStyle = lipgloss.NewStyle().Foreground(CallbackColor)
	successStyle  = lipgloss.NewStyle().Foreground(StatusSuccessColor).Bold(true)
	warningStyle  = lipgloss.NewStyle().Foreground(StatusWarningColor)
	errorStyle    = lipgloss.NewStyle().Foreground(StatusErrorColor).Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderDefaultColor).
			Padding(0, 1)
)
