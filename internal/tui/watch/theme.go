// Package watch implements the plantctl watch --tui monitor.
package watch

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme holds every style the monitor renders with.
type Theme struct {
	Good  lipgloss.Style
	Warn  lipgloss.Style
	Fault lipgloss.Style
	Idle  lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	TickerActive   lipgloss.Style
	TickerInactive lipgloss.Style
	Bar            lipgloss.Style
}

func NewDefaultTheme() Theme {
	fg := func(hex string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(hex))
	}
	teal := lipgloss.Color("#2AA198")

	return Theme{
		Good:  fg("#85C46C"),
		Warn:  fg("#E5A50A"),
		Fault: fg("#E0474C"),
		Idle:  fg("#8A8A8A"),

		Border: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(teal),
		Title:  fg("#EDEDED").Bold(true).Padding(0, 1),
		Header: fg("#6CB6EB").Bold(true),
		Dim:    fg("#8A8A8A"),

		Highlight:      fg("#E5C07B"),
		TickerActive:   fg("#85C46C"),
		TickerInactive: fg("#4A4A4A"),
		Bar:            lipgloss.NewStyle().Foreground(teal),
	}
}

// LoopState renders a scheduler state name in upper case: running is good,
// connecting and stopping are transitional, anything else is idle.
func (t Theme) LoopState(state string) string {
	style := t.Idle
	switch state {
	case "running":
		style = t.Good
	case "connecting", "stopping":
		style = t.Warn
	}
	return style.Render(strings.ToUpper(state))
}

// Channel returns a bold style in a channel's registry colour, or the
// header style when the channel has none.
func (t Theme) Channel(hex string) lipgloss.Style {
	if hex == "" {
		return t.Header
	}
	return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(hex))
}
