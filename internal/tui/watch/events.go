package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/plantctl/internal/events"
)

const maxEventLog = 50

func renderEventStream(eventLog []events.Event, theme Theme, width, rows int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENTS"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	lines := make([]string, 0, rows)
	for i, e := range eventLog {
		if i >= rows {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENTS"),
		eventsText,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func eventStyle(typ string, theme Theme) lipgloss.Style {
	switch typ {
	case events.DeadlineMissed, events.ReadFailed, events.SendFailed, events.CommandRejected:
		return theme.Fault
	case events.LoopLate:
		return theme.Warn
	case events.StrategyStarted:
		return theme.Good
	case events.TunableUpdated, events.SetpointsUpdated:
		return theme.Highlight
	case events.LoopState:
		return theme.Header
	default:
		return theme.Dim
	}
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Local().Format("15:04:05"))
	typeName := eventStyle(e.Type, theme).Render(fmt.Sprintf("%-24s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

// extractEventDesc picks the fields worth a glance out of an event payload.
func extractEventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	for _, key := range []string{"state", "label", "command", "name", "value", "setpoints", "tick", "behind_ms", "reason", "error"} {
		v, ok := data[key]
		if !ok {
			continue
		}
		switch key {
		case "label", "state", "command":
			parts = append(parts, fmt.Sprint(v))
		case "behind_ms":
			parts = append(parts, fmt.Sprintf("+%vms", v))
		default:
			parts = append(parts, fmt.Sprintf("%s=%v", key, v))
		}
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
