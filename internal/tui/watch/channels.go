package watch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/plantctl/internal/channel"
	"github.com/mattjoyce/plantctl/internal/protocol"
	"github.com/mattjoyce/plantctl/internal/strategy"
)

const historyLen = 60

// pushHistory appends one sample per sensor, resetting when the channel
// count changes, and keeps the newest historyLen samples.
func pushHistory(history [][]float64, sensors []float64) [][]float64 {
	if len(history) != len(sensors) {
		history = make([][]float64, len(sensors))
	}
	for i, v := range sensors {
		h := append(history[i], v)
		if len(h) > historyLen {
			h = h[len(h)-historyLen:]
		}
		history[i] = h
	}
	return history
}

// channelAt describes channel i, falling back to a positional name when the
// registry has not been fetched yet.
func channelAt(chans []channel.Channel, kind string, i int) channel.Channel {
	if i < len(chans) {
		return chans[i]
	}
	return channel.Channel{Name: fmt.Sprintf("%s[%d]", kind, i)}
}

func renderChannels(sensors, actuators []channel.Channel, snap protocol.Snapshot, history [][]float64, theme Theme, width int) string {
	innerWidth := width - 4
	spark := max(10, min(historyLen, innerWidth-60))

	var lines []string
	lines = append(lines, theme.Title.Render("SENSORS"))
	if len(snap.Sensors) == 0 {
		lines = append(lines, theme.Dim.Render("  Waiting for a snapshot..."))
	}
	for i, v := range snap.Sensors {
		ch := channelAt(sensors, "sensor", i)
		sp := theme.Dim.Render("sp -")
		if n := len(snap.Setpoints); n > 0 {
			sp = theme.Highlight.Render("sp " + formatValue(snap.Setpoints[min(i, n-1)]))
		}
		var h []float64
		if i < len(history) {
			h = history[i]
		}
		lines = append(lines, fmt.Sprintf("  %s %10s %-4s %-12s %s",
			theme.Channel(ch.Color).Render(fmt.Sprintf("%-14s", ch.Name)),
			formatValue(v), ch.Unit, sp, theme.Bar.Render(sparkline(h, spark))))
	}

	lines = append(lines, theme.Title.Render("ACTUATORS"))
	for i, v := range snap.Actuators {
		ch := channelAt(actuators, "actuator", i)
		gauge := ""
		if ch.Unit == "%" {
			gauge = theme.Bar.Render(bar(v/100, spark))
		}
		lines = append(lines, fmt.Sprintf("  %s %10s %-4s %-12s %s",
			theme.Channel(ch.Color).Render(fmt.Sprintf("%-14s", ch.Name)),
			formatValue(v), ch.Unit, "", gauge))
	}

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatFloats(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ", ")
}

// formatVars lists tunables other than setpoints as name=value.
func formatVars(vars []protocol.VarInfo) string {
	parts := make([]string, 0, len(vars))
	for _, v := range vars {
		if v.Name == strategy.SetpointsTunable {
			continue
		}
		val := fmt.Sprint(v.Value)
		if f, ok := v.Value.(float64); ok {
			val = strconv.FormatFloat(f, 'g', 4, 64)
		}
		parts = append(parts, v.Name+"="+val)
	}
	return strings.Join(parts, " ")
}
