package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/plantctl/internal/api"
	"github.com/mattjoyce/plantctl/internal/protocol"
)

// LinkState is how the monitor is attached to the loop.
type LinkState struct {
	Connected bool
	Polling   bool
}

func renderHeader(reg api.RegistryResponse, snap protocol.Snapshot, link LinkState, ticker Ticker, spinner Spinner, theme Theme, width int) string {
	innerWidth := width - 4

	state := theme.Idle.Render("CONNECTING")
	if link.Connected && reg.State != "" {
		state = theme.LoopState(reg.State)
	}

	active := snap.Active()
	if active == "" && reg.Active != nil {
		active = *reg.Active
	}
	activeText := theme.Dim.Render("none")
	if active != "" {
		activeText = theme.Highlight.Render(active)
	}

	// Title line with ticker and clock
	tickerStyle := theme.TickerActive
	if ticker.Stale(5 * time.Second) {
		tickerStyle = theme.TickerInactive
	}
	titleText := fmt.Sprintf(" PLANTCTL WATCH %s", tickerStyle.Render(ticker.Current()))
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	pad := max(1, innerWidth-lipgloss.Width(titleText)-lipgloss.Width(clock)-4)
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  run %s  period %dms  strategy %s",
		state, shortID(reg.RunID), reg.PeriodMS, activeText)

	missed := fmt.Sprintf("missed %d", reg.Stats.Missed)
	if reg.Stats.Missed > 0 {
		missed = theme.Fault.Render(missed)
	}
	late := fmt.Sprintf("late %d", reg.Stats.Late)
	if reg.Stats.Late > 0 {
		late = theme.Warn.Render(late)
	}
	countersLine := fmt.Sprintf(" ticks %d  %s  %s  read fail %d  send fail %d",
		reg.Stats.Ticks, missed, late, reg.Stats.ReadFailures, reg.Stats.SendFailures)

	sampled := "never"
	if !snap.LastSampleTime.IsZero() {
		sampled = snap.LastSampleTime.Local().Format("15:04:05.000")
	}
	activityLine := fmt.Sprintf(" snapshot #%d sampled %s  events %s", snap.Seq, sampled, spinner.Render(theme))
	if link.Polling {
		activityLine += theme.Dim.Render("  (polling: another observer holds the stream)")
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		countersLine,
		activityLine,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func shortID(id string) string {
	if id == "" {
		return "-"
	}
	return id[:min(len(id), 8)]
}
