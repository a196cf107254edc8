package watch

import (
	"strings"
	"time"
)

// Ticker advances one frame per snapshot received, so a frozen frame means
// the stream has stalled.
type Ticker struct {
	frames []string
	index  int
	last   time.Time
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"◐", "◓", "◑", "◒"}}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
	t.last = time.Now()
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

// Stale reports whether no snapshot arrived within d.
func (t Ticker) Stale(d time.Duration) bool {
	return t.last.IsZero() || time.Since(t.last) > d
}

// Spinner shows event activity with a decaying dot pattern.
type Spinner struct {
	dots      int
	lastEvent time.Time
}

const spinnerDots = 5

func NewSpinner() Spinner {
	return Spinner{}
}

func (s *Spinner) OnEvent() {
	s.dots = spinnerDots
	s.lastEvent = time.Now()
}

// Decay drops one dot for every two seconds since the last event.
func (s *Spinner) Decay() {
	if s.dots == 0 {
		return
	}
	s.dots = max(0, spinnerDots-int(time.Since(s.lastEvent)/(2*time.Second)))
}

func (s Spinner) Render(theme Theme) string {
	var b strings.Builder
	for i := range spinnerDots {
		if i < s.dots {
			b.WriteString(theme.TickerActive.Render("●"))
		} else {
			b.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return b.String()
}

func (s Spinner) LastEvent() time.Time {
	return s.lastEvent
}

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// sparkline renders the last width values scaled to their own range.
func sparkline(values []float64, width int) string {
	if width <= 0 || len(values) == 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}

	out := make([]rune, len(values))
	for i, v := range values {
		idx := (len(sparkRunes) - 1) / 2
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float64(len(sparkRunes)-1))
		}
		out[i] = sparkRunes[idx]
	}
	return string(out)
}

// bar renders frac of width as a filled gauge. frac is clamped to [0, 1].
func bar(frac float64, width int) string {
	if width <= 0 {
		return ""
	}
	frac = min(1, max(0, frac))
	filled := int(frac*float64(width) + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
