package scheduler

import (
	"time"
)

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks github.com/mattjoyce/plantctl/internal/scheduler TickRecorder

// Clock is the loop's time source.
type Clock interface {
	Now() time.Time
	// Sleep waits d or until stop closes, and reports whether d elapsed.
	Sleep(d time.Duration, stop <-chan struct{}) bool
	// After fires once d has elapsed. It bounds the control computation.
	After(d time.Duration) <-chan time.Time
}

// TickRecorder receives per-tick timing. Record is called on the sampling
// goroutine and must not block.
type TickRecorder interface {
	Record(rec TickRecord)
}

// TickRecord is the timing of one tick.
type TickRecord struct {
	Seq        uint64
	At         time.Time
	DT         time.Duration
	Read       time.Duration
	Control    time.Duration
	Feedback   time.Duration
	Active     string
	Late       bool
	Missed     bool
	ReadFailed bool
	SendFailed bool
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(d time.Duration, stop <-chan struct{}) bool {
	if d <= 0 {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	}
}

func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
