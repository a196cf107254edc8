package trace

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/plantctl/internal/scheduler"
)

// DefaultBuffer is the number of records held while the writer catches up.
const DefaultBuffer = 1024

// Recorder hands tick records from the sampling goroutine to a writer
// goroutine. Record never blocks; records that do not fit are dropped.
type Recorder struct {
	store  *Store
	ch     chan scheduler.TickRecord
	logger *slog.Logger

	written atomic.Uint64
	dropped atomic.Uint64

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func NewRecorder(store *Store, buffer int, logger *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Recorder{
		store:  store,
		ch:     make(chan scheduler.TickRecord, buffer),
		logger: logger.With("component", "trace"),
		stopCh: make(chan struct{}),
	}
}

// Record implements scheduler.TickRecorder.
func (r *Recorder) Record(rec scheduler.TickRecord) {
	select {
	case r.ch <- rec:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.logger.Warn("tick trace buffer full, dropping records", "dropped", n)
		}
	}
}

// Start launches the writer goroutine.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Close stops the writer after flushing what is buffered.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.stopCh) })
	r.wg.Wait()
	r.logger.Info("tick trace closed", "written", r.written.Load(), "dropped", r.dropped.Load())
}

// Written is the number of records stored.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Dropped is the number of records discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case rec := <-r.ch:
			r.write(ctx, rec)
		case <-r.stopCh:
			r.flush()
			return
		case <-ctx.Done():
			r.flush()
			return
		}
	}
}

func (r *Recorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case rec := <-r.ch:
			r.write(ctx, rec)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, rec scheduler.TickRecord) {
	if err := r.store.Append(ctx, rec); err != nil {
		r.logger.Error("failed to store tick", "seq", rec.Seq, "error", err)
		return
	}
	r.written.Add(1)
}
