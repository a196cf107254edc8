// Package queue provides the unbounded FIFOs that carry snapshots and
// commands between goroutines. A FIFO never blocks its producer.
package queue

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// FIFO is a goroutine-safe unbounded queue over an eapache ring buffer.
type FIFO[T any] struct {
	mu     sync.Mutex
	q      *queue.Queue
	notify chan struct{}
	pushed uint64
}

func New[T any]() *FIFO[T] {
	return &FIFO[T]{
		q:      queue.New(),
		notify: make(chan struct{}, 1),
	}
}

// Push appends v and wakes one waiter.
func (f *FIFO[T]) Push(v T) {
	f.mu.Lock()
	f.q.Add(v)
	f.pushed++
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Pop removes the head. ok is false when the queue is empty.
func (f *FIFO[T]) Pop() (v T, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.q.Length() == 0 {
		return v, false
	}
	return f.q.Remove().(T), true
}

// Peek returns the head without removing it.
func (f *FIFO[T]) Peek() (v T, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.q.Length() == 0 {
		return v, false
	}
	return f.q.Peek().(T), true
}

// PeekWait blocks until an element is available or ctx ends and returns the
// head without removing it. It suits a single consumer that pops only after
// the element has been delivered.
func (f *FIFO[T]) PeekWait(ctx context.Context) (T, error) {
	for {
		if v, ok := f.Peek(); ok {
			return v, nil
		}
		select {
		case <-f.notify:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued elements.
func (f *FIFO[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.q.Length()
}

// Pushed returns the number of elements ever pushed.
func (f *FIFO[T]) Pushed() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushed
}
