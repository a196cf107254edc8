package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOOrder(t *testing.T) {
	q := New[int]()
	_, ok := q.Pop()
	assert.False(t, ok)

	for i := 0; i < 100; i++ {
		q.Push(i)
	}
	assert.Equal(t, 100, q.Len())

	head, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 0, head)

	for i := 0; i < 100; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.Zero(t, q.Len())
	assert.Equal(t, uint64(100), q.Pushed())
}

func TestFIFOPeekWait(t *testing.T) {
	q := New[string]()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push("hello")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := q.PeekWait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
	assert.Equal(t, 1, q.Len(), "peek leaves the head queued")

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestFIFOPeekWaitCancelled(t *testing.T) {
	q := New[string]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.PeekWait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFIFOConcurrentProducers(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, q.Len())
}
