// Package channel provides the buffered queue primitive under agent
// mailboxes and communication channels.
package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// Queue is a FIFO queue with an optional capacity bound.
// Put never blocks: when the queue is at capacity it fails with
// ErrQueueFull. Get suspends the caller until an item arrives or the
// context is cancelled. A capacity of 0 means unbounded.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	waiters  []chan T
	capacity int
	closed   bool

	// Stats for observability.
	puts  atomic.Int64
	gets  atomic.Int64
	drops atomic.Int64
}

// NewQueue creates a queue. capacity <= 0 means unbounded.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{capacity: capacity}
}

// Put enqueues v without blocking. If a consumer is suspended in Get,
// the item is handed over directly, preserving FIFO order.
func (q *Queue[T]) Put(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	// Hand off to the oldest waiter first. Items are only buffered when
	// no consumer is waiting, so handoff order is still FIFO.
	for len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		select {
		case w <- v:
			q.mu.Unlock()
			q.puts.Add(1)
			return nil
		default:
			// Waiter abandoned its Get (context cancelled); skip it.
		}
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		q.drops.Add(1)
		return ErrQueueFull
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.puts.Add(1)
	return nil
}

// Get dequeues the oldest item, suspending until one is available.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	var zero T
	q.mu.Lock()
	if len(q.items) > 0 {
		v := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		q.gets.Add(1)
		return v, nil
	}
	if q.closed {
		q.mu.Unlock()
		return zero, ErrQueueClosed
	}
	w := make(chan T, 1)
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case v, ok := <-w:
		if !ok {
			return zero, ErrQueueClosed
		}
		q.gets.Add(1)
		return v, nil
	case <-ctx.Done():
		q.removeWaiter(w)
		// A Put may have raced the cancellation and already handed an
		// item to this waiter; do not lose it.
		select {
		case v, ok := <-w:
			if ok {
				q.gets.Add(1)
				return v, nil
			}
		default:
		}
		return zero, ctx.Err()
	}
}

// TryGet dequeues without suspending. Returns false when empty.
func (q *Queue[T]) TryGet() (T, bool) {
	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items = q.items[1:]
	q.gets.Add(1)
	return v, true
}

// Len reports the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap reports the capacity bound (0 = unbounded).
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Close marks the queue closed. Buffered items remain readable via
// TryGet; suspended consumers are released with ErrQueueClosed.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	waiters := q.waiters
	q.waiters = nil
	q.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// Stats returns cumulative put/get/drop counts.
func (q *Queue[T]) Stats() (puts, gets, drops int64) {
	return q.puts.Load(), q.gets.Load(), q.drops.Load()
}

func (q *Queue[T]) removeWaiter(w chan T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, cand := range q.waiters {
		if cand == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}
