// Package blockingqueue provides an unbounded FIFO queue whose consumers
// can wait for elements to become available.
package blockingqueue

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// Queue is a Blocking queue, it supports operations that wait
// for the queue to have available elements before providing them.
type Queue[T any] struct {
	mu       sync.Mutex
	elements []T

	// notify is closed and replaced whenever an element is pushed.
	notify chan struct{}

	size *atomic.Int64
}

// New creates a new Blocking Queue holding the given elements.
func New[T any](elements ...T) *Queue[T] {
	q := &Queue[T]{
		elements: append([]T(nil), elements...),
		notify:   make(chan struct{}),
		size:     atomic.NewInt64(int64(len(elements))),
	}

	return q
}

// Push appends v to the tail of the queue. It never blocks.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.elements = append(q.elements, v)
	q.size.Inc()

	close(q.notify)
	q.notify = make(chan struct{})
}

// TryTake retrieves and removes the head of the queue without waiting.
// ok is false when the queue is empty.
func (q *Queue[T]) TryTake() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.pop()
}

// Take retrieves and removes the head of the queue, waiting until an
// element is available or ctx is done. ok is false when ctx ended first.
func (q *Queue[T]) Take(ctx context.Context) (v T, ok bool) {
	for {
		q.mu.Lock()

		if v, ok = q.pop(); ok {
			q.mu.Unlock()

			return v, true
		}

		notify := q.notify

		q.mu.Unlock()

		select {
		case <-notify:
		case <-ctx.Done():
			return v, false
		}
	}
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	return int(q.size.Load())
}

// Drain removes and returns every queued element.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.elements
	q.elements = nil
	q.size.Store(0)

	return out
}

func (q *Queue[T]) pop() (v T, ok bool) {
	if len(q.elements) == 0 {
		return v, false
	}

	var zero T

	v = q.elements[0]
	q.elements[0] = zero
	q.elements = q.elements[1:]
	q.size.Dec()

	return v, true
}
