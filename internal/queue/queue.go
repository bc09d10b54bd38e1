// Package queue provides the in-memory result queue that carries completed
// request outcomes from handler goroutines back to a dispatcher.
//
// A Queue has any number of producers and exactly one consumer. Producers never
// block: the queue grows as needed, and each Push wakes the consumer through the
// notify function given to New. The consumer polls with TryPop and never blocks
// either. Once the consumer calls Close, buffered items are dropped and later
// pushes are discarded.
package queue

import "sync"

// Queue is an unbounded multi-producer, single-consumer FIFO.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	closed bool
	notify func()
}

// New returns an empty queue. notify may be nil; when set it is called after
// every successful Push, outside the queue lock.
func New[T any](notify func()) *Queue[T] {
	return &Queue[T]{notify: notify}
}

// Push appends v. It reports false when the queue has been closed and v was
// dropped.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	notify := q.notify
	q.mu.Unlock()

	if notify != nil {
		notify()
	}
	return true
}

// TryPop removes and returns the oldest item. ok is false when the queue is
// empty or closed.
func (q *Queue[T]) TryPop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.items) {
		return v, false
	}
	v = q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head++

	// Reclaim the backing array once it is drained, or once the dead prefix
	// dominates it.
	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head > 64 && q.head*2 > len(q.items):
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return v, true
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close drops buffered items and makes every later Push a no-op.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
	q.head = 0
}
