package queue

import (
	"sync"
)

type (
	// Q is a mutex guarded FIFO, safe for use by many producers and consumers.
	Q[T any] struct {
		mutex sync.Mutex
		items []T
	}
)

func (q *Q[T]) Push(v T) {
	q.mutex.Lock()
	q.items = append(q.items, v)
	q.mutex.Unlock()
}

// Pop removes the oldest item, ok is false when the queue is empty.
func (q *Q[T]) Pop() (v T, ok bool) {
	var zero T
	q.mutex.Lock()
	if len(q.items) == 0 {
		q.mutex.Unlock()
		return zero, false
	}
	v = q.items[0]
	// avoid a gc leak by clearing the slot we are about to drop
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	q.mutex.Unlock()
	return v, true
}

// Take removes every queued item and returns them in arrival order.
func (q *Q[T]) Take() []T {
	q.mutex.Lock()
	out := q.items
	q.items = nil
	q.mutex.Unlock()
	return out
}

func (q *Q[T]) Len() int {
	q.mutex.Lock()
	sz := len(q.items)
	q.mutex.Unlock()
	return sz
}

func (q *Q[T]) Empty() bool {
	return q.Len() == 0
}
