// Package batchqueue implements a generic batching queue: it accumulates
// items under a lock and flushes them to a consumer after a latency or a
// capacity threshold, whichever comes first. No item is ever dropped, batch
// order is insertion order, and the consumer must tolerate being invoked
// with an empty batch (a benign race between a scheduled flush and a pop
// that already drained the queue).
package batchqueue

import (
	"sync"
	"time"

	"github.com/blipkit/blip/pkg/scheduler"
)

// Queue batches items of type T for a Consumer, following the same
// lock-then-append, schedule-a-flush shape the connection layer uses for
// outbound frame scheduling.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	latency  time.Duration
	capacity int
	sched    scheduler.Scheduler
	consume  func()
	flushSet bool
	cancel   func()
}

// New creates a batching queue with the given flush latency, optional
// capacity threshold (0 disables the capacity trigger), and consumer
// callback invoked on every scheduled flush.
func New[T any](sched scheduler.Scheduler, latency time.Duration, capacity int, consumer func()) *Queue[T] {
	return &Queue[T]{
		latency:  latency,
		capacity: capacity,
		sched:    sched,
		consume:  consumer,
	}
}

// Push appends item to the current batch. If no flush is currently
// scheduled, one is scheduled after latency. If capacity > 0 and the batch
// has reached capacity, an immediate flush is scheduled too — it dedupes
// with the delayed one from the consumer's point of view, since Pop always
// takes the whole batch atomically.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	n := len(q.items)
	needSchedule := !q.flushSet
	needImmediate := q.capacity > 0 && n >= q.capacity
	if needSchedule {
		q.flushSet = true
		q.cancel = q.sched.EnqueueAfter(q.latency, q.flush)
	}
	q.mu.Unlock()

	if needImmediate {
		q.sched.EnqueueNow(q.flush)
	}
}

func (q *Queue[T]) flush() {
	q.mu.Lock()
	q.flushSet = false
	q.cancel = nil
	q.mu.Unlock()
	q.consume()
}

// Pop atomically takes the entire current batch, clearing the scheduled
// flag, and returns it (possibly empty). Ordering is insertion order.
func (q *Queue[T]) Pop() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	q.flushSet = false
	return items
}

// Len returns the number of items currently batched.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
