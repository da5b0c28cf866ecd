package batchqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/blipkit/blip/pkg/scheduler"
)

func TestPushPopOrdering(t *testing.T) {
	var mu sync.Mutex
	var flushes [][]int

	var q *Queue[int]
	q = New[int](scheduler.NewDefault(), 5*time.Millisecond, 0, func() {
		batch := q.Pop()
		mu.Lock()
		flushes = append(flushes, batch)
		mu.Unlock()
	})

	q.Push(1)
	q.Push(2)
	q.Push(3)

	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(flushes) == 0 {
		t.Fatal("expected at least one flush")
	}
	var all []int
	for _, f := range flushes {
		all = append(all, f...)
	}
	if len(all) != 3 || all[0] != 1 || all[1] != 2 || all[2] != 3 {
		t.Fatalf("items out of order or dropped: %v", all)
	}
}

func TestCapacityTriggersImmediateFlush(t *testing.T) {
	done := make(chan struct{})
	var q *Queue[int]
	q = New[int](scheduler.NewDefault(), time.Hour, 2, func() {
		batch := q.Pop()
		if len(batch) >= 2 {
			close(done)
		}
	})

	q.Push(1)
	q.Push(2)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("capacity flush never fired")
	}
}

func TestPopOnEmptyQueueIsSafe(t *testing.T) {
	q := New[int](scheduler.NewDefault(), time.Millisecond, 0, func() {})
	if got := q.Pop(); len(got) != 0 {
		t.Fatalf("want empty batch, got %v", got)
	}
}
