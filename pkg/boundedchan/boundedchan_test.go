package boundedchan

import (
	"testing"
	"time"
)

func TestPushPopFIFO(t *testing.T) {
	c := New[int]()
	c.Push(1)
	c.Push(2)
	c.Push(3)
	for _, want := range []int{1, 2, 3} {
		if got := c.Pop(); got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	c := New[int]()
	done := make(chan int)
	go func() { done <- c.Pop() }()

	select {
	case <-done:
		t.Fatal("Pop returned before any item was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	c.Push(42)
	select {
	case v := <-done:
		if v != 42 {
			t.Fatalf("got %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop never woke up after Push")
	}
}

func TestCloseDrainsThenReturnsZero(t *testing.T) {
	c := New[int]()
	c.Push(1)
	c.Close()

	if got := c.Pop(); got != 1 {
		t.Fatalf("got %d, want 1 (drain before close takes effect)", got)
	}
	if got := c.Pop(); got != 0 {
		t.Fatalf("got %d, want 0 after close+drain", got)
	}
}

func TestCloseWakesBlockedWaiters(t *testing.T) {
	c := New[int]()
	done := make(chan struct{})
	go func() {
		c.Pop()
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	c.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked Pop was not woken by Close")
	}
}

func TestPopNoWaiting(t *testing.T) {
	c := New[int]()
	if got := c.PopNoWaiting(); got != 0 {
		t.Fatalf("got %d, want 0 on empty", got)
	}
	c.Push(7)
	if got := c.PopNoWaiting(); got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
}
