package queue_test

import (
	"sync"
	"testing"

	"github.com/andrebq/peerbus/internal/queue"
)

func TestQueueOrder(t *testing.T) {
	q := queue.Q[int]{}
	q.Push(1)
	q.Push(2)
	q.Push(3)

	if v, ok := q.Pop(); !ok || v != 1 {
		t.Fatal("queue order not hold", v, ok)
	}

	rest := q.Take()
	if len(rest) != 2 || rest[0] != 2 || rest[1] != 3 {
		t.Fatalf("unexpected remainder: %v", rest)
	}

	if !q.Empty() {
		t.Fatal("queue not empty")
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("pop on empty queue should fail")
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := queue.Q[int]{}
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()
	if q.Len() != 800 {
		t.Fatalf("expected 800 items got %v", q.Len())
	}
}
