package queue

import (
	"fmt"
	"sync"
	"testing"
)

// =============================================================================
// MemoryQueue Tests
// =============================================================================

func TestMemoryQueue_FIFOOrder(t *testing.T) {
	q := NewMemoryQueue(0)

	// Depth does not reorder: the queue is strictly first in, first out.
	pushes := []QueueItem{
		{URL: "https://example.com/", Depth: 0},
		{URL: "https://example.com/b", Depth: 1},
		{URL: "https://example.com/a", Depth: 1},
		{URL: "https://example.com/b/1", Depth: 2},
		{URL: "https://example.com/c", Depth: 1},
	}
	for i := range pushes {
		item := pushes[i]
		if err := q.Push(&item); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}

	for i, want := range pushes {
		got, err := q.Pop()
		if err != nil {
			t.Fatalf("Pop() #%d error = %v", i, err)
		}
		if got.URL != want.URL {
			t.Errorf("Pop() #%d = %v, want %v", i, got.URL, want.URL)
		}
	}

	if _, err := q.Pop(); err != ErrQueueEmpty {
		t.Errorf("Pop() on empty queue error = %v, want %v", err, ErrQueueEmpty)
	}
}

func TestMemoryQueue_Duplicates(t *testing.T) {
	q := NewMemoryQueue(0)

	q.Push(&QueueItem{URL: "https://example.com/a", Depth: 1})
	q.Push(&QueueItem{URL: "https://example.com/a", Depth: 2})

	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
	if !q.Contains("https://example.com/a") {
		t.Error("Contains() should report a waiting URL")
	}

	item, _ := q.Pop()
	if item.Depth != 1 {
		t.Errorf("Pop().Depth = %d, want first push kept", item.Depth)
	}
	if q.Contains("https://example.com/a") {
		t.Error("Contains() should be false after the URL popped")
	}

	// Once popped, the URL may be queued again; the caller's visited set decides.
	q.Push(&QueueItem{URL: "https://example.com/a", Depth: 3})
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after re-push", q.Len())
	}
}

func TestMemoryQueue_Capacity(t *testing.T) {
	q := NewMemoryQueue(2)

	q.Push(&QueueItem{URL: "1"})
	q.Push(&QueueItem{URL: "2"})
	if err := q.Push(&QueueItem{URL: "3"}); err != ErrQueueFull {
		t.Errorf("Push() error = %v, want %v", err, ErrQueueFull)
	}
	if err := q.Push(&QueueItem{URL: "1"}); err != nil {
		t.Errorf("Push() duplicate at capacity error = %v, want nil", err)
	}
}

func TestMemoryQueue_Contains(t *testing.T) {
	q := NewMemoryQueue(0)

	if _, err := q.Pop(); err != ErrQueueEmpty {
		t.Errorf("Pop() error = %v, want %v", err, ErrQueueEmpty)
	}

	q.Push(&QueueItem{URL: "first"})
	q.Push(&QueueItem{URL: "second"})

	if !q.Contains("first") || !q.Contains("second") {
		t.Error("Contains() should report waiting URLs")
	}
	if q.Contains("third") {
		t.Error("Contains(third) = true, want false")
	}

	q.Pop()
	if q.Contains("first") {
		t.Error("Contains() should forget popped URLs")
	}
}

func TestMemoryQueue_Compaction(t *testing.T) {
	q := NewMemoryQueue(0)

	for i := 0; i < 500; i++ {
		q.Push(&QueueItem{URL: fmt.Sprintf("u%d", i)})
	}
	for i := 0; i < 400; i++ {
		item, err := q.Pop()
		if err != nil || item.URL != fmt.Sprintf("u%d", i) {
			t.Fatalf("Pop() #%d = %v, %v", i, item, err)
		}
	}
	if q.Len() != 100 {
		t.Errorf("Len() = %d, want 100", q.Len())
	}
	item, _ := q.Pop()
	if item.URL != "u400" {
		t.Errorf("Pop() after compaction = %v, want u400", item.URL)
	}
}

func TestMemoryQueue_Concurrent(t *testing.T) {
	q := NewMemoryQueue(0)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(&QueueItem{URL: fmt.Sprintf("w%d-%d", w, i)})
			}
		}(w)
	}
	wg.Wait()

	if q.Len() != 800 {
		t.Errorf("Len() = %d, want 800", q.Len())
	}

	seen := make(map[string]bool)
	for q.Len() > 0 {
		item, err := q.Pop()
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if seen[item.URL] {
			t.Errorf("URL %s popped twice", item.URL)
		}
		seen[item.URL] = true
	}
}
