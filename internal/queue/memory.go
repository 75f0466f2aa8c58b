package queue

import (
	"errors"
	"sync"
)

var (
	ErrQueueEmpty = errors.New("queue is empty")
	ErrQueueFull  = errors.New("queue at capacity")
)

var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue is a thread-safe strict FIFO. Items pop in push order, so a
// breadth-first dive visits pages in non-decreasing depth order.
type MemoryQueue struct {
	mu       sync.RWMutex
	items    []*QueueItem
	head     int
	urlSet   map[string]struct{}
	capacity int
}

// NewMemoryQueue creates a queue. A capacity of 0 means unbounded.
func NewMemoryQueue(capacity int) *MemoryQueue {
	return &MemoryQueue{
		urlSet:   make(map[string]struct{}),
		capacity: capacity,
	}
}

// Push appends an item. A URL already waiting in the queue is ignored.
func (mq *MemoryQueue) Push(item *QueueItem) error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if _, exists := mq.urlSet[item.URL]; exists {
		return nil
	}

	if mq.capacity > 0 && mq.lenLocked() >= mq.capacity {
		return ErrQueueFull
	}

	mq.urlSet[item.URL] = struct{}{}
	mq.items = append(mq.items, item)
	return nil
}

// Pop removes and returns the oldest item.
func (mq *MemoryQueue) Pop() (*QueueItem, error) {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.lenLocked() == 0 {
		return nil, ErrQueueEmpty
	}

	item := mq.items[mq.head]
	mq.items[mq.head] = nil
	mq.head++
	delete(mq.urlSet, item.URL)

	// Reclaim the consumed prefix once it dominates the slice.
	if mq.head > 64 && mq.head*2 > len(mq.items) {
		mq.items = append([]*QueueItem(nil), mq.items[mq.head:]...)
		mq.head = 0
	}
	return item, nil
}

func (mq *MemoryQueue) lenLocked() int {
	return len(mq.items) - mq.head
}

// Len returns the number of items in the queue.
func (mq *MemoryQueue) Len() int {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	return mq.lenLocked()
}

// Contains checks if a URL is waiting in the queue.
func (mq *MemoryQueue) Contains(url string) bool {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	_, exists := mq.urlSet[url]
	return exists
}
