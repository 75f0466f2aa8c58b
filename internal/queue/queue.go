// Package queue provides the dive frontier.
package queue

// Queue is a URL frontier.
type Queue interface {
	// Push adds an item to the back of the queue
	Push(item *QueueItem) error

	// Pop removes and returns the oldest item
	Pop() (*QueueItem, error)

	// Len returns the number of items in the queue
	Len() int

	// Contains checks if a URL is waiting in the queue
	Contains(url string) bool
}
