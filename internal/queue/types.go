package queue

import "time"

// QueueItem is one (url, depth) frontier entry.
type QueueItem struct {
	URL       string
	Depth     int
	ParentURL string
	Timestamp time.Time
}
