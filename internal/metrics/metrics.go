// Package metrics collects protocol and dive counters for spiderdive.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// loadTimeBounds are the upper bounds in ms of the load-time histogram buckets.
// The final bucket catches everything at or above the last bound.
var loadTimeBounds = [...]int64{100, 250, 500, 1000, 2000, 3000, 5000, 10000}

// Collector collects and aggregates metrics.
type Collector struct {
	commandsTotal   atomic.Int64
	commandTimeouts atomic.Int64
	protocolErrors  atomic.Int64
	eventsReceived  atomic.Int64

	pagesAnalyzed atomic.Int64
	pageErrors    atomic.Int64
	bytesTotal    atomic.Int64

	loadTimeSum     atomic.Int64
	loadTimeNum     atomic.Int64
	loadTimeBuckets [len(loadTimeBounds) + 1]atomic.Int64

	queueDepth atomic.Int64

	statusCodes map[int]*atomic.Int64
	statusMu    sync.RWMutex

	startTime time.Time
}

// New creates a new metrics collector.
func New() *Collector {
	return &Collector{
		statusCodes: make(map[int]*atomic.Int64),
		startTime:   time.Now(),
	}
}

// RecordCommand records a protocol command written to the socket.
func (c *Collector) RecordCommand() {
	c.commandsTotal.Add(1)
}

// RecordCommandTimeout records a command that got no reply in time.
func (c *Collector) RecordCommandTimeout() {
	c.commandTimeouts.Add(1)
}

// RecordProtocolError records an error reply.
func (c *Collector) RecordProtocolError() {
	c.protocolErrors.Add(1)
}

// RecordEvent records an inbound protocol event.
func (c *Collector) RecordEvent() {
	c.eventsReceived.Add(1)
}

// RecordPage records one analyzed page.
func (c *Collector) RecordPage(statusCode int, loadTime time.Duration, bytes int64, failed bool) {
	c.pagesAnalyzed.Add(1)
	if failed {
		c.pageErrors.Add(1)
	}
	c.bytesTotal.Add(bytes)

	ms := loadTime.Milliseconds()
	c.loadTimeSum.Add(ms)
	c.loadTimeNum.Add(1)
	c.loadTimeBuckets[bucketFor(ms)].Add(1)

	c.statusMu.Lock()
	if c.statusCodes[statusCode] == nil {
		c.statusCodes[statusCode] = &atomic.Int64{}
	}
	c.statusCodes[statusCode].Add(1)
	c.statusMu.Unlock()
}

func bucketFor(ms int64) int {
	for i, bound := range loadTimeBounds {
		if ms < bound {
			return i
		}
	}
	return len(loadTimeBounds)
}

// SetQueueDepth sets the current frontier size.
func (c *Collector) SetQueueDepth(depth int64) {
	c.queueDepth.Store(depth)
}

// AverageLoadTime returns the mean page load time.
func (c *Collector) AverageLoadTime() time.Duration {
	num := c.loadTimeNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(c.loadTimeSum.Load()/num) * time.Millisecond
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:       time.Now(),
		Uptime:          time.Since(c.startTime),
		CommandsTotal:   c.commandsTotal.Load(),
		CommandTimeouts: c.commandTimeouts.Load(),
		ProtocolErrors:  c.protocolErrors.Load(),
		EventsReceived:  c.eventsReceived.Load(),
		PagesAnalyzed:   c.pagesAnalyzed.Load(),
		PageErrors:      c.pageErrors.Load(),
		BytesTotal:      c.bytesTotal.Load(),
		QueueDepth:      c.queueDepth.Load(),
		AverageLoadTime: c.AverageLoadTime(),
		StatusCodes:     make(map[int]int64),
		LoadTimeHist:    make([]int64, len(c.loadTimeBuckets)),
	}

	c.statusMu.RLock()
	for k, v := range c.statusCodes {
		s.StatusCodes[k] = v.Load()
	}
	c.statusMu.RUnlock()

	for i := range c.loadTimeBuckets {
		s.LoadTimeHist[i] = c.loadTimeBuckets[i].Load()
	}

	return s
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp       time.Time     `json:"timestamp"`
	Uptime          time.Duration `json:"uptime"`
	CommandsTotal   int64         `json:"commands_total"`
	CommandTimeouts int64         `json:"command_timeouts"`
	ProtocolErrors  int64         `json:"protocol_errors"`
	EventsReceived  int64         `json:"events_received"`
	PagesAnalyzed   int64         `json:"pages_analyzed"`
	PageErrors      int64         `json:"page_errors"`
	BytesTotal      int64         `json:"bytes_total"`
	QueueDepth      int64         `json:"queue_depth"`
	AverageLoadTime time.Duration `json:"average_load_time"`
	StatusCodes     map[int]int64 `json:"status_codes"`
	LoadTimeHist    []int64       `json:"load_time_histogram"`
}

// PageErrorRate returns the share of analyzed pages that failed.
func (s *Snapshot) PageErrorRate() float64 {
	if s.PagesAnalyzed == 0 {
		return 0
	}
	return float64(s.PageErrors) / float64(s.PagesAnalyzed)
}

// Summary returns a flat map suitable for logging.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":           s.Uptime.String(),
		"commands_total":   s.CommandsTotal,
		"command_timeouts": s.CommandTimeouts,
		"protocol_errors":  s.ProtocolErrors,
		"events_received":  s.EventsReceived,
		"pages_analyzed":   s.PagesAnalyzed,
		"page_error_rate":  s.PageErrorRate(),
		"avg_load_time_ms": s.AverageLoadTime.Milliseconds(),
		"queue_depth":      s.QueueDepth,
	}
}
