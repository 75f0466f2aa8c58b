// Package progress renders a one-line progress bar for a running dive.
package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Snapshot is one reading of dive progress.
type Snapshot struct {
	Processed int
	Queued    int
	Visited   int
	Errors    int
}

// Display draws progress against the page budget of a dive.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	stopped bool

	maxPages  int
	last      Snapshot
	startTime time.Time
	target    string
	lastLine  string
}

// New creates a display writing to out, or stderr when out is nil.
func New(out io.Writer) *Display {
	if out == nil {
		out = os.Stderr
	}
	return &Display{out: out}
}

// Start begins the display for a dive bounded by maxPages.
func (d *Display) Start(target string, maxPages int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}
	d.started = true
	d.startTime = time.Now()
	d.target = target
	d.maxPages = maxPages
}

// Update redraws the line.
func (d *Display) Update(s Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.last = s
	if !d.started || d.stopped {
		return
	}

	percent := Percent(s, d.maxPages)
	elapsed := time.Since(d.startTime)
	speed := 0.0
	if elapsed.Seconds() > 0 {
		speed = float64(s.Processed) / elapsed.Seconds()
	}

	barWidth := 30
	filled := percent * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %3d%% | Pages: %d/%d | Queue: %d | Errors: %d | %.1f p/s | %s",
		bar, percent, s.Processed, d.maxPages, s.Queued, s.Errors, speed, formatDuration(elapsed))

	if len(line) < len(d.lastLine) {
		fmt.Fprint(d.out, "\r"+strings.Repeat(" ", len(d.lastLine)))
	}
	fmt.Fprint(d.out, line)
	d.lastLine = line
}

// Percent estimates completion. A dive ends at maxPages or when the queue
// drains, so an empty queue after some work counts as done.
func Percent(s Snapshot, maxPages int) int {
	if s.Processed > 0 && s.Queued == 0 {
		return 100
	}

	// Whichever bound is closer determines progress.
	total := s.Processed + s.Queued
	if maxPages > 0 && maxPages < total {
		total = maxPages
	}
	if total <= 0 {
		return 0
	}

	p := s.Processed * 100 / total
	if p > 99 {
		p = 99
	}
	return p
}

// Poll calls read every interval and redraws until ctx is done.
func (d *Display) Poll(ctx context.Context, interval time.Duration, read func() Snapshot) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Update(read())
		}
	}
}

// Stop ends the display.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}
	d.stopped = true
	fmt.Fprintln(d.out)
}

// PrintSummary prints a final summary after a dive.
func (d *Display) PrintSummary(w io.Writer, totalPages, maxDepth int, avgLoadMs float64) {
	d.mu.Lock()
	s := d.last
	target := d.target
	duration := time.Since(d.startTime)
	d.mu.Unlock()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                        Dive Complete                         ║")
	fmt.Fprintln(w, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Target:              %s\n", truncateURL(target, 50))
	fmt.Fprintf(w, "  Duration:            %s\n", formatDuration(duration))
	fmt.Fprintf(w, "  Pages:               %d\n", totalPages)
	fmt.Fprintf(w, "  Max Depth:           %d\n", maxDepth)
	fmt.Fprintf(w, "  Errors:              %d\n", s.Errors)
	fmt.Fprintf(w, "  Avg Load Time:       %.0fms\n", avgLoadMs)
	fmt.Fprintln(w)
}

// truncateURL truncates a URL to maxLen characters.
func truncateURL(url string, maxLen int) string {
	if len(url) <= maxLen {
		return url
	}
	return url[:maxLen-3] + "..."
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
