package progress

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Display Tests
// =============================================================================

func TestPercent(t *testing.T) {
	tests := []struct {
		name     string
		snap     Snapshot
		maxPages int
		want     int
	}{
		{"nothing yet", Snapshot{}, 10, 0},
		{"seed queued", Snapshot{Queued: 1}, 10, 0},
		{"queue drained", Snapshot{Processed: 3}, 10, 100},
		{"queue bound", Snapshot{Processed: 1, Queued: 3}, 10, 25},
		{"page bound", Snapshot{Processed: 5, Queued: 50}, 10, 50},
		{"capped", Snapshot{Processed: 10, Queued: 1}, 10, 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Percent(tt.snap, tt.maxPages); got != tt.want {
				t.Errorf("Percent() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDisplay_Update(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf)

	d.Update(Snapshot{Processed: 1})
	if buf.Len() != 0 {
		t.Error("Update() before Start should not draw")
	}

	d.Start("https://example.com/", 4)
	d.Update(Snapshot{Processed: 2, Queued: 2, Errors: 1})

	out := buf.String()
	if !strings.Contains(out, "Pages: 2/4") || !strings.Contains(out, "Errors: 1") || !strings.Contains(out, " 50%") {
		t.Errorf("Update() drew %q", out)
	}

	d.Stop()
	d.Stop()
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("Stop() should end the line")
	}

	n := buf.Len()
	d.Update(Snapshot{Processed: 3})
	if buf.Len() != n {
		t.Error("Update() after Stop should not draw")
	}
}

func TestDisplay_Poll(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf)
	d.Start("https://example.com/", 10)

	var reads atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	d.Poll(ctx, 10*time.Millisecond, func() Snapshot {
		reads.Add(1)
		return Snapshot{Processed: int(reads.Load()), Queued: 5}
	})

	if reads.Load() < 2 {
		t.Errorf("Poll() read %d times, want several", reads.Load())
	}
}

func TestDisplay_PrintSummary(t *testing.T) {
	d := New(&bytes.Buffer{})
	d.Start("https://example.com/some/really/long/path/that/keeps/going/and/going", 10)
	d.Update(Snapshot{Processed: 4, Errors: 2})

	var out bytes.Buffer
	d.PrintSummary(&out, 4, 2, 123.4)

	for _, want := range []string{"Dive Complete", "Pages:               4", "Errors:              2", "123ms", "..."} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("summary missing %q:\n%s", want, out.String())
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{90 * time.Second, "1m30s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h02m03s"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}
