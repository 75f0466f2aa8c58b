package ratelimit

import (
	"context"
	"testing"
	"time"
)

// =============================================================================
// Limiter Tests
// =============================================================================

func TestNewLimiter(t *testing.T) {
	tests := []struct {
		name  string
		delay time.Duration
		want  time.Duration
	}{
		{"default", 0, DefaultDelay},
		{"negative", -time.Second, DefaultDelay},
		{"below minimum", 10 * time.Millisecond, MinDelay},
		{"custom", 250 * time.Millisecond, 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLimiter(tt.delay)
			if l.Delay() != tt.want {
				t.Errorf("Delay() = %v, want %v", l.Delay(), tt.want)
			}
		})
	}
}

func TestLimiter_FirstWaitImmediate(t *testing.T) {
	l := NewLimiter(time.Second)

	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("first Wait() took %v, want immediate", elapsed)
	}
}

func TestLimiter_PauseFollowsDone(t *testing.T) {
	l := NewLimiter(MinDelay)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		// Work that outlasts the delay must not earn the next page a free start.
		time.Sleep(2 * MinDelay)
		l.Done()

		finished := time.Now()
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		if gap := time.Since(finished); gap < MinDelay-10*time.Millisecond {
			t.Errorf("gap after Done() = %v, want at least %v", gap, MinDelay)
		}
		l.Done()
	}

	stats := l.Stats()
	if stats.Waits != 6 || stats.Delay != MinDelay {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.TotalWaited < 3*(MinDelay-10*time.Millisecond) {
		t.Errorf("TotalWaited = %v, want at least three delays", stats.TotalWaited)
	}
}

func TestLimiter_WaitContextCancelled(t *testing.T) {
	l := NewLimiter(time.Hour)
	l.Wait(context.Background())
	l.Done()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Wait(ctx); err == nil {
		t.Error("Wait() with cancelled context should fail")
	}
}
