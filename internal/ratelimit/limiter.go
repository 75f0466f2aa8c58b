// Package ratelimit spaces out page navigations during a dive.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MinDelay is the smallest accepted pause between pages.
const MinDelay = 100 * time.Millisecond

// DefaultDelay is the pause used when none is configured.
const DefaultDelay = time.Second

// Limiter enforces a pause between the end of one page and the start of
// the next. The first Wait returns immediately so the seed page is not
// delayed.
type Limiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	delay   time.Duration
	waits   int
	waited  time.Duration
}

// NewLimiter creates a limiter. Delays under MinDelay are raised to it.
func NewLimiter(delay time.Duration) *Limiter {
	delay = clampDelay(delay)
	return &Limiter{
		limiter: rate.NewLimiter(rate.Every(delay), 1),
		delay:   delay,
	}
}

func clampDelay(delay time.Duration) time.Duration {
	if delay <= 0 {
		return DefaultDelay
	}
	if delay < MinDelay {
		return MinDelay
	}
	return delay
}

// Wait blocks until the pause since the last Done has elapsed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.RLock()
	lim := l.limiter
	l.mu.RUnlock()

	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	l.waits++
	l.waited += time.Since(start)
	l.mu.Unlock()
	return nil
}

// Done marks the current page finished. The next Wait returns no earlier
// than one delay from now, however long the page itself took.
func (l *Limiter) Done() {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim := rate.NewLimiter(rate.Every(l.delay), 1)
	// Spend the only token so the bucket refills exactly one delay from now.
	lim.Allow()
	l.limiter = lim
}

// Delay returns the configured pause.
func (l *Limiter) Delay() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.delay
}

// Stats returns rate limiter statistics.
func (l *Limiter) Stats() LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return LimiterStats{
		Delay:       l.delay,
		Waits:       l.waits,
		TotalWaited: l.waited,
	}
}

// LimiterStats contains rate limiter statistics.
type LimiterStats struct {
	Delay       time.Duration `json:"delay"`
	Waits       int           `json:"waits"`
	TotalWaited time.Duration `json:"total_waited"`
}
