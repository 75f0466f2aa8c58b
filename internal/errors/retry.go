package errors

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retries (0 = no retries)
	InitialDelay   time.Duration // Delay before the first retry
	MaxDelay       time.Duration // Upper bound between retries
	Multiplier     float64       // Exponential backoff factor
	Jitter         float64       // Random jitter factor (0-1)
	RetryableTypes []ErrorType   // Error types that should be retried (nil: ErrorType.IsRetryable)
}

// DefaultRetryConfig suits polling a debugging endpoint that is still warming up.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		RetryableTypes: []ErrorType{
			Network,
			NoTargetAvailable,
		},
	}
}

// Retrier implements retry logic with exponential backoff.
type Retrier struct {
	config RetryConfig
	rng    *rand.Rand
}

// NewRetrier creates a new retrier.
func NewRetrier(config RetryConfig) *Retrier {
	return &Retrier{
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RetryResult holds the result of a retry operation.
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
	Success   bool
}

// Do executes fn until it succeeds, fails permanently or retries run out.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) *RetryResult {
	result := &RetryResult{}
	start := time.Now()
	delay := r.config.InitialDelay

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		result.Attempts++

		err := fn(ctx)
		if err == nil {
			result.Success = true
			result.Duration = time.Since(start)
			return result
		}
		result.LastError = err

		if ctx.Err() != nil {
			result.LastError = NewCancelledError(operation, ctx.Err())
			break
		}
		if attempt >= r.config.MaxRetries || !r.shouldRetry(err) {
			break
		}

		timer := time.NewTimer(r.withJitter(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			result.LastError = NewCancelledError(operation, ctx.Err())
			result.Duration = time.Since(start)
			return result
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * r.config.Multiplier)
		if delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}

	result.Duration = time.Since(start)
	return result
}

// shouldRetry classifies err, so bare network errors count as Network. With
// no RetryableTypes configured each type decides for itself.
func (r *Retrier) shouldRetry(err error) bool {
	errType := Categorize(err, "").Type
	if len(r.config.RetryableTypes) == 0 {
		return errType.IsRetryable()
	}
	for _, t := range r.config.RetryableTypes {
		if errType == t {
			return true
		}
	}
	return false
}

func (r *Retrier) withJitter(base time.Duration) time.Duration {
	if r.config.Jitter <= 0 {
		return base
	}
	jitter := r.config.Jitter * float64(base)
	return time.Duration(float64(base) + r.rng.Float64()*2*jitter - jitter)
}

// DoWithResult executes a function that returns a value and error.
func DoWithResult[T any](ctx context.Context, r *Retrier, operation string, fn func(ctx context.Context) (T, error)) (T, *RetryResult) {
	var result T
	retryResult := r.Do(ctx, operation, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, retryResult
}
