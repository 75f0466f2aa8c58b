// Package shutdown cancels a running dive on SIGINT/SIGTERM and then runs
// cleanup callbacks in reverse registration order.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Callback is a function called during shutdown.
type Callback func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	Timeout         time.Duration
	Signals         []os.Signal
	OnShutdownStart func(reason string)
	OnShutdownDone  func(elapsed time.Duration, err error)
}

// DefaultConfig returns a 30s budget for SIGINT and SIGTERM.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

type namedCallback struct {
	name string
	fn   Callback
}

// Handler manages graceful shutdown.
type Handler struct {
	mu        sync.Mutex
	callbacks []namedCallback

	shuttingDown atomic.Bool
	done         chan struct{}
	err          error
	timeout      time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	sigChan chan os.Signal
	stop    chan struct{}

	onStart func(reason string)
	onDone  func(elapsed time.Duration, err error)
}

// New creates a handler whose Context derives from parent. Signals are
// watched until Shutdown or Stop.
func New(parent context.Context, cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = DefaultConfig().Signals
	}

	ctx, cancel := context.WithCancel(parent)

	h := &Handler{
		done:    make(chan struct{}),
		timeout: cfg.Timeout,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
		stop:    make(chan struct{}),
		onStart: cfg.OnShutdownStart,
		onDone:  cfg.OnShutdownDone,
	}

	signal.Notify(h.sigChan, cfg.Signals...)
	go h.watch()
	return h
}

func (h *Handler) watch() {
	select {
	case sig := <-h.sigChan:
		h.shutdown("signal " + sig.String())
	case <-h.stop:
	}
}

// Register registers a shutdown callback with a name.
func (h *Handler) Register(name string, fn Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = append(h.callbacks, namedCallback{name: name, fn: fn})
}

// RegisterFunc registers a cleanup function that cannot fail.
func (h *Handler) RegisterFunc(name string, fn func()) {
	h.Register(name, func(context.Context) error {
		fn()
		return nil
	})
}

// Context is cancelled as soon as shutdown begins.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// IsShuttingDown returns whether shutdown is in progress.
func (h *Handler) IsShuttingDown() bool {
	return h.shuttingDown.Load()
}

// Done is closed when every callback has returned or timed out.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Err returns the joined callback errors once Done is closed.
func (h *Handler) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Trigger simulates a termination signal.
func (h *Handler) Trigger() {
	select {
	case h.sigChan <- syscall.SIGTERM:
	default:
	}
}

// Stop stops watching signals without running callbacks.
func (h *Handler) Stop() {
	signal.Stop(h.sigChan)
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
}

// Shutdown cancels Context, runs callbacks LIFO and returns their joined
// errors. Later calls wait for the first one and return its result.
func (h *Handler) Shutdown() error {
	h.shutdown("requested")
	<-h.done
	return h.err
}

func (h *Handler) shutdown(reason string) {
	if !h.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	signal.Stop(h.sigChan)

	start := time.Now()
	if h.onStart != nil {
		h.onStart(reason)
	}

	h.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	callbacks := append([]namedCallback(nil), h.callbacks...)
	h.mu.Unlock()

	var errs []error
	for i := len(callbacks) - 1; i >= 0; i-- {
		if err := run(ctx, callbacks[i]); err != nil {
			errs = append(errs, err)
		}
	}
	h.err = errors.Join(errs...)

	if h.onDone != nil {
		h.onDone(time.Since(start), h.err)
	}
	close(h.done)
}

func run(ctx context.Context, cb namedCallback) error {
	result := make(chan error, 1)
	go func() {
		result <- cb.fn(ctx)
	}()

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("%s: %w", cb.name, err)
		}
		return nil
	case <-ctx.Done():
		return &TimeoutError{CallbackName: cb.name}
	}
}

// TimeoutError is returned when a callback times out.
type TimeoutError struct {
	CallbackName string
}

func (e *TimeoutError) Error() string {
	return "shutdown callback timed out: " + e.CallbackName
}
