package browser

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/PentesterFlow/spiderdive/internal/cdp"
)

// IdleOptions configures network idle detection.
type IdleOptions struct {
	MaxInflight int           // requests allowed to stay open
	Debounce    time.Duration // how long the count must stay at or under MaxInflight
	Timeout     time.Duration // hard fallback
}

// DefaultIdleOptions returns a 500ms quiet window with a 10s fallback.
func DefaultIdleOptions() IdleOptions {
	return IdleOptions{
		MaxInflight: 0,
		Debounce:    500 * time.Millisecond,
		Timeout:     10 * time.Second,
	}
}

// NetworkWatcher counts requests that were sent but not yet finished.
type NetworkWatcher struct {
	mu       sync.Mutex
	inflight map[proto.NetworkRequestID]struct{}
	changed  chan struct{}
	unsubs   []func()
}

// WatchNetwork subscribes to request lifecycle events on client.
func WatchNetwork(client *cdp.Client) *NetworkWatcher {
	w := &NetworkWatcher{
		inflight: make(map[proto.NetworkRequestID]struct{}),
		changed:  make(chan struct{}, 1),
	}

	w.unsubs = append(w.unsubs,
		client.On(cdp.EventRequestWillBeSent, func(ev *cdp.Event) {
			var e proto.NetworkRequestWillBeSent
			if ev.Decode(&e) == nil {
				w.track(e.RequestID, true)
			}
		}),
		client.On(cdp.EventLoadingFinished, func(ev *cdp.Event) {
			var e proto.NetworkLoadingFinished
			if ev.Decode(&e) == nil {
				w.track(e.RequestID, false)
			}
		}),
		client.On(cdp.EventLoadingFailed, func(ev *cdp.Event) {
			var e proto.NetworkLoadingFailed
			if ev.Decode(&e) == nil {
				w.track(e.RequestID, false)
			}
		}),
	)
	return w
}

func (w *NetworkWatcher) track(id proto.NetworkRequestID, started bool) {
	w.mu.Lock()
	if started {
		w.inflight[id] = struct{}{}
	} else {
		delete(w.inflight, id)
	}
	w.mu.Unlock()

	select {
	case w.changed <- struct{}{}:
	default:
	}
}

// Inflight returns the number of open requests.
func (w *NetworkWatcher) Inflight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inflight)
}

// Stop unsubscribes from the client.
func (w *NetworkWatcher) Stop() {
	for _, unsub := range w.unsubs {
		unsub()
	}
}

// WaitIdle returns true once the open count stayed at or below MaxInflight
// for a full debounce window, or false when the fallback fired first.
func (w *NetworkWatcher) WaitIdle(ctx context.Context, opts IdleOptions) (bool, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultIdleOptions().Debounce
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultIdleOptions().Timeout
	}

	fallback := time.NewTimer(opts.Timeout)
	defer fallback.Stop()

	quiet := time.NewTimer(opts.Debounce)
	defer quiet.Stop()
	armed := true
	if w.Inflight() > opts.MaxInflight {
		stopTimer(quiet)
		armed = false
	}

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()

		case <-fallback.C:
			return false, nil

		case <-w.changed:
			busy := w.Inflight() > opts.MaxInflight
			switch {
			case busy && armed:
				stopTimer(quiet)
				armed = false
			case !busy && !armed:
				quiet.Reset(opts.Debounce)
				armed = true
			}

		case <-quiet.C:
			armed = false
			if w.Inflight() <= opts.MaxInflight {
				return true, nil
			}
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
