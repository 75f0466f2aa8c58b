package spider

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("engine pool is closed")

// EnginePool hands out named engines. Each name maps to one engine that is
// created and initialized on first Acquire and cleaned up when its last
// holder releases it.
type EnginePool struct {
	newEngine func(name string) (*Engine, error)

	mu      sync.Mutex
	entries map[string]*poolEntry
	closed  bool
}

type poolEntry struct {
	engine *Engine
	refs   int

	// ready is closed once initialization finished; err holds its outcome.
	ready chan struct{}
	err   error
}

// NewEnginePool creates a pool whose engines are built with opts.
func NewEnginePool(opts ...Option) *EnginePool {
	return NewEnginePoolFunc(func(string) (*Engine, error) {
		return New(opts...)
	})
}

// NewEnginePoolFunc creates a pool that builds engines with newEngine.
func NewEnginePoolFunc(newEngine func(name string) (*Engine, error)) *EnginePool {
	return &EnginePool{
		newEngine: newEngine,
		entries:   make(map[string]*poolEntry),
	}
}

// Acquire returns the engine registered under name, starting it if needed.
// Every successful Acquire must be paired with a Release.
func (p *EnginePool) Acquire(ctx context.Context, name string) (*Engine, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	entry, ok := p.entries[name]
	if ok {
		entry.refs++
		p.mu.Unlock()
		select {
		case <-entry.ready:
		case <-ctx.Done():
			p.release(name, entry)
			return nil, ctx.Err()
		}
		if entry.err != nil {
			p.release(name, entry)
			return nil, entry.err
		}
		return entry.engine, nil
	}

	entry = &poolEntry{refs: 1, ready: make(chan struct{})}
	p.entries[name] = entry
	p.mu.Unlock()

	entry.engine, entry.err = p.start(ctx, name)
	close(entry.ready)

	if entry.err != nil {
		p.mu.Lock()
		if p.entries[name] == entry {
			delete(p.entries, name)
		}
		p.mu.Unlock()
		return nil, entry.err
	}
	return entry.engine, nil
}

func (p *EnginePool) start(ctx context.Context, name string) (*Engine, error) {
	e, err := p.newEngine(name)
	if err != nil {
		return nil, fmt.Errorf("create engine %q: %w", name, err)
	}
	if err := e.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("start engine %q: %w", name, err)
	}
	return e, nil
}

// Release drops one reference to name and cleans the engine up when none
// remain.
func (p *EnginePool) Release(name string) error {
	p.mu.Lock()
	entry := p.entries[name]
	p.mu.Unlock()
	if entry == nil {
		return nil
	}
	return p.release(name, entry)
}

// release drops a reference to entry if it is still the one under name.
func (p *EnginePool) release(name string, entry *poolEntry) error {
	p.mu.Lock()
	if p.entries[name] != entry {
		p.mu.Unlock()
		return nil
	}
	entry.refs--
	if entry.refs > 0 {
		p.mu.Unlock()
		return nil
	}
	delete(p.entries, name)
	p.mu.Unlock()

	<-entry.ready
	if entry.engine == nil {
		return nil
	}
	return entry.engine.Cleanup()
}

// Len returns the number of registered engines.
func (p *EnginePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close cleans up every engine regardless of outstanding references.
func (p *EnginePool) Close() error {
	p.mu.Lock()
	p.closed = true
	entries := p.entries
	p.entries = make(map[string]*poolEntry)
	p.mu.Unlock()

	var errs []error
	for name, entry := range entries {
		<-entry.ready
		if entry.engine == nil {
			continue
		}
		if err := entry.engine.Cleanup(); err != nil {
			errs = append(errs, fmt.Errorf("engine %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
