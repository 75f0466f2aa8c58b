package spider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/PentesterFlow/spiderdive/internal/logger"
	"github.com/PentesterFlow/spiderdive/internal/metrics"
)

type poolFixture struct {
	mu      sync.Mutex
	drivers map[string]*fakeDriver
	starts  atomic.Int32
	fail    bool
}

func (f *poolFixture) pool() *EnginePool {
	f.drivers = make(map[string]*fakeDriver)
	return NewEnginePoolFunc(func(name string) (*Engine, error) {
		d := newFakeDriver(nil)
		f.mu.Lock()
		f.drivers[name] = d
		f.mu.Unlock()

		factory := func(context.Context, BrowserConfig, *logger.Logger, *metrics.Collector) (Driver, error) {
			f.starts.Add(1)
			if f.fail {
				return nil, errors.New("no browser")
			}
			return d, nil
		}
		return New(WithLogger(logger.Nop()), WithDriverFactory(factory))
	})
}

func (f *poolFixture) closed(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.drivers[name]
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// =============================================================================
// EnginePool Tests
// =============================================================================

func TestEnginePool_AcquireRelease(t *testing.T) {
	f := &poolFixture{}
	p := f.pool()
	ctx := context.Background()

	a, err := p.Acquire(ctx, "default")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	b, err := p.Acquire(ctx, "default")
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	if a != b {
		t.Error("Acquire() of one name should return one engine")
	}
	if f.starts.Load() != 1 {
		t.Errorf("engine started %d times, want 1", f.starts.Load())
	}
	if !a.HealthCheck(ctx) {
		t.Error("acquired engine should be initialized")
	}

	other, err := p.Acquire(ctx, "isolated")
	if err != nil {
		t.Fatalf("Acquire(isolated) error = %v", err)
	}
	if other == a {
		t.Error("different names should get different engines")
	}
	if p.Len() != 2 {
		t.Errorf("Len() = %d, want 2", p.Len())
	}

	p.Release("default")
	if f.closed("default") != 0 {
		t.Error("engine should stay up while referenced")
	}
	p.Release("default")
	if f.closed("default") != 1 {
		t.Error("engine should be cleaned up after the last release")
	}
	if p.Len() != 1 {
		t.Errorf("Len() = %d, want 1", p.Len())
	}

	if err := p.Release("unknown"); err != nil {
		t.Errorf("Release(unknown) error = %v", err)
	}
}

func TestEnginePool_Concurrent(t *testing.T) {
	f := &poolFixture{}
	p := f.pool()

	var wg sync.WaitGroup
	engines := make([]*Engine, 20)
	for i := range engines {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := p.Acquire(context.Background(), "shared")
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			engines[i] = e
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(engines); i++ {
		if engines[i] != engines[0] {
			t.Fatal("concurrent Acquire() returned different engines")
		}
	}
	if f.starts.Load() != 1 {
		t.Errorf("engine started %d times, want 1", f.starts.Load())
	}
}

func TestEnginePool_InitFailure(t *testing.T) {
	f := &poolFixture{fail: true}
	p := f.pool()

	if _, err := p.Acquire(context.Background(), "broken"); err == nil {
		t.Fatal("Acquire() should surface the start failure")
	}
	if p.Len() != 0 {
		t.Errorf("Len() = %d, failed engines should not stay registered", p.Len())
	}

	f.fail = false
	if _, err := p.Acquire(context.Background(), "broken"); err != nil {
		t.Errorf("Acquire() after recovery error = %v", err)
	}
}

func TestEnginePool_Close(t *testing.T) {
	f := &poolFixture{}
	p := f.pool()

	p.Acquire(context.Background(), "one")
	p.Acquire(context.Background(), "two")

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if f.closed("one") != 1 || f.closed("two") != 1 {
		t.Error("Close() should clean up every engine")
	}
	if _, err := p.Acquire(context.Background(), "one"); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire() after Close() error = %v, want ErrPoolClosed", err)
	}
}
