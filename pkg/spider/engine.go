// Package spider drives a browser over its debugging protocol to scrape
// single pages and to map whole sites breadth first.
package spider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PentesterFlow/spiderdive/internal/browser"
	"github.com/PentesterFlow/spiderdive/internal/logger"
	"github.com/PentesterFlow/spiderdive/internal/metrics"
	"github.com/PentesterFlow/spiderdive/internal/output"
	"github.com/PentesterFlow/spiderdive/internal/scope"
	"github.com/PentesterFlow/spiderdive/internal/state"
)

var (
	// ErrEngineBusy is returned when a navigation is already running on the engine.
	ErrEngineBusy = errors.New("engine is busy")

	// ErrNotInitialized is returned before Initialize succeeds or after Cleanup.
	ErrNotInitialized = errors.New("engine is not initialized")
)

// Engine owns one browser and serializes every navigation on its page.
type Engine struct {
	config     *Config
	log        *logger.Logger
	metrics    *metrics.Collector
	factory    DriverFactory
	cache      state.Cache
	pageWriter output.Writer

	// nav serializes Dive, Scrape and Screenshot.
	nav sync.Mutex

	mu     sync.RWMutex
	driver Driver
	dive   *diveState
	// agent is the user agent currently applied to the page.
	agent string
}

// New creates an engine with the given options. The browser is not started
// until Initialize.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		config:  DefaultConfig(),
		factory: LaunchDriver,
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := e.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if e.log == nil {
		l, err := e.config.Log.NewLogger()
		if err != nil {
			return nil, err
		}
		e.log = l
	}
	e.log = e.log.WithComponent("spider")

	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config {
	return e.config
}

// Metrics returns the engine's collector.
func (e *Engine) Metrics() *metrics.Collector {
	return e.metrics
}

// Initialize starts the browser. Calling it on a running engine is a no-op.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.driver != nil {
		return nil
	}

	start := time.Now()
	d, err := e.factory(ctx, e.config.Browser, e.log, e.metrics)
	if err != nil {
		return fmt.Errorf("initialize browser: %w", err)
	}
	e.driver = d
	e.agent = e.config.Browser.UserAgent
	e.log.WithDuration(time.Since(start)).Info("Browser ready")
	return nil
}

// Cleanup stops the browser. It is safe to call more than once.
func (e *Engine) Cleanup() error {
	e.mu.Lock()
	d := e.driver
	e.driver = nil
	e.mu.Unlock()

	if d == nil {
		return nil
	}
	if err := d.Close(); err != nil {
		e.log.WithError(err).Warn("Browser cleanup incomplete")
		return err
	}
	e.log.Debug("Browser stopped")
	return nil
}

// HealthCheck round-trips a trivial evaluation through the browser.
func (e *Engine) HealthCheck(ctx context.Context) bool {
	d, err := e.currentDriver()
	if err != nil {
		return false
	}
	var n int
	if err := d.EvaluateInto(ctx, healthScript, &n); err != nil {
		e.log.WithError(err).Debug("Health check failed")
		return false
	}
	return n == 2
}

func (e *Engine) currentDriver() (Driver, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.driver == nil {
		return nil, ErrNotInitialized
	}
	return e.driver, nil
}

// Scrape analyzes one page. Links are classified against the page's own
// origin with the default rules. A failed analysis still returns the record.
func (e *Engine) Scrape(ctx context.Context, rawURL string) (*PageRecord, error) {
	if !e.nav.TryLock() {
		return nil, ErrEngineBusy
	}
	defer e.nav.Unlock()

	d, err := e.currentDriver()
	if err != nil {
		return nil, err
	}

	target, err := scope.NormalizeURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	policy, err := scope.NewPolicy(target, DefaultDiveOptions().rules())
	if err != nil {
		return nil, err
	}
	e.useAgent(ctx, d, e.config.Browser.UserAgent)

	rec, err := e.analyze(ctx, d, policy, target, 0, false)
	e.recordPage(&rec)
	return &rec, err
}

// Screenshot loads rawURL and captures it as PNG.
func (e *Engine) Screenshot(ctx context.Context, rawURL string, fullPage bool) ([]byte, error) {
	if !e.nav.TryLock() {
		return nil, ErrEngineBusy
	}
	defer e.nav.Unlock()

	d, err := e.currentDriver()
	if err != nil {
		return nil, err
	}
	e.useAgent(ctx, d, e.config.Browser.UserAgent)
	if _, err := d.Visit(ctx, rawURL); err != nil {
		return nil, fmt.Errorf("load %s: %w", rawURL, err)
	}
	return d.Screenshot(ctx, browser.ScreenshotOptions{FullPage: fullPage})
}

// DiveProgress reports the running or most recent dive.
func (e *Engine) DiveProgress() DiveProgress {
	ds := e.currentDive()
	if ds == nil {
		return DiveProgress{Phase: PhaseIdle}
	}
	return ds.progress()
}

// DiveInfo describes the running or most recent dive.
func (e *Engine) DiveInfo() DiveInfo {
	ds := e.currentDive()
	if ds == nil {
		return DiveInfo{}
	}
	return ds.info()
}

// useAgent applies agent to the page unless it is already in effect. An
// empty agent clears the override. Failures are logged and leave the
// previous agent recorded, so the next job retries.
func (e *Engine) useAgent(ctx context.Context, d Driver, agent string) {
	e.mu.RLock()
	current := e.agent
	e.mu.RUnlock()
	if agent == current {
		return
	}

	if err := d.SetUserAgent(ctx, agent); err != nil {
		e.log.WithError(err).Warn("Failed to set user agent")
		return
	}
	e.mu.Lock()
	e.agent = agent
	e.mu.Unlock()
}

func (e *Engine) currentDive() *diveState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dive
}

func (e *Engine) recordPage(rec *PageRecord) {
	loadTime := time.Duration(rec.LoadTimeMs) * time.Millisecond
	e.metrics.RecordPage(rec.StatusCode, loadTime, rec.ByteSize, rec.Failed())

	var err error
	if rec.Failed() {
		err = errors.New(rec.Error)
	}
	e.log.PageEvent(rec.URL, rec.Depth, rec.StatusCode, loadTime, err)
}
