package spider

import (
	"fmt"

	"github.com/PentesterFlow/spiderdive/internal/logger"
	"github.com/PentesterFlow/spiderdive/internal/metrics"
	"github.com/PentesterFlow/spiderdive/internal/output"
	"github.com/PentesterFlow/spiderdive/internal/state"
)

// Option is a functional option for configuring the Engine.
type Option func(*Engine) error

// WithConfig replaces the whole configuration.
func WithConfig(cfg *Config) Option {
	return func(e *Engine) error {
		if cfg == nil {
			return fmt.Errorf("config is nil")
		}
		e.config = cfg
		return nil
	}
}

// WithBrowserConfig replaces the browser section.
func WithBrowserConfig(cfg BrowserConfig) Option {
	return func(e *Engine) error {
		e.config.Browser = cfg
		return nil
	}
}

// WithHeadless toggles headless mode.
func WithHeadless(headless bool) Option {
	return func(e *Engine) error {
		e.config.Browser.Headless = headless
		return nil
	}
}

// WithExecPath pins the browser executable.
func WithExecPath(path string) Option {
	return func(e *Engine) error {
		e.config.Browser.ExecPath = path
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) error {
		e.log = l
		return nil
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) error {
		e.metrics = m
		return nil
	}
}

// WithDriverFactory replaces how the engine starts its browser.
func WithDriverFactory(f DriverFactory) Option {
	return func(e *Engine) error {
		if f == nil {
			return fmt.Errorf("driver factory is nil")
		}
		e.factory = f
		return nil
	}
}

// WithCache serves fresh cached site maps and stores completed dives.
func WithCache(c state.Cache) Option {
	return func(e *Engine) error {
		e.cache = c
		return nil
	}
}

// WithPageWriter streams each page record to w as it is produced.
func WithPageWriter(w output.Writer) Option {
	return func(e *Engine) error {
		e.pageWriter = w
		return nil
	}
}
