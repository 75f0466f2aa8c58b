package spider

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/spiderdive/internal/browser"
	"github.com/PentesterFlow/spiderdive/internal/cdp"
	"github.com/PentesterFlow/spiderdive/internal/logger"
	"github.com/PentesterFlow/spiderdive/internal/state"
)

// Config holds all engine configuration.
type Config struct {
	// Browser process and protocol settings
	Browser BrowserConfig `json:"browser" yaml:"browser"`

	// Defaults applied to dives started from the CLI
	Dive DiveOptions `json:"dive" yaml:"dive"`

	// Site map cache
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Logging
	Log LogConfig `json:"log" yaml:"log"`
}

// BrowserConfig controls the browser process and the protocol client.
type BrowserConfig struct {
	ExecPath       string        `json:"exec_path,omitempty" yaml:"exec_path,omitempty"`
	Headless       bool          `json:"headless" yaml:"headless"`
	ExtraFlags     []string      `json:"extra_flags,omitempty" yaml:"extra_flags,omitempty"`
	UserAgent      string        `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	ViewportWidth  int           `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int           `json:"viewport_height" yaml:"viewport_height"`
	LaunchTimeout  time.Duration `json:"launch_timeout" yaml:"launch_timeout"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	CommandTimeout time.Duration `json:"command_timeout" yaml:"command_timeout"`
	ReadyTimeout   time.Duration `json:"ready_timeout" yaml:"ready_timeout"`
	IdleDebounce   time.Duration `json:"idle_debounce" yaml:"idle_debounce"`
	IdleTimeout    time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	MaxConnections int           `json:"max_connections" yaml:"max_connections"` // open requests tolerated by the idle wait
}

// CacheConfig locates the site map cache.
type CacheConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Path    string        `json:"path" yaml:"path"`
	TTL     time.Duration `json:"ttl" yaml:"ttl"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	visit := browser.DefaultVisitOptions()
	return &Config{
		Browser: BrowserConfig{
			Headless:       true,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			LaunchTimeout:  cdp.DefaultLaunchTimeout,
			ConnectTimeout: cdp.DefaultConnectTimeout,
			CommandTimeout: cdp.DefaultCommandTimeout,
			ReadyTimeout:   visit.ReadyTimeout,
			IdleDebounce:   visit.Idle.Debounce,
			IdleTimeout:    visit.Idle.Timeout,
		},
		Dive: DefaultDiveOptions(),
		Cache: CacheConfig{
			Path: "spiderdive-cache.db",
			TTL:  state.DefaultCacheTTL,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// LaunchConfig converts the browser section for the transport.
func (b BrowserConfig) LaunchConfig() cdp.LaunchConfig {
	cfg := cdp.DefaultLaunchConfig()
	cfg.ExecPath = b.ExecPath
	cfg.Headless = b.Headless
	cfg.UserAgent = b.UserAgent
	cfg.ExtraFlags = b.ExtraFlags
	if b.ViewportWidth > 0 && b.ViewportHeight > 0 {
		cfg.WindowWidth = b.ViewportWidth
		cfg.WindowHeight = b.ViewportHeight
	}
	if b.LaunchTimeout > 0 {
		cfg.LaunchTimeout = b.LaunchTimeout
	}
	return cfg
}

// VisitOptions converts the wait settings for the page facade.
func (b BrowserConfig) VisitOptions() browser.VisitOptions {
	opts := browser.DefaultVisitOptions()
	if b.ReadyTimeout > 0 {
		opts.ReadyTimeout = b.ReadyTimeout
	}
	if b.IdleDebounce > 0 {
		opts.Idle.Debounce = b.IdleDebounce
	}
	if b.IdleTimeout > 0 {
		opts.Idle.Timeout = b.IdleTimeout
	}
	opts.Idle.MaxInflight = b.MaxConnections
	return opts
}

// NewLogger builds a logger from the log section.
func (l LogConfig) NewLogger() (*logger.Logger, error) {
	level := logger.InfoLevel
	if l.Level != "" {
		parsed, err := logger.ParseLevel(l.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", l.Level, err)
		}
		level = parsed
	}
	return logger.New(logger.Config{
		Level:     level,
		Pretty:    l.Pretty,
		Component: "spider",
	}), nil
}

// LoadFromFile loads configuration from a file (YAML or JSON).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// SaveToFile writes the configuration as JSON for .json paths and YAML
// otherwise.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
		return fmt.Errorf("viewport must not be negative")
	}
	if c.Browser.MaxConnections < 0 {
		return fmt.Errorf("max connections must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"launch timeout":  c.Browser.LaunchTimeout,
		"connect timeout": c.Browser.ConnectTimeout,
		"command timeout": c.Browser.CommandTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.Cache.Enabled && c.Cache.Path == "" {
		return fmt.Errorf("cache path is required when the cache is enabled")
	}
	if c.Log.Level != "" {
		if _, err := logger.ParseLevel(c.Log.Level); err != nil {
			return fmt.Errorf("invalid log level %q", c.Log.Level)
		}
	}
	return nil
}
