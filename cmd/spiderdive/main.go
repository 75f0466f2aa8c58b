package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/PentesterFlow/spiderdive/internal/logger"
	"github.com/PentesterFlow/spiderdive/internal/output"
	"github.com/PentesterFlow/spiderdive/internal/progress"
	"github.com/PentesterFlow/spiderdive/internal/shutdown"
	"github.com/PentesterFlow/spiderdive/internal/state"
	"github.com/PentesterFlow/spiderdive/pkg/spider"
)

var (
	version = "0.1.0"

	// Global flags
	configFile string
	verbose    bool
	debug      bool
	execPath   string
	headed     bool

	// Dive flags
	maxDepth        int
	maxPages        int
	delayMs         int
	followExternal  bool
	includeAssets   bool
	respectRobots   bool
	noContainment   bool
	defaultExcludes bool
	userAgent       string
	includePatterns []string
	excludePatterns []string
	format          string
	outputFile      string
	pretty          bool
	stream          bool
	useCache        bool
	cachePath       string
	refresh         bool
	showProgress    bool

	// Scrape flags
	screenshotFile string
	fullPage       bool

	// Cache flags
	clearAll bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "spiderdive",
		Short: "SpiderDive - browser-driven site mapper",
		Long: `SpiderDive drives a headless Chromium over its remote debugging protocol.

It scrapes single pages and dives whole sites breadth first, producing a
site map with link statistics and a report grouped by depth and title.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	diveCmd := &cobra.Command{
		Use:   "dive [url]",
		Short: "Map a site breadth first",
		Args:  cobra.ExactArgs(1),
		RunE:  runDive,
	}

	scrapeCmd := &cobra.Command{
		Use:   "scrape [url]",
		Short: "Analyze a single page",
		Args:  cobra.ExactArgs(1),
		RunE:  runScrape,
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Start a browser and round-trip one evaluation",
		RunE:  runHealth,
	}

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the site map cache",
	}
	cacheListCmd := &cobra.Command{
		Use:   "list",
		Short: "List cached site maps",
		RunE:  runCacheList,
	}
	cacheClearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove expired site maps, or all with --all",
		RunE:  runCacheClear,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug logging")
	rootCmd.PersistentFlags().StringVar(&execPath, "browser", "", "Browser executable (default: auto-detect)")
	rootCmd.PersistentFlags().BoolVar(&headed, "headed", false, "Show the browser window")
	rootCmd.PersistentFlags().StringVar(&cachePath, "cache-path", "", "Cache database path")

	// Dive flags
	diveCmd.Flags().IntVarP(&maxDepth, "max-depth", "d", spider.DefaultMaxDepth, "Maximum link depth (0-10)")
	diveCmd.Flags().IntVarP(&maxPages, "max-pages", "m", spider.DefaultMaxPages, "Maximum pages (1-1000)")
	diveCmd.Flags().IntVar(&delayMs, "delay", spider.DefaultDelayMs, "Delay between pages in milliseconds (min 100)")
	diveCmd.Flags().BoolVar(&followExternal, "follow-external", false, "Follow links to other hosts")
	diveCmd.Flags().BoolVar(&includeAssets, "include-assets", false, "Collect and follow img, link and script URLs")
	diveCmd.Flags().BoolVar(&respectRobots, "respect-robots", false, "Mark the dive as robots.txt-respecting (recorded, not enforced)")
	diveCmd.Flags().BoolVar(&defaultExcludes, "default-excludes", false, "Skip logout, account deletion and download links")
	diveCmd.Flags().BoolVar(&noContainment, "no-containment", false, "Treat every same-host link as internal")
	diveCmd.Flags().StringVar(&userAgent, "user-agent", "", "User agent override")
	diveCmd.Flags().StringArrayVar(&includePatterns, "include", nil, "URL patterns to include (regex)")
	diveCmd.Flags().StringArrayVar(&excludePatterns, "exclude", nil, "URL patterns to exclude (regex)")
	diveCmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (json, text, markdown)")
	diveCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	diveCmd.Flags().BoolVar(&pretty, "pretty", true, "Indent JSON output")
	diveCmd.Flags().BoolVar(&stream, "stream", false, "Stream pages as JSON lines while diving")
	diveCmd.Flags().BoolVar(&useCache, "cache", false, "Reuse a fresh cached site map and store new ones")
	diveCmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore the cached entry for this URL")
	diveCmd.Flags().BoolVar(&showProgress, "progress", true, "Show a progress bar")

	// Scrape flags
	scrapeCmd.Flags().StringVar(&screenshotFile, "screenshot", "", "Also save a PNG screenshot to this file")
	scrapeCmd.Flags().BoolVar(&fullPage, "full-page", false, "Capture the whole document, not just the viewport")

	// Cache flags
	cacheClearCmd.Flags().BoolVar(&clearAll, "all", false, "Remove every entry")

	cacheCmd.AddCommand(cacheListCmd, cacheClearCmd)
	rootCmd.AddCommand(diveCmd, scrapeCmd, healthCmd, cacheCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads --config and applies the global flags on top.
func loadConfig() (*spider.Config, error) {
	config := spider.DefaultConfig()
	if configFile != "" {
		fileConfig, err := spider.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = fileConfig
	}

	switch {
	case debug:
		config.Log.Level = "debug"
	case verbose:
		config.Log.Level = "info"
	case configFile == "":
		config.Log.Level = "warn"
	}
	if execPath != "" {
		config.Browser.ExecPath = execPath
	}
	if headed {
		config.Browser.Headless = false
	}
	if cachePath != "" {
		config.Cache.Path = cachePath
	}
	return config, nil
}

// session bundles an engine with the shutdown handler that tears it down.
type session struct {
	engine   *spider.Engine
	log      *logger.Logger
	shutdown *shutdown.Handler
}

func newSession(config *spider.Config, opts ...spider.Option) (*session, error) {
	log, err := config.Log.NewLogger()
	if err != nil {
		return nil, err
	}
	log = log.WithComponent("cli")

	opts = append([]spider.Option{spider.WithConfig(config), spider.WithLogger(log)}, opts...)
	engine, err := spider.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	h := shutdown.New(context.Background(), shutdown.Config{
		OnShutdownStart: func(reason string) {
			if reason != "requested" {
				fmt.Fprintf(os.Stderr, "\nReceived %s, stopping...\n", reason)
			}
		},
		OnShutdownDone: func(elapsed time.Duration, err error) {
			if err != nil {
				log.WithError(err).Warnf("Shutdown finished in %v with errors", elapsed)
			}
		},
	})
	h.Register("engine", func(context.Context) error {
		return engine.Cleanup()
	})

	return &session{engine: engine, log: log, shutdown: h}, nil
}

// start launches the browser behind a spinner.
func (s *session) start() error {
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	sp.Suffix = " Launching browser..."
	sp.Start()
	err := s.engine.Initialize(s.shutdown.Context())
	sp.Stop()
	return err
}

func (s *session) close() {
	if err := s.shutdown.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "Cleanup: %v\n", err)
	}
}

func openOutput() (io.Writer, func() error, error) {
	if outputFile == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(outputFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}

func runDive(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	opts := config.Dive
	opts.StartURL = args[0]
	flags := cmd.Flags()
	if flags.Changed("max-depth") || configFile == "" {
		opts.MaxDepth = maxDepth
	}
	if flags.Changed("max-pages") || configFile == "" {
		opts.MaxPages = maxPages
	}
	if flags.Changed("delay") || configFile == "" {
		opts.DelayMs = delayMs
	}
	if flags.Changed("follow-external") {
		opts.FollowExternalLinks = followExternal
	}
	if flags.Changed("include-assets") {
		opts.IncludeAssets = includeAssets
	}
	if flags.Changed("respect-robots") {
		opts.RespectRobotsTxt = respectRobots
	}
	if flags.Changed("default-excludes") {
		opts.DefaultExcludes = defaultExcludes
	}
	if flags.Changed("no-containment") {
		opts.StayWithinBaseURL = !noContainment
	}
	if userAgent != "" {
		opts.UserAgent = userAgent
	}
	opts.IncludePatterns = append(opts.IncludePatterns, includePatterns...)
	opts.ExcludePatterns = append(opts.ExcludePatterns, excludePatterns...)

	opts, warnings, err := spider.ValidateDiveOptions(opts)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	out, closeOut, err := openOutput()
	if err != nil {
		return err
	}
	defer closeOut()

	// Streamed pages are JSON lines, so they cannot be indented.
	writer, err := output.NewWriter(out, output.Config{Format: format, Pretty: pretty && !stream, Stream: stream})
	if err != nil {
		return err
	}

	var extra []spider.Option
	if stream {
		extra = append(extra, spider.WithPageWriter(writer))
	}
	var cache *state.SiteMapCache
	if useCache || config.Cache.Enabled {
		cache, err = state.NewSiteMapCache(config.Cache.Path, config.Cache.TTL)
		if err != nil {
			return err
		}
		if refresh {
			if err := cache.Delete(opts.StartURL); err != nil {
				return fmt.Errorf("failed to drop cached entry: %w", err)
			}
		}
		extra = append(extra, spider.WithCache(cache))
	}

	s, err := newSession(config, extra...)
	if err != nil {
		if cache != nil {
			cache.Close()
		}
		return err
	}
	if cache != nil {
		s.shutdown.Register("cache", func(context.Context) error { return cache.Close() })
	}
	defer s.close()

	if err := s.start(); err != nil {
		return err
	}

	ctx := s.shutdown.Context()
	enableProgress := showProgress && !stream && !verbose && !debug
	var display *progress.Display
	if enableProgress {
		display = progress.New(os.Stderr)
		display.Start(opts.StartURL, opts.MaxPages)
		pollCtx, stopPoll := context.WithCancel(ctx)
		defer stopPoll()
		go display.Poll(pollCtx, 250*time.Millisecond, func() progress.Snapshot {
			p := s.engine.DiveProgress()
			return progress.Snapshot{Processed: p.Processed, Queued: p.Queued, Visited: p.Visited, Errors: p.Errors}
		})
	}

	sm, diveErr := s.engine.Dive(ctx, opts)
	if display != nil {
		p := s.engine.DiveProgress()
		display.Update(progress.Snapshot{Processed: p.Processed, Queued: p.Queued, Visited: p.Visited, Errors: p.Errors})
		display.Stop()
	}
	if sm == nil {
		return fmt.Errorf("dive failed: %w", diveErr)
	}

	if err := writer.WriteSiteMap(sm); err != nil {
		return fmt.Errorf("failed to write site map: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	if display != nil {
		display.PrintSummary(os.Stderr, sm.TotalPages, sm.MaxDepthSeen, sm.Statistics.AverageLoadTimeMs)
	}
	if verbose || debug {
		s.log.StatsEvent(s.engine.Metrics().Snapshot().Summary())
	}

	if diveErr != nil && ctx.Err() == nil {
		return fmt.Errorf("dive stopped early: %w", diveErr)
	}
	return nil
}

func runScrape(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := newSession(config)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.start(); err != nil {
		return err
	}
	ctx := s.shutdown.Context()

	rec, scrapeErr := s.engine.Scrape(ctx, args[0])
	if rec == nil {
		return scrapeErr
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return err
	}
	if scrapeErr != nil {
		return scrapeErr
	}

	if screenshotFile != "" {
		data, err := s.engine.Screenshot(ctx, rec.URL, fullPage)
		if err != nil {
			return fmt.Errorf("screenshot failed: %w", err)
		}
		if err := os.WriteFile(screenshotFile, data, 0644); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Screenshot saved to %s\n", screenshotFile)
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := newSession(config)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.start(); err != nil {
		return err
	}

	budget := config.Browser.CommandTimeout
	if budget <= 0 {
		budget = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(s.shutdown.Context(), budget)
	defer cancel()
	if !s.engine.HealthCheck(ctx) {
		return fmt.Errorf("browser did not answer the health check")
	}
	fmt.Println("ok")
	return nil
}
