package spider

import (
	"context"
	"errors"
	"fmt"

	"github.com/PentesterFlow/spiderdive/internal/browser"
	"github.com/PentesterFlow/spiderdive/internal/cdp"
	"github.com/PentesterFlow/spiderdive/internal/logger"
	"github.com/PentesterFlow/spiderdive/internal/metrics"
)

// Driver is the page surface the engine works through.
type Driver interface {
	Visit(ctx context.Context, url string) (*browser.Visit, error)
	EvaluateInto(ctx context.Context, expression string, v interface{}) error
	OuterHTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, opts browser.ScreenshotOptions) ([]byte, error)
	SetUserAgent(ctx context.Context, userAgent string) error
	Close() error
}

// DriverFactory starts a browser and returns a driver bound to its page.
type DriverFactory func(ctx context.Context, cfg BrowserConfig, log *logger.Logger, m *metrics.Collector) (Driver, error)

// Page scripts. Each evaluates to a JSON value.
const (
	titleScript = `document.title || ""`

	linksScript = `Array.from(document.querySelectorAll("a[href]")).map(a => ({
		href: a.href,
		text: (a.innerText || a.textContent || "").trim()
	}))`

	assetsScript = `Array.from(document.querySelectorAll("img[src], link[href], script[src]")).map(e => ({
		href: e.src || e.href || "",
		text: ""
	}))`

	metaScript = `(() => {
		const meta = {};
		document.querySelectorAll("meta").forEach(m => {
			const key = m.getAttribute("name") || m.getAttribute("property") || m.getAttribute("http-equiv");
			const value = m.getAttribute("content");
			if (key && value !== null) meta[key] = value;
		});
		return meta;
	})()`

	responseProbeScript = `(() => {
		const nav = performance.getEntriesByType("navigation")[0] || {};
		return {
			status: nav.responseStatus || 0,
			contentType: document.contentType || "",
			size: nav.transferSize || nav.encodedBodySize || document.documentElement.outerHTML.length
		};
	})()`

	healthScript = `1 + 1`
)

// scriptLink is the shape returned by linksScript and assetsScript.
type scriptLink struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// responseProbe is the shape returned by responseProbeScript.
type responseProbe struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// cdpDriver owns one browser process, its socket and its page facade.
type cdpDriver struct {
	*browser.Page
	proc   *cdp.Process
	client *cdp.Client
}

// LaunchDriver starts a browser, connects to its first page target and
// enables the domains the engine relies on.
func LaunchDriver(ctx context.Context, cfg BrowserConfig, log *logger.Logger, m *metrics.Collector) (Driver, error) {
	if log == nil {
		log = logger.Nop()
	}

	proc, err := cdp.Launch(ctx, cfg.LaunchConfig(), log)
	if err != nil {
		return nil, err
	}

	target, err := proc.PageTarget(ctx)
	if err != nil {
		return nil, errors.Join(err, proc.Kill())
	}

	conn, err := cdp.Dial(ctx, target.WebSocketDebuggerURL, cfg.ConnectTimeout)
	if err != nil {
		return nil, errors.Join(err, proc.Kill())
	}

	client := cdp.NewClient(conn,
		cdp.WithCommandTimeout(cfg.CommandTimeout),
		cdp.WithLogger(log),
		cdp.WithMetrics(m),
	)
	d := &cdpDriver{
		Page:   browser.NewPage(client, log, cfg.VisitOptions()),
		proc:   proc,
		client: client,
	}

	if err := d.Enable(ctx); err != nil {
		return nil, errors.Join(err, d.Close())
	}
	if cfg.UserAgent != "" {
		if err := d.SetUserAgent(ctx, cfg.UserAgent); err != nil {
			return nil, errors.Join(fmt.Errorf("set user agent: %w", err), d.Close())
		}
	}
	return d, nil
}

// Close closes the socket, kills the process and removes its profile.
// Every step runs even when an earlier one fails.
func (d *cdpDriver) Close() error {
	var errs []error
	if err := d.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}
	if err := d.proc.Kill(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
