package spider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/PentesterFlow/spiderdive/internal/browser"
	"github.com/PentesterFlow/spiderdive/internal/logger"
	"github.com/PentesterFlow/spiderdive/internal/metrics"
)

// fakePage is one page of a fakeDriver site.
type fakePage struct {
	title   string
	links   []string
	assets  []string
	meta    map[string]string
	status  int
	noResp  bool // no document response event, forces the probe
	navErr  error
	evalErr error // returned by every script evaluation on this page
	html    string
}

// fakeDriver serves a static site from memory.
type fakeDriver struct {
	mu      sync.Mutex
	pages   map[string]*fakePage
	current *fakePage
	visits  []string
	agent   string
	closed  int

	// Per visit, in order: when it began, when it returned, and the agent in effect.
	starts      []time.Time
	ends        []time.Time
	visitAgents []string

	// onVisit runs before each visit is served.
	onVisit func(url string)
}

func newFakeDriver(pages map[string]*fakePage) *fakeDriver {
	return &fakeDriver{pages: pages}
}

func (f *fakeDriver) Visit(ctx context.Context, url string) (*browser.Visit, error) {
	began := time.Now()
	if f.onVisit != nil {
		f.onVisit(url)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { f.ends = append(f.ends, time.Now()) }()
	f.visits = append(f.visits, url)
	f.starts = append(f.starts, began)
	f.visitAgents = append(f.visitAgents, f.agent)

	page, ok := f.pages[url]
	if !ok {
		page = &fakePage{title: "Not Found", status: 404}
	}
	if page.navErr != nil {
		f.current = nil
		return nil, page.navErr
	}
	f.current = page

	visit := &browser.Visit{URL: url, LoadTime: 5 * time.Millisecond, IdleSettled: true}
	if !page.noResp {
		status := page.status
		if status == 0 {
			status = 200
		}
		visit.Response = &browser.ResponseInfo{
			URL:          url,
			Status:       status,
			MIMEType:     "text/html",
			Headers:      map[string]string{"Content-Type": "text/html"},
			EncodedBytes: 1024,
		}
	}
	return visit, nil
}

func (f *fakeDriver) EvaluateInto(ctx context.Context, expression string, v interface{}) error {
	f.mu.Lock()
	page := f.current
	f.mu.Unlock()

	var value interface{}
	switch expression {
	case healthScript:
		value = 2
	case titleScript:
		value = pageOrEmpty(page).title
	case linksScript:
		value = toScriptLinks(pageOrEmpty(page).links)
	case assetsScript:
		value = toScriptLinks(pageOrEmpty(page).assets)
	case metaScript:
		value = pageOrEmpty(page).meta
	case responseProbeScript:
		value = responseProbe{Status: pageOrEmpty(page).status, ContentType: "text/html", Size: 2048}
	default:
		return fmt.Errorf("unexpected script %q", expression)
	}
	if page != nil && page.evalErr != nil && expression != healthScript {
		return page.evalErr
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func (f *fakeDriver) OuterHTML(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pageOrEmpty(f.current).html, nil
}

func (f *fakeDriver) Screenshot(ctx context.Context, opts browser.ScreenshotOptions) ([]byte, error) {
	if opts.FullPage {
		return []byte("full"), nil
	}
	return []byte("viewport"), nil
}

func (f *fakeDriver) SetUserAgent(ctx context.Context, userAgent string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agent = userAgent
	return nil
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeDriver) Visits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.visits...)
}

func (f *fakeDriver) Agents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.visitAgents...)
}

// Gaps returns the pause between the end of each visit and the start of the next.
func (f *fakeDriver) Gaps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var gaps []time.Duration
	for i := 1; i < len(f.starts); i++ {
		gaps = append(gaps, f.starts[i].Sub(f.ends[i-1]))
	}
	return gaps
}

func pageOrEmpty(p *fakePage) *fakePage {
	if p == nil {
		return &fakePage{}
	}
	return p
}

func toScriptLinks(urls []string) []scriptLink {
	links := make([]scriptLink, 0, len(urls))
	for _, u := range urls {
		links = append(links, scriptLink{Href: u, Text: "link to " + u})
	}
	return links
}

func fakeFactory(d Driver) DriverFactory {
	return func(context.Context, BrowserConfig, *logger.Logger, *metrics.Collector) (Driver, error) {
		return d, nil
	}
}

func newTestEngine(t *testing.T, d Driver, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(logger.Nop()), WithDriverFactory(fakeFactory(d))}, opts...)
	e, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { e.Cleanup() })
	return e
}

func diveOpts(start string, maxDepth, maxPages int) DiveOptions {
	opts := DefaultDiveOptions()
	opts.StartURL = start
	opts.MaxDepth = maxDepth
	opts.MaxPages = maxPages
	opts.DelayMs = MinDelayMs
	return opts
}
