// Package browser is the command facade over a single page target: it turns
// typed protocol calls into navigation, evaluation, capture and input.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/PentesterFlow/spiderdive/internal/cdp"
	sderrors "github.com/PentesterFlow/spiderdive/internal/errors"
	"github.com/PentesterFlow/spiderdive/internal/logger"
)

// ErrElementNotFound is returned when a selector matches nothing.
var ErrElementNotFound = errors.New("element not found")

// VisitOptions tunes how long a visit waits for the page to settle.
type VisitOptions struct {
	ReadyTimeout time.Duration // upper bound on document.readyState polling
	ReadyPoll    time.Duration
	Idle         IdleOptions
}

// DefaultVisitOptions returns generous waits suited to real sites.
func DefaultVisitOptions() VisitOptions {
	return VisitOptions{
		ReadyTimeout: 30 * time.Second,
		ReadyPoll:    100 * time.Millisecond,
		Idle:         DefaultIdleOptions(),
	}
}

// ScreenshotOptions selects the capture mode.
type ScreenshotOptions struct {
	FullPage bool
	Format   string // "png" (default) or "jpeg"
	Quality  int    // jpeg only
}

// Rect is an element's content box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the rect.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Visit is what the facade observed while loading one URL.
type Visit struct {
	URL           string
	FrameID       string
	Response      *ResponseInfo // nil when no document response was seen
	LoadTime      time.Duration
	ReadyTimedOut bool
	IdleSettled   bool
}

// Page issues commands against one page target. It holds no state beyond
// the shared client.
type Page struct {
	client *cdp.Client
	log    *logger.Logger
	opts   VisitOptions
}

// NewPage wraps client.
func NewPage(client *cdp.Client, log *logger.Logger, opts VisitOptions) *Page {
	if log == nil {
		log = logger.Nop()
	}
	return &Page{
		client: client,
		log:    log.WithComponent("browser"),
		opts:   opts,
	}
}

// Client returns the underlying protocol client.
func (p *Page) Client() *cdp.Client {
	return p.client
}

// Enable turns on the domains the facade relies on.
func (p *Page) Enable(ctx context.Context) error {
	for _, req := range []proto.Request{
		proto.PageEnable{},
		proto.NetworkEnable{},
		proto.RuntimeEnable{},
		proto.DOMEnable{},
	} {
		if err := p.client.Do(ctx, req, nil); err != nil {
			return fmt.Errorf("enable %s: %w", req.ProtoReq(), err)
		}
	}
	return nil
}

// Navigate starts loading url and returns once the browser accepted it.
func (p *Page) Navigate(ctx context.Context, url string) (*proto.PageNavigateResult, error) {
	var res proto.PageNavigateResult
	if err := p.client.Do(ctx, proto.PageNavigate{URL: url}, &res); err != nil {
		return nil, err
	}
	if res.ErrorText != "" {
		return &res, sderrors.NewProtocolError("Page.navigate", 0, res.ErrorText)
	}
	return &res, nil
}

// Visit navigates to url and waits for DOM readiness and network idle. The
// document response is captured from network events.
func (p *Page) Visit(ctx context.Context, url string) (*Visit, error) {
	start := time.Now()

	watcher := WatchNetwork(p.client)
	defer watcher.Stop()
	tracker := TrackResponses(p.client)
	defer tracker.Stop()

	nav, err := p.Navigate(ctx, url)
	if err != nil {
		return nil, err
	}

	visit := &Visit{URL: url, FrameID: string(nav.FrameID)}

	readyTimedOut, settled, err := p.WaitReady(ctx, watcher)
	if err != nil {
		return nil, err
	}
	visit.ReadyTimedOut = readyTimedOut
	visit.IdleSettled = settled
	visit.Response = tracker.Document(visit.FrameID)
	visit.LoadTime = time.Since(start)

	if readyTimedOut {
		p.log.WithURL(url).Warnf("Document not ready after %s, analyzing anyway", p.opts.ReadyTimeout)
	}
	return visit, nil
}

// WaitReady polls document.readyState until the DOM is interactive, then
// waits on watcher for network idle. Neither wait fails on its own fallback;
// the booleans report whether each one finished naturally.
func (p *Page) WaitReady(ctx context.Context, watcher *NetworkWatcher) (readyTimedOut, idleSettled bool, err error) {
	deadline := time.Now().Add(p.opts.ReadyTimeout)
	ticker := time.NewTicker(p.opts.ReadyPoll)
	defer ticker.Stop()

	for {
		var state string
		evalErr := p.EvaluateInto(ctx, "document.readyState", &state)
		switch {
		case evalErr == nil && (state == "interactive" || state == "complete"):
		case evalErr != nil && !errors.Is(evalErr, sderrors.ErrProtocol):
			// Protocol errors are expected while the old context is torn down.
			return false, false, evalErr
		case time.Now().After(deadline):
			readyTimedOut = true
		default:
			select {
			case <-ctx.Done():
				return false, false, sderrors.NewCancelledError("wait_ready", ctx.Err())
			case <-ticker.C:
			}
			continue
		}
		break
	}

	if watcher == nil {
		return readyTimedOut, false, nil
	}
	settled, err := watcher.WaitIdle(ctx, p.opts.Idle)
	if err != nil {
		return readyTimedOut, false, sderrors.NewCancelledError("wait_idle", err)
	}
	return readyTimedOut, settled, nil
}

// WaitNetworkIdle waits until at most maxInflight requests remain for a
// debounce window, or the fallback expires.
func (p *Page) WaitNetworkIdle(ctx context.Context, opts IdleOptions) (bool, error) {
	watcher := WatchNetwork(p.client)
	defer watcher.Stop()
	return watcher.WaitIdle(ctx, opts)
}

// Evaluate runs expression in the page and returns its value.
func (p *Page) Evaluate(ctx context.Context, expression string) (gson.JSON, error) {
	var res proto.RuntimeEvaluateResult
	err := p.client.Do(ctx, proto.RuntimeEvaluate{
		Expression:    expression,
		ReturnByValue: true,
		AwaitPromise:  true,
	}, &res)
	if err != nil {
		return gson.New(nil), err
	}
	if res.ExceptionDetails != nil {
		return gson.New(nil), sderrors.NewProtocolError("Runtime.evaluate", 0, exceptionText(res.ExceptionDetails))
	}
	if res.Result == nil {
		return gson.New(nil), nil
	}
	return res.Result.Value, nil
}

// EvaluateInto runs expression and decodes its value into v.
func (p *Page) EvaluateInto(ctx context.Context, expression string, v interface{}) error {
	value, err := p.Evaluate(ctx, expression)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode evaluation result: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode evaluation result: %w", err)
	}
	return nil
}

func exceptionText(details *proto.RuntimeExceptionDetails) string {
	if details.Exception != nil && details.Exception.Description != "" {
		return details.Exception.Description
	}
	return details.Text
}

// OuterHTML returns the serialized document.
func (p *Page) OuterHTML(ctx context.Context) (string, error) {
	var doc proto.DOMGetDocumentResult
	if err := p.client.Do(ctx, proto.DOMGetDocument{}, &doc); err != nil {
		return "", err
	}
	if doc.Root == nil {
		return "", ErrElementNotFound
	}

	var res proto.DOMGetOuterHTMLResult
	if err := p.client.Do(ctx, proto.DOMGetOuterHTML{NodeID: doc.Root.NodeID}, &res); err != nil {
		return "", err
	}
	return res.OuterHTML, nil
}

// Screenshot captures the viewport, or the whole document when FullPage is set.
func (p *Page) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	if opts.FullPage {
		var layout proto.PageGetLayoutMetricsResult
		if err := p.client.Do(ctx, proto.PageGetLayoutMetrics{}, &layout); err != nil {
			return nil, err
		}
		size := layout.CSSContentSize
		if size == nil {
			size = layout.ContentSize
		}
		if size == nil {
			return nil, errors.New("layout metrics missing content size")
		}

		err := p.client.Do(ctx, proto.EmulationSetDeviceMetricsOverride{
			Width:             int(math.Ceil(size.Width)),
			Height:            int(math.Ceil(size.Height)),
			DeviceScaleFactor: 1,
			Mobile:            false,
		}, nil)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := p.client.Do(context.WithoutCancel(ctx), proto.EmulationClearDeviceMetricsOverride{}, nil); err != nil {
				p.log.WithError(err).Warn("Failed to clear device metrics override")
			}
		}()
	}

	req := proto.PageCaptureScreenshot{
		Format:                proto.PageCaptureScreenshotFormatPng,
		CaptureBeyondViewport: opts.FullPage,
	}
	if strings.EqualFold(opts.Format, "jpeg") || strings.EqualFold(opts.Format, "jpg") {
		req.Format = proto.PageCaptureScreenshotFormatJpeg
		if opts.Quality > 0 {
			quality := opts.Quality
			req.Quality = &quality
		}
	}

	var res proto.PageCaptureScreenshotResult
	if err := p.client.Do(ctx, req, &res); err != nil {
		return nil, err
	}
	return res.Data, nil
}

// ElementBounds returns the content box of the first element matching selector.
func (p *Page) ElementBounds(ctx context.Context, selector string) (*Rect, error) {
	var doc proto.DOMGetDocumentResult
	if err := p.client.Do(ctx, proto.DOMGetDocument{}, &doc); err != nil {
		return nil, err
	}
	if doc.Root == nil {
		return nil, ErrElementNotFound
	}

	var found proto.DOMQuerySelectorResult
	if err := p.client.Do(ctx, proto.DOMQuerySelector{NodeID: doc.Root.NodeID, Selector: selector}, &found); err != nil {
		return nil, err
	}
	if found.NodeID == 0 {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}

	var box proto.DOMGetBoxModelResult
	if err := p.client.Do(ctx, proto.DOMGetBoxModel{NodeID: found.NodeID}, &box); err != nil {
		return nil, err
	}
	if box.Model == nil {
		return nil, fmt.Errorf("%w: %s has no box", ErrElementNotFound, selector)
	}
	return quadRect(box.Model.Content), nil
}

func quadRect(q proto.DOMQuad) *Rect {
	if len(q) < 8 {
		return &Rect{}
	}
	minX, maxX := q[0], q[0]
	minY, maxY := q[1], q[1]
	for i := 2; i+1 < len(q); i += 2 {
		minX = math.Min(minX, q[i])
		maxX = math.Max(maxX, q[i])
		minY = math.Min(minY, q[i+1])
		maxY = math.Max(maxY, q[i+1])
	}
	return &Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Click moves to the center of selector's box and clicks it once.
func (p *Page) Click(ctx context.Context, selector string) error {
	rect, err := p.ElementBounds(ctx, selector)
	if err != nil {
		return err
	}
	x, y := rect.Center()

	for _, ev := range []proto.InputDispatchMouseEvent{
		{Type: proto.InputDispatchMouseEventTypeMouseMoved, X: x, Y: y},
		{Type: proto.InputDispatchMouseEventTypeMousePressed, X: x, Y: y, Button: proto.InputMouseButtonLeft, ClickCount: 1},
		{Type: proto.InputDispatchMouseEventTypeMouseReleased, X: x, Y: y, Button: proto.InputMouseButtonLeft, ClickCount: 1},
	} {
		if err := p.client.Do(ctx, ev, nil); err != nil {
			return err
		}
	}
	return nil
}

// TypeText sends text to the focused element one character at a time.
func (p *Page) TypeText(ctx context.Context, text string) error {
	for _, r := range text {
		err := p.client.Do(ctx, proto.InputDispatchKeyEvent{
			Type: proto.InputDispatchKeyEventTypeChar,
			Text: string(r),
		}, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

// SetUserAgent overrides the user agent for subsequent requests.
func (p *Page) SetUserAgent(ctx context.Context, userAgent string) error {
	return p.client.Do(ctx, proto.NetworkSetUserAgentOverride{UserAgent: userAgent}, nil)
}
