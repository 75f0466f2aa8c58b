package spider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PentesterFlow/spiderdive/internal/browser"
	sderrors "github.com/PentesterFlow/spiderdive/internal/errors"
	"github.com/PentesterFlow/spiderdive/internal/parser"
	"github.com/PentesterFlow/spiderdive/internal/scope"
)

// Analysis stages, recorded as the Method of a page analysis error.
const (
	stageNavigate = "navigate"
	stageExtract  = "extract"
)

// extraction is what the page scripts (or the HTML fallback) return.
type extraction struct {
	title  string
	links  []scriptLink
	assets []scriptLink
	meta   map[string]string
}

// analyze loads url and builds its record. On failure the record carries
// the error with a zero status and the error is returned as well.
func (e *Engine) analyze(ctx context.Context, d Driver, policy *scope.Policy, url string, depth int, includeAssets bool) (PageRecord, error) {
	rec := PageRecord{
		URL:       url,
		Depth:     depth,
		Links:     []LinkRef{},
		Meta:      map[string]string{},
		Headers:   map[string]string{},
		Timestamp: time.Now(),
	}
	start := time.Now()

	visit, err := d.Visit(ctx, url)
	if err != nil {
		return failPage(rec, start, stageNavigate, err)
	}

	ex, err := extractScripts(ctx, d, includeAssets)
	if err != nil {
		if sderrors.IsFatal(err) || ctx.Err() != nil {
			return failPage(rec, start, stageExtract, err)
		}
		e.log.WithURL(url).WithError(err).Debug("Script extraction failed, parsing outer HTML")
		ex, err = extractHTML(ctx, d, url, includeAssets)
		if err != nil {
			return failPage(rec, start, stageExtract, err)
		}
	}

	rec.Title = strings.TrimSpace(ex.title)
	rec.Links = classifyLinks(policy, ex.links, ex.assets)
	if ex.meta != nil {
		rec.Meta = ex.meta
	}
	e.fillResponse(ctx, d, &rec, visit)

	rec.LoadTimeMs = visit.LoadTime.Milliseconds()
	if rec.LoadTimeMs == 0 {
		rec.LoadTimeMs = time.Since(start).Milliseconds()
	}
	return rec, nil
}

func failPage(rec PageRecord, start time.Time, stage string, err error) (PageRecord, error) {
	rec.StatusCode = 0
	rec.Error = err.Error()
	rec.LoadTimeMs = time.Since(start).Milliseconds()

	perr := sderrors.NewPageAnalysisError(rec.URL, err)
	perr.Method = stage
	return rec, perr
}

// extractScripts evaluates the title, link, meta and optional asset
// scripts concurrently over the one connection.
func extractScripts(ctx context.Context, d Driver, includeAssets bool) (*extraction, error) {
	ex := &extraction{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.EvaluateInto(gctx, titleScript, &ex.title)
	})
	g.Go(func() error {
		return d.EvaluateInto(gctx, linksScript, &ex.links)
	})
	g.Go(func() error {
		return d.EvaluateInto(gctx, metaScript, &ex.meta)
	})
	if includeAssets {
		g.Go(func() error {
			return d.EvaluateInto(gctx, assetsScript, &ex.assets)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ex, nil
}

// extractHTML parses the serialized document when scripts cannot run.
func extractHTML(ctx context.Context, d Driver, url string, includeAssets bool) (*extraction, error) {
	html, err := d.OuterHTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("outer HTML: %w", err)
	}
	p, err := parser.NewHTMLParser(url)
	if err != nil {
		return nil, err
	}
	res, err := p.Parse(html, includeAssets)
	if err != nil {
		return nil, err
	}

	ex := &extraction{title: res.Title, meta: res.Meta}
	for _, l := range res.Links {
		ex.links = append(ex.links, scriptLink{Href: l.URL, Text: l.Text})
	}
	for _, a := range res.Assets {
		ex.assets = append(ex.assets, scriptLink{Href: a})
	}
	return ex, nil
}

// classifyLinks normalizes and deduplicates links, fixing each kind once.
func classifyLinks(policy *scope.Policy, links, assets []scriptLink) []LinkRef {
	refs := make([]LinkRef, 0, len(links)+len(assets))
	seen := make(map[string]bool, len(links)+len(assets))

	add := func(l scriptLink, asset bool) {
		if !scope.IsCrawlable(l.Href) {
			return
		}
		normalized, err := scope.NormalizeURL(l.Href)
		if err != nil {
			return
		}
		kind := LinkAsset
		if !asset {
			kind = policy.Classify(normalized)
		}
		key := string(kind) + " " + normalized
		if seen[key] {
			return
		}
		seen[key] = true
		refs = append(refs, LinkRef{URL: normalized, AnchorText: l.Text, Kind: kind})
	}

	for _, l := range links {
		add(l, false)
	}
	for _, a := range assets {
		add(a, true)
	}
	return refs
}

// fillResponse copies the tracked document response into rec, falling back
// to an in-page probe when no response event was seen.
func (e *Engine) fillResponse(ctx context.Context, d Driver, rec *PageRecord, visit *browser.Visit) {
	if resp := visit.Response; resp != nil {
		rec.StatusCode = resp.Status
		rec.ContentType = resp.MIMEType
		rec.ByteSize = resp.EncodedBytes
		for k, v := range resp.Headers {
			rec.Headers[k] = v
		}
		if rec.StatusCode != 0 {
			return
		}
	}

	var probe responseProbe
	if err := d.EvaluateInto(ctx, responseProbeScript, &probe); err != nil {
		e.log.WithURL(rec.URL).WithError(err).Debug("Response probe failed")
	}
	rec.StatusCode = probe.Status
	if rec.StatusCode == 0 {
		// The navigation succeeded; browsers without responseStatus report 0.
		rec.StatusCode = 200
	}
	if rec.ContentType == "" {
		rec.ContentType = probe.ContentType
	}
	if rec.ByteSize == 0 {
		rec.ByteSize = probe.Size
	}
}
