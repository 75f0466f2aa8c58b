package spider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sderrors "github.com/PentesterFlow/spiderdive/internal/errors"
	"github.com/PentesterFlow/spiderdive/internal/output"
	"github.com/PentesterFlow/spiderdive/internal/queue"
	"github.com/PentesterFlow/spiderdive/internal/ratelimit"
	"github.com/PentesterFlow/spiderdive/internal/scope"
	"github.com/PentesterFlow/spiderdive/internal/state"
)

// diveState is the per-dive job state. A fresh one backs every Dive call.
type diveState struct {
	policy   *scope.Policy
	frontier queue.Queue
	visited  *state.VisitedSet

	mu     sync.RWMutex
	pages  []PageRecord
	errors int
	phase  Phase
}

func newDiveState(policy *scope.Policy, maxPages int) *diveState {
	return &diveState{
		policy:   policy,
		frontier: queue.NewMemoryQueue(0),
		visited:  state.NewVisitedSet(maxPages),
		pages:    make([]PageRecord, 0, maxPages),
		phase:    PhaseIdle,
	}
}

// finishedDiveState describes a site map served without diving.
func finishedDiveState(policy *scope.Policy, sm *SiteMap) *diveState {
	ds := newDiveState(policy, len(sm.Pages))
	ds.pages = append(ds.pages, sm.Pages...)
	for _, p := range sm.Pages {
		ds.visited.Add(p.URL)
		if p.Failed() {
			ds.errors++
		}
	}
	ds.phase = PhaseDone
	return ds
}

func (ds *diveState) setPhase(p Phase) {
	ds.mu.Lock()
	ds.phase = p
	ds.mu.Unlock()
}

// record appends rec and marks its URL visited under one lock, so readers
// never see the two counts disagree.
func (ds *diveState) record(rec PageRecord) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.pages = append(ds.pages, rec)
	ds.visited.Add(rec.URL)
	if rec.Failed() {
		ds.errors++
	}
}

func (ds *diveState) processed() int {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return len(ds.pages)
}

func (ds *diveState) snapshotPages() []PageRecord {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return append([]PageRecord(nil), ds.pages...)
}

func (ds *diveState) progress() DiveProgress {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return DiveProgress{
		Processed: len(ds.pages),
		Queued:    ds.frontier.Len(),
		Visited:   ds.visited.Len(),
		Errors:    ds.errors,
		Phase:     ds.phase,
	}
}

func (ds *diveState) info() DiveInfo {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return DiveInfo{
		Domain:  ds.policy.Domain(),
		BaseURL: ds.policy.BaseURL(),
		Visited: ds.visited.Len(),
		Queued:  ds.frontier.Len(),
	}
}

// Dive maps the site at opts.StartURL breadth first. The returned SiteMap
// is never nil once the dive has started: cancellation, a lost browser
// connection or repeated navigation timeouts stop the traversal and return
// the pages gathered so far together with the error.
func (e *Engine) Dive(ctx context.Context, opts DiveOptions) (*SiteMap, error) {
	if !e.nav.TryLock() {
		return nil, ErrEngineBusy
	}
	defer e.nav.Unlock()

	opts, warnings, err := ValidateDiveOptions(opts)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		e.log.Warn(w)
	}

	d, err := e.currentDriver()
	if err != nil {
		return nil, err
	}

	start, err := scope.NormalizeURL(opts.StartURL)
	if err != nil {
		return nil, fmt.Errorf("invalid start URL: %w", err)
	}
	policy, err := scope.NewPolicy(start, opts.rules())
	if err != nil {
		return nil, err
	}

	if sm := e.cachedSiteMap(start); sm != nil {
		e.publishDive(finishedDiveState(policy, sm))
		return sm, nil
	}

	ds := newDiveState(policy, opts.MaxPages)
	e.publishDive(ds)

	log := e.log.WithURL(start)
	log.Infof("Diving %s (depth %d, pages %d, delay %dms)", policy.Domain(), opts.MaxDepth, opts.MaxPages, opts.DelayMs)

	ds.setPhase(PhaseSeeding)
	if opts.UserAgent != "" {
		e.useAgent(ctx, d, opts.UserAgent)
		defer e.useAgent(context.WithoutCancel(ctx), d, e.config.Browser.UserAgent)
	} else {
		e.useAgent(ctx, d, e.config.Browser.UserAgent)
	}
	ds.frontier.Push(&queue.QueueItem{URL: start, Depth: 0, Timestamp: time.Now()})

	limiter := ratelimit.NewLimiter(time.Duration(opts.DelayMs) * time.Millisecond)
	began := time.Now()
	diveErr := e.drain(ctx, d, ds, limiter, opts)
	ds.setPhase(PhaseDone)

	sm := output.NewSiteMap(policy.Domain(), start, ds.snapshotPages(), time.Since(began))
	pacing := limiter.Stats()
	e.log.StatsEvent(map[string]interface{}{
		"pages":          sm.TotalPages,
		"max_depth_seen": sm.MaxDepthSeen,
		"error_pages":    sm.Statistics.ErrorPages,
		"duration_ms":    sm.CrawlDurationMs,
		"delay_ms":       pacing.Delay.Milliseconds(),
		"waited_ms":      pacing.TotalWaited.Milliseconds(),
	})

	if diveErr != nil {
		log.WithError(diveErr).Warnf("Dive stopped early after %d pages", sm.TotalPages)
		return sm, diveErr
	}

	if e.cache != nil {
		if err := e.cache.Put(start, sm); err != nil {
			log.WithError(err).Warn("Failed to cache site map")
		}
	}
	log.Infof("Dive finished: %d pages in %dms", sm.TotalPages, sm.CrawlDurationMs)
	return sm, nil
}

// drain runs the frontier loop until it empties, the page budget is spent
// or the dive has to stop. The returned error says why it stopped early.
// The limiter's pause runs from the end of one page to the start of the next.
func (e *Engine) drain(ctx context.Context, d Driver, ds *diveState, limiter *ratelimit.Limiter, opts DiveOptions) error {
	ds.setPhase(PhaseDraining)

	breaker := sderrors.NewCircuitBreaker(sderrors.DefaultCircuitBreakerConfig())
	breaker.OnStateChange(func(from, to sderrors.CircuitState) {
		e.log.Warnf("Navigation breaker %s -> %s", from, to)
	})

	for ds.processed() < opts.MaxPages {
		if err := ctx.Err(); err != nil {
			return err
		}

		item, err := ds.frontier.Pop()
		if err != nil {
			return nil
		}
		e.metrics.SetQueueDepth(int64(ds.frontier.Len()))

		if ds.visited.Has(item.URL) || item.Depth > opts.MaxDepth {
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		rec, err := e.analyze(ctx, d, ds.policy, item.URL, item.Depth, opts.IncludeAssets)
		limiter.Done()
		if ctxErr := ctx.Err(); ctxErr != nil {
			// The interrupted page is not a page error; leave it out.
			return ctxErr
		}

		ds.record(rec)
		e.recordPage(&rec)
		if e.pageWriter != nil {
			if werr := e.pageWriter.WritePage(&rec); werr != nil {
				e.log.WithError(werr).Warn("Failed to stream page")
			}
		}

		if err != nil {
			if sderrors.IsFatal(err) {
				return err
			}
			if isNavigationTimeout(err) {
				breaker.RecordFailure()
				if !breaker.Allow() {
					return fmt.Errorf("giving up after %d navigation timeouts: %w", breaker.Failures(),
						&sderrors.CircuitOpenError{State: breaker.State(), Failures: breaker.Failures()})
				}
			}
		} else {
			breaker.RecordSuccess()
		}

		if item.Depth < opts.MaxDepth {
			e.enqueueLinks(ds, &rec, item.Depth+1)
		}
	}
	return nil
}

// enqueueLinks pushes the followable links of rec at depth.
func (e *Engine) enqueueLinks(ds *diveState, rec *PageRecord, depth int) {
	for _, link := range rec.Links {
		if !ds.policy.Follow(link.URL, link.Kind) || ds.visited.Has(link.URL) || ds.frontier.Contains(link.URL) {
			continue
		}
		err := ds.frontier.Push(&queue.QueueItem{
			URL:       link.URL,
			Depth:     depth,
			ParentURL: rec.URL,
			Timestamp: time.Now(),
		})
		if err != nil {
			e.log.WithError(err).Debugf("Dropped %s", link.URL)
		}
	}
}

func (e *Engine) publishDive(ds *diveState) {
	e.mu.Lock()
	e.dive = ds
	e.mu.Unlock()
}

// cachedSiteMap returns a fresh cached site map for start, if any.
func (e *Engine) cachedSiteMap(start string) *SiteMap {
	if e.cache == nil {
		return nil
	}
	sm, ok, err := e.cache.Get(start)
	if err != nil {
		e.log.WithError(err).Warn("Cache lookup failed")
		return nil
	}
	if !ok {
		return nil
	}
	e.log.WithURL(start).Infof("Serving cached site map (%d pages)", sm.TotalPages)
	return sm
}

func isNavigationTimeout(err error) bool {
	var se *sderrors.SpiderError
	return errors.As(err, &se) && se.Method == stageNavigate && errors.Is(err, sderrors.ErrCommandTimeout)
}
