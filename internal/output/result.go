package output

import (
	"time"

	"github.com/PentesterFlow/spiderdive/internal/scope"
)

// ComputeStatistics counts links by kind and error pages, and averages the
// load time over all pages.
func ComputeStatistics(pages []PageRecord) Statistics {
	var stats Statistics
	if len(pages) == 0 {
		return stats
	}

	var totalLoad int64
	for i := range pages {
		page := &pages[i]
		for _, link := range page.Links {
			switch link.Kind {
			case scope.LinkInternal:
				stats.InternalLinks++
			case scope.LinkExternal:
				stats.ExternalLinks++
			case scope.LinkAsset:
				stats.AssetLinks++
			}
		}
		if page.Failed() {
			stats.ErrorPages++
		}
		totalLoad += page.LoadTimeMs
	}

	stats.AverageLoadTimeMs = float64(totalLoad) / float64(len(pages))
	return stats
}

// NewSiteMap assembles the final SiteMap. The pages slice is copied so the
// result does not alias the caller's buffer.
func NewSiteMap(domain, startURL string, pages []PageRecord, duration time.Duration) *SiteMap {
	sm := &SiteMap{
		Domain:          domain,
		StartURL:        startURL,
		Pages:           append([]PageRecord(nil), pages...),
		TotalPages:      len(pages),
		CrawlDurationMs: duration.Milliseconds(),
		Statistics:      ComputeStatistics(pages),
	}
	if sm.Pages == nil {
		sm.Pages = []PageRecord{}
	}

	for _, page := range pages {
		if page.Depth > sm.MaxDepthSeen {
			sm.MaxDepthSeen = page.Depth
		}
	}

	sm.RenderedReport = RenderText(sm)
	return sm
}
