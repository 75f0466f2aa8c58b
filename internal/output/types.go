package output

import (
	"time"

	"github.com/PentesterFlow/spiderdive/internal/scope"
)

// SlowPageThreshold marks pages whose load time gets flagged in reports.
const SlowPageThreshold = 3000 * time.Millisecond

// LinkRef is one outgoing link of a page.
type LinkRef struct {
	URL        string         `json:"url"`
	AnchorText string         `json:"anchor_text,omitempty"`
	Kind       scope.LinkKind `json:"kind"`
}

// PageRecord is the result of analyzing one URL, successful or not.
type PageRecord struct {
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	Depth       int               `json:"depth"`
	StatusCode  int               `json:"status_code"`
	ContentType string            `json:"content_type,omitempty"`
	ByteSize    int64             `json:"byte_size"`
	LoadTimeMs  int64             `json:"load_time_ms"`
	Links       []LinkRef         `json:"links"`
	Meta        map[string]string `json:"meta,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Error       string            `json:"error,omitempty"`
}

// Failed reports whether analysis of the page failed.
func (p *PageRecord) Failed() bool {
	return p.Error != ""
}

// Slow reports whether the page exceeded SlowPageThreshold.
func (p *PageRecord) Slow() bool {
	return time.Duration(p.LoadTimeMs)*time.Millisecond > SlowPageThreshold
}

// Statistics are derived from the pages of a SiteMap.
type Statistics struct {
	InternalLinks     int     `json:"internal_links"`
	ExternalLinks     int     `json:"external_links"`
	AssetLinks        int     `json:"asset_links"`
	ErrorPages        int     `json:"error_pages"`
	AverageLoadTimeMs float64 `json:"average_load_time_ms"`
}

// SiteMap is the output of one dive.
type SiteMap struct {
	Domain          string       `json:"domain"`
	StartURL        string       `json:"start_url"`
	Pages           []PageRecord `json:"pages"`
	TotalPages      int          `json:"total_pages"`
	MaxDepthSeen    int          `json:"max_depth_seen"`
	CrawlDurationMs int64        `json:"crawl_duration_ms"`
	Statistics      Statistics   `json:"statistics"`
	RenderedReport  string       `json:"rendered_report"`
}
