package spider

import (
	"github.com/PentesterFlow/spiderdive/internal/output"
	"github.com/PentesterFlow/spiderdive/internal/scope"
)

// Records produced by a dive.
type (
	PageRecord = output.PageRecord
	LinkRef    = output.LinkRef
	SiteMap    = output.SiteMap
	Statistics = output.Statistics
	LinkKind   = scope.LinkKind
)

// Link kinds.
const (
	LinkInternal = scope.LinkInternal
	LinkExternal = scope.LinkExternal
	LinkAsset    = scope.LinkAsset
)

// Option bounds.
const (
	MaxDepthLimit   = 10
	MaxPagesLimit   = 1000
	MinDelayMs      = 100
	DefaultDelayMs  = 1000
	DefaultMaxDepth = 2
	DefaultMaxPages = 50
)

// DiveOptions describes one site dive.
type DiveOptions struct {
	StartURL            string   `json:"start_url" yaml:"start_url"`
	MaxDepth            int      `json:"max_depth" yaml:"max_depth"`
	MaxPages            int      `json:"max_pages" yaml:"max_pages"`
	FollowExternalLinks bool     `json:"follow_external_links" yaml:"follow_external_links"`
	IncludeAssets       bool     `json:"include_assets" yaml:"include_assets"`
	RespectRobotsTxt    bool     `json:"respect_robots_txt" yaml:"respect_robots_txt"` // carried for the caller, never evaluated
	// StayWithinBaseURL keeps internal links under the start URL's origin.
	// DefaultDiveOptions turns it on; a zero DiveOptions leaves it off, so
	// build options from DefaultDiveOptions rather than a struct literal.
	StayWithinBaseURL   bool     `json:"stay_within_base_url" yaml:"stay_within_base_url"`
	// DefaultExcludes adds scope.DefaultExcludePatterns (logout, account
	// deletion and download links) to ExcludePatterns.
	DefaultExcludes     bool     `json:"default_excludes,omitempty" yaml:"default_excludes,omitempty"`
	DelayMs             int      `json:"delay_ms" yaml:"delay_ms"`
	UserAgent           string   `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	ExcludePatterns     []string `json:"exclude_patterns,omitempty" yaml:"exclude_patterns,omitempty"`
	IncludePatterns     []string `json:"include_patterns,omitempty" yaml:"include_patterns,omitempty"`
}

// DefaultDiveOptions returns options for a shallow, polite, contained dive.
func DefaultDiveOptions() DiveOptions {
	return DiveOptions{
		MaxDepth:          DefaultMaxDepth,
		MaxPages:          DefaultMaxPages,
		StayWithinBaseURL: true,
		DelayMs:           DefaultDelayMs,
	}
}

// rules converts the options into a link policy.
func (o DiveOptions) rules() scope.Rules {
	b := scope.NewRuleBuilder().
		WithStayWithinBaseURL(o.StayWithinBaseURL).
		WithFollowExternal(o.FollowExternalLinks).
		WithAssets(o.IncludeAssets).
		WithIncludePatterns(o.IncludePatterns...).
		WithExcludePatterns(o.ExcludePatterns...)
	if o.DefaultExcludes {
		b = b.WithDefaultExcludes()
	}
	return b.Build()
}

// DiveProgress is a point-in-time reading of a running dive.
type DiveProgress struct {
	Processed int   `json:"processed"`
	Queued    int   `json:"queued"`
	Visited   int   `json:"visited"`
	Errors    int   `json:"errors"`
	Phase     Phase `json:"phase"`
}

// DiveInfo describes the dive currently held by an engine.
type DiveInfo struct {
	Domain  string `json:"domain"`
	BaseURL string `json:"base_url"`
	Visited int    `json:"visited"`
	Queued  int    `json:"queued"`
}

// Phase is the stage of a dive.
type Phase string

// Dive phases.
const (
	PhaseIdle     Phase = "idle"
	PhaseSeeding  Phase = "seeding"
	PhaseDraining Phase = "draining"
	PhaseDone     Phase = "done"
)
