package spider

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PentesterFlow/spiderdive/internal/scope"
)

// ValidateDiveOptions normalizes opts for a dive. Out-of-range numbers are
// clamped and reported as warnings; only a malformed start URL or pattern
// is an error.
func ValidateDiveOptions(opts DiveOptions) (DiveOptions, []string, error) {
	var warnings []string

	start := strings.TrimSpace(opts.StartURL)
	if start == "" {
		return opts, nil, fmt.Errorf("start URL is required")
	}
	u, err := url.Parse(start)
	if err != nil {
		return opts, nil, fmt.Errorf("invalid start URL %q: %w", start, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return opts, nil, fmt.Errorf("invalid start URL %q: must be an absolute http(s) URL", start)
	}
	opts.StartURL = start

	if _, err := scope.CompilePatterns(opts.IncludePatterns); err != nil {
		return opts, nil, fmt.Errorf("include patterns: %w", err)
	}
	if _, err := scope.CompilePatterns(opts.ExcludePatterns); err != nil {
		return opts, nil, fmt.Errorf("exclude patterns: %w", err)
	}

	switch {
	case opts.MaxDepth < 0:
		warnings = append(warnings, fmt.Sprintf("max depth %d raised to 0", opts.MaxDepth))
		opts.MaxDepth = 0
	case opts.MaxDepth > MaxDepthLimit:
		warnings = append(warnings, fmt.Sprintf("max depth %d lowered to %d", opts.MaxDepth, MaxDepthLimit))
		opts.MaxDepth = MaxDepthLimit
	}

	switch {
	case opts.MaxPages < 1:
		warnings = append(warnings, fmt.Sprintf("max pages %d raised to 1", opts.MaxPages))
		opts.MaxPages = 1
	case opts.MaxPages > MaxPagesLimit:
		warnings = append(warnings, fmt.Sprintf("max pages %d lowered to %d", opts.MaxPages, MaxPagesLimit))
		opts.MaxPages = MaxPagesLimit
	}

	switch {
	case opts.DelayMs == 0:
		opts.DelayMs = DefaultDelayMs
	case opts.DelayMs < MinDelayMs:
		warnings = append(warnings, fmt.Sprintf("delay %dms raised to %dms", opts.DelayMs, MinDelayMs))
		opts.DelayMs = MinDelayMs
	}

	return opts, warnings, nil
}
