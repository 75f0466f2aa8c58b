// Package scope classifies links and decides which ones a dive follows.
package scope

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Policy classifies links relative to one dive's domain and base URL.
// It is immutable after construction and safe for concurrent use.
type Policy struct {
	rules          Rules
	domain         string
	baseURL        string
	includeRegexps []*regexp.Regexp
	excludeRegexps []*regexp.Regexp
}

// NewPolicy derives the domain and base URL from startURL and compiles the
// include and exclude patterns.
func NewPolicy(startURL string, rules Rules) (*Policy, error) {
	normalized, err := NormalizeURL(startURL)
	if err != nil {
		return nil, err
	}
	parsed, err := url.Parse(normalized)
	if err != nil {
		return nil, err
	}
	if !IsCrawlable(normalized) {
		return nil, fmt.Errorf("start url %q is not an http(s) url", startURL)
	}

	p := &Policy{
		rules:   rules,
		domain:  parsed.Host,
		baseURL: parsed.Scheme + "://" + parsed.Host,
	}

	if p.includeRegexps, err = CompilePatterns(rules.IncludePatterns); err != nil {
		return nil, err
	}
	if p.excludeRegexps, err = CompilePatterns(rules.ExcludePatterns); err != nil {
		return nil, err
	}
	return p, nil
}

// Domain returns the crawl host, port included when non-default.
func (p *Policy) Domain() string { return p.domain }

// BaseURL returns scheme://host.
func (p *Policy) BaseURL() string { return p.baseURL }

// Rules returns the rules the policy was built from.
func (p *Policy) Rules() Rules { return p.rules }

// Classify returns LinkInternal or LinkExternal for a page link. Asset kind
// comes from the element a link was found on, not from the URL.
func (p *Policy) Classify(link string) LinkKind {
	normalized, err := NormalizeURL(link)
	if err != nil {
		return LinkExternal
	}
	parsed, err := url.Parse(normalized)
	if err != nil || !strings.EqualFold(parsed.Host, p.domain) {
		return LinkExternal
	}
	if p.rules.StayWithinBaseURL && !strings.HasPrefix(normalized, p.baseURL) {
		return LinkExternal
	}
	return LinkInternal
}

// Follow reports whether a link of the given kind should be enqueued.
func (p *Policy) Follow(link string, kind LinkKind) bool {
	if !IsCrawlable(link) {
		return false
	}

	switch kind {
	case LinkInternal:
		// Kind is recomputed so a stale classification cannot leak out of bounds.
		if p.Classify(link) != LinkInternal {
			return false
		}
	case LinkExternal:
		if !p.rules.FollowExternalLinks {
			return false
		}
	case LinkAsset:
		if !p.rules.IncludeAssets {
			return false
		}
	default:
		return false
	}

	return p.matches(link)
}

// matches applies exclude patterns first, then include patterns if any.
func (p *Policy) matches(link string) bool {
	for _, re := range p.excludeRegexps {
		if re.MatchString(link) {
			return false
		}
	}

	if len(p.includeRegexps) == 0 {
		return true
	}
	for _, re := range p.includeRegexps {
		if re.MatchString(link) {
			return true
		}
	}
	return false
}

// NormalizeURL normalizes a URL for deduplication.
func NormalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)

	if (parsed.Scheme == "http" && strings.HasSuffix(parsed.Host, ":80")) ||
		(parsed.Scheme == "https" && strings.HasSuffix(parsed.Host, ":443")) {
		parsed.Host = parsed.Host[:strings.LastIndex(parsed.Host, ":")]
	}

	parsed.Fragment = ""
	parsed.RawFragment = ""

	if parsed.Path == "" && parsed.Host != "" {
		parsed.Path = "/"
	}

	return parsed.String(), nil
}

// IsCrawlable reports whether a URL is an absolute http(s) URL with a host.
func IsCrawlable(urlStr string) bool {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Host != ""
}
