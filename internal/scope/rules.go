package scope

import (
	"fmt"
	"regexp"
)

// DefaultExcludePatterns lists links a dive should usually avoid.
var DefaultExcludePatterns = []string{
	`[?&]logout`,
	`/logout`,
	`/signout`,
	`/delete-account`,
	`/unsubscribe`,
	`\.(pdf|zip|exe|dmg)$`,
}

// CompilePatterns compiles each pattern, naming the first bad one.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// RuleBuilder helps build dive rules.
type RuleBuilder struct {
	rules Rules
}

// NewRuleBuilder returns a builder with base-URL containment enabled.
func NewRuleBuilder() *RuleBuilder {
	return &RuleBuilder{rules: Rules{StayWithinBaseURL: true}}
}

// WithIncludePatterns adds include patterns.
func (b *RuleBuilder) WithIncludePatterns(patterns ...string) *RuleBuilder {
	b.rules.IncludePatterns = append(b.rules.IncludePatterns, patterns...)
	return b
}

// WithExcludePatterns adds exclude patterns.
func (b *RuleBuilder) WithExcludePatterns(patterns ...string) *RuleBuilder {
	b.rules.ExcludePatterns = append(b.rules.ExcludePatterns, patterns...)
	return b
}

// WithDefaultExcludes adds DefaultExcludePatterns.
func (b *RuleBuilder) WithDefaultExcludes() *RuleBuilder {
	b.rules.ExcludePatterns = append(b.rules.ExcludePatterns, DefaultExcludePatterns...)
	return b
}

// WithStayWithinBaseURL toggles base-URL containment.
func (b *RuleBuilder) WithStayWithinBaseURL(stay bool) *RuleBuilder {
	b.rules.StayWithinBaseURL = stay
	return b
}

// WithFollowExternal enables following external links.
func (b *RuleBuilder) WithFollowExternal(follow bool) *RuleBuilder {
	b.rules.FollowExternalLinks = follow
	return b
}

// WithAssets enables asset scanning and following.
func (b *RuleBuilder) WithAssets(include bool) *RuleBuilder {
	b.rules.IncludeAssets = include
	return b
}

// Build returns the configured rules.
func (b *RuleBuilder) Build() Rules {
	return b.rules
}
