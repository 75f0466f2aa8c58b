package scope

import (
	"testing"
)

// =============================================================================
// Policy Tests
// =============================================================================

func TestNewPolicy(t *testing.T) {
	tests := []struct {
		name        string
		startURL    string
		rules       Rules
		wantErr     bool
		wantDomain  string
		wantBaseURL string
	}{
		{
			name:        "plain host",
			startURL:    "https://example.com",
			wantDomain:  "example.com",
			wantBaseURL: "https://example.com",
		},
		{
			name:        "path and fragment",
			startURL:    "https://Example.com/docs/intro#top",
			wantDomain:  "example.com",
			wantBaseURL: "https://example.com",
		},
		{
			name:        "non-default port kept",
			startURL:    "http://localhost:8080/",
			wantDomain:  "localhost:8080",
			wantBaseURL: "http://localhost:8080",
		},
		{
			name:     "not http",
			startURL: "ftp://example.com/",
			wantErr:  true,
		},
		{
			name:     "malformed",
			startURL: "://invalid",
			wantErr:  true,
		},
		{
			name:     "bad include pattern",
			startURL: "https://example.com",
			rules:    Rules{IncludePatterns: []string{`[invalid`}},
			wantErr:  true,
		},
		{
			name:     "bad exclude pattern",
			startURL: "https://example.com",
			rules:    Rules{ExcludePatterns: []string{`(`}},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPolicy(tt.startURL, tt.rules)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewPolicy() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if p.Domain() != tt.wantDomain {
				t.Errorf("Domain() = %v, want %v", p.Domain(), tt.wantDomain)
			}
			if p.BaseURL() != tt.wantBaseURL {
				t.Errorf("BaseURL() = %v, want %v", p.BaseURL(), tt.wantBaseURL)
			}
		})
	}
}

func TestPolicy_Classify(t *testing.T) {
	tests := []struct {
		name string
		stay bool
		link string
		want LinkKind
	}{
		{"same host", true, "https://example.com/blog/a", LinkInternal},
		{"same host uppercase", true, "https://EXAMPLE.com/about", LinkInternal},
		{"other host", true, "https://other.com/", LinkExternal},
		{"subdomain", true, "https://blog.example.com/", LinkExternal},
		{"lookalike host", true, "https://example.com.evil.net/", LinkExternal},
		{"scheme change contained", true, "http://example.com/page", LinkExternal},
		{"scheme change uncontained", false, "http://example.com/page", LinkInternal},
		{"explicit default port", true, "https://example.com:443/x", LinkInternal},
		{"other port", true, "https://example.com:8443/x", LinkExternal},
		{"unparseable", true, "http://[::1", LinkExternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPolicy("https://example.com", Rules{StayWithinBaseURL: tt.stay})
			if err != nil {
				t.Fatalf("NewPolicy() error = %v", err)
			}
			if got := p.Classify(tt.link); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.link, got, tt.want)
			}
		})
	}
}

func TestPolicy_ClassifyIsStable(t *testing.T) {
	links := []string{
		"https://example.com/blog/a",
		"https://other.com",
		"http://example.com/",
		"https://example.com/a?b=c#d",
	}

	for _, stay := range []bool{true, false} {
		p, err := NewPolicy("https://example.com/start", Rules{StayWithinBaseURL: stay})
		if err != nil {
			t.Fatalf("NewPolicy() error = %v", err)
		}
		for _, link := range links {
			first := p.Classify(link)
			for i := 0; i < 5; i++ {
				if got := p.Classify(link); got != first {
					t.Errorf("Classify(%q) changed from %v to %v", link, first, got)
				}
			}
		}
	}
}

func TestPolicy_Follow(t *testing.T) {
	tests := []struct {
		name  string
		rules Rules
		link  string
		kind  LinkKind
		want  bool
	}{
		{
			name:  "internal followed",
			rules: Rules{StayWithinBaseURL: true},
			link:  "https://example.com/blog/a",
			kind:  LinkInternal,
			want:  true,
		},
		{
			name:  "external dropped by default",
			rules: Rules{StayWithinBaseURL: true},
			link:  "https://other.com/",
			kind:  LinkExternal,
			want:  false,
		},
		{
			name:  "external followed when enabled",
			rules: Rules{FollowExternalLinks: true},
			link:  "https://other.com/",
			kind:  LinkExternal,
			want:  true,
		},
		{
			name:  "asset dropped without assets",
			rules: Rules{},
			link:  "https://example.com/logo.png",
			kind:  LinkAsset,
			want:  false,
		},
		{
			name:  "asset followed with assets",
			rules: Rules{IncludeAssets: true},
			link:  "https://example.com/logo.png",
			kind:  LinkAsset,
			want:  true,
		},
		{
			name:  "exclude wins",
			rules: Rules{ExcludePatterns: []string{"/admin"}},
			link:  "https://example.com/admin/users",
			kind:  LinkInternal,
			want:  false,
		},
		{
			name:  "include required",
			rules: Rules{IncludePatterns: []string{"/blog/"}},
			link:  "https://example.com/shop/",
			kind:  LinkInternal,
			want:  false,
		},
		{
			name:  "include matched",
			rules: Rules{IncludePatterns: []string{"/blog/", "/news/"}},
			link:  "https://example.com/news/1",
			kind:  LinkInternal,
			want:  true,
		},
		{
			name:  "mislabeled internal rechecked",
			rules: Rules{StayWithinBaseURL: true},
			link:  "https://other.com/",
			kind:  LinkInternal,
			want:  false,
		},
		{
			name:  "mailto never followed",
			rules: Rules{FollowExternalLinks: true},
			link:  "mailto:someone@example.com",
			kind:  LinkExternal,
			want:  false,
		},
		{
			name:  "unknown kind",
			rules: Rules{},
			link:  "https://example.com/",
			kind:  LinkKind("frame"),
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPolicy("https://example.com", tt.rules)
			if err != nil {
				t.Fatalf("NewPolicy() error = %v", err)
			}
			if got := p.Follow(tt.link, tt.kind); got != tt.want {
				t.Errorf("Follow(%q, %v) = %v, want %v", tt.link, tt.kind, got, tt.want)
			}
		})
	}
}

// =============================================================================
// URL Helper Tests
// =============================================================================

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"https://example.com", "https://example.com/", false},
		{"HTTPS://EXAMPLE.COM/Path", "https://example.com/Path", false},
		{"https://example.com:443/a", "https://example.com/a", false},
		{"http://example.com:80/a", "http://example.com/a", false},
		{"http://example.com:8080/a", "http://example.com:8080/a", false},
		{"https://example.com/a#section", "https://example.com/a", false},
		{"https://example.com/a?x=1#s", "https://example.com/a?x=1", false},
		{"  https://example.com/a  ", "https://example.com/a", false},
		{"http://[::1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeURL(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeURL() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsCrawlable(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/", true},
		{"http://example.com", true},
		{"javascript:void(0)", false},
		{"mailto:a@b.c", false},
		{"/relative", false},
		{"https://", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := IsCrawlable(tt.url); got != tt.want {
				t.Errorf("IsCrawlable(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

// =============================================================================
// RuleBuilder Tests
// =============================================================================

func TestRuleBuilder(t *testing.T) {
	rules := NewRuleBuilder().
		WithIncludePatterns("/docs/").
		WithExcludePatterns("/admin").
		WithDefaultExcludes().
		WithFollowExternal(true).
		WithAssets(true).
		Build()

	if !rules.StayWithinBaseURL {
		t.Error("StayWithinBaseURL should default to true")
	}
	if !rules.FollowExternalLinks || !rules.IncludeAssets {
		t.Errorf("Build() = %+v, want external and assets enabled", rules)
	}
	if len(rules.IncludePatterns) != 1 {
		t.Errorf("IncludePatterns = %v", rules.IncludePatterns)
	}
	if len(rules.ExcludePatterns) != 1+len(DefaultExcludePatterns) {
		t.Errorf("ExcludePatterns = %v", rules.ExcludePatterns)
	}
	if _, err := CompilePatterns(rules.ExcludePatterns); err != nil {
		t.Errorf("CompilePatterns() error = %v", err)
	}
}

func TestCompilePatterns(t *testing.T) {
	if _, err := CompilePatterns([]string{"ok", "[bad"}); err == nil {
		t.Error("CompilePatterns() should reject an invalid regex")
	}
	res, err := CompilePatterns(nil)
	if err != nil || len(res) != 0 {
		t.Errorf("CompilePatterns(nil) = %v, %v", res, err)
	}
}
