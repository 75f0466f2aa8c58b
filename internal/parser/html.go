// Package parser extracts titles, links, assets and meta tags from HTML. The
// dive uses it when in-page script evaluation is unavailable.
package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// AssetSelector matches elements whose URL is an asset rather than a page.
const AssetSelector = "img[src], link[href], script[src]"

// HTMLParser parses HTML documents relative to a base URL.
type HTMLParser struct {
	baseURL *url.URL
}

// NewHTMLParser creates a new HTML parser.
func NewHTMLParser(baseURL string) (*HTMLParser, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &HTMLParser{baseURL: u}, nil
}

// Parse parses an HTML document. Assets are only scanned when
// includeAssets is set.
func (p *HTMLParser) Parse(html string, includeAssets bool) (*ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	result := &ParseResult{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Links: make([]Link, 0),
		Meta:  make(map[string]string),
	}

	// <base href> changes how relative links resolve.
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			p = &HTMLParser{baseURL: p.baseURL.ResolveReference(ref)}
		}
	}

	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		resolved := p.resolveURL(href)
		if resolved == "" {
			return
		}

		link := Link{
			URL:  resolved,
			Text: collapseSpace(s.Text()),
		}
		link.Rel, _ = s.Attr("rel")
		result.Links = append(result.Links, link)
	})

	if includeAssets {
		doc.Find(AssetSelector).Each(func(i int, s *goquery.Selection) {
			attr := "src"
			if s.Is("link") {
				attr = "href"
			}
			if v, ok := s.Attr(attr); ok {
				if resolved := p.resolveURL(v); resolved != "" {
					result.Assets = append(result.Assets, resolved)
				}
			}
		})
	}

	doc.Find("meta").Each(func(i int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		property, _ := s.Attr("property")
		content, _ := s.Attr("content")

		key := name
		if key == "" {
			key = property
		}
		if key != "" && content != "" {
			result.Meta[key] = content
		}
	})

	return result, nil
}

// resolveURL resolves a relative URL against the base URL. Non-navigable
// schemes and same-page anchors resolve to "".
func (p *HTMLParser) resolveURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}

	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") ||
		strings.HasPrefix(lower, "data:") {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}

	return p.baseURL.ResolveReference(ref).String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func splitFields(s string) []string {
	return strings.Fields(strings.ToLower(s))
}
