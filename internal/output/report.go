package output

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

const untitled = "(untitled)"

// RegistrableDomain returns the eTLD+1 of host, or host itself when it has
// none (IP addresses, localhost).
func RegistrableDomain(host string) string {
	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}
	if net.ParseIP(hostname) != nil {
		return hostname
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(hostname)
	if err != nil {
		return hostname
	}
	return etld1
}

// DepthGroup is the pages found at one depth, in visit order.
type DepthGroup struct {
	Depth int
	Pages []*PageRecord
}

// GroupByDepth groups pages by depth, ascending.
func GroupByDepth(pages []PageRecord) []DepthGroup {
	index := make(map[int]int)
	var groups []DepthGroup
	for i := range pages {
		page := &pages[i]
		pos, ok := index[page.Depth]
		if !ok {
			pos = len(groups)
			index[page.Depth] = pos
			groups = append(groups, DepthGroup{Depth: page.Depth})
		}
		groups[pos].Pages = append(groups[pos].Pages, page)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Depth < groups[j].Depth })
	return groups
}

// SortByTitle returns the pages ordered alphabetically by title using
// locale-aware, case-insensitive collation. Ties fall back to URL order and
// untitled pages sort last.
func SortByTitle(pages []PageRecord) []*PageRecord {
	sorted := make([]*PageRecord, len(pages))
	for i := range pages {
		sorted[i] = &pages[i]
	}

	col := collate.New(language.English, collate.IgnoreCase, collate.Loose)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := strings.TrimSpace(sorted[i].Title), strings.TrimSpace(sorted[j].Title)
		// Untitled pages go last.
		if (ti == "") != (tj == "") {
			return tj == ""
		}
		if c := col.CompareString(ti, tj); c != 0 {
			return c < 0
		}
		return sorted[i].URL < sorted[j].URL
	})
	return sorted
}

func displayTitle(p *PageRecord) string {
	if t := strings.TrimSpace(p.Title); t != "" {
		return t
	}
	return untitled
}

// Annotations lists the report flags for a page.
func Annotations(p *PageRecord) []string {
	var notes []string
	if p.Slow() {
		notes = append(notes, fmt.Sprintf("slow %dms", p.LoadTimeMs))
	}
	if p.StatusCode != 200 {
		notes = append(notes, fmt.Sprintf("status %d", p.StatusCode))
	}
	if p.Failed() {
		notes = append(notes, "error: "+p.Error)
	}
	return notes
}

func pageLine(p *PageRecord) string {
	line := fmt.Sprintf("  - %s <%s>", displayTitle(p), p.URL)
	for _, note := range Annotations(p) {
		line += " [" + note + "]"
	}
	return line
}

// RenderText renders the plain-text report stored in SiteMap.RenderedReport.
func RenderText(sm *SiteMap) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Site map: %s", sm.Domain)
	if reg := RegistrableDomain(sm.Domain); reg != "" && reg != sm.Domain {
		fmt.Fprintf(&b, " (%s)", reg)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Start URL: %s\n", sm.StartURL)
	fmt.Fprintf(&b, "Pages: %d, max depth: %d, duration: %dms\n", sm.TotalPages, sm.MaxDepthSeen, sm.CrawlDurationMs)

	s := sm.Statistics
	fmt.Fprintf(&b, "Links: %d internal, %d external, %d asset\n", s.InternalLinks, s.ExternalLinks, s.AssetLinks)
	fmt.Fprintf(&b, "Errors: %d, average load time: %.0fms\n", s.ErrorPages, s.AverageLoadTimeMs)

	b.WriteString("\nBy depth\n")
	for _, group := range GroupByDepth(sm.Pages) {
		fmt.Fprintf(&b, "Depth %d (%d)\n", group.Depth, len(group.Pages))
		for _, page := range group.Pages {
			b.WriteString(pageLine(page))
			b.WriteString("\n")
		}
	}

	b.WriteString("\nAlphabetical\n")
	for _, page := range SortByTitle(sm.Pages) {
		b.WriteString(pageLine(page))
		b.WriteString("\n")
	}

	return b.String()
}
