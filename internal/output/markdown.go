package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/nao1215/markdown"
)

// MarkdownWriter renders a SiteMap as a Markdown document.
type MarkdownWriter struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewMarkdownWriter creates a MarkdownWriter.
func NewMarkdownWriter(w io.Writer) *MarkdownWriter {
	return &MarkdownWriter{writer: w}
}

// WriteSiteMap writes the whole document.
func (m *MarkdownWriter) WriteSiteMap(sm *SiteMap) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	md := markdown.NewMarkdown(m.writer)

	md.H1("Site map: " + sm.Domain)
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Start URL", "`" + sm.StartURL + "`"},
			{"Registrable domain", RegistrableDomain(sm.Domain)},
			{"Pages", strconv.Itoa(sm.TotalPages)},
			{"Max depth", strconv.Itoa(sm.MaxDepthSeen)},
			{"Duration", fmt.Sprintf("%dms", sm.CrawlDurationMs)},
		},
	})
	md.PlainText("")

	s := sm.Statistics
	md.H2("Statistics")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Internal links", strconv.Itoa(s.InternalLinks)},
			{"External links", strconv.Itoa(s.ExternalLinks)},
			{"Asset links", strconv.Itoa(s.AssetLinks)},
			{"Error pages", strconv.Itoa(s.ErrorPages)},
			{"Average load time", fmt.Sprintf("%.0fms", s.AverageLoadTimeMs)},
		},
	})
	md.PlainText("")

	if s.ErrorPages > 0 {
		md.Warningf("%d of %d pages failed to load.", s.ErrorPages, sm.TotalPages)
		md.PlainText("")
	}

	md.H2("Pages by depth")
	md.PlainText("")
	for _, group := range GroupByDepth(sm.Pages) {
		md.H3(fmt.Sprintf("Depth %d", group.Depth))
		md.PlainText("")
		rows := make([][]string, 0, len(group.Pages))
		for _, page := range group.Pages {
			rows = append(rows, pageRow(page))
		}
		md.Table(markdown.TableSet{
			Header: []string{"Title", "URL", "Status", "Load", "Notes"},
			Rows:   rows,
		})
		md.PlainText("")
	}

	md.H2("Pages by title")
	md.PlainText("")
	items := make([]string, 0, len(sm.Pages))
	for _, page := range SortByTitle(sm.Pages) {
		items = append(items, fmt.Sprintf("%s (%s)", escapeCell(displayTitle(page)), page.URL))
	}
	md.BulletList(items...)
	md.PlainText("")

	return md.Build()
}

func pageRow(p *PageRecord) []string {
	return []string{
		escapeCell(displayTitle(p)),
		p.URL,
		strconv.Itoa(p.StatusCode),
		fmt.Sprintf("%dms", p.LoadTimeMs),
		escapeCell(strings.Join(Annotations(p), "; ")),
	}
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// WritePage is a no-op; Markdown output is written as one document.
func (m *MarkdownWriter) WritePage(*PageRecord) error { return nil }

// Flush is a no-op.
func (m *MarkdownWriter) Flush() error { return nil }

// Close is a no-op.
func (m *MarkdownWriter) Close() error { return nil }
