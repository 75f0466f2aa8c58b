// Package output builds site map statistics and reports, and writes them.
package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Writer defines the interface for output writers.
type Writer interface {
	// WriteSiteMap writes the complete dive result
	WriteSiteMap(sm *SiteMap) error

	// WritePage writes a single page (for streaming)
	WritePage(page *PageRecord) error

	// Flush flushes any buffered output
	Flush() error

	// Close closes the writer
	Close() error
}

// Supported formats.
const (
	FormatJSON     = "json"
	FormatText     = "text"
	FormatMarkdown = "markdown"
)

// Config holds output configuration.
type Config struct {
	Format   string
	Pretty   bool
	Stream   bool
	FilePath string
}

// NewWriter creates a writer for config.Format.
func NewWriter(w io.Writer, config Config) (Writer, error) {
	switch strings.ToLower(config.Format) {
	case "", FormatJSON:
		return NewJSONWriter(w, config.Pretty, config.Stream), nil
	case FormatText, "txt":
		return NewTextWriter(w), nil
	case FormatMarkdown, "md":
		return NewMarkdownWriter(w), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", config.Format)
	}
}

// TextWriter writes the rendered plain-text report.
type TextWriter struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewTextWriter creates a TextWriter.
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{writer: w}
}

// WriteSiteMap writes sm.RenderedReport, rendering it first if empty.
func (t *TextWriter) WriteSiteMap(sm *SiteMap) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	report := sm.RenderedReport
	if report == "" {
		report = RenderText(sm)
	}
	_, err := io.WriteString(t.writer, report)
	return err
}

// WritePage is a no-op.
func (t *TextWriter) WritePage(*PageRecord) error { return nil }

// Flush is a no-op.
func (t *TextWriter) Flush() error { return nil }

// Close is a no-op.
func (t *TextWriter) Close() error { return nil }
