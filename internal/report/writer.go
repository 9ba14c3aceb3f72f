package report

import (
	"io"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/sitemapgen/internal/model"
)

// Writer defines the interface for report output.
// Implementations write crawl results in various formats.
type Writer interface {
	// Write outputs one crawl report.
	// Returns the number of bytes written and any error encountered.
	Write(report *model.CrawlReport) (int, error)

	// WriteAll outputs the reports of a batch run as one document.
	WriteAll(reports []*model.CrawlReport) (int, error)
}

// MultiWriter writes to multiple Writers, e.g. the terminal and a file.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the report to all configured Writers.
// Returns the total bytes written across all writers.
// Stops on first error encountered.
func (m *MultiWriter) Write(report *model.CrawlReport) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteAll outputs the reports to all configured Writers.
func (m *MultiWriter) WriteAll(reports []*model.CrawlReport) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteAll(reports)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// classLabel returns a title-cased label such as "Client Error".
func classLabel(c model.StatusClass) string {
	return cases.Title(language.English).String(c.Description())
}

// statusText describes how a crawl ended.
func statusText(report *model.CrawlReport) string {
	switch {
	case report.TimedOut:
		return "Interrupted (partial sitemap)"
	case report.ErrorMessage != "":
		return "Error - " + report.ErrorMessage
	default:
		return "Complete"
	}
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// dash replaces an empty table cell.
func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
