package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/sitemapgen/internal/model"
)

// SimpleWriter outputs human-readable text reports for the terminal.
type SimpleWriter struct {
	baseWriter

	// showEmpty controls whether sections with nothing to list are shown.
	showEmpty bool

	// verbose lists every page instead of only the failed ones.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the report in human-readable format.
func (w *SimpleWriter) Write(report *model.CrawlReport) (int, error) {
	var sb strings.Builder
	w.writeReport(&sb, report)
	w.writeFooter(&sb)
	return io.WriteString(w.output, sb.String())
}

// WriteAll outputs every report followed by one footer.
func (w *SimpleWriter) WriteAll(reports []*model.CrawlReport) (int, error) {
	var sb strings.Builder
	for _, r := range reports {
		if r != nil {
			w.writeReport(&sb, r)
		}
	}
	w.writeFooter(&sb)
	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeReport(sb *strings.Builder, report *model.CrawlReport) {
	summary := report.Summary()

	w.writeHeader(sb, report)
	w.writeSummary(sb, report, summary)
	w.writeOutputs(sb, report)
	w.writePages(sb, report)
}

// writeHeader writes the report header with crawl information.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *model.CrawlReport) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                         SITEMAPGEN REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Site:           %s\n", report.Site)
	fmt.Fprintf(sb, "Root URL:       %s\n", report.RootURL)
	fmt.Fprintf(sb, "Crawl Date:     %s\n", report.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(sb, "Duration:       %s\n", report.Duration().Round(time.Millisecond))
	fmt.Fprintf(sb, "Status:         %s\n", statusText(report))
	sb.WriteString("\n")
}

// writeSummary writes page counts by status class and the crawl counters.
func (w *SimpleWriter) writeSummary(sb *strings.Builder, report *model.CrawlReport, summary model.Summary) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("SUMMARY\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "  Pages fetched:    %d\n", summary.Pages)
	fmt.Fprintf(sb, "  Sitemap entries:  %d\n", summary.SitemapEntries)
	for _, class := range model.StatusClasses() {
		count := summary.ByClass[class]
		if count == 0 && !w.showEmpty {
			continue
		}
		fmt.Fprintf(sb, "  %-17s %d\n", classLabel(class)+":", count)
	}
	if summary.NoIndex > 0 {
		fmt.Fprintf(sb, "  Noindex:          %d\n", summary.NoIndex)
	}
	if report.PreviousRunID > 0 {
		fmt.Fprintf(sb, "  Unchanged:        %d (since run #%d)\n", summary.Unchanged, report.PreviousRunID)
	}
	fmt.Fprintf(sb, "  Skipped:          %d (profile %d, robots %d, depth %d, limit %d)\n",
		report.Stats.Skipped(),
		report.Stats.SkippedByProfile,
		report.Stats.SkippedByRobots,
		report.Stats.SkippedByDepth,
		report.Stats.SkippedByLimit,
	)
	if summary.Pages > 0 {
		fmt.Fprintf(sb, "  Average fetch:    %s\n", summary.AverageFetch.Round(time.Millisecond))
	}
	if w.verbose && summary.SlowestURL != "" {
		fmt.Fprintf(sb, "  Slowest fetch:    %s (%s)\n", summary.SlowestFetch.Round(time.Millisecond), summary.SlowestURL)
	}
	sb.WriteString("\n")
}

// writeOutputs lists the sitemap files written.
func (w *SimpleWriter) writeOutputs(sb *strings.Builder, report *model.CrawlReport) {
	if len(report.OutputFiles) == 0 && !w.showEmpty {
		return
	}

	sb.WriteString("SITEMAP FILES\n\n")
	if len(report.OutputFiles) == 0 {
		sb.WriteString("  No sitemap written\n")
	}
	for _, f := range report.OutputFiles {
		fmt.Fprintf(sb, "  [+] %s\n", f)
	}
	sb.WriteString("\n")
}

// writePages lists failed pages, or every page when verbose.
func (w *SimpleWriter) writePages(sb *strings.Builder, report *model.CrawlReport) {
	pages := report.FailedPages()
	title := "FAILED PAGES"
	if w.verbose {
		pages = report.Pages
		title = "PAGES"
	}
	if len(pages) == 0 && !w.showEmpty {
		return
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title + "\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	if len(pages) == 0 {
		sb.WriteString("  None\n\n")
		return
	}
	for _, p := range pages {
		fmt.Fprintf(sb, "  [%s] %s\n", pageIndicator(p), p.URL)
		if p.Error != "" {
			fmt.Fprintf(sb, "    Error: %s\n", p.Error)
		}
		if w.verbose && p.Title != "" {
			fmt.Fprintf(sb, "    Title: %s\n", p.Title)
		}
	}
	sb.WriteString("\n")
}

// pageIndicator returns the status code, or "!!!" when there was none.
func pageIndicator(p *model.PageRecord) string {
	if p.StatusCode == 0 {
		return "!!!"
	}
	return strconv.Itoa(p.StatusCode)
}

// writeFooter writes the report footer.
func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Report generated by sitemapgen\n")
	sb.WriteString("https://github.com/nao1215/sitemapgen\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}
