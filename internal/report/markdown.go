package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/sitemapgen/internal/model"
)

// maxMarkdownPages caps the page table so reports of large sites stay
// readable. Failed pages are always listed.
const maxMarkdownPages = 100

// MarkdownWriter outputs reports in Markdown format for sharing, e.g. as a
// CI job summary. It uses nao1215/markdown for tables, mermaid charts and
// GitHub alerts.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the report in Markdown format.
func (w *MarkdownWriter) Write(report *model.CrawlReport) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("Sitemap Report")
	md.PlainText("")
	w.writeReport(md, report)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// WriteAll outputs one section per report in a single document.
func (w *MarkdownWriter) WriteAll(reports []*model.CrawlReport) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("Sitemap Report")
	md.PlainText("")

	for _, r := range reports {
		if r == nil {
			continue
		}
		md.H2(r.Site)
		md.PlainText("")
		w.writeReport(md, r)
	}
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeReport(md *markdown.Markdown, report *model.CrawlReport) {
	summary := report.Summary()

	w.writeHeader(md, report, summary)
	w.writeSummary(md, report, summary)
	w.writePages(md, report)
}

// writeHeader writes the crawl information table.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *model.CrawlReport, summary model.Summary) {
	rows := [][]string{
		{"Site", "`" + report.Site + "`"},
		{"Root URL", report.RootURL},
		{"Crawl Date", report.StartedAt.Format("2006-01-02 15:04:05 MST")},
		{"Duration", report.Duration().Round(time.Millisecond).String()},
		{"Pages Fetched", strconv.Itoa(summary.Pages)},
		{"Sitemap Entries", strconv.Itoa(summary.SitemapEntries)},
		{"Status", w.getStatusText(report)},
	}
	for _, f := range report.OutputFiles {
		rows = append(rows, []string{"Sitemap File", "`" + f + "`"})
	}

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

// getStatusText returns the status text based on report state.
func (w *MarkdownWriter) getStatusText(report *model.CrawlReport) string {
	switch {
	case report.TimedOut:
		return "⚠️ " + statusText(report)
	case report.ErrorMessage != "":
		return "❌ " + statusText(report)
	default:
		return "✅ " + statusText(report)
	}
}

// writeSummary writes the status class table, chart and alert.
func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, report *model.CrawlReport, summary model.Summary) {
	md.PlainText("### Status Summary")
	md.PlainText("")

	rows := make([][]string, 0, len(model.StatusClasses())+4)
	for _, class := range model.StatusClasses() {
		rows = append(rows, []string{classLabel(class) + " (" + class.String() + ")", strconv.Itoa(summary.ByClass[class])})
	}
	rows = append(rows,
		[]string{"Noindex", strconv.Itoa(summary.NoIndex)},
		[]string{"Skipped", strconv.Itoa(report.Stats.Skipped())},
		[]string{"Duplicates", strconv.Itoa(report.Stats.Duplicates)},
	)
	if report.PreviousRunID > 0 {
		rows = append(rows, []string{"Unchanged since run #" + strconv.FormatInt(report.PreviousRunID, 10), strconv.Itoa(summary.Unchanged)})
	}

	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows:   rows,
	})
	md.PlainText("")

	if summary.Pages > 0 {
		w.writePieChart(md, summary)
	}
	w.writeAlert(md, report, summary)
}

// writePieChart writes a mermaid pie chart of pages by status class.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, summary model.Summary) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Pages by Status"),
		piechart.WithShowData(true),
	)

	for _, class := range model.StatusClasses() {
		if n := summary.ByClass[class]; n > 0 {
			chart.LabelAndIntValue(classLabel(class), uint64(n))
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeAlert writes an alert matching how the crawl went.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, report *model.CrawlReport, summary model.Summary) {
	broken := summary.ClientError + summary.ServerError + summary.Failed

	switch {
	case report.ErrorMessage != "" && !report.TimedOut:
		md.Cautionf("The crawl failed: %s", report.ErrorMessage)
	case report.TimedOut:
		md.Warningf("The crawl was interrupted. The sitemap holds the %d page(s) crawled so far.", summary.SitemapEntries)
	case broken > 0:
		md.Importantf("%d page(s) could not be fetched and were left out of the sitemap.", broken)
	case summary.NoIndex > 0:
		md.Note(fmt.Sprintf("%d page(s) asked not to be indexed and were left out of the sitemap.", summary.NoIndex))
	default:
		md.Tip("Every crawled page was added to the sitemap.")
	}
	md.PlainText("")
}

// writePages writes the page table, failed pages first.
func (w *MarkdownWriter) writePages(md *markdown.Markdown, report *model.CrawlReport) {
	md.PlainText("### Pages")
	md.PlainText("")

	if len(report.Pages) == 0 {
		md.PlainText("No pages were crawled.")
		md.PlainText("")
		return
	}

	pages := report.FailedPages()
	for _, p := range report.Pages {
		if len(pages) >= maxMarkdownPages {
			break
		}
		if !p.Failed() {
			pages = append(pages, p)
		}
	}

	rows := make([][]string, len(pages))
	for i, p := range pages {
		inSitemap := "-"
		if p.InSitemap {
			inSitemap = "✅"
		}
		status := strconv.Itoa(p.StatusCode)
		if p.StatusCode == 0 {
			status = "-"
		}
		rows[i] = []string{
			truncateString(p.URL, 80),
			status,
			truncateString(dash(p.Title), 40),
			strconv.Itoa(p.Depth),
			inSitemap,
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"URL", "Status", "Title", "Depth", "In Sitemap"},
		Rows:   rows,
	})
	md.PlainText("")

	if hidden := len(report.Pages) - len(pages); hidden > 0 {
		md.PlainTextf("_%d more page(s) not shown._", hidden)
		md.PlainText("")
	}

	for _, p := range report.FailedPages() {
		if p.Error != "" {
			md.Details(p.URL, p.Error)
		}
	}
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [sitemapgen](https://github.com/nao1215/sitemapgen)*")
}
