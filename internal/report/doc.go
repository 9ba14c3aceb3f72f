// Package report writes crawl reports for people and tools.
//
// Writers for different output formats:
//   - SimpleWriter: human-readable text for the terminal
//   - JSONWriter: structured JSON for tool integration
//   - MarkdownWriter: Markdown with tables, a mermaid chart and alerts
//
// Report data lives in the model package; this package only formats it.
// Writers implement the Writer interface and can be combined with
// MultiWriter.
package report
