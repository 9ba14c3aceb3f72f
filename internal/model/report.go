package model

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/sitemapgen/internal/sitemap"
)

// CrawlReport is the result of crawling one site.
//
// Pipeline steps fill it in turn: the crawl step records pages and stats,
// the history step marks unchanged pages, the sitemap step records where
// the sitemap was written. Report writers only read it.
type CrawlReport struct {
	mu sync.Mutex

	// Site is the host of the root URL.
	Site string `json:"site"`

	// RootURL is the URL the crawl started from, as given by the user.
	RootURL string `json:"root_url"`

	// StartedAt and FinishedAt bound the crawl.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	// Pages holds one record per fetched URL in completion order.
	Pages []*PageRecord `json:"pages,omitempty"`

	// SitemapEntries is the number of entries in the generated sitemap.
	SitemapEntries int `json:"sitemap_entries"`

	// Sitemap is the generated sitemap. It is not serialized; the entries
	// are written to OutputFiles.
	Sitemap *sitemap.Sitemap `json:"-"`

	// Stats are the crawl counters.
	Stats CrawlStats `json:"stats"`

	// OutputFiles lists the sitemap files written, index last.
	OutputFiles []string `json:"output_files,omitempty"`

	// PreviousRunID is the history run the unchanged pages were compared
	// against. 0 means there was no earlier run.
	PreviousRunID int64 `json:"previous_run_id,omitempty"`

	// TimedOut is true if the crawl was stopped by cancellation before the
	// frontier drained.
	TimedOut bool `json:"timed_out"`

	// PerformedSteps lists the pipeline steps that ran.
	PerformedSteps []string `json:"performed_steps,omitempty"`

	// Error contains any error that occurred during the run.
	Error error `json:"-"`

	// ErrorMessage is the string representation of Error for serialization.
	ErrorMessage string `json:"error,omitempty"` //nolint:tagliatelle // error is conventional
}

// CrawlStats mirrors the crawler counters in a serializable form.
type CrawlStats struct {
	Fetched          int `json:"fetched"`
	Failed           int `json:"failed"`
	TimedOut         int `json:"timed_out"`
	SkippedByProfile int `json:"skipped_by_profile"`
	SkippedByRobots  int `json:"skipped_by_robots"`
	SkippedByDepth   int `json:"skipped_by_depth"`
	SkippedByLimit   int `json:"skipped_by_limit"`
	Duplicates       int `json:"duplicates"`
	Visited          int `json:"visited"`
}

// Skipped is the number of discovered URLs that were never fetched.
func (s CrawlStats) Skipped() int {
	return s.SkippedByProfile + s.SkippedByRobots + s.SkippedByDepth + s.SkippedByLimit
}

// NewCrawlReport creates a report for rootURL started now.
func NewCrawlReport(site, rootURL string) *CrawlReport {
	return &CrawlReport{
		Site:      site,
		RootURL:   rootURL,
		StartedAt: time.Now(),
	}
}

// AddPage appends a page record. It is safe for concurrent use.
func (r *CrawlReport) AddPage(p *PageRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Pages = append(r.Pages, p)
}

// Page returns the record for url, or nil.
func (r *CrawlReport) Page(url string) *PageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.Pages {
		if p.URL == url {
			return p
		}
	}
	return nil
}

// SortPages orders pages by URL so reports are stable across runs.
func (r *CrawlReport) SortPages() {
	r.mu.Lock()
	defer r.mu.Unlock()

	slices.SortFunc(r.Pages, func(a, b *PageRecord) int {
		return strings.Compare(a.URL, b.URL)
	})
}

// AddStep records that a pipeline step ran.
func (r *CrawlReport) AddStep(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PerformedSteps = append(r.PerformedSteps, name)
}

// SetError records err, keeping ErrorMessage in sync. A nil err is ignored.
func (r *CrawlReport) SetError(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Error = err
	r.ErrorMessage = err.Error()
}

// Finish stamps FinishedAt.
func (r *CrawlReport) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = time.Now()
}

// Duration returns how long the crawl took, or 0 if it has not finished.
func (r *CrawlReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailedPages returns the pages whose fetch failed.
func (r *CrawlReport) FailedPages() []*PageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*PageRecord
	for _, p := range r.Pages {
		if p.Failed() {
			out = append(out, p)
		}
	}
	return out
}
