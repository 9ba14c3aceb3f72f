package pipeline

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/sitemapgen/internal/model"
)

// DefaultBatchConcurrency is the number of sites crawled at once when
// WithConcurrency is not given.
const DefaultBatchConcurrency = 4

// BatchProcessor crawls several sites concurrently. Each site runs its own
// pipeline; errgroup bounds how many run at once.
type BatchProcessor struct {
	// pipelineFactory creates the pipeline for one root URL, so every site
	// can have its own output path and settings.
	pipelineFactory func(root string) *Pipeline

	// concurrency is the maximum number of concurrent crawls.
	concurrency int

	// logger is used for batch-level logging.
	logger *slog.Logger

	// results stores completed crawl reports.
	results []*model.CrawlReport
	mu      sync.Mutex
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent crawls.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatchProcessor creates a new BatchProcessor.
//
// pipelineFactory is called once per root URL to create a fresh pipeline,
// so no state leaks between crawls.
func NewBatchProcessor(pipelineFactory func(root string) *Pipeline, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		pipelineFactory: pipelineFactory,
		concurrency:     DefaultBatchConcurrency,
		results:         make([]*model.CrawlReport, 0),
	}

	for _, opt := range opts {
		opt(bp)
	}

	if bp.logger == nil {
		bp.logger = slog.Default()
	}

	return bp
}

// ProcessBatch crawls every root and returns one report per root, in the
// order of roots. A failing crawl does not stop the others; its error is
// recorded in its report.
//
// Cancelling ctx lets running pipelines finish their final steps. Roots
// that have not started yet get a report marked as timed out.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, roots []string) ([]*model.CrawlReport, error) {
	bp.logger.Info("starting batch processing",
		"total_sites", len(roots),
		"concurrency", bp.concurrency,
	)

	startTime := time.Now()
	results := make([]*model.CrawlReport, len(roots))

	err := bp.run(ctx, roots, func(report *model.CrawlReport, i int) {
		results[i] = report
	})

	bp.mu.Lock()
	bp.results = results
	bp.mu.Unlock()

	bp.logger.Info("batch processing complete",
		"total_sites", len(roots),
		"elapsed", time.Since(startTime),
	)

	return results, err
}

// ProcessBatchWithCallback crawls every root and calls callback with each
// report as soon as its pipeline finishes. callback is called from the
// crawling goroutines and must be safe for concurrent use.
func (bp *BatchProcessor) ProcessBatchWithCallback(
	ctx context.Context,
	roots []string,
	callback func(report *model.CrawlReport, index int),
) error {
	bp.logger.Info("starting batch processing with callback",
		"total_sites", len(roots),
		"concurrency", bp.concurrency,
	)

	return bp.run(ctx, roots, callback)
}

// Results returns the reports of the last ProcessBatch call.
func (bp *BatchProcessor) Results() []*model.CrawlReport {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.results
}

func (bp *BatchProcessor) run(ctx context.Context, roots []string, done func(*model.CrawlReport, int)) error {
	var g errgroup.Group
	g.SetLimit(bp.concurrency)

	for i, root := range roots {
		g.Go(func() error {
			report := model.NewCrawlReport(SiteOf(root), root)

			if err := ctx.Err(); err != nil {
				report.TimedOut = true
				report.SetError(err)
				report.Finish()
				done(report, i)
				return nil
			}

			bp.logger.Info("crawling site",
				"site", report.Site,
				"index", i+1,
				"total", len(roots),
			)

			if err := bp.pipelineFactory(root).Execute(ctx, report); err != nil {
				bp.logger.Warn("crawl failed",
					"site", report.Site,
					"error", err,
				)
				report.SetError(err)
			} else {
				bp.logger.Info("crawl completed",
					"site", report.Site,
				)
			}

			// The error is recorded in the report; the other crawls go on.
			done(report, i)
			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // goroutines never return errors
	return ctx.Err()
}

// SiteOf returns the lower-cased host of root, or root itself when it
// has none.
func SiteOf(root string) string {
	u, err := url.Parse(strings.TrimSpace(root))
	if err != nil || u.Hostname() == "" {
		return root
	}
	return strings.ToLower(u.Hostname())
}
