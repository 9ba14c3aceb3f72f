package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"time"

	"github.com/nao1215/sitemapgen/internal/config"
	"github.com/nao1215/sitemapgen/internal/crawler"
	"github.com/nao1215/sitemapgen/internal/database"
	"github.com/nao1215/sitemapgen/internal/generator"
	"github.com/nao1215/sitemapgen/internal/model"
	"github.com/nao1215/sitemapgen/internal/sitemap"
)

// ErrNoSitemap is returned by steps that need the sitemap of a crawl when
// the crawl step did not produce one.
var ErrNoSitemap = errors.New("no sitemap in report")

// CrawlStep crawls the site of the report and keeps the sitemap in it.
type CrawlStep struct {
	// opts configure the generator created for each crawl.
	opts []generator.Option

	// logger for structured logging.
	logger *slog.Logger
}

// CrawlStepOption configures a CrawlStep.
type CrawlStepOption func(*CrawlStep)

// WithCrawlLogger sets a custom logger for the crawl step.
func WithCrawlLogger(logger *slog.Logger) CrawlStepOption {
	return func(s *CrawlStep) {
		s.logger = logger
	}
}

// WithGeneratorOptions appends options for the sitemap generator.
func WithGeneratorOptions(opts ...generator.Option) CrawlStepOption {
	return func(s *CrawlStep) {
		s.opts = append(s.opts, opts...)
	}
}

// NewCrawlStep creates a new crawl step.
func NewCrawlStep(opts ...CrawlStepOption) *CrawlStep {
	s := &CrawlStep{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the step name.
func (s *CrawlStep) Name() string {
	return "crawl"
}

// Do crawls report.RootURL. Pages and counters are copied into the report
// even when the crawl fails, so that the report shows how far it got.
func (s *CrawlStep) Do(ctx context.Context, report *model.CrawlReport) error {
	gen := generator.New(report.RootURL, s.opts...)
	sm, err := gen.GetSitemap(ctx)

	for _, p := range gen.Pages() {
		report.AddPage(p)
	}
	report.SortPages()
	report.Stats = statsOf(gen.Stats())
	report.Finish()

	if err != nil {
		return fmt.Errorf("crawl %s: %w", report.RootURL, err)
	}

	report.Sitemap = sm
	report.SitemapEntries = sm.Len()
	if ctx.Err() != nil {
		report.TimedOut = true
	}

	s.logger.Info("crawl completed",
		"site", report.Site,
		"pages", len(report.Pages),
		"sitemap_entries", report.SitemapEntries,
		"failed", report.Stats.Failed,
	)

	return nil
}

func statsOf(st crawler.Stats) model.CrawlStats {
	return model.CrawlStats{
		Fetched:          int(st.Fetched),
		Failed:           int(st.Failed),
		TimedOut:         int(st.TimedOut),
		SkippedByProfile: int(st.SkippedByProfile),
		SkippedByRobots:  int(st.SkippedByRobots),
		SkippedByDepth:   int(st.SkippedByDepth),
		SkippedByLimit:   int(st.SkippedByLimit),
		Duplicates:       int(st.Duplicates),
		Visited:          int(st.Visited),
	}
}

// HistoryStep compares the crawl with the previous run of the same site
// and records it in the history database.
//
// A page whose content hash did not change keeps the lastmod it had in the
// previous sitemap, so search engines are not told about changes that did
// not happen.
type HistoryStep struct {
	db *database.HistoryDB

	// logger for structured logging.
	logger *slog.Logger
}

// HistoryStepOption configures a HistoryStep.
type HistoryStepOption func(*HistoryStep)

// WithHistoryLogger sets a custom logger for the history step.
func WithHistoryLogger(logger *slog.Logger) HistoryStepOption {
	return func(s *HistoryStep) {
		s.logger = logger
	}
}

// NewHistoryStep creates a history step backed by db.
func NewHistoryStep(db *database.HistoryDB, opts ...HistoryStepOption) *HistoryStep {
	s := &HistoryStep{
		db:     db,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the step name.
func (s *HistoryStep) Name() string {
	return "history"
}

// RunsAfterCancel reports true: an interrupted crawl is still recorded.
func (s *HistoryStep) RunsAfterCancel() bool {
	return true
}

// Do executes the history step.
func (s *HistoryStep) Do(ctx context.Context, report *model.CrawlReport) error {
	if report.Sitemap == nil {
		return ErrNoSitemap
	}

	previousRun, previous, err := s.db.LatestPages(ctx, report.Site)
	if err != nil {
		return fmt.Errorf("failed to load previous crawl: %w", err)
	}
	report.PreviousRunID = previousRun

	unchanged := applyPrevious(report, previous)

	runID, err := s.db.SaveCrawlReport(ctx, report)
	if err != nil {
		return err
	}

	s.logger.Info("crawl recorded",
		"site", report.Site,
		"run_id", runID,
		"previous_run_id", previousRun,
		"unchanged", unchanged,
	)

	return nil
}

// applyPrevious marks pages whose hash matches the previous run as
// unchanged and restores their previous sitemap lastmod.
func applyPrevious(report *model.CrawlReport, previous map[string]*model.PageRecord) int {
	unchanged := 0
	for _, p := range report.Pages {
		prev, ok := previous[p.URL]
		if !ok || p.Hash == "" || prev.Hash != p.Hash {
			continue
		}
		p.Unchanged = true
		unchanged++

		if !p.InSitemap || prev.SitemapLastMod.IsZero() {
			continue
		}
		entry, ok := report.Sitemap.Get(p.URL)
		if !ok || entry.LastMod.IsZero() {
			continue
		}
		report.Sitemap.Update(entry.SetLastModificationDate(prev.SitemapLastMod))
		p.SitemapLastMod = prev.SitemapLastMod
	}
	return unchanged
}

// WriteSitemapStep writes the sitemap of the report to disk, split into an
// index and parts when it exceeds the per-file URL limit.
type WriteSitemapStep struct {
	path string

	// now stamps the sitemap index.
	now func() time.Time

	// logger for structured logging.
	logger *slog.Logger
}

// WriteSitemapStepOption configures a WriteSitemapStep.
type WriteSitemapStepOption func(*WriteSitemapStep)

// WithWriteLogger sets a custom logger for the write step.
func WithWriteLogger(logger *slog.Logger) WriteSitemapStepOption {
	return func(s *WriteSitemapStep) {
		s.logger = logger
	}
}

// WithWriteClock replaces time.Now for the sitemap index lastmod.
func WithWriteClock(now func() time.Time) WriteSitemapStepOption {
	return func(s *WriteSitemapStep) {
		if now != nil {
			s.now = now
		}
	}
}

// NewWriteSitemapStep creates a step writing the sitemap to path.
func NewWriteSitemapStep(path string, opts ...WriteSitemapStepOption) *WriteSitemapStep {
	s := &WriteSitemapStep{
		path:   path,
		now:    time.Now,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the step name.
func (s *WriteSitemapStep) Name() string {
	return "write_sitemap"
}

// RunsAfterCancel reports true: the partial sitemap of an interrupted
// crawl is still written.
func (s *WriteSitemapStep) RunsAfterCancel() bool {
	return true
}

// Do executes the write step.
func (s *WriteSitemapStep) Do(_ context.Context, report *model.CrawlReport) error {
	if report.Sitemap == nil {
		return ErrNoSitemap
	}

	files, err := report.Sitemap.WriteFiles(s.path, baseURLOf(report.RootURL), s.now())
	if err != nil {
		return fmt.Errorf("failed to write sitemap: %w", err)
	}
	report.OutputFiles = files

	s.logger.Info("sitemap written",
		"site", report.Site,
		"files", files,
		"entries", report.Sitemap.Len(),
	)

	return nil
}

// baseURLOf returns scheme://host of root, where sitemap parts are served.
func baseURLOf(root string) string {
	u, err := url.Parse(root)
	if err != nil || u.Host == "" {
		return root
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
}

// DefaultPipelineConfig holds configuration for the default pipeline.
type DefaultPipelineConfig struct {
	// Output is the sitemap path. Empty uses config.DefaultOutput.
	Output string

	// History, when set, adds the history step.
	History *database.HistoryDB

	// GeneratorOptions configure the crawl.
	GeneratorOptions []generator.Option

	// Logger is shared by every step.
	Logger *slog.Logger
}

// DefaultPipelineOption configures a DefaultPipelineConfig.
type DefaultPipelineOption func(*DefaultPipelineConfig)

// WithPipelineOutput sets the sitemap path.
func WithPipelineOutput(path string) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.Output = path
	}
}

// WithPipelineHistory enables the history step.
func WithPipelineHistory(db *database.HistoryDB) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.History = db
	}
}

// WithPipelineGeneratorOptions appends crawl options.
func WithPipelineGeneratorOptions(opts ...generator.Option) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.GeneratorOptions = append(c.GeneratorOptions, opts...)
	}
}

// WithPipelineLogger sets the logger of every step.
func WithPipelineLogger(logger *slog.Logger) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.Logger = logger
	}
}

// DefaultPipeline creates the crawl, history and write steps in that order.
// The history step is only added when a database is configured.
func DefaultPipeline(pipelineOpts []Option, configOpts ...DefaultPipelineOption) *Pipeline {
	cfg := &DefaultPipelineConfig{
		Output: config.DefaultOutput,
		Logger: slog.Default(),
	}
	for _, opt := range configOpts {
		opt(cfg)
	}
	if cfg.Output == "" {
		cfg.Output = config.DefaultOutput
	}

	p := New(pipelineOpts...)
	p.AddStep(NewCrawlStep(
		WithCrawlLogger(cfg.Logger),
		WithGeneratorOptions(cfg.GeneratorOptions...),
	))
	if cfg.History != nil {
		p.AddStep(NewHistoryStep(cfg.History, WithHistoryLogger(cfg.Logger)))
	}
	p.AddStep(NewWriteSitemapStep(filepath.Clean(cfg.Output), WithWriteLogger(cfg.Logger)))

	return p
}

// GeneratorOptions translates the run configuration and the settings of
// one site into generator options. Site values override cfg where set.
func GeneratorOptions(cfg *config.Config, site config.SiteConfig) []generator.Option {
	maxDepth := cfg.MaxDepth
	if site.MaxDepth > 0 {
		maxDepth = site.MaxDepth
	}
	maxPages := cfg.MaxPages
	if site.MaxPages > 0 {
		maxPages = site.MaxPages
	}
	delay := cfg.CrawlDelay
	if site.CrawlDelay > 0 {
		delay = site.CrawlDelay
	}
	changeFreq := cfg.ChangeFrequency
	if f, err := sitemap.ParseChangeFrequency(site.ChangeFrequency); err == nil {
		changeFreq = f
	}
	priority := cfg.Priority
	if site.Priority != nil {
		priority = *site.Priority
	}

	return []generator.Option{
		generator.WithConcurrency(cfg.Concurrency),
		generator.WithTimeout(cfg.Timeout),
		generator.WithMaxDepth(maxDepth),
		generator.WithMaxPages(maxPages),
		generator.WithCrawlDelay(delay),
		generator.WithRateLimit(cfg.RateLimit),
		generator.WithRespectRobots(!cfg.IgnoreRobots && !site.IgnoreRobots),
		generator.WithProxy(cfg.ProxyAddress),
		generator.WithUserAgent(cfg.UserAgent),
		generator.WithMaxBodySize(cfg.MaxBodySize),
		generator.WithHeaders(site.Headers),
		generator.WithCookie(site.Cookie),
		generator.WithPatterns(site.IgnorePatterns, site.FollowPatterns),
		generator.WithChangeFrequency(changeFreq),
		generator.WithPriority(priority),
	}
}
