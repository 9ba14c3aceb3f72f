package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nao1215/sitemapgen/internal/crawler"
	"github.com/nao1215/sitemapgen/internal/model"
	"github.com/nao1215/sitemapgen/internal/sitemap"
)

// ErrRunning is returned when GetSitemap is called while a crawl of the same
// Generator is still in progress.
var ErrRunning = errors.New("generator is already crawling")

// ShouldCrawlFunc decides whether a same-host URL is crawled.
type ShouldCrawlFunc func(u crawler.URL) bool

// HasCrawledFunc receives the default entry for every fetched page, failed
// ones included, and returns the entry to store. Returning false drops the
// page from the sitemap.
type HasCrawledFunc func(entry sitemap.URL, result *crawler.FetchResult) (sitemap.URL, bool)

// Generator crawls one site and builds its sitemap.
//
// Only URLs on the root's host are crawled. ShouldCrawl narrows that
// further; HasCrawled edits or drops entries. Without a HasCrawled hook,
// failed pages and pages marked noindex are left out.
type Generator struct {
	root string

	shouldCrawl ShouldCrawlFunc
	hasCrawled  HasCrawledFunc

	fetcher       crawler.Fetcher
	client        *http.Client
	proxy         string
	concurrency   int
	maxDepth      int
	maxPages      int
	timeout       time.Duration
	delay         time.Duration
	rate          float64
	respectRobots bool
	userAgent     string
	maxBodySize   int64
	headers       map[string]string
	cookie        string
	ignore        []string
	follow        []string
	changeFreq    sitemap.ChangeFrequency
	priority      *float64
	logger        *slog.Logger
	recorder      crawler.Recorder
	now           func() time.Time

	mu      sync.Mutex
	running bool
	stop    func()
	pages   []*model.PageRecord
	stats   crawler.Stats
}

// New returns a generator for rootURL. The URL is validated when the crawl
// starts.
func New(rootURL string, opts ...Option) *Generator {
	p := sitemap.DefaultPriority
	g := &Generator{
		root:          rootURL,
		concurrency:   crawler.DefaultConcurrency,
		timeout:       crawler.DefaultFetchTimeout,
		respectRobots: true,
		userAgent:     crawler.DefaultUserAgent,
		maxBodySize:   crawler.DefaultMaxBodySize,
		changeFreq:    sitemap.DefaultChangeFrequency,
		priority:      &p,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ShouldCrawl sets an extra crawl predicate, applied after the same-host
// check.
func (g *Generator) ShouldCrawl(fn ShouldCrawlFunc) *Generator {
	g.shouldCrawl = fn
	return g
}

// HasCrawled sets the hook that turns fetched pages into entries.
func (g *Generator) HasCrawled(fn HasCrawledFunc) *Generator {
	g.hasCrawled = fn
	return g
}

// RootURL returns the URL the generator was created with.
func (g *Generator) RootURL() string {
	return g.root
}

// GetSitemap crawls the site and returns its sitemap.
//
// Cancelling ctx or calling Stop ends the crawl early; the sitemap then
// holds the pages fetched so far and the error is nil. An invalid root URL
// or a failing ShouldCrawl/HasCrawled hook returns an error and no sitemap.
func (g *Generator) GetSitemap(ctx context.Context) (*sitemap.Sitemap, error) {
	root, err := crawler.Normalize(g.root, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrInvalidRootURL, err)
	}

	client, err := g.httpClient()
	if err != nil {
		return nil, err
	}

	logger := g.logger.With("site", root.Host())

	var robots *crawler.Robots
	delay := g.delay
	if g.respectRobots {
		robots = crawler.NewRobots(client, g.userAgent, crawler.WithRobotsLogger(logger))
		if robots.Allowed(ctx, root) {
			if d := robots.CrawlDelay(root); d > delay {
				logger.Info("using Crawl-delay from robots.txt", "delay", d)
				delay = d
			}
		}
	}

	opts := []crawler.Option{
		crawler.WithConcurrency(g.concurrency),
		crawler.WithMaxDepth(g.maxDepth),
		crawler.WithMaxPages(g.maxPages),
		crawler.WithLogger(logger),
		crawler.WithRobots(robots),
		crawler.WithRecorder(g.recorder),
		crawler.WithOnFetched(g.recordPage),
	}
	if delay > 0 || g.rate > 0 {
		opts = append(opts, crawler.WithLimiter(crawler.NewHostLimiter(delay, g.rate)))
	}

	coordinator := crawler.NewCoordinator(g.pageFetcher(client), g.profile(root), g.observer(), opts...)
	if err := g.begin(coordinator.Stop); err != nil {
		return nil, err
	}
	records, err := coordinator.Run(ctx, root.String())
	g.end(coordinator.Stats())
	if err != nil {
		return nil, err
	}

	sm := sitemap.New()
	sm.AddAll(records)
	g.markInSitemap(sm)
	return sm, nil
}

// WriteToFile crawls the site and writes the sitemap to path.
func (g *Generator) WriteToFile(ctx context.Context, path string) (*sitemap.Sitemap, error) {
	sm, err := g.GetSitemap(ctx)
	if err != nil {
		return nil, err
	}
	if err := sm.WriteToFile(path); err != nil {
		return sm, err
	}
	return sm, nil
}

// Stop ends a running crawl. It is a no-op otherwise.
func (g *Generator) Stop() {
	g.mu.Lock()
	stop := g.stop
	g.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Pages returns a record for every page fetched by the last crawl, in
// completion order.
func (g *Generator) Pages() []*model.PageRecord {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*model.PageRecord, len(g.pages))
	copy(out, g.pages)
	return out
}

// Stats returns the counters of the last crawl.
func (g *Generator) Stats() crawler.Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

func (g *Generator) begin(stop func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return ErrRunning
	}
	g.running = true
	g.stop = stop
	g.pages = nil
	g.stats = crawler.Stats{}
	return nil
}

func (g *Generator) end(stats crawler.Stats) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.running = false
	g.stop = nil
	g.stats = stats
}

// httpClient returns the configured client, building it on first use.
func (g *Generator) httpClient() (*http.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		return g.client, nil
	}
	client, err := crawler.NewHTTPClient(g.proxy)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	g.client = client
	return client, nil
}

func (g *Generator) pageFetcher(client *http.Client) crawler.Fetcher {
	if g.fetcher != nil {
		return g.fetcher
	}
	return crawler.NewHTTPFetcher(client,
		crawler.WithTimeout(g.timeout),
		crawler.WithUserAgent(g.userAgent),
		crawler.WithMaxBodySize(g.maxBodySize),
		crawler.WithHeaders(g.headers),
		crawler.WithCookie(g.cookie),
		crawler.WithFetcherLogger(g.logger),
	)
}

// profile combines the same-host restriction, path patterns and the user
// predicate, in that order.
func (g *Generator) profile(root crawler.URL) crawler.Profile {
	profiles := []crawler.Profile{crawler.SameHost(root)}
	if len(g.ignore) > 0 || len(g.follow) > 0 {
		profiles = append(profiles, crawler.PatternProfile(g.ignore, g.follow))
	}
	if g.shouldCrawl != nil {
		profiles = append(profiles, crawler.Predicate(g.shouldCrawl))
	}
	return crawler.AllOf(profiles...)
}

func (g *Generator) observer() crawler.Observer[sitemap.URL] {
	return crawler.ObserverFunc[sitemap.URL](func(u crawler.URL, result *crawler.FetchResult) (sitemap.URL, bool) {
		entry := g.defaultEntry(u)
		if g.hasCrawled != nil {
			return g.hasCrawled(entry, result)
		}
		if result.Failed() {
			return sitemap.URL{}, false
		}
		if result.Document != nil && result.Document.NoIndex {
			return sitemap.URL{}, false
		}
		return entry, true
	})
}

func (g *Generator) defaultEntry(u crawler.URL) sitemap.URL {
	entry := sitemap.URL{
		Loc:        u.String(),
		LastMod:    g.now(),
		ChangeFreq: g.changeFreq,
	}
	if g.priority != nil {
		entry = entry.SetPriority(*g.priority)
	}
	return entry
}

func (g *Generator) recordPage(item crawler.Item, result *crawler.FetchResult) {
	page := &model.PageRecord{
		URL:          item.URL.String(),
		StatusCode:   result.StatusCode,
		ContentType:  result.ContentType,
		Depth:        item.Depth,
		Duration:     result.Duration,
		FetchedAt:    result.FetchedAt,
		LastModified: result.LastModified(),
	}
	page.ComputeHash(result.Body)
	if result.Err != nil {
		page.Error = result.Err.Error()
	}
	if doc := result.Document; doc != nil {
		page.Title = doc.Title
		page.NoIndex = doc.NoIndex
	}

	g.mu.Lock()
	g.pages = append(g.pages, page)
	g.mu.Unlock()
}

func (g *Generator) markInSitemap(sm *sitemap.Sitemap) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, p := range g.pages {
		entry, ok := sm.Get(p.URL)
		p.InSitemap = ok
		p.SitemapLastMod = entry.LastMod
	}
}
