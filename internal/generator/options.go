package generator

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/nao1215/sitemapgen/internal/crawler"
	"github.com/nao1215/sitemapgen/internal/sitemap"
)

// Option configures a Generator.
type Option func(*Generator)

// WithFetcher replaces the HTTP fetcher, e.g. with a fake in tests.
// robots.txt is still fetched with the HTTP client.
func WithFetcher(f crawler.Fetcher) Option {
	return func(g *Generator) {
		g.fetcher = f
	}
}

// WithHTTPClient sets the client used for pages and robots.txt.
// It takes precedence over WithProxy.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Generator) {
		g.client = c
	}
}

// WithProxy routes requests through an http(s) or socks5 proxy URL.
func WithProxy(addr string) Option {
	return func(g *Generator) {
		g.proxy = addr
	}
}

// WithConcurrency sets the number of fetch workers.
func WithConcurrency(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// WithMaxDepth stops following links n hops from the root. 0 is unlimited.
func WithMaxDepth(n int) Option {
	return func(g *Generator) {
		g.maxDepth = max(n, 0)
	}
}

// WithMaxPages caps the number of URLs crawled. 0 is unlimited.
func WithMaxPages(n int) Option {
	return func(g *Generator) {
		g.maxPages = max(n, 0)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithCrawlDelay sets the minimum spacing between requests to the host.
// A larger Crawl-delay in robots.txt wins.
func WithCrawlDelay(d time.Duration) Option {
	return func(g *Generator) {
		g.delay = max(d, 0)
	}
}

// WithRateLimit caps requests per second to the host. 0 disables it.
func WithRateLimit(perSecond float64) Option {
	return func(g *Generator) {
		g.rate = max(perSecond, 0)
	}
}

// WithRespectRobots turns robots.txt checks on or off. They are on by
// default.
func WithRespectRobots(respect bool) Option {
	return func(g *Generator) {
		g.respectRobots = respect
	}
}

// WithUserAgent sets the User-Agent header and the robots.txt agent.
func WithUserAgent(ua string) Option {
	return func(g *Generator) {
		if ua != "" {
			g.userAgent = ua
		}
	}
}

// WithMaxBodySize limits how much of each response is read.
func WithMaxBodySize(n int64) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxBodySize = n
		}
	}
}

// WithHeaders adds headers to every request.
func WithHeaders(headers map[string]string) Option {
	return func(g *Generator) {
		g.headers = headers
	}
}

// WithCookie sends cookie with every request.
func WithCookie(cookie string) Option {
	return func(g *Generator) {
		g.cookie = cookie
	}
}

// WithPatterns restricts the crawl with path globs. See
// crawler.PatternProfile.
func WithPatterns(ignore, follow []string) Option {
	return func(g *Generator) {
		g.ignore = ignore
		g.follow = follow
	}
}

// WithChangeFrequency sets the changefreq of every generated entry.
// The empty value omits the element.
func WithChangeFrequency(f sitemap.ChangeFrequency) Option {
	return func(g *Generator) {
		g.changeFreq = f
	}
}

// WithPriority sets the priority of every generated entry.
func WithPriority(p float64) Option {
	return func(g *Generator) {
		g.priority = &p
	}
}

// WithoutPriority omits the priority element.
func WithoutPriority() Option {
	return func(g *Generator) {
		g.priority = nil
	}
}

// WithLogger sets the logger used by the generator and its crawler.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithRecorder reports crawl activity to r, typically metrics.
func WithRecorder(r crawler.Recorder) Option {
	return func(g *Generator) {
		g.recorder = r
	}
}

// WithClock overrides the time source used for lastmod.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}
