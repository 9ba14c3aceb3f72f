package crawler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// maxRobotsBodySize limits how much of a robots.txt file is read.
const maxRobotsBodySize = 512 * 1024

// Robots checks URLs against the basic allow and disallow rules of each
// host's robots.txt. Files are fetched once per scheme and host, lazily,
// and cached for the life of the value.
//
// A robots.txt that cannot be fetched allows everything; 4xx means no
// rules; 5xx disallows the whole host, as robotstxt.FromStatusAndBytes
// decides.
type Robots struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]*robotstxt.RobotsData
	flight singleflight.Group
}

// RobotsOption configures Robots.
type RobotsOption func(*Robots)

// WithRobotsTimeout bounds the robots.txt request.
func WithRobotsTimeout(d time.Duration) RobotsOption {
	return func(r *Robots) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRobotsLogger sets the logger.
func WithRobotsLogger(logger *slog.Logger) RobotsOption {
	return func(r *Robots) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRobots creates a robots.txt checker that matches rules for userAgent.
func NewRobots(client *http.Client, userAgent string, opts ...RobotsOption) *Robots {
	if client == nil {
		client = http.DefaultClient
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	r := &Robots{
		client:    client,
		userAgent: userAgent,
		timeout:   10 * time.Second,
		logger:    slog.Default(),
		cache:     make(map[string]*robotstxt.RobotsData),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Allowed reports whether u may be fetched.
func (r *Robots) Allowed(ctx context.Context, u URL) bool {
	if u.IsZero() {
		return false
	}

	data := r.rulesFor(ctx, u)
	if data == nil {
		return true
	}
	return data.TestAgent(u.RequestURI(), r.userAgent)
}

// CrawlDelay returns the Crawl-delay the host's robots.txt asks for, or 0
// when the file has not been fetched yet or sets none.
func (r *Robots) CrawlDelay(u URL) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data := r.cache[u.Scheme()+"://"+u.HostPort()]
	if data == nil {
		return 0
	}
	return data.FindGroup(r.userAgent).CrawlDelay
}

func (r *Robots) rulesFor(ctx context.Context, u URL) *robotstxt.RobotsData {
	origin := u.Scheme() + "://" + u.HostPort()

	r.mu.RLock()
	data, ok := r.cache[origin]
	r.mu.RUnlock()
	if ok {
		return data
	}

	v, _, _ := r.flight.Do(origin, func() (any, error) { //nolint:errcheck // fetch never returns an error
		r.mu.RLock()
		cached, ok := r.cache[origin]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}

		fetched := r.fetch(ctx, origin)
		r.mu.Lock()
		r.cache[origin] = fetched
		r.mu.Unlock()
		return fetched, nil
	})

	data, _ = v.(*robotstxt.RobotsData)
	return data
}

// fetch downloads and parses robots.txt for origin. Nil means no
// restrictions.
func (r *Robots) fetch(ctx context.Context, origin string) *robotstxt.RobotsData {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	robotsURL := origin + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("robots.txt unavailable", "url", robotsURL, "error", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodySize))
	if err != nil {
		r.logger.Debug("robots.txt read failed", "url", robotsURL, "error", err)
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		r.logger.Debug("robots.txt parse failed", "url", robotsURL, "error", err)
		return nil
	}

	return data
}
