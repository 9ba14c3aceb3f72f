package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultConcurrency is the worker pool size used when none is configured.
const DefaultConcurrency = 10

var (
	// ErrInvalidRootURL is returned by Run when the root URL cannot be
	// normalized. No worker is started.
	ErrInvalidRootURL = errors.New("invalid root URL")

	// ErrPolicy wraps an error returned (or a panic raised) by a Profile or
	// Observer. It aborts the crawl and no records are returned.
	ErrPolicy = errors.New("crawl policy failed")

	// ErrAlreadyStarted is returned when Run is called twice on the same
	// Coordinator.
	ErrAlreadyStarted = errors.New("crawl already started")
)

// Skip reasons passed to Recorder.IncSkipped.
const (
	SkipProfile   = "profile"
	SkipRobots    = "robots"
	SkipDepth     = "depth"
	SkipDuplicate = "duplicate"
	SkipLimit     = "limit"
)

// State is the lifecycle stage of a Coordinator.
type State int32

const (
	// StateIdle means Run has not been called.
	StateIdle State = iota
	// StateRunning means workers are fetching.
	StateRunning
	// StateDraining means the frontier is empty while fetches are still in
	// flight. Links found by those fetches refill the frontier and move the
	// crawl back to StateRunning.
	StateDraining
	// StateDone means every worker has exited.
	StateDone
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Observer turns a fetched page into at most one output record.
// It is called for failed fetches too; returning false emits nothing.
// Observers are called concurrently from several workers.
type Observer[T any] interface {
	OnCrawled(u URL, result *FetchResult) (T, bool)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc[T any] func(u URL, result *FetchResult) (T, bool)

// OnCrawled calls f(u, result).
func (f ObserverFunc[T]) OnCrawled(u URL, result *FetchResult) (T, bool) {
	return f(u, result)
}

// Recorder receives crawl events, typically to export metrics.
type Recorder interface {
	ObserveFetch(result *FetchResult)
	IncSkipped(reason string)
	SetFrontierSize(n int)
}

// Stats counts what happened during a crawl.
type Stats struct {
	Fetched          int64 `json:"fetched"`
	Failed           int64 `json:"failed"`
	TimedOut         int64 `json:"timed_out"`
	SkippedByProfile int64 `json:"skipped_by_profile"`
	SkippedByRobots  int64 `json:"skipped_by_robots"`
	SkippedByDepth   int64 `json:"skipped_by_depth"`
	SkippedByLimit   int64 `json:"skipped_by_limit"`
	Duplicates       int64 `json:"duplicates"`
	Records          int64 `json:"records"`
	Visited          int64 `json:"visited"`
}

type counters struct {
	fetched    atomic.Int64
	failed     atomic.Int64
	timedOut   atomic.Int64
	byProfile  atomic.Int64
	byRobots   atomic.Int64
	byDepth    atomic.Int64
	byLimit    atomic.Int64
	duplicates atomic.Int64
}

// options holds the settings shared by every Coordinator regardless of its
// record type.
type options struct {
	concurrency int
	maxDepth    int
	maxPages    int
	logger      *slog.Logger
	robots      *Robots
	limiter     *HostLimiter
	extractor   *Extractor
	recorder    Recorder
	onFetched   func(item Item, result *FetchResult)
}

// Option configures a Coordinator.
type Option func(*options)

// WithConcurrency sets the number of workers. Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithMaxDepth stops following links from pages at depth n. The root is at
// depth 0. Zero means unlimited.
func WithMaxDepth(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxDepth = n
		}
	}
}

// WithMaxPages caps the number of distinct URLs admitted, root included.
// Zero means unlimited.
func WithMaxPages(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxPages = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRobots makes the crawl skip URLs disallowed by robots.txt.
func WithRobots(r *Robots) Option {
	return func(o *options) {
		o.robots = r
	}
}

// WithLimiter applies per-host politeness before each fetch.
func WithLimiter(l *HostLimiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

// WithExtractor replaces the default link extractor.
func WithExtractor(e *Extractor) Option {
	return func(o *options) {
		if e != nil {
			o.extractor = e
		}
	}
}

// WithRecorder sends crawl events to r.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

// WithOnFetched registers fn to be called for every fetch result, after the
// page is parsed and before the observer runs. It is called concurrently.
func WithOnFetched(fn func(item Item, result *FetchResult)) Option {
	return func(o *options) {
		o.onFetched = fn
	}
}

// Coordinator runs one crawl: it seeds the frontier with the root, drives a
// fixed pool of workers over it, filters discovered links through the
// profile, and collects observer output.
//
// A Coordinator is single use.
type Coordinator[T any] struct {
	fetcher  Fetcher
	profile  Profile
	observer Observer[T]
	opts     options

	frontier *Frontier
	acc      *Accumulator[T]
	state    atomic.Int32
	stats    counters

	errMu    sync.Mutex
	fatalErr error
}

// NewCoordinator creates a coordinator. A nil profile accepts every URL.
func NewCoordinator[T any](fetcher Fetcher, profile Profile, observer Observer[T], opts ...Option) *Coordinator[T] {
	o := options{
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.extractor == nil {
		o.extractor = NewExtractor(WithExtractorLogger(o.logger))
	}
	if profile == nil {
		profile = CrawlAll()
	}

	c := &Coordinator[T]{
		fetcher:  fetcher,
		profile:  profile,
		observer: observer,
		opts:     o,
		acc:      NewAccumulator[T](),
	}
	c.frontier = NewFrontier(WithAdmissionLimit(o.maxPages), WithOnChange(c.track))
	return c
}

// Crawl normalizes root, crawls everything reachable from it that profile
// accepts, and returns the records observer produced, in completion order.
func Crawl[T any](ctx context.Context, root string, fetcher Fetcher, profile Profile, observer Observer[T], opts ...Option) ([]T, error) {
	return NewCoordinator(fetcher, profile, observer, opts...).Run(ctx, root)
}

// Run crawls from root and blocks until the frontier is drained, Stop is
// called, ctx is cancelled, or a policy fails.
//
// Stopping early is not an error: the records gathered so far are
// returned. A policy failure returns nil records and an error wrapping
// ErrPolicy.
func (c *Coordinator[T]) Run(ctx context.Context, root string) ([]T, error) {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, ErrAlreadyStarted
	}

	rootURL, err := Normalize(root, nil)
	if err != nil {
		c.state.Store(int32(StateDone))
		return nil, fmt.Errorf("%w: %w", ErrInvalidRootURL, err)
	}

	logger := c.opts.logger.With("root", rootURL.String())

	if c.opts.robots != nil && !c.opts.robots.Allowed(ctx, rootURL) {
		logger.Warn("root URL disallowed by robots.txt")
		c.stats.byRobots.Add(1)
		c.state.Store(int32(StateDone))
		return c.acc.Records(), nil
	}

	c.frontier.Enqueue(rootURL, 0)

	stop := context.AfterFunc(ctx, c.Stop)
	defer stop()

	started := time.Now()
	logger.Info("crawl started", "concurrency", c.opts.concurrency)

	var wg sync.WaitGroup
	for range c.opts.concurrency {
		wg.Go(func() {
			c.work(ctx)
		})
	}
	wg.Wait()

	c.state.Store(int32(StateDone))

	if err := c.fatal(); err != nil {
		logger.Error("crawl aborted", "error", err)
		return nil, err
	}

	stats := c.Stats()
	logger.Info("crawl finished",
		"visited", stats.Visited,
		"fetched", stats.Fetched,
		"failed", stats.Failed,
		"records", stats.Records,
		"stopped", c.frontier.Stopped(),
		"duration", time.Since(started))

	return c.acc.Records(), nil
}

// Stop asks the crawl to end. Workers finish their current page, pending
// URLs are discarded, and Run returns. Safe to call at any time.
func (c *Coordinator[T]) Stop() {
	c.frontier.Stop()
}

// State returns the current lifecycle stage.
func (c *Coordinator[T]) State() State {
	return State(c.state.Load())
}

// Stats returns a snapshot of the crawl counters.
func (c *Coordinator[T]) Stats() Stats {
	return Stats{
		Fetched:          c.stats.fetched.Load(),
		Failed:           c.stats.failed.Load(),
		TimedOut:         c.stats.timedOut.Load(),
		SkippedByProfile: c.stats.byProfile.Load(),
		SkippedByRobots:  c.stats.byRobots.Load(),
		SkippedByDepth:   c.stats.byDepth.Load(),
		SkippedByLimit:   c.stats.byLimit.Load(),
		Duplicates:       c.stats.duplicates.Load(),
		Records:          int64(c.acc.Len()),
		Visited:          int64(c.frontier.Visited()),
	}
}

// work is one worker's loop.
func (c *Coordinator[T]) work(ctx context.Context) {
	for {
		item, ok := c.frontier.Dequeue(ctx)
		if !ok {
			return
		}

		if err := c.process(ctx, item); err != nil {
			c.fail(err)
		}
		c.frontier.Done()
		c.record(func(r Recorder) { r.SetFrontierSize(c.frontier.Pending()) })
	}
}

// track moves between Running and Draining as the frontier empties and
// refills. It is called with the frontier locked.
func (c *Coordinator[T]) track(pending, inFlight int) {
	switch {
	case pending == 0 && inFlight > 0:
		c.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
	case pending > 0:
		c.state.CompareAndSwap(int32(StateDraining), int32(StateRunning))
	}
}

// process fetches one item, hands it to the observer, and enqueues its
// links. Only policy failures are returned.
func (c *Coordinator[T]) process(ctx context.Context, item Item) error {
	u := item.URL
	logger := c.opts.logger

	if err := c.opts.limiter.Wait(ctx, u.Host()); err != nil {
		return nil
	}

	result := c.fetcher.Fetch(ctx, u)
	if result == nil {
		result = NewFailedResult(u, errors.New("fetcher returned no result"))
	}

	if result.Failed() && ctx.Err() != nil {
		// Cancelled mid-fetch; the page was never really seen.
		return nil
	}

	c.stats.fetched.Add(1)
	if result.Failed() {
		c.stats.failed.Add(1)
		if result.TimedOut() {
			c.stats.timedOut.Add(1)
		}
		logger.Warn("fetch failed", "url", u.String(), "status", result.StatusCode, "error", result.Err)
	} else {
		logger.Debug("fetched", "url", u.String(), "status", result.StatusCode, "duration", result.Duration)
	}
	c.record(func(r Recorder) { r.ObserveFetch(result) })

	result.Document = c.opts.extractor.Parse(result)

	if c.opts.onFetched != nil {
		c.opts.onFetched(item, result)
	}

	accepted, err := c.shouldCrawl(u)
	if err != nil {
		return err
	}
	if accepted {
		record, ok, err := c.observe(u, result)
		if err != nil {
			return err
		}
		if ok {
			c.acc.Add(record)
		}
	}

	if result.Document == nil || len(result.Document.Links) == 0 {
		return nil
	}

	if c.opts.maxDepth > 0 && item.Depth >= c.opts.maxDepth {
		for range result.Document.Links {
			c.skip(&c.stats.byDepth, SkipDepth)
		}
		return nil
	}

	for _, link := range result.Document.Links {
		if c.frontier.Stopped() {
			return nil
		}
		if err := c.offer(ctx, link, item.Depth+1); err != nil {
			return err
		}
	}
	return nil
}

// offer runs a discovered link through dedup, profile and robots checks
// and enqueues it.
func (c *Coordinator[T]) offer(ctx context.Context, link URL, depth int) error {
	if c.frontier.Seen(link) {
		c.skip(&c.stats.duplicates, SkipDuplicate)
		return nil
	}

	ok, err := c.shouldCrawl(link)
	if err != nil {
		return err
	}
	if !ok {
		c.skip(&c.stats.byProfile, SkipProfile)
		return nil
	}

	if c.opts.robots != nil && !c.opts.robots.Allowed(ctx, link) {
		c.opts.logger.Debug("disallowed by robots.txt", "url", link.String())
		c.skip(&c.stats.byRobots, SkipRobots)
		return nil
	}

	if !c.frontier.Enqueue(link, depth) {
		if c.frontier.Seen(link) {
			c.skip(&c.stats.duplicates, SkipDuplicate)
		} else if !c.frontier.Stopped() {
			c.skip(&c.stats.byLimit, SkipLimit)
		}
	}
	return nil
}

func (c *Coordinator[T]) skip(counter *atomic.Int64, reason string) {
	counter.Add(1)
	c.record(func(r Recorder) { r.IncSkipped(reason) })
}

func (c *Coordinator[T]) record(fn func(Recorder)) {
	if c.opts.recorder != nil {
		fn(c.opts.recorder)
	}
}

// shouldCrawl calls the profile, turning errors and panics into ErrPolicy.
func (c *Coordinator[T]) shouldCrawl(u URL) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("%w: profile panicked on %s: %v", ErrPolicy, u, r)
		}
	}()

	ok, err = c.profile.ShouldCrawl(u)
	if err != nil {
		return false, fmt.Errorf("%w: profile rejected %s: %w", ErrPolicy, u, err)
	}
	return ok, nil
}

// observe calls the observer, turning panics into ErrPolicy.
func (c *Coordinator[T]) observe(u URL, result *FetchResult) (record T, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			record, ok = zero, false
			err = fmt.Errorf("%w: observer panicked on %s: %v", ErrPolicy, u, r)
		}
	}()

	record, ok = c.observer.OnCrawled(u, result)
	return record, ok, nil
}

// fail records the first fatal error and stops the crawl.
func (c *Coordinator[T]) fail(err error) {
	c.errMu.Lock()
	if c.fatalErr == nil {
		c.fatalErr = err
	}
	c.errMu.Unlock()
	c.Stop()
}

func (c *Coordinator[T]) fatal() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.fatalErr
}

// Accumulator is an append-only, concurrency-safe list of records.
type Accumulator[T any] struct {
	mu      sync.Mutex
	records []T
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator[T any]() *Accumulator[T] {
	return &Accumulator[T]{records: make([]T, 0)}
}

// Add appends a record.
func (a *Accumulator[T]) Add(record T) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, record)
}

// Records returns a copy of the records in insertion order.
func (a *Accumulator[T]) Records() []T {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]T, len(a.records))
	copy(out, a.records)
	return out
}

// Len returns the number of records.
func (a *Accumulator[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}
