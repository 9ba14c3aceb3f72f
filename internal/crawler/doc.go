// Package crawler is the crawl engine behind sitemap generation.
//
// # Architecture
//
// A crawl is driven by a Coordinator. It seeds a Frontier with the root URL
// and runs a fixed pool of workers over it. Each worker dequeues a URL,
// fetches it through a Fetcher, parses the page with an Extractor, and
// hands the result to an Observer that may produce one output record.
// Discovered links go back to the Frontier if the Profile accepts them.
//
// Design decision: the Frontier owns both deduplication and termination.
// A URL is marked visited when it is enqueued, not when it is fetched, and
// the in-flight counter lives under the same lock as the pending queue.
// That makes "nothing pending and nothing in flight" a single atomic
// observation, so a worker can never be caught between taking an item and
// counting it.
//
// # Components
//
//   - URL / Normalize: canonical http(s) URLs used as dedup keys
//   - Frontier: FIFO queue with visited set and in-flight tracking
//   - Fetcher / HTTPFetcher: GET with timeout; failures are data
//   - Extractor: goquery-based link, title and meta robots extraction
//   - Profile: crawl policy (SameHost, PatternProfile, AllOf)
//   - Robots, HostLimiter: robots.txt rules and per-host politeness
//   - Coordinator / Crawl: the worker pool and state machine
//
// # Errors
//
// Malformed links are dropped (ErrInvalidURL, logged at debug). Failed
// fetches are passed to the Observer like any other result. Only an
// invalid root (ErrInvalidRootURL) or a failing policy (ErrPolicy) aborts
// a crawl.
//
// # Usage
//
//	root := crawler.MustNormalize("https://example.com/")
//	records, err := crawler.Crawl(ctx, root.String(),
//		crawler.NewHTTPFetcher(nil),
//		crawler.SameHost(root),
//		crawler.ObserverFunc[string](func(u crawler.URL, r *crawler.FetchResult) (string, bool) {
//			return u.String(), !r.Failed()
//		}),
//		crawler.WithConcurrency(8),
//	)
package crawler
