// Package pipeline runs the stages of one site crawl in sequence.
//
// A crawl of one site goes through the CrawlStep (fetch pages and build the
// sitemap), the HistoryStep (compare with the previous run and keep the
// lastmod of unchanged pages) and the WriteSitemapStep (write the sitemap
// files). Each stage is a Step that receives the current model.CrawlReport
// and fills in its part.
//
// When the context is cancelled between steps, the remaining steps are
// skipped unless they implement Finalizer, so an interrupted crawl still
// gets its partial sitemap written and recorded.
//
// BatchProcessor crawls several sites at once, bounded with errgroup.
package pipeline
