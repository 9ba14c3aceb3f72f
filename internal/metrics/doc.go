// Package metrics exports crawl activity to Prometheus.
//
// Metrics owns a private registry so that several crawls in one process,
// or tests running in parallel, never collide on the default registry.
// Metrics.Site returns a crawler.Recorder that labels every sample with
// the crawled site.
package metrics
