// Package model defines the data passed between the crawl pipeline, the
// history database and the report writers.
//
//   - PageRecord: what is kept about one fetched URL (status, title, depth,
//     SHA3-256 content hash, timing)
//   - CrawlReport: everything known about one site's crawl
//   - Summary: counts derived from a CrawlReport for display
//
// The types live in their own package so that pipeline, database and report
// can share them without importing each other.
package model
