// Package database stores crawl history in SQLite.
//
// Every run of sitemapgen can be recorded: the run itself (site, timing,
// counts, the full JSON report) and one row per fetched page with its
// content hash and the lastmod written to the sitemap. The next crawl of the
// same site reads the latest run back to keep lastmod stable for pages whose
// content did not change.
//
// SQLite via modernc.org/sqlite keeps the history in a single CGO-free file
// under the XDG data directory. WAL mode lets `sitemapgen history` read
// while a crawl writes.
package database
