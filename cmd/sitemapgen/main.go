// Package main provides the entry point for the sitemapgen CLI.
//
// sitemapgen crawls a website from its root URL and writes an XML sitemap
// listing every reachable page.
//
// Usage:
//
//	sitemapgen generate https://example.com
//	sitemapgen generate -o public/sitemap.xml https://example.com
//
// See --help for all available options.
package main

// main is the entry point for sitemapgen.
func main() {
	Execute()
}
