// Package generator builds the sitemap of one website.
//
// A Generator wires the crawl engine for the common case: it crawls every
// page on the root URL's host, honours robots.txt, and turns each fetched
// page into a sitemap entry with lastmod set to the crawl time, a daily
// change frequency and a priority of 0.8.
//
//	sm, err := generator.New("https://example.com").
//	    ShouldCrawl(func(u crawler.URL) bool {
//	        return !strings.HasPrefix(u.Path(), "/drafts")
//	    }).
//	    HasCrawled(func(entry sitemap.URL, result *crawler.FetchResult) (sitemap.URL, bool) {
//	        if strings.HasPrefix(entry.Loc, "https://example.com/blog") {
//	            return entry.SetPriority(0.5), true
//	        }
//	        return entry, true
//	    }).
//	    GetSitemap(ctx)
package generator
