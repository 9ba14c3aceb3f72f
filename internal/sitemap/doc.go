// Package sitemap holds sitemap entries and renders them as sitemaps.org
// 0.9 XML.
//
// A Sitemap is the accumulator a crawl writes into: entries are appended
// concurrently while pages are fetched and rendered once the crawl is over.
// Files larger than the protocol limit of 50,000 URLs are split into numbered
// parts tied together by a sitemap index.
//
//	sm := sitemap.New()
//	sm.Add(sitemap.NewURL("https://example.com/", time.Now()))
//	if err := sm.WriteToFile("sitemap.xml"); err != nil {
//	    return err
//	}
package sitemap
