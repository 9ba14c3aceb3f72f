package model

import "time"

// Summary holds counts derived from a CrawlReport.
type Summary struct {
	Site           string              `json:"site"`
	Pages          int                 `json:"pages"`
	SitemapEntries int                 `json:"sitemap_entries"`
	ByClass        map[StatusClass]int `json:"-"`
	Success        int                 `json:"success"`
	Redirect       int                 `json:"redirect"`
	ClientError    int                 `json:"client_error"`
	ServerError    int                 `json:"server_error"`
	Failed         int                 `json:"failed"`
	NoIndex        int                 `json:"noindex"`
	Unchanged      int                 `json:"unchanged"`
	MaxDepth       int                 `json:"max_depth"`
	AverageFetch   time.Duration       `json:"average_fetch"`
	SlowestURL     string              `json:"slowest_url,omitempty"`
	SlowestFetch   time.Duration       `json:"slowest_fetch,omitempty"`
}

// Summary computes per-class counts and fetch timings over the pages.
func (r *CrawlReport) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{
		Site:           r.Site,
		Pages:          len(r.Pages),
		SitemapEntries: r.SitemapEntries,
		ByClass:        make(map[StatusClass]int),
	}

	var total time.Duration
	for _, p := range r.Pages {
		class := p.Class()
		s.ByClass[class]++
		switch class {
		case ClassSuccess:
			s.Success++
		case ClassRedirect:
			s.Redirect++
		case ClassClientError:
			s.ClientError++
		case ClassServerError:
			s.ServerError++
		case ClassFailed:
			s.Failed++
		}
		if p.NoIndex {
			s.NoIndex++
		}
		if p.Unchanged {
			s.Unchanged++
		}
		s.MaxDepth = max(s.MaxDepth, p.Depth)

		total += p.Duration
		if p.Duration > s.SlowestFetch {
			s.SlowestFetch = p.Duration
			s.SlowestURL = p.URL
		}
	}
	if len(r.Pages) > 0 {
		s.AverageFetch = total / time.Duration(len(r.Pages))
	}
	return s
}
