package crawler

import (
	"bytes"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// Document is what the extractor learned from one HTML page.
type Document struct {
	// Title is the trimmed text of the <title> element.
	Title string

	// Links are the normalized, deduplicated outbound links in document
	// order. Links from rel="nofollow" anchors are excluded.
	Links []URL

	// NoFollow is set by <meta name="robots" content="nofollow">.
	// When set, Links is empty.
	NoFollow bool

	// NoIndex is set by <meta name="robots" content="noindex">.
	NoIndex bool

	// Canonical is the <link rel="canonical"> target, if any.
	Canonical URL
}

// linkSelectors lists the elements whose attribute may point at another
// crawlable page.
var linkSelectors = []struct {
	selector string
	attr     string
}{
	{"a[href]", "href"},
	{"area[href]", "href"},
	{"frame[src]", "src"},
	{"iframe[src]", "src"},
	{"link[href]", "href"},
}

// followedLinkRels are the <link rel> values that name another page.
// Stylesheets, icons and preloads are not pages.
var followedLinkRels = map[string]struct{}{
	"canonical": {},
	"alternate": {},
	"next":      {},
	"prev":      {},
}

// Extractor pulls outbound links out of fetched HTML.
// It is safe for concurrent use.
type Extractor struct {
	respectNofollow bool
	logger          *slog.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithRespectNofollow controls whether meta robots nofollow and
// rel="nofollow" anchors suppress links. Enabled by default.
func WithRespectNofollow(respect bool) ExtractorOption {
	return func(e *Extractor) {
		e.respectNofollow = respect
	}
}

// WithExtractorLogger sets the logger used for dropped links.
func WithExtractorLogger(logger *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExtractor creates an extractor.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		respectNofollow: true,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the outbound links of result. Failed fetches and
// non-HTML bodies yield nil. Links that cannot be normalized are dropped.
func (e *Extractor) Extract(result *FetchResult) []URL {
	doc := e.Parse(result)
	if doc == nil {
		return nil
	}
	return doc.Links
}

// Parse builds a Document from a successful HTML fetch. It returns nil for
// failed fetches and non-HTML bodies.
func (e *Extractor) Parse(result *FetchResult) *Document {
	if result == nil || result.Failed() || !result.IsHTML() || len(result.Body) == 0 {
		return nil
	}

	reader, err := charset.NewReader(bytes.NewReader(result.Body), result.ContentType)
	if err != nil {
		e.logger.Debug("charset detection failed", "url", result.URL.String(), "error", err)
		reader = bytes.NewReader(result.Body)
	}

	root, err := html.Parse(reader)
	if err != nil {
		e.logger.Debug("html parse failed", "url", result.URL.String(), "error", err)
		return nil
	}
	dom := goquery.NewDocumentFromNode(root)

	doc := &Document{
		Title: strings.TrimSpace(dom.Find("title").First().Text()),
	}

	base := result.BaseURL()
	if href, ok := dom.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			b := base.ResolveReference(ref)
			if _, ok := defaultPorts[strings.ToLower(b.Scheme)]; ok {
				base = b
			}
		}
	}

	dom.Find("meta[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		if !strings.EqualFold(strings.TrimSpace(name), "robots") {
			return
		}
		content, _ := s.Attr("content")
		for _, directive := range strings.Split(strings.ToLower(content), ",") {
			switch strings.TrimSpace(directive) {
			case "nofollow":
				doc.NoFollow = true
			case "noindex":
				doc.NoIndex = true
			case "none":
				doc.NoFollow = true
				doc.NoIndex = true
			}
		}
	})

	if href, ok := dom.Find(`link[rel="canonical"][href]`).First().Attr("href"); ok {
		if c, err := resolveAgainst(href, base); err == nil {
			doc.Canonical = c
		}
	}

	if doc.NoFollow && e.respectNofollow {
		return doc
	}

	seen := make(map[string]struct{})
	for _, ls := range linkSelectors {
		dom.Find(ls.selector).Each(func(_ int, s *goquery.Selection) {
			if !e.follows(s) {
				return
			}
			raw, _ := s.Attr(ls.attr)
			u, ok := e.resolve(raw, base)
			if !ok {
				return
			}
			if _, dup := seen[u.Key()]; dup {
				return
			}
			seen[u.Key()] = struct{}{}
			doc.Links = append(doc.Links, u)
		})
	}

	return doc
}

// follows reports whether the element's rel attribute allows following it.
func (e *Extractor) follows(s *goquery.Selection) bool {
	rel, hasRel := s.Attr("rel")
	rels := strings.Fields(strings.ToLower(rel))

	if goquery.NodeName(s) == "link" {
		for _, r := range rels {
			if _, ok := followedLinkRels[r]; ok {
				return true
			}
		}
		return false
	}

	if !hasRel || !e.respectNofollow {
		return true
	}
	for _, r := range rels {
		if r == "nofollow" {
			return false
		}
	}
	return true
}

// resolve turns an attribute value into a normalized URL, dropping
// non-navigational schemes and anything Normalize rejects.
func (e *Extractor) resolve(raw string, base *url.URL) (URL, bool) {
	href := strings.TrimSpace(raw)
	if href == "" || strings.HasPrefix(href, "#") {
		return URL{}, false
	}

	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:", "ftp:"} {
		if strings.HasPrefix(lower, prefix) {
			return URL{}, false
		}
	}

	u, err := resolveAgainst(href, base)
	if err != nil {
		e.logger.Debug("dropping link", "href", href, "base", base.String(), "error", err)
		return URL{}, false
	}
	return u, true
}
