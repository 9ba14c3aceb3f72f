package model

import (
	"encoding/hex"
	"mime"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// PageRecord is what a crawl remembers about one fetched URL.
// The body itself is not kept; Hash stands in for it when comparing runs.
type PageRecord struct {
	// URL is the normalized URL that was requested.
	URL string `json:"url"`

	// StatusCode is the final HTTP status after redirects.
	// 0 means no response was received.
	StatusCode int `json:"status_code"`

	// ContentType is the raw Content-Type header.
	ContentType string `json:"content_type,omitempty"`

	// Title is the text of the <title> element for HTML pages.
	Title string `json:"title,omitempty"`

	// Depth is the number of links followed from the root.
	Depth int `json:"depth"`

	// Hash is the hex SHA3-256 of the response body.
	// Empty when there was no body.
	Hash string `json:"hash,omitempty"`

	// Error is the fetch failure, if any.
	Error string `json:"error,omitempty"` //nolint:tagliatelle // error is conventional

	// Duration is the time spent fetching the page.
	Duration time.Duration `json:"duration"`

	// FetchedAt is when the response was received.
	FetchedAt time.Time `json:"fetched_at"`

	// LastModified is the server's Last-Modified header, if sent.
	LastModified time.Time `json:"last_modified,omitzero"`

	// NoIndex is set when the page asked not to be indexed.
	NoIndex bool `json:"noindex,omitempty"`

	// InSitemap is set when the page produced a sitemap entry.
	InSitemap bool `json:"in_sitemap"`

	// SitemapLastMod is the lastmod written for the page's sitemap entry.
	SitemapLastMod time.Time `json:"sitemap_lastmod,omitzero"`

	// Unchanged is set when the hash matches the previous crawl.
	Unchanged bool `json:"unchanged,omitempty"`
}

// ComputeHash sets Hash from body. An empty body clears it.
func (p *PageRecord) ComputeHash(body []byte) {
	p.Hash = HashContent(body)
}

// HashContent returns the hex SHA3-256 digest of body, or "" for an empty
// body.
func HashContent(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	sum := sha3.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Failed reports whether the fetch did not produce a usable response.
func (p *PageRecord) Failed() bool {
	return p.Error != "" || p.StatusCode == 0 || p.StatusCode >= 400
}

// Class returns the status class of the page.
func (p *PageRecord) Class() StatusClass {
	return ClassOf(p.StatusCode)
}

// IsHTML returns true if the content type indicates HTML.
func (p *PageRecord) IsHTML() bool {
	mediaType, _, err := mime.ParseMediaType(p.ContentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(p.ContentType, ";")[0]))
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
