package config

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/nao1215/sitemapgen/internal/sitemap"
)

// SiteConfig holds the settings for one crawled host.
type SiteConfig struct {
	// Cookie is sent with every request to the site.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are extra HTTP headers sent with every request to the site.
	Headers map[string]string `yaml:"headers,omitempty"`

	// IgnorePatterns are glob patterns matched against the URL path.
	// Matching URLs are neither fetched nor listed in the sitemap.
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty"`

	// FollowPatterns restrict the crawl to matching paths when non-empty.
	// The root URL is always fetched.
	FollowPatterns []string `yaml:"followPatterns,omitempty"`

	// MaxDepth and MaxPages override the global limits when non-zero.
	MaxDepth int `yaml:"maxDepth,omitempty"`
	MaxPages int `yaml:"maxPages,omitempty"`

	// CrawlDelay overrides the global per-host delay when non-zero.
	CrawlDelay time.Duration `yaml:"crawlDelay,omitempty"`

	// ChangeFrequency and Priority override the sitemap entry defaults.
	ChangeFrequency string   `yaml:"changeFrequency,omitempty"`
	Priority        *float64 `yaml:"priority,omitempty"`

	// Output overrides the sitemap path for this site.
	Output string `yaml:"output,omitempty"`

	// IgnoreRobots disables robots.txt checks for this site.
	IgnoreRobots bool `yaml:"ignoreRobots,omitempty"`
}

// Validate checks the values the sitemap protocol constrains.
func (sc SiteConfig) Validate() error {
	if sc.ChangeFrequency != "" {
		if _, err := sitemap.ParseChangeFrequency(sc.ChangeFrequency); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidChangeFrequency, sc.ChangeFrequency)
		}
	}
	if sc.Priority != nil && sitemap.ValidatePriority(*sc.Priority) != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPriority, *sc.Priority)
	}
	if sc.MaxDepth < 0 || sc.MaxPages < 0 {
		return ErrInvalidMaxPages
	}
	if sc.CrawlDelay < 0 {
		return ErrInvalidCrawlDelay
	}
	return nil
}

// File represents the structure of the .sitemapgen configuration file.
type File struct {
	// Sites maps host names (e.g. "example.com") to their settings.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults apply to every site unless overridden in Sites.
	Defaults SiteConfig `yaml:"defaults,omitempty"`
}

// Validate checks the defaults and every site entry.
func (cf *File) Validate() error {
	if err := cf.Defaults.Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	for host, sc := range cf.Sites {
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("site %s: %w", host, err)
		}
	}
	return nil
}

// GetSiteConfig returns the settings for host, merging the site entry over
// the defaults field by field. Host matching ignores case and a "www."
// prefix is tried as a fallback. A nil File yields the zero SiteConfig.
func (cf *File) GetSiteConfig(host string) SiteConfig {
	if cf == nil {
		return SiteConfig{}
	}

	result := cf.Defaults
	if len(cf.Defaults.Headers) > 0 {
		result.Headers = maps.Clone(cf.Defaults.Headers)
	}

	site, ok := cf.lookup(host)
	if !ok {
		return result
	}

	if site.Cookie != "" {
		result.Cookie = site.Cookie
	}
	if len(site.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string, len(site.Headers))
		}
		maps.Copy(result.Headers, site.Headers)
	}
	if len(site.IgnorePatterns) > 0 {
		result.IgnorePatterns = site.IgnorePatterns
	}
	if len(site.FollowPatterns) > 0 {
		result.FollowPatterns = site.FollowPatterns
	}
	if site.MaxDepth != 0 {
		result.MaxDepth = site.MaxDepth
	}
	if site.MaxPages != 0 {
		result.MaxPages = site.MaxPages
	}
	if site.CrawlDelay != 0 {
		result.CrawlDelay = site.CrawlDelay
	}
	if site.ChangeFrequency != "" {
		result.ChangeFrequency = site.ChangeFrequency
	}
	if site.Priority != nil {
		result.Priority = site.Priority
	}
	if site.Output != "" {
		result.Output = site.Output
	}
	if site.IgnoreRobots {
		result.IgnoreRobots = true
	}
	return result
}

func (cf *File) lookup(host string) (SiteConfig, bool) {
	host = strings.ToLower(host)
	candidates := []string{host}
	if trimmed, ok := strings.CutPrefix(host, "www."); ok {
		candidates = append(candidates, trimmed)
	} else {
		candidates = append(candidates, "www."+host)
	}

	for _, c := range candidates {
		for key, sc := range cf.Sites {
			if strings.EqualFold(key, c) {
				return sc, true
			}
		}
	}
	return SiteConfig{}, false
}
