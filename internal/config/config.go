package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/sitemapgen/internal/sitemap"
)

// Default configuration values.
const (
	// DefaultTimeout applies to each HTTP request, not to the whole crawl.
	DefaultTimeout = 30 * time.Second

	// DefaultConcurrency is the number of fetch workers per site.
	DefaultConcurrency = 10

	// DefaultMaxPages of 0 means no page budget.
	DefaultMaxPages = 0

	// DefaultMaxDepth of 0 means links are followed at any depth.
	DefaultMaxDepth = 0

	// DefaultBatchSize is the number of sites crawled at the same time when
	// several targets are given. Each site runs its own worker pool, so the
	// total number of connections is BatchSize * Concurrency.
	DefaultBatchSize = 4

	// DefaultOutput is the sitemap path for a single target.
	DefaultOutput = "sitemap.xml"

	// AppName is the application name used for XDG directory paths.
	AppName = "sitemapgen"

	// DefaultUserAgent identifies the crawler in HTTP requests and is the
	// agent matched against robots.txt groups.
	DefaultUserAgent = "sitemapgen/1.0 (+https://github.com/nao1215/sitemapgen)"

	// DefaultMaxBodySize limits how much of a response body is read.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB

	// DefaultChangeFrequency and DefaultPriority are written for every page
	// unless a site overrides them.
	DefaultChangeFrequency = sitemap.DefaultChangeFrequency
	DefaultPriority        = sitemap.DefaultPriority

	// HistoryDBName is the file name of the crawl history database inside
	// the data directory.
	HistoryDBName = "history.db"
)

// Config holds all options of a sitemapgen run. It is populated from CLI
// flags and passed down explicitly; nothing reads it from global state.
type Config struct {
	// Targets are the root URLs to crawl.
	Targets []string

	// Output is the sitemap path. With more than one target each site is
	// written to "<host>.xml", inside Output when it was changed from the
	// default.
	Output string

	// Concurrency is the number of fetch workers per site.
	Concurrency int

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// MaxPages caps the number of URLs admitted per site. 0 means no cap.
	MaxPages int

	// MaxDepth stops link following at this many hops from the root.
	// 0 means no limit.
	MaxDepth int

	// CrawlDelay is the minimum spacing between two requests to one host.
	CrawlDelay time.Duration

	// RateLimit caps requests per second to one host. 0 disables it.
	RateLimit float64

	// IgnoreRobots disables robots.txt checks.
	IgnoreRobots bool

	// ProxyAddress routes requests through an http(s) or socks5 proxy,
	// e.g. "socks5://127.0.0.1:9050".
	ProxyAddress string

	// UserAgent is sent with every request.
	UserAgent string

	// MaxBodySize is the maximum response body size in bytes to read.
	// Larger bodies are truncated.
	MaxBodySize int64

	// ChangeFrequency and Priority are the defaults for every sitemap entry.
	ChangeFrequency sitemap.ChangeFrequency
	Priority        float64

	// Verbose enables debug logging.
	Verbose bool

	// BatchSize is the number of sites crawled concurrently.
	BatchSize int

	// ConfigFilePath is the path to the configuration file.
	// If empty, .sitemapgen is searched for in the current directory and
	// then in the home directory.
	ConfigFilePath string

	// SiteConfigs holds per-site settings loaded from the configuration file.
	SiteConfigs *File

	// JSONReport and MarkdownReport select the report format. When neither
	// is set a plain text summary is printed. They are mutually exclusive.
	JSONReport     bool
	MarkdownReport bool

	// ReportFile redirects the report from stdout to a file.
	ReportFile string

	// MetricsAddr, when set, serves Prometheus metrics on this address for
	// the duration of the run.
	MetricsAddr string

	// DBDir is the directory holding the crawl history database.
	DBDir string

	// SaveToDB records each crawl in the history database and uses the
	// previous crawl to keep lastmod stable for unchanged pages.
	SaveToDB bool
}

// NewConfig returns a Config with every default applied.
func NewConfig() *Config {
	return &Config{
		Output:          DefaultOutput,
		Concurrency:     DefaultConcurrency,
		Timeout:         DefaultTimeout,
		MaxPages:        DefaultMaxPages,
		MaxDepth:        DefaultMaxDepth,
		UserAgent:       DefaultUserAgent,
		MaxBodySize:     DefaultMaxBodySize,
		ChangeFrequency: DefaultChangeFrequency,
		Priority:        DefaultPriority,
		BatchSize:       DefaultBatchSize,
		DBDir:           XDGDataDir(),
		SaveToDB:        true,
	}
}

// XDGDataDir returns the data directory, which holds the history database.
// On Linux: ~/.local/share/sitemapgen
// On macOS: ~/Library/Application Support/sitemapgen
// On Windows: %LOCALAPPDATA%\sitemapgen
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the configuration directory.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// HistoryDBPath returns the path of the history database under DBDir.
func (c *Config) HistoryDBPath() string {
	dir := c.DBDir
	if dir == "" {
		dir = XDGDataDir()
	}
	return filepath.Join(dir, HistoryDBName)
}

// OutputPath returns where the sitemap of host is written. A site's own
// output setting wins.
func (c *Config) OutputPath(host string, site SiteConfig) string {
	if site.Output != "" {
		return site.Output
	}
	if len(c.Targets) <= 1 {
		return c.Output
	}
	if c.Output == "" || c.Output == DefaultOutput {
		return host + ".xml"
	}
	return filepath.Join(c.Output, host+".xml")
}

// Validate checks the configuration once, after flag parsing and before
// any request is made. It returns the first problem found.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return ErrNoTarget
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.MaxPages < 0 || c.MaxDepth < 0 {
		return ErrInvalidMaxPages
	}
	if c.CrawlDelay < 0 {
		return ErrInvalidCrawlDelay
	}
	if c.RateLimit < 0 {
		return ErrInvalidRate
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if c.ChangeFrequency != "" && !c.ChangeFrequency.Valid() {
		return ErrInvalidChangeFrequency
	}
	if sitemap.ValidatePriority(c.Priority) != nil {
		return ErrInvalidPriority
	}
	return nil
}
