package config

import "errors"

// Configuration validation errors returned by Config.Validate.
// Callers match them with errors.Is.
var (
	// ErrNoTarget is returned when no root URL is given.
	ErrNoTarget = errors.New("no target specified: provide at least one URL to crawl")

	// ErrInvalidTimeout is returned when the timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidConcurrency is returned when the worker count is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidBatchSize is returned when the batch size is not positive.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrInvalidMaxPages is returned when the page budget or depth limit is
	// negative. Use 0 for no limit.
	ErrInvalidMaxPages = errors.New("invalid page or depth limit: must be non-negative")

	// ErrInvalidCrawlDelay is returned when the crawl delay is negative.
	ErrInvalidCrawlDelay = errors.New("invalid crawl delay: must be non-negative")

	// ErrInvalidRate is returned when the per-host rate is negative.
	ErrInvalidRate = errors.New("invalid rate: must be non-negative")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrInvalidChangeFrequency is returned for a change frequency the
	// sitemap protocol does not define.
	ErrInvalidChangeFrequency = errors.New("invalid change frequency: must be one of always, hourly, daily, weekly, monthly, yearly, never")

	// ErrInvalidPriority is returned when the priority is outside 0.0 to 1.0.
	ErrInvalidPriority = errors.New("invalid priority: must be between 0.0 and 1.0")
)
