// Package config provides the configuration of a sitemapgen run: crawl
// limits, politeness settings, output and report options, and per-site
// overrides loaded from a .sitemapgen YAML file.
package config
