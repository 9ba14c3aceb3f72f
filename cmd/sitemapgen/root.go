package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for sitemapgen.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitemapgen",
		Short: "Crawl a website and generate its XML sitemap",
		Long: `sitemapgen crawls a website starting from its root URL, follows every
same-site link, and writes a sitemap.xml following the sitemaps.org protocol.

Crawls honor robots.txt, run with a bounded number of workers per site, and
can be interrupted at any time: the pages found so far are still written.
Each crawl is recorded locally so that lastmod dates stay stable for pages
that did not change.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(NewGenerateCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
