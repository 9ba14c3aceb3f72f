package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"

	"github.com/nao1215/sitemapgen/internal/config"
	"github.com/nao1215/sitemapgen/internal/database"
	"github.com/nao1215/sitemapgen/internal/model"
	"github.com/nao1215/sitemapgen/internal/pipeline"
	"github.com/nao1215/sitemapgen/internal/report"
)

// NewHistoryCmd creates the history command.
// It reads the crawl runs that generate records in the history database.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [site]",
		Short: "Show recorded crawls and how sitemaps changed",
		Long: `History shows the crawls recorded by 'sitemapgen generate'.

Every crawl stores its pages and their content hashes. History lists those
runs, shows the full report of a run, compares the sitemap URLs of the two
latest runs, and prunes old runs.

Examples:
  # List all sites with recorded crawls
  sitemapgen history --list-sites

  # List the crawls of a site
  sitemapgen history example.com

  # Show the report of a specific run
  sitemapgen history --run 5

  # Compare the sitemap of the latest two crawls
  sitemapgen history --diff example.com

  # Keep only the 10 most recent crawls of a site
  sitemapgen history --prune 10 example.com`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().BoolP("list-sites", "L", false,
		"List all sites with recorded crawls")
	cmd.Flags().Int64P("run", "i", 0,
		"Show the report of a run by ID (use 'history <site>' to see IDs)")
	cmd.Flags().BoolP("diff", "D", false,
		"Compare the sitemap URLs of the latest two crawls of the site")
	cmd.Flags().Int("prune", 0,
		"Delete all but the N most recent crawls of the site")

	cmd.Flags().BoolP("json", "j", false,
		"Output in JSON format")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output in Markdown format")

	return cmd
}

// historyOptions holds the parsed history flags.
type historyOptions struct {
	listSites bool
	runID     int64
	diff      bool
	prune     int
	json      bool
	markdown  bool
	site      string
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	opts, err := parseHistoryFlags(cmd, args)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	dbPath := config.NewConfig().HistoryDBPath()
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(out, "No crawl history found.")
		fmt.Fprintln(out, "\nUse 'sitemapgen generate <url>' to crawl a site.")
		return nil
	}

	db, err := database.Open(dbPath, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer db.Close()

	return runHistory(cmd.Context(), out, db, opts)
}

// parseHistoryFlags validates the flags before the database is opened.
func parseHistoryFlags(cmd *cobra.Command, args []string) (historyOptions, error) {
	var (
		opts historyOptions
		err  error
	)
	flags := cmd.Flags()

	if opts.listSites, err = flags.GetBool("list-sites"); err != nil {
		return opts, err
	}
	if opts.runID, err = flags.GetInt64("run"); err != nil {
		return opts, err
	}
	if opts.diff, err = flags.GetBool("diff"); err != nil {
		return opts, err
	}
	if opts.prune, err = flags.GetInt("prune"); err != nil {
		return opts, err
	}
	if opts.json, err = flags.GetBool("json"); err != nil {
		return opts, err
	}
	if opts.markdown, err = flags.GetBool("markdown"); err != nil {
		return opts, err
	}

	if opts.json && opts.markdown {
		return opts, config.ErrConflictingReportFormats
	}
	if opts.prune < 0 {
		return opts, fmt.Errorf("--prune must be positive, got %d", opts.prune)
	}

	if len(args) > 0 {
		opts.site = strings.ToLower(pipeline.SiteOf(args[0]))
	}
	if opts.site == "" && !opts.listSites && opts.runID == 0 {
		return opts, errors.New("site is required (use --list-sites to see recorded sites)")
	}

	return opts, nil
}

// runHistory dispatches to the requested history action.
func runHistory(ctx context.Context, out io.Writer, db *database.HistoryDB, opts historyOptions) error {
	switch {
	case opts.listSites:
		return listSites(ctx, out, db)
	case opts.runID > 0:
		return showRun(ctx, out, db, opts.runID, opts.json, opts.markdown)
	case opts.prune > 0:
		return pruneHistory(ctx, out, db, opts.site, opts.prune)
	case opts.diff:
		return diffLatestRuns(ctx, out, db, opts.site, opts.json, opts.markdown)
	default:
		return listRuns(ctx, out, db, opts.site)
	}
}

// listSites lists every site that has crawl records.
func listSites(ctx context.Context, out io.Writer, db *database.HistoryDB) error {
	sites, err := db.ListSites(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sites: %w", err)
	}

	if len(sites) == 0 {
		fmt.Fprintln(out, "No crawled sites found in the database.")
		fmt.Fprintln(out, "\nUse 'sitemapgen generate <url>' to crawl a site.")
		return nil
	}

	fmt.Fprintf(out, "Crawled sites (%d):\n\n", len(sites))
	for _, site := range sites {
		fmt.Fprintf(out, "  • %s\n", site)
	}
	fmt.Fprintln(out, "\nUse 'sitemapgen history <site>' to see the crawls of a site.")

	return nil
}

// listRuns lists the recorded crawls of site, newest first.
func listRuns(ctx context.Context, out io.Writer, db *database.HistoryDB, site string) error {
	runs, err := db.GetHistory(ctx, site)
	if err != nil {
		return fmt.Errorf("failed to get crawl history: %w", err)
	}

	if len(runs) == 0 {
		fmt.Fprintf(out, "No crawl history found for %s\n", site)
		fmt.Fprintln(out, "\nUse 'sitemapgen generate' to crawl this site.")
		return nil
	}

	fmt.Fprintf(out, "Crawl history for %s (%d crawls):\n\n", site, len(runs))
	fmt.Fprintf(out, "  %-6s  %-20s  %7s  %7s  %7s  %s\n", "ID", "Date", "Pages", "URLs", "Failed", "Status")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 68))

	for _, run := range runs {
		fmt.Fprintf(out, "  %-6d  %-20s  %7d  %7d  %7d  %s\n",
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Pages,
			run.SitemapEntries,
			run.Failed,
			runStatus(run),
		)
	}

	fmt.Fprintln(out, "\nUse 'sitemapgen history --run <id>' to show the report of a crawl.")
	fmt.Fprintln(out, "Use 'sitemapgen history --diff <site>' to compare the latest two crawls.")

	return nil
}

// runStatus describes how a stored run ended.
func runStatus(run database.RunMetadata) string {
	switch {
	case run.TimedOut:
		return "interrupted"
	case run.Error != "":
		return "error"
	default:
		return "complete"
	}
}

// showRun prints the stored report of a run with the report writers.
func showRun(ctx context.Context, out io.Writer, db *database.HistoryDB, id int64, jsonOutput, markdownOutput bool) error {
	r, err := db.GetRunByID(ctx, id)
	if err != nil {
		return err
	}

	var w report.Writer
	switch {
	case jsonOutput:
		w = report.NewJSONWriter(out, report.WithPrettyPrint(), report.WithVersion(getVersion()))
	case markdownOutput:
		w = report.NewMarkdownWriter(out)
	default:
		w = report.NewSimpleWriter(out, report.WithVerbose(true))
	}

	_, err = w.Write(r)
	return err
}

// pruneHistory deletes all but the keep most recent crawls of site.
func pruneHistory(ctx context.Context, out io.Writer, db *database.HistoryDB, site string, keep int) error {
	removed, err := db.Prune(ctx, site, keep)
	if err != nil {
		return fmt.Errorf("failed to prune history: %w", err)
	}

	fmt.Fprintf(out, "Removed %d crawl(s) of %s, kept the latest %d.\n", removed, site, keep)
	return nil
}

// RunDiff holds the sitemap changes between two crawls of a site.
type RunDiff struct {
	// Site is the crawled host.
	Site string `json:"site"`

	// PreviousRun and CurrentRun describe the compared crawls.
	PreviousRun database.RunMetadata `json:"previous_run"`
	CurrentRun  database.RunMetadata `json:"current_run"`

	// Added lists URLs that entered the sitemap.
	Added []string `json:"added,omitempty"`

	// Removed lists URLs that left the sitemap.
	Removed []string `json:"removed,omitempty"`

	// Changed lists URLs whose content hash differs.
	Changed []string `json:"changed,omitempty"`

	// UnchangedCount is the number of URLs with identical content.
	UnchangedCount int `json:"unchanged_count"`
}

// diffLatestRuns compares the sitemap URLs of the two most recent crawls.
func diffLatestRuns(ctx context.Context, out io.Writer, db *database.HistoryDB, site string, jsonOutput, markdownOutput bool) error {
	runs, err := db.GetHistory(ctx, site)
	if err != nil {
		return fmt.Errorf("failed to get crawl history: %w", err)
	}
	if len(runs) < 2 {
		return fmt.Errorf("at least 2 crawls are required for comparison (found %d)", len(runs))
	}

	current, previous := runs[0], runs[1]

	currentPages, err := db.RunPages(ctx, current.ID)
	if err != nil {
		return err
	}
	previousPages, err := db.RunPages(ctx, previous.ID)
	if err != nil {
		return err
	}

	diff := diffPages(previousPages, currentPages)
	diff.Site = site
	diff.PreviousRun = previous
	diff.CurrentRun = current

	switch {
	case jsonOutput:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(diff)
	case markdownOutput:
		return outputDiffMarkdown(out, diff)
	default:
		outputDiffText(out, diff)
		return nil
	}
}

// diffPages compares the sitemap entries of two runs. Pages are expected in
// URL order, so the result lists are sorted as well.
func diffPages(previous, current []*model.PageRecord) *RunDiff {
	prev := make(map[string]*model.PageRecord, len(previous))
	for _, p := range previous {
		if p.InSitemap {
			prev[p.URL] = p
		}
	}

	diff := &RunDiff{}
	seen := make(map[string]struct{}, len(current))
	for _, p := range current {
		if !p.InSitemap {
			continue
		}
		seen[p.URL] = struct{}{}

		old, ok := prev[p.URL]
		switch {
		case !ok:
			diff.Added = append(diff.Added, p.URL)
		case old.Hash != "" && p.Hash != "" && old.Hash != p.Hash:
			diff.Changed = append(diff.Changed, p.URL)
		default:
			diff.UnchangedCount++
		}
	}

	for _, p := range previous {
		if !p.InSitemap {
			continue
		}
		if _, ok := seen[p.URL]; !ok {
			diff.Removed = append(diff.Removed, p.URL)
		}
	}

	return diff
}

// outputDiffText prints the comparison for the terminal.
func outputDiffText(out io.Writer, diff *RunDiff) {
	fmt.Fprintf(out, "Sitemap changes for %s\n", diff.Site)
	fmt.Fprintf(out, "  Previous: #%d (%s, %d URLs)\n",
		diff.PreviousRun.ID, diff.PreviousRun.StartedAt.Local().Format("2006-01-02 15:04"), diff.PreviousRun.SitemapEntries)
	fmt.Fprintf(out, "  Current:  #%d (%s, %d URLs)\n\n",
		diff.CurrentRun.ID, diff.CurrentRun.StartedAt.Local().Format("2006-01-02 15:04"), diff.CurrentRun.SitemapEntries)

	fmt.Fprintf(out, "  Added:     %d\n", len(diff.Added))
	fmt.Fprintf(out, "  Removed:   %d\n", len(diff.Removed))
	fmt.Fprintf(out, "  Changed:   %d\n", len(diff.Changed))
	fmt.Fprintf(out, "  Unchanged: %d\n", diff.UnchangedCount)

	sections := []struct {
		mark string
		urls []string
	}{
		{"+", diff.Added},
		{"-", diff.Removed},
		{"~", diff.Changed},
	}
	for _, s := range sections {
		if len(s.urls) == 0 {
			continue
		}
		fmt.Fprintln(out)
		for _, u := range s.urls {
			fmt.Fprintf(out, "  [%s] %s\n", s.mark, u)
		}
	}
}

// outputDiffMarkdown writes the comparison as a Markdown document.
func outputDiffMarkdown(out io.Writer, diff *RunDiff) error {
	md := markdown.NewMarkdown(out)
	md.H1("Sitemap Changes: " + diff.Site)
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Previous", "Current"},
		Rows: [][]string{
			{"Run", "#" + strconv.FormatInt(diff.PreviousRun.ID, 10), "#" + strconv.FormatInt(diff.CurrentRun.ID, 10)},
			{"Date", diff.PreviousRun.StartedAt.Format("2006-01-02 15:04"), diff.CurrentRun.StartedAt.Format("2006-01-02 15:04")},
			{"Sitemap URLs", strconv.Itoa(diff.PreviousRun.SitemapEntries), strconv.Itoa(diff.CurrentRun.SitemapEntries)},
			{"Failed pages", strconv.Itoa(diff.PreviousRun.Failed), strconv.Itoa(diff.CurrentRun.Failed)},
		},
	})
	md.PlainText("")

	if len(diff.Added)+len(diff.Removed)+len(diff.Changed) == 0 {
		md.Tip("The sitemap did not change.")
		md.PlainText("")
		return md.Build()
	}

	sections := []struct {
		title string
		urls  []string
	}{
		{"Added", diff.Added},
		{"Removed", diff.Removed},
		{"Changed", diff.Changed},
	}
	for _, s := range sections {
		if len(s.urls) == 0 {
			continue
		}
		md.H2(fmt.Sprintf("%s (%d)", s.title, len(s.urls)))
		md.PlainText("")
		md.BulletList(s.urls...)
		md.PlainText("")
	}

	return md.Build()
}
