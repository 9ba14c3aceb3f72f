package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/sitemapgen/internal/config"
	"github.com/nao1215/sitemapgen/internal/crawler"
	"github.com/nao1215/sitemapgen/internal/database"
	"github.com/nao1215/sitemapgen/internal/generator"
	"github.com/nao1215/sitemapgen/internal/log"
	"github.com/nao1215/sitemapgen/internal/metrics"
	"github.com/nao1215/sitemapgen/internal/model"
	"github.com/nao1215/sitemapgen/internal/pipeline"
	"github.com/nao1215/sitemapgen/internal/report"
	"github.com/nao1215/sitemapgen/internal/sitemap"
)

// errSitesFailed is returned when at least one site could not be crawled.
var errSitesFailed = errors.New("sitemap generation failed")

// NewGenerateCmd creates the generate command.
func NewGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [url]...",
		Short: "Crawl websites and write their sitemaps",
		Long: `Generate crawls each website from its root URL and writes an XML sitemap.

Only pages on the same host as the root are followed. Pages that fail to
load, answer with an error status, or ask not to be indexed are left out of
the sitemap. A URL without a scheme is crawled over https.

With several URLs the sites are crawled concurrently (see --batch) and each
sitemap is written to "<host>.xml", inside --output when it names a
directory. Sitemaps with more than 50,000 URLs are split into numbered
files plus a sitemap index.

Press Ctrl+C to stop early: the pages found so far are still written.

Examples:
  # Crawl a site and write sitemap.xml
  sitemapgen generate https://example.com

  # Write the sitemap somewhere else
  sitemapgen generate -o public/sitemap.xml https://example.com

  # Limit the crawl and slow it down
  sitemapgen generate --max-pages 500 --depth 3 --delay 200ms https://example.com

  # Crawl several sites, two at a time
  sitemapgen generate -b 2 -o sitemaps https://example.com https://example.org

  # Output a Markdown report, e.g. for a CI job summary
  sitemapgen generate --markdown --report-file report.md https://example.com

  # Expose Prometheus metrics while crawling
  sitemapgen generate --metrics-addr :9090 https://example.com

Configuration file (.sitemapgen) example:
  defaults:
    ignorePatterns:
      - "/admin/*"
  sites:
    example.com:
      cookie: "session_id=abc123"
      maxDepth: 5
      changeFrequency: weekly`,
		Args: cobra.ArbitraryArgs,
		RunE: runGenerateCmd,
	}

	// Output flags
	cmd.Flags().StringP("output", "o", config.DefaultOutput,
		"Sitemap path (a directory when several URLs are given)")

	// Crawl behavior flags
	cmd.Flags().IntP("concurrency", "n", config.DefaultConcurrency,
		"Number of fetch workers per site")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each request")
	cmd.Flags().IntP("max-pages", "p", config.DefaultMaxPages,
		"Maximum number of pages to crawl per site (0 for no limit)")
	cmd.Flags().IntP("depth", "d", config.DefaultMaxDepth,
		"Maximum link depth from the root URL (0 for no limit)")
	cmd.Flags().Duration("delay", 0,
		"Minimum delay between two requests to the same host")
	cmd.Flags().Float64("rate", 0,
		"Maximum requests per second to the same host (0 for no limit)")
	cmd.Flags().Bool("ignore-robots", false,
		"Crawl paths disallowed by robots.txt")
	cmd.Flags().String("proxy", "",
		"Proxy URL (http://, https:// or socks5://)")
	cmd.Flags().StringP("user-agent", "u", config.DefaultUserAgent,
		"User-Agent header sent with every request")
	cmd.Flags().Int64("max-body-size", config.DefaultMaxBodySize,
		"Maximum response body size in bytes")

	// Sitemap entry flags
	cmd.Flags().String("changefreq", string(config.DefaultChangeFrequency),
		"Change frequency written for every page")
	cmd.Flags().Float64("priority", config.DefaultPriority,
		"Priority written for every page (0.0 to 1.0)")

	// Batch crawling flags
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize,
		"Number of sites crawled concurrently")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .sitemapgen in current or home directory)")

	// Report flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("report-file", "r", "",
		"Write the report to a file instead of stdout")

	// Observability and history
	cmd.Flags().String("metrics-addr", "",
		"Serve Prometheus metrics on this address while crawling (e.g. :9090)")
	cmd.Flags().Bool("no-history", false,
		"Do not read or record crawl history")

	return cmd
}

// runGenerateCmd executes the generate command.
func runGenerateCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cmd.ErrOrStderr(), cfg.Verbose)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runGenerate(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr(), logger)
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildConfig creates a Config from cobra command flags.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	if cfg.Output, err = flags.GetString("output"); err != nil {
		return nil, err
	}
	if cfg.Concurrency, err = flags.GetInt("concurrency"); err != nil {
		return nil, err
	}
	if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
		return nil, err
	}
	if cfg.MaxPages, err = flags.GetInt("max-pages"); err != nil {
		return nil, err
	}
	if cfg.MaxDepth, err = flags.GetInt("depth"); err != nil {
		return nil, err
	}
	if cfg.CrawlDelay, err = flags.GetDuration("delay"); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = flags.GetFloat64("rate"); err != nil {
		return nil, err
	}
	if cfg.IgnoreRobots, err = flags.GetBool("ignore-robots"); err != nil {
		return nil, err
	}
	if cfg.ProxyAddress, err = flags.GetString("proxy"); err != nil {
		return nil, err
	}
	if cfg.UserAgent, err = flags.GetString("user-agent"); err != nil {
		return nil, err
	}
	if cfg.MaxBodySize, err = flags.GetInt64("max-body-size"); err != nil {
		return nil, err
	}
	if cfg.Priority, err = flags.GetFloat64("priority"); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = flags.GetInt("batch"); err != nil {
		return nil, err
	}
	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = flags.GetString("report-file"); err != nil {
		return nil, err
	}
	if cfg.MetricsAddr, err = flags.GetString("metrics-addr"); err != nil {
		return nil, err
	}

	changeFreq, err := flags.GetString("changefreq")
	if err != nil {
		return nil, err
	}
	if cfg.ChangeFrequency, err = sitemap.ParseChangeFrequency(changeFreq); err != nil {
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidChangeFrequency, changeFreq)
	}

	noHistory, err := flags.GetBool("no-history")
	if err != nil {
		return nil, err
	}
	cfg.SaveToDB = !noHistory
	cfg.Verbose = getVerboseFlag(cmd)

	if cfg.ConfigFilePath, err = flags.GetString("config"); err != nil {
		return nil, err
	}

	// An explicitly named config file must exist; the default locations
	// are optional.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		cfg.SiteConfigs, err = config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	default:
		cfg.SiteConfigs = &config.File{
			Sites: make(map[string]config.SiteConfig),
		}
	}

	cfg.Targets, err = normalizeTargets(args)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// normalizeTargets canonicalizes the root URLs given on the command line.
// A target without a scheme is crawled over https. Duplicates are dropped.
func normalizeTargets(args []string) ([]string, error) {
	targets := make([]string, 0, len(args))
	seen := make(map[string]struct{}, len(args))

	for _, arg := range args {
		raw := strings.TrimSpace(arg)
		if raw != "" && !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}

		u, err := crawler.Normalize(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("invalid URL %q: %w", arg, err)
		}
		if _, dup := seen[u.Key()]; dup {
			continue
		}
		seen[u.Key()] = struct{}{}
		targets = append(targets, u.String())
	}

	return targets, nil
}

// setupLogger creates the secure structured logger. Without --verbose only
// warnings and errors are shown.
func setupLogger(w io.Writer, verbose bool) *slog.Logger {
	return log.NewSecureLogger(w, verbose)
}

// runGenerate crawls every target and writes the sitemaps and the report.
func runGenerate(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer, logger *slog.Logger) error {
	if len(cfg.Targets) == 0 {
		return errors.New("no targets provided (specify one or more root URLs as arguments)")
	}

	logger.Info("starting sitemap generation",
		"targets", cfg.Targets,
		"concurrency", cfg.Concurrency,
		"batchSize", cfg.BatchSize,
		"saveToDB", cfg.SaveToDB,
	)

	var db *database.HistoryDB
	if cfg.SaveToDB {
		var err error
		db, err = database.Open(cfg.HistoryDBPath(), database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer db.Close()
		logger.Info("history database opened", "path", db.Path())
	}

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New(true)
		stopMetrics := startMetricsServer(ctx, m, cfg.MetricsAddr, logger)
		defer stopMetrics()
	}

	reports, err := runBatch(ctx, cfg, db, m, stderr, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if err != nil {
		fmt.Fprintln(stderr, "Interrupted: partial sitemaps were written.")
	}

	if err := outputReport(cfg, stdout, reports); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return failedSites(reports)
}

// runBatch crawls the targets through a BatchProcessor and returns one
// report per target, in target order.
func runBatch(ctx context.Context, cfg *config.Config, db *database.HistoryDB, m *metrics.Metrics, progress io.Writer, logger *slog.Logger) ([]*model.CrawlReport, error) {
	if len(cfg.Targets) > 1 {
		fmt.Fprintf(progress, "Crawling %d sites (concurrency: %d)...\n\n", len(cfg.Targets), cfg.BatchSize)
	}

	bp := pipeline.NewBatchProcessor(
		func(root string) *pipeline.Pipeline {
			host := pipeline.SiteOf(root)
			return createPipelineForTarget(cfg, host, cfg.SiteConfigs.GetSiteConfig(host), db, m, logger)
		},
		pipeline.WithConcurrency(cfg.BatchSize),
		pipeline.WithBatchLogger(logger),
	)

	startTime := time.Now()
	reports := make([]*model.CrawlReport, len(cfg.Targets))

	var mu sync.Mutex
	err := bp.ProcessBatchWithCallback(ctx, cfg.Targets, func(r *model.CrawlReport, index int) {
		mu.Lock()
		defer mu.Unlock()

		reports[index] = r
		fmt.Fprintf(progress, "[%d/%d] %s: %s\n", index+1, len(cfg.Targets), r.Site, progressLine(r))
	})

	fmt.Fprintf(progress, "\nFinished in %s\n", time.Since(startTime).Round(time.Millisecond))

	return reports, err
}

// progressLine summarizes one finished crawl in a single line.
func progressLine(r *model.CrawlReport) string {
	switch {
	case r.ErrorMessage != "" && !r.TimedOut:
		return "failed: " + r.ErrorMessage
	case len(r.OutputFiles) == 0:
		return fmt.Sprintf("%d pages, no sitemap written", len(r.Pages))
	default:
		return fmt.Sprintf("%d pages, %d URLs -> %s", len(r.Pages), r.SitemapEntries, strings.Join(r.OutputFiles, ", "))
	}
}

// createPipelineForTarget builds the crawl, history and write pipeline for
// one site, with site-specific settings applied.
func createPipelineForTarget(cfg *config.Config, host string, site config.SiteConfig, db *database.HistoryDB, m *metrics.Metrics, logger *slog.Logger) *pipeline.Pipeline {
	siteLogger := logger.With("site", host)

	genOpts := pipeline.GeneratorOptions(cfg, site)
	genOpts = append(genOpts, generator.WithLogger(siteLogger))
	if m != nil {
		genOpts = append(genOpts, generator.WithRecorder(m.Site(host)))
	}

	configOpts := []pipeline.DefaultPipelineOption{
		pipeline.WithPipelineOutput(cfg.OutputPath(host, site)),
		pipeline.WithPipelineGeneratorOptions(genOpts...),
		pipeline.WithPipelineLogger(siteLogger),
	}
	if db != nil {
		configOpts = append(configOpts, pipeline.WithPipelineHistory(db))
	}

	return pipeline.DefaultPipeline([]pipeline.Option{pipeline.WithLogger(logger)}, configOpts...)
}

// startMetricsServer serves m until the returned function is called. The
// server outlives an interrupt so the final values can still be scraped
// while the partial sitemaps are written.
func startMetricsServer(ctx context.Context, m *metrics.Metrics, addr string, logger *slog.Logger) func() {
	serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := m.Serve(serveCtx, addr, logger); err != nil {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// outputReport writes the reports in the requested format to stdout, or to
// the report file with a short text summary on stdout.
func outputReport(cfg *config.Config, stdout io.Writer, reports []*model.CrawlReport) error {
	output := stdout
	if cfg.ReportFile != "" {
		dir := filepath.Dir(cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer f.Close()
		output = f
	}

	var w report.Writer
	switch {
	case cfg.JSONReport:
		w = report.NewJSONWriter(output, report.WithPrettyPrint(), report.WithVersion(getVersion()))
	case cfg.MarkdownReport:
		w = report.NewMarkdownWriter(output)
	default:
		w = report.NewSimpleWriter(output, report.WithVerbose(cfg.Verbose))
	}

	if cfg.ReportFile != "" && (cfg.JSONReport || cfg.MarkdownReport) {
		w = report.NewMultiWriter(w, report.NewSimpleWriter(stdout))
	}

	var err error
	if len(reports) == 1 {
		_, err = w.Write(reports[0])
	} else {
		_, err = w.WriteAll(reports)
	}
	return err
}

// failedSites returns errSitesFailed when a crawl ended with an error other
// than an interruption.
func failedSites(reports []*model.CrawlReport) error {
	var failed []string
	for _, r := range reports {
		if r != nil && r.ErrorMessage != "" && !r.TimedOut {
			failed = append(failed, r.Site)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d site(s): %s", errSitesFailed, len(failed), len(reports), strings.Join(failed, ", "))
}
