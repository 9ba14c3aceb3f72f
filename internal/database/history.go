package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/sitemapgen/internal/model"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("crawl run not found")

// HistoryDB records crawl runs and the pages they fetched.
type HistoryDB struct {
	db     *sql.DB
	dbPath string
}

// Options configures HistoryDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file and its directory.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens the history database at path.
// Without CreateIfNotExists a missing file is an error.
func Open(path string, opts Options) (*HistoryDB, error) {
	if !opts.CreateIfNotExists {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("database not found at %s", path)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	mode := "rw"
	if opts.CreateIfNotExists {
		mode = "rwc"
	}
	dsn := path + "?mode=" + mode + "&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	hdb := &HistoryDB{db: db, dbPath: path}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := hdb.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return hdb, nil
}

// Path returns the database file path.
func (h *HistoryDB) Path() string {
	return h.dbPath
}

// Close closes the database connection.
func (h *HistoryDB) Close() error {
	return h.db.Close()
}

func (h *HistoryDB) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS crawl_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		site TEXT NOT NULL,
		root_url TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		pages INTEGER NOT NULL DEFAULT 0,
		sitemap_entries INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		timed_out INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		report_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_site ON crawl_runs(site, started_at);

	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES crawl_runs(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		status_code INTEGER,
		content_type TEXT,
		title TEXT,
		depth INTEGER,
		hash TEXT,
		lastmod TEXT,
		in_sitemap INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		duration_ms INTEGER,
		UNIQUE(run_id, url)
	);

	CREATE INDEX IF NOT EXISTS idx_pages_run ON pages(run_id);
	`

	_, err := h.db.ExecContext(ctx, schema)
	return err
}

// RunMetadata summarizes one stored run without loading its report.
type RunMetadata struct {
	ID             int64     `json:"id"`
	Site           string    `json:"site"`
	RootURL        string    `json:"root_url"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at,omitzero"`
	Pages          int       `json:"pages"`
	SitemapEntries int       `json:"sitemap_entries"`
	Failed         int       `json:"failed"`
	TimedOut       bool      `json:"timed_out"`
	Error          string    `json:"error,omitempty"` //nolint:tagliatelle // error is conventional
}

// SaveCrawlReport stores report and its pages in one transaction and
// returns the new run ID.
func (h *HistoryDB) SaveCrawlReport(ctx context.Context, report *model.CrawlReport) (int64, error) {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize report: %w", err)
	}
	summary := report.Summary()

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
	INSERT INTO crawl_runs (site, root_url, started_at, finished_at, pages, sitemap_entries, failed, timed_out, error, report_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.Site,
		report.RootURL,
		formatTimestamp(report.StartedAt),
		formatTimestamp(report.FinishedAt),
		summary.Pages,
		report.SitemapEntries,
		summary.Failed+summary.ClientError+summary.ServerError,
		report.TimedOut,
		report.ErrorMessage,
		string(reportJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save crawl run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO pages (run_id, url, status_code, content_type, title, depth, hash, lastmod, in_sitemap, error, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, url) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare page insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range report.Pages {
		if _, err := stmt.ExecContext(ctx,
			runID,
			p.URL,
			p.StatusCode,
			p.ContentType,
			p.Title,
			p.Depth,
			p.Hash,
			formatTimestamp(p.SitemapLastMod),
			p.InSitemap,
			p.Error,
			p.Duration.Milliseconds(),
		); err != nil {
			return 0, fmt.Errorf("failed to save page %s: %w", p.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit crawl run: %w", err)
	}
	return runID, nil
}

// LatestPages returns the pages of the most recent run for site keyed by
// URL, along with the run ID. A site without history yields 0 and an empty
// map.
func (h *HistoryDB) LatestPages(ctx context.Context, site string) (int64, map[string]*model.PageRecord, error) {
	var runID int64
	err := h.db.QueryRowContext(ctx, `
	SELECT id FROM crawl_runs
	WHERE site = ?
	ORDER BY started_at DESC, id DESC
	LIMIT 1`, site).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, map[string]*model.PageRecord{}, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to find latest run: %w", err)
	}

	pages, err := h.pagesOf(ctx, runID)
	if err != nil {
		return 0, nil, err
	}
	byURL := make(map[string]*model.PageRecord, len(pages))
	for _, p := range pages {
		byURL[p.URL] = p
	}
	return runID, byURL, nil
}

// RunPages returns the stored pages of a run ordered by URL.
func (h *HistoryDB) RunPages(ctx context.Context, runID int64) ([]*model.PageRecord, error) {
	return h.pagesOf(ctx, runID)
}

func (h *HistoryDB) pagesOf(ctx context.Context, runID int64) ([]*model.PageRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
	SELECT url, status_code, content_type, title, depth, hash, lastmod, in_sitemap, error, duration_ms
	FROM pages
	WHERE run_id = ?
	ORDER BY url`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pages: %w", err)
	}
	defer rows.Close()

	var pages []*model.PageRecord
	for rows.Next() {
		var (
			p          model.PageRecord
			lastmod    sql.NullString
			errMsg     sql.NullString
			contentTyp sql.NullString
			title      sql.NullString
			hash       sql.NullString
			durationMS sql.NullInt64
		)
		if err := rows.Scan(&p.URL, &p.StatusCode, &contentTyp, &title, &p.Depth, &hash, &lastmod, &p.InSitemap, &errMsg, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		p.ContentType = contentTyp.String
		p.Title = title.String
		p.Hash = hash.String
		p.Error = errMsg.String
		p.SitemapLastMod = parseTimestamp(lastmod.String)
		p.Duration = time.Duration(durationMS.Int64) * time.Millisecond
		pages = append(pages, &p)
	}
	return pages, rows.Err()
}

// ListSites returns every site with at least one stored run.
func (h *HistoryDB) ListSites(ctx context.Context) ([]string, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT DISTINCT site FROM crawl_runs ORDER BY site`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	defer rows.Close()

	var sites []string
	for rows.Next() {
		var site string
		if err := rows.Scan(&site); err != nil {
			return nil, fmt.Errorf("failed to scan site: %w", err)
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// GetHistory returns run metadata for site, newest first.
func (h *HistoryDB) GetHistory(ctx context.Context, site string) ([]RunMetadata, error) {
	rows, err := h.db.QueryContext(ctx, `
	SELECT id, site, root_url, started_at, finished_at, pages, sitemap_entries, failed, timed_out, error
	FROM crawl_runs
	WHERE site = ?
	ORDER BY started_at DESC, id DESC`, site)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var runs []RunMetadata
	for rows.Next() {
		var (
			meta       RunMetadata
			startedAt  string
			finishedAt sql.NullString
			errMsg     sql.NullString
		)
		if err := rows.Scan(&meta.ID, &meta.Site, &meta.RootURL, &startedAt, &finishedAt,
			&meta.Pages, &meta.SitemapEntries, &meta.Failed, &meta.TimedOut, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		meta.StartedAt = parseTimestamp(startedAt)
		meta.FinishedAt = parseTimestamp(finishedAt.String)
		meta.Error = errMsg.String
		runs = append(runs, meta)
	}
	return runs, rows.Err()
}

// GetRunByID loads the full report stored for a run.
func (h *HistoryDB) GetRunByID(ctx context.Context, id int64) (*model.CrawlReport, error) {
	var reportJSON string
	err := h.db.QueryRowContext(ctx, `SELECT report_json FROM crawl_runs WHERE id = ?`, id).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl run: %w", err)
	}

	var report model.CrawlReport
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &report, nil
}

// Prune deletes all but the newest keep runs of site and returns how many
// runs were removed.
func (h *HistoryDB) Prune(ctx context.Context, site string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	const stale = `
	SELECT id FROM crawl_runs
	WHERE site = ?
	ORDER BY started_at DESC, id DESC
	LIMIT -1 OFFSET ?`

	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE run_id IN (`+stale+`)`, site, keep); err != nil {
		return 0, fmt.Errorf("failed to prune pages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM crawl_runs WHERE id IN (`+stale+`)`, site, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return removed, nil
}

// formatTimestamp stores times in UTC with nanoseconds so that text
// ordering matches time ordering. The zero time is stored as "".
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}

const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// timestampFormats contains the timestamp formats that may be stored.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	timestampLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05", // SQLite default datetime format
}

// parseTimestamp tries each known format and returns the zero time when
// none matches.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
