package database

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nao1215/sitemapgen/internal/model"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *HistoryDB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "history.db"), DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newReport(site string, started time.Time, pages ...*model.PageRecord) *model.CrawlReport {
	r := model.NewCrawlReport(site, "https://"+site+"/")
	r.StartedAt = started
	r.FinishedAt = started.Add(time.Minute)
	for _, p := range pages {
		r.AddPage(p)
		if p.InSitemap {
			r.SitemapEntries++
		}
	}
	return r
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates database in new directory", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "newdir", "subdir", "history.db")
		db, err := Open(path, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		if _, err := os.Stat(path); err != nil {
			t.Errorf("database file was not created: %v", err)
		}
		if db.Path() != path {
			t.Errorf("expected path %s, got %s", path, db.Path())
		}
	})

	t.Run("CreateIfNotExists=false returns error when database does not exist", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "missing.db")
		_, err := Open(path, Options{CreateIfNotExists: false})
		if err == nil {
			t.Fatal("expected error for missing database")
		}
		if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
			t.Error("expected no file to be created")
		}
	})

	t.Run("reopens an existing database", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "history.db")
		db, err := Open(path, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		if _, err := db.SaveCrawlReport(t.Context(), newReport("example.com", time.Now())); err != nil {
			t.Fatalf("failed to save: %v", err)
		}
		_ = db.Close()

		db, err = Open(path, Options{CreateIfNotExists: false, EnableWAL: true})
		if err != nil {
			t.Fatalf("failed to reopen database: %v", err)
		}
		defer db.Close()

		sites, err := db.ListSites(t.Context())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(sites) != 1 || sites[0] != "example.com" {
			t.Errorf("expected [example.com], got %v", sites)
		}
	})
}

func TestSaveAndLoadPages(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := t.Context()
	lastmod := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	report := newReport("example.com", time.Now(),
		&model.PageRecord{
			URL: "https://example.com/", StatusCode: 200, ContentType: "text/html",
			Title: "Home", Hash: "abc", InSitemap: true, SitemapLastMod: lastmod,
			Duration: 150 * time.Millisecond,
		},
		&model.PageRecord{
			URL: "https://example.com/missing", StatusCode: 404, Depth: 1,
			Error: "unexpected status 404",
		},
	)

	runID, err := db.SaveCrawlReport(ctx, report)
	if err != nil {
		t.Fatalf("failed to save report: %v", err)
	}
	if runID == 0 {
		t.Fatal("expected a run id")
	}

	latestID, pages, err := db.LatestPages(ctx, "example.com")
	if err != nil {
		t.Fatalf("failed to load pages: %v", err)
	}
	if latestID != runID {
		t.Errorf("expected run %d, got %d", runID, latestID)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}

	home := pages["https://example.com/"]
	if home == nil {
		t.Fatal("expected home page")
	}
	if home.Title != "Home" || home.Hash != "abc" || !home.InSitemap {
		t.Errorf("unexpected home record: %+v", home)
	}
	if !home.SitemapLastMod.Equal(lastmod) {
		t.Errorf("expected lastmod %v, got %v", lastmod, home.SitemapLastMod)
	}
	if home.Duration != 150*time.Millisecond {
		t.Errorf("expected duration 150ms, got %v", home.Duration)
	}

	missing := pages["https://example.com/missing"]
	if missing.InSitemap || missing.Error == "" || missing.Depth != 1 || !missing.SitemapLastMod.IsZero() {
		t.Errorf("unexpected missing record: %+v", missing)
	}
}

func TestLatestPages_NoHistory(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	runID, pages, err := db.LatestPages(t.Context(), "unknown.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runID != 0 || len(pages) != 0 {
		t.Errorf("expected no history, got run %d with %d pages", runID, len(pages))
	}
}

func TestLatestPages_PicksNewestRun(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := t.Context()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, hash := range []string{"old", "new"} {
		r := newReport("example.com", base.Add(time.Duration(i)*time.Hour),
			&model.PageRecord{URL: "https://example.com/", StatusCode: 200, Hash: hash})
		if _, err := db.SaveCrawlReport(ctx, r); err != nil {
			t.Fatalf("failed to save: %v", err)
		}
	}
	if _, err := db.SaveCrawlReport(ctx, newReport("other.com", base.Add(5*time.Hour))); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	_, pages, err := db.LatestPages(ctx, "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := pages["https://example.com/"].Hash; got != "new" {
		t.Errorf("expected the newest run, got hash %q", got)
	}
}

func TestGetHistory(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := t.Context()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := range 3 {
		r := newReport("example.com", base.Add(time.Duration(i)*24*time.Hour),
			&model.PageRecord{URL: "https://example.com/", StatusCode: 200, InSitemap: true},
			&model.PageRecord{URL: "https://example.com/x", Error: "timeout"},
		)
		if i == 2 {
			r.TimedOut = true
			r.SetError(errors.New("interrupted"))
		}
		if _, err := db.SaveCrawlReport(ctx, r); err != nil {
			t.Fatalf("failed to save: %v", err)
		}
	}

	runs, err := db.GetHistory(ctx, "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}

	newest := runs[0]
	if !newest.StartedAt.Equal(base.Add(48 * time.Hour)) {
		t.Errorf("expected newest run first, got %v", newest.StartedAt)
	}
	if newest.Pages != 2 || newest.SitemapEntries != 1 || newest.Failed != 1 {
		t.Errorf("unexpected counts: %+v", newest)
	}
	if !newest.TimedOut || newest.Error != "interrupted" {
		t.Errorf("expected timed out run with error, got %+v", newest)
	}
	if newest.FinishedAt.Sub(newest.StartedAt) != time.Minute {
		t.Errorf("expected a one minute run, got %v", newest.FinishedAt.Sub(newest.StartedAt))
	}

	if runs, err := db.GetHistory(ctx, "other.com"); err != nil || len(runs) != 0 {
		t.Errorf("expected no runs for other.com, got %v (%v)", runs, err)
	}
}

func TestGetRunByID(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := t.Context()

	report := newReport("example.com", time.Now(),
		&model.PageRecord{URL: "https://example.com/", StatusCode: 200, Title: "Home"})
	report.PerformedSteps = []string{"crawl", "sitemap"}
	id, err := db.SaveCrawlReport(ctx, report)
	if err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	loaded, err := db.GetRunByID(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Site != "example.com" || len(loaded.Pages) != 1 || loaded.Pages[0].Title != "Home" {
		t.Errorf("unexpected report: %+v", loaded)
	}
	if len(loaded.PerformedSteps) != 2 {
		t.Errorf("expected steps to round trip, got %v", loaded.PerformedSteps)
	}

	if _, err := db.GetRunByID(ctx, id+100); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}

	pages, err := db.RunPages(ctx, id)
	if err != nil || len(pages) != 1 {
		t.Errorf("expected 1 page, got %d (%v)", len(pages), err)
	}
}

func TestPrune(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := t.Context()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []int64
	for i := range 4 {
		id, err := db.SaveCrawlReport(ctx, newReport("example.com", base.Add(time.Duration(i)*time.Hour),
			&model.PageRecord{URL: "https://example.com/", StatusCode: 200}))
		if err != nil {
			t.Fatalf("failed to save: %v", err)
		}
		ids = append(ids, id)
	}
	if _, err := db.SaveCrawlReport(ctx, newReport("other.com", base)); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	removed, err := db.Prune(ctx, "example.com", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 runs removed, got %d", removed)
	}

	runs, err := db.GetHistory(ctx, "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 2 || runs[1].ID != ids[2] {
		t.Errorf("expected the two newest runs to remain, got %+v", runs)
	}
	if pages, _ := db.RunPages(ctx, ids[0]); len(pages) != 0 {
		t.Errorf("expected pages of pruned runs to be deleted, got %d", len(pages))
	}
	if other, _ := db.GetHistory(ctx, "other.com"); len(other) != 1 {
		t.Errorf("expected other sites to be untouched, got %d runs", len(other))
	}
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 6, 7, 8, 9, 10, 123456789, time.UTC)
	tests := []struct {
		in   string
		want time.Time
	}{
		{formatTimestamp(ts), ts},
		{"2024-06-07T08:09:10Z", ts.Truncate(time.Second)},
		{"2024-06-07 08:09:10", ts.Truncate(time.Second)},
		{"", time.Time{}},
		{"garbage", time.Time{}},
	}

	for _, tt := range tests {
		if got := parseTimestamp(tt.in); !got.Equal(tt.want) {
			t.Errorf("parseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if formatTimestamp(time.Time{}) != "" {
		t.Error("expected zero time to format as empty string")
	}
}
