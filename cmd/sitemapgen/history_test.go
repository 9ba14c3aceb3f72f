package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/sitemapgen/internal/config"
	"github.com/nao1215/sitemapgen/internal/database"
	"github.com/nao1215/sitemapgen/internal/model"
)

// setupHistoryDB opens a history database in a temporary directory.
func setupHistoryDB(t *testing.T) *database.HistoryDB {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "history.db"), database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// saveRun stores a crawl of site with the given sitemap pages, each mapped
// to its content hash.
func saveRun(t *testing.T, db *database.HistoryDB, site string, startedAt time.Time, pages map[string]string) int64 {
	t.Helper()

	r := model.NewCrawlReport(site, "https://"+site+"/")
	r.StartedAt = startedAt
	for path, hash := range pages {
		r.AddPage(&model.PageRecord{
			URL:        "https://" + site + path,
			StatusCode: 200,
			Hash:       hash,
			InSitemap:  true,
		})
	}
	r.AddPage(&model.PageRecord{URL: "https://" + site + "/broken", StatusCode: 500})
	r.SortPages()
	r.SitemapEntries = len(pages)
	r.FinishedAt = startedAt.Add(time.Second)

	id, err := db.SaveCrawlReport(t.Context(), r)
	if err != nil {
		t.Fatalf("failed to save report: %v", err)
	}
	return id
}

func TestNewHistoryCmd(t *testing.T) {
	t.Parallel()

	cmd := NewHistoryCmd()

	if cmd.Use != "history [site]" {
		t.Errorf("unexpected Use: got %q", cmd.Use)
	}

	flagsWithShort := map[string]string{
		"list-sites": "L",
		"run":        "i",
		"diff":       "D",
		"json":       "j",
		"markdown":   "m",
	}
	for flag, shorthand := range flagsWithShort {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			t.Errorf("expected flag %q to exist", flag)
			continue
		}
		if f.Shorthand != shorthand {
			t.Errorf("flag %q: expected shorthand %q, got %q", flag, shorthand, f.Shorthand)
		}
	}
	if cmd.Flags().Lookup("prune") == nil {
		t.Error("expected prune flag to exist")
	}

	// The database location is fixed to the XDG data directory.
	if cmd.Flags().Lookup("db-dir") != nil {
		t.Error("db-dir flag should not exist")
	}
}

func TestParseHistoryFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		flags    []string
		args     []string
		wantSite string
		wantErr  bool
	}{
		{
			name:     "site from URL",
			args:     []string{"https://WWW.Example.com/blog"},
			wantSite: "www.example.com",
		},
		{
			name:     "bare host",
			args:     []string{"Example.com"},
			wantSite: "example.com",
		},
		{
			name:  "list sites needs no site",
			flags: []string{"--list-sites"},
		},
		{
			name:  "run needs no site",
			flags: []string{"--run", "3"},
		},
		{
			name:    "site required",
			wantErr: true,
		},
		{
			name:    "conflicting formats",
			flags:   []string{"--json", "--markdown"},
			args:    []string{"example.com"},
			wantErr: true,
		},
		{
			name:    "negative prune",
			flags:   []string{"--prune=-1"},
			args:    []string{"example.com"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cmd := NewHistoryCmd()
			if err := cmd.ParseFlags(tt.flags); err != nil {
				t.Fatalf("failed to parse flags: %v", err)
			}

			opts, err := parseHistoryFlags(cmd, tt.args)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if opts.site != tt.wantSite {
				t.Errorf("expected site %q, got %q", tt.wantSite, opts.site)
			}
		})
	}

	t.Run("conflicting formats sentinel", func(t *testing.T) {
		t.Parallel()

		cmd := NewHistoryCmd()
		if err := cmd.ParseFlags([]string{"-j", "-m"}); err != nil {
			t.Fatalf("failed to parse flags: %v", err)
		}
		if _, err := parseHistoryFlags(cmd, []string{"example.com"}); !errors.Is(err, config.ErrConflictingReportFormats) {
			t.Errorf("expected ErrConflictingReportFormats, got %v", err)
		}
	})
}

func TestListSites(t *testing.T) {
	t.Parallel()

	t.Run("empty database", func(t *testing.T) {
		t.Parallel()

		db := setupHistoryDB(t)
		var buf bytes.Buffer
		if err := listSites(t.Context(), &buf, db); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "No crawled sites") {
			t.Errorf("expected empty message, got %q", buf.String())
		}
	})

	t.Run("lists sites", func(t *testing.T) {
		t.Parallel()

		db := setupHistoryDB(t)
		now := time.Now()
		saveRun(t, db, "b.example", now, map[string]string{"/": "h1"})
		saveRun(t, db, "a.example", now, map[string]string{"/": "h1"})

		var buf bytes.Buffer
		if err := listSites(t.Context(), &buf, db); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := buf.String()
		if !strings.Contains(out, "Crawled sites (2)") {
			t.Errorf("expected site count, got %q", out)
		}
		if strings.Index(out, "a.example") > strings.Index(out, "b.example") {
			t.Errorf("expected sites in name order, got %q", out)
		}
	})
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	db := setupHistoryDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := saveRun(t, db, "example.com", base, map[string]string{"/": "h1"})
	second := saveRun(t, db, "example.com", base.Add(24*time.Hour), map[string]string{"/": "h1", "/about": "h2"})

	var buf bytes.Buffer
	if err := listRuns(t.Context(), &buf, db, "example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "Crawl history for example.com (2 crawls)") {
		t.Errorf("expected header, got %q", out)
	}
	firstIdx := strings.Index(out, "\n  "+strconv.FormatInt(first, 10)+" ")
	secondIdx := strings.Index(out, "\n  "+strconv.FormatInt(second, 10)+" ")
	if firstIdx < 0 || secondIdx < 0 || secondIdx > firstIdx {
		t.Errorf("expected newest run first, got %q", out)
	}
	if !strings.Contains(out, "complete") {
		t.Errorf("expected run status, got %q", out)
	}

	t.Run("unknown site", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := listRuns(t.Context(), &buf, db, "unknown.example"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "No crawl history found for unknown.example") {
			t.Errorf("expected empty message, got %q", buf.String())
		}
	})
}

func TestRunStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		run  database.RunMetadata
		want string
	}{
		{database.RunMetadata{}, "complete"},
		{database.RunMetadata{Error: "boom"}, "error"},
		{database.RunMetadata{TimedOut: true, Error: "context canceled"}, "interrupted"},
	}
	for _, tt := range tests {
		if got := runStatus(tt.run); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}

func TestShowRun(t *testing.T) {
	t.Parallel()

	db := setupHistoryDB(t)
	id := saveRun(t, db, "example.com", time.Now(), map[string]string{"/": "h1"})

	t.Run("text", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := showRun(t.Context(), &buf, db, id, false, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "SITEMAPGEN REPORT") || !strings.Contains(buf.String(), "https://example.com/broken") {
			t.Errorf("expected verbose text report, got %q", buf.String())
		}
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := showRun(t.Context(), &buf, db, id, true, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var doc map[string]any
		if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
			t.Fatalf("expected JSON, got %v", err)
		}
		if _, ok := doc["report"]; !ok {
			t.Errorf("expected report key, got %v", doc)
		}
	})

	t.Run("markdown", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := showRun(t.Context(), &buf, db, id, false, true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "# Sitemap Report") {
			t.Errorf("expected markdown report, got %q", buf.String())
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		t.Parallel()

		err := showRun(t.Context(), &bytes.Buffer{}, db, id+100, false, false)
		if !errors.Is(err, database.ErrRunNotFound) {
			t.Errorf("expected ErrRunNotFound, got %v", err)
		}
	})
}

func TestPruneHistory(t *testing.T) {
	t.Parallel()

	db := setupHistoryDB(t)
	base := time.Now().Add(-time.Hour)
	for i := range 3 {
		saveRun(t, db, "example.com", base.Add(time.Duration(i)*time.Minute), map[string]string{"/": "h1"})
	}

	var buf bytes.Buffer
	if err := pruneHistory(t.Context(), &buf, db, "example.com", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "Removed 2 crawl(s)") {
		t.Errorf("expected removal message, got %q", buf.String())
	}

	runs, err := db.GetHistory(t.Context(), "example.com")
	if err != nil {
		t.Fatalf("failed to get history: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run left, got %d", len(runs))
	}
}

func TestDiffPages(t *testing.T) {
	t.Parallel()

	page := func(url, hash string, inSitemap bool) *model.PageRecord {
		return &model.PageRecord{URL: url, Hash: hash, InSitemap: inSitemap}
	}

	previous := []*model.PageRecord{
		page("https://example.com/", "h1", true),
		page("https://example.com/about", "h2", true),
		page("https://example.com/old", "h3", true),
		page("https://example.com/private", "h4", false),
	}
	current := []*model.PageRecord{
		page("https://example.com/", "h1", true),
		page("https://example.com/about", "h2-new", true),
		page("https://example.com/new", "h5", true),
		page("https://example.com/private", "h4", true),
	}

	diff := diffPages(previous, current)

	wantAdded := []string{"https://example.com/new", "https://example.com/private"}
	if strings.Join(diff.Added, ",") != strings.Join(wantAdded, ",") {
		t.Errorf("expected added %v, got %v", wantAdded, diff.Added)
	}
	if strings.Join(diff.Removed, ",") != "https://example.com/old" {
		t.Errorf("expected removed [/old], got %v", diff.Removed)
	}
	if strings.Join(diff.Changed, ",") != "https://example.com/about" {
		t.Errorf("expected changed [/about], got %v", diff.Changed)
	}
	if diff.UnchangedCount != 1 {
		t.Errorf("expected 1 unchanged, got %d", diff.UnchangedCount)
	}

	t.Run("missing hash is not a change", func(t *testing.T) {
		t.Parallel()

		diff := diffPages(
			[]*model.PageRecord{page("https://example.com/", "", true)},
			[]*model.PageRecord{page("https://example.com/", "h1", true)},
		)
		if len(diff.Changed) != 0 || diff.UnchangedCount != 1 {
			t.Errorf("expected page to count as unchanged, got %+v", diff)
		}
	})
}

func TestDiffLatestRuns(t *testing.T) {
	t.Parallel()

	db := setupHistoryDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	saveRun(t, db, "example.com", base, map[string]string{"/": "h1", "/old": "h2"})
	saveRun(t, db, "example.com", base.Add(time.Hour), map[string]string{"/": "h1-new", "/new": "h3"})

	t.Run("text", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := diffLatestRuns(t.Context(), &buf, db, "example.com", false, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := buf.String()
		for _, want := range []string{
			"[+] https://example.com/new",
			"[-] https://example.com/old",
			"[~] https://example.com/",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output, got %q", want, out)
			}
		}
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := diffLatestRuns(t.Context(), &buf, db, "example.com", true, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var diff RunDiff
		if err := json.Unmarshal(buf.Bytes(), &diff); err != nil {
			t.Fatalf("expected JSON, got %v", err)
		}
		if diff.Site != "example.com" {
			t.Errorf("expected site example.com, got %q", diff.Site)
		}
		if diff.CurrentRun.ID <= diff.PreviousRun.ID {
			t.Errorf("expected current run to be newer, got %d and %d", diff.CurrentRun.ID, diff.PreviousRun.ID)
		}
		if len(diff.Added) != 1 || len(diff.Removed) != 1 || len(diff.Changed) != 1 {
			t.Errorf("unexpected diff %+v", diff)
		}
	})

	t.Run("markdown", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := diffLatestRuns(t.Context(), &buf, db, "example.com", false, true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := buf.String()
		if !strings.Contains(out, "# Sitemap Changes: example.com") {
			t.Errorf("expected markdown title, got %q", out)
		}
		if !strings.Contains(out, "## Added (1)") {
			t.Errorf("expected added section, got %q", out)
		}
	})

	t.Run("needs two runs", func(t *testing.T) {
		t.Parallel()

		other := setupHistoryDB(t)
		saveRun(t, other, "example.com", base, map[string]string{"/": "h1"})

		err := diffLatestRuns(t.Context(), &bytes.Buffer{}, other, "example.com", false, false)
		if err == nil || !strings.Contains(err.Error(), "at least 2 crawls") {
			t.Errorf("expected 'at least 2 crawls' error, got %v", err)
		}
	})
}
