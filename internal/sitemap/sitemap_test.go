package sitemap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewURL(t *testing.T) {
	t.Parallel()

	u := NewURL("https://example.com/", testNow)

	if u.Loc != "https://example.com/" {
		t.Errorf("expected loc https://example.com/, got %s", u.Loc)
	}
	if !u.LastMod.Equal(testNow) {
		t.Errorf("expected lastmod %v, got %v", testNow, u.LastMod)
	}
	if u.ChangeFreq != ChangeDaily {
		t.Errorf("expected changefreq daily, got %s", u.ChangeFreq)
	}
	if u.Priority == nil || *u.Priority != 0.8 {
		t.Errorf("expected priority 0.8, got %v", u.Priority)
	}
}

func TestURLSetters(t *testing.T) {
	t.Parallel()

	base := NewURL("https://example.com/a", testNow)

	t.Run("setters return copies", func(t *testing.T) {
		t.Parallel()

		later := testNow.Add(time.Hour)
		u := base.SetLastModificationDate(later).SetChangeFrequency(ChangeWeekly).SetPriority(0.3)

		if !u.LastMod.Equal(later) || u.ChangeFreq != ChangeWeekly || *u.Priority != 0.3 {
			t.Errorf("unexpected entry: %+v", u)
		}
		if base.ChangeFreq != ChangeDaily || *base.Priority != 0.8 {
			t.Errorf("expected original entry to be unchanged, got %+v", base)
		}
	})

	t.Run("priority is clamped", func(t *testing.T) {
		t.Parallel()

		if p := *base.SetPriority(1.7).Priority; p != 1 {
			t.Errorf("expected 1, got %v", p)
		}
		if p := *base.SetPriority(-2).Priority; p != 0 {
			t.Errorf("expected 0, got %v", p)
		}
	})

	t.Run("clear priority", func(t *testing.T) {
		t.Parallel()

		if base.ClearPriority().Priority != nil {
			t.Error("expected nil priority")
		}
	})
}

func TestURLValidate(t *testing.T) {
	t.Parallel()

	bad := 1.5
	tests := []struct {
		name string
		url  URL
		want error
	}{
		{"valid", NewURL("https://example.com/", testNow), nil},
		{"minimal", URL{Loc: "https://example.com/"}, nil},
		{"empty loc", URL{}, ErrEmptyLoc},
		{"bad frequency", URL{Loc: "https://example.com/", ChangeFreq: "sometimes"}, ErrInvalidChangeFrequency},
		{"bad priority", URL{Loc: "https://example.com/", Priority: &bad}, ErrInvalidPriority},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.url.Validate()
			if tt.want == nil && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParseChangeFrequency(t *testing.T) {
	t.Parallel()

	for _, f := range ChangeFrequencies() {
		got, err := ParseChangeFrequency(strings.ToUpper(string(f)))
		if err != nil {
			t.Errorf("unexpected error for %s: %v", f, err)
		}
		if got != f {
			t.Errorf("expected %s, got %s", f, got)
		}
	}

	if _, err := ParseChangeFrequency("fortnightly"); !errors.Is(err, ErrInvalidChangeFrequency) {
		t.Errorf("expected ErrInvalidChangeFrequency, got %v", err)
	}
	if _, err := ParseChangeFrequency(""); !errors.Is(err, ErrInvalidChangeFrequency) {
		t.Errorf("expected ErrInvalidChangeFrequency for empty value, got %v", err)
	}
}

func TestSitemapAdd(t *testing.T) {
	t.Parallel()

	t.Run("keeps insertion order and ignores duplicate locs", func(t *testing.T) {
		t.Parallel()

		sm := New()
		sm.Add(NewURL("https://example.com/b", testNow))
		sm.Add(NewURL("https://example.com/a", testNow))
		if sm.Add(NewURL("https://example.com/b", testNow)) {
			t.Error("expected duplicate loc to be rejected")
		}

		urls := sm.URLs()
		if len(urls) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(urls))
		}
		if urls[0].Loc != "https://example.com/b" || urls[1].Loc != "https://example.com/a" {
			t.Errorf("unexpected order: %v", urls)
		}
		if !sm.Has("https://example.com/a") || sm.Has("https://example.com/c") {
			t.Error("unexpected Has result")
		}
	})

	t.Run("URLs returns a copy", func(t *testing.T) {
		t.Parallel()

		sm := New()
		sm.Add(URL{Loc: "https://example.com/"})
		urls := sm.URLs()
		urls[0].Loc = "mutated"

		if !sm.Has("https://example.com/") {
			t.Error("expected stored entry to be unaffected")
		}
	})

	t.Run("update replaces an entry", func(t *testing.T) {
		t.Parallel()

		sm := New()
		sm.Add(NewURL("https://example.com/", testNow))
		earlier := testNow.Add(-24 * time.Hour)

		if !sm.Update(NewURL("https://example.com/", earlier)) {
			t.Fatal("expected update to succeed")
		}
		got, _ := sm.Get("https://example.com/")
		if !got.LastMod.Equal(earlier) {
			t.Errorf("expected lastmod %v, got %v", earlier, got.LastMod)
		}
		if sm.Update(URL{Loc: "https://example.com/missing"}) {
			t.Error("expected update of missing entry to fail")
		}
	})

	t.Run("concurrent adds", func(t *testing.T) {
		t.Parallel()

		sm := New()
		var wg sync.WaitGroup
		for i := range 100 {
			wg.Go(func() {
				sm.Add(URL{Loc: fmt.Sprintf("https://example.com/%d", i%50)})
			})
		}
		wg.Wait()

		if sm.Len() != 50 {
			t.Errorf("expected 50 entries, got %d", sm.Len())
		}
	})
}

func TestSitemapRender(t *testing.T) {
	t.Parallel()

	sm := New()
	sm.Add(NewURL("https://example.com/", testNow))
	sm.Add(URL{Loc: "https://example.com/a?x=1&y=2"})

	data, err := sm.Bytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := string(data)

	for _, want := range []string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`,
		`<loc>https://example.com/</loc>`,
		`<lastmod>2024-03-01T12:00:00Z</lastmod>`,
		`<changefreq>daily</changefreq>`,
		`<priority>0.8</priority>`,
		`<loc>https://example.com/a?x=1&amp;y=2</loc>`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}

	if strings.Count(out, "<lastmod>") != 1 || strings.Count(out, "<priority>") != 1 {
		t.Errorf("expected optional elements to be omitted for the bare entry, got:\n%s", out)
	}

	var parsed xmlURLSet
	if err := xml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("rendered sitemap is not valid XML: %v", err)
	}
	if len(parsed.URLs) != 2 {
		t.Errorf("expected 2 url elements, got %d", len(parsed.URLs))
	}
}

func TestSitemapRender_Empty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := New().Render(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "<urlset") {
		t.Errorf("expected an empty urlset, got %s", buf.String())
	}
}

func TestSitemapWriteToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "sitemap.xml")
	sm := New()
	sm.Add(NewURL("https://example.com/", testNow))

	if err := sm.WriteToFile(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read sitemap: %v", err)
	}
	if !strings.Contains(string(data), "<loc>https://example.com/</loc>") {
		t.Errorf("unexpected file content: %s", data)
	}
}

func TestSitemapWriteFiles(t *testing.T) {
	t.Parallel()

	t.Run("single file under the limit", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "sitemap.xml")
		sm := New(WithMaxURLsPerFile(3))
		for i := range 3 {
			sm.Add(URL{Loc: fmt.Sprintf("https://example.com/%d", i)})
		}

		written, err := sm.WriteFiles(path, "https://example.com", testNow)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(written) != 1 || written[0] != path {
			t.Errorf("expected only %s, got %v", path, written)
		}
	})

	t.Run("splits into parts and an index", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		path := filepath.Join(dir, "sitemap.xml")
		sm := New(WithMaxURLsPerFile(2))
		for i := range 5 {
			sm.Add(URL{Loc: fmt.Sprintf("https://example.com/%d", i)})
		}

		written, err := sm.WriteFiles(path, "https://example.com/", testNow)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{
			filepath.Join(dir, "sitemap-1.xml"),
			filepath.Join(dir, "sitemap-2.xml"),
			filepath.Join(dir, "sitemap-3.xml"),
			path,
		}
		if fmt.Sprint(written) != fmt.Sprint(want) {
			t.Fatalf("expected %v, got %v", want, written)
		}

		index, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read index: %v", err)
		}
		var parsed xmlIndex
		if err := xml.Unmarshal(index, &parsed); err != nil {
			t.Fatalf("index is not valid XML: %v", err)
		}
		if len(parsed.Sitemaps) != 3 {
			t.Fatalf("expected 3 index entries, got %d", len(parsed.Sitemaps))
		}
		if parsed.Sitemaps[0].Loc != "https://example.com/sitemap-1.xml" {
			t.Errorf("unexpected index loc %s", parsed.Sitemaps[0].Loc)
		}

		last, err := os.ReadFile(filepath.Join(dir, "sitemap-3.xml"))
		if err != nil {
			t.Fatalf("failed to read last part: %v", err)
		}
		if strings.Count(string(last), "<url>") != 1 {
			t.Errorf("expected one entry in the last part, got:\n%s", last)
		}
	})

	t.Run("limit option ignores out of range values", func(t *testing.T) {
		t.Parallel()

		if got := New(WithMaxURLsPerFile(0)).maxPerFile; got != MaxURLsPerFile {
			t.Errorf("expected %d, got %d", MaxURLsPerFile, got)
		}
		if got := New(WithMaxURLsPerFile(MaxURLsPerFile + 1)).maxPerFile; got != MaxURLsPerFile {
			t.Errorf("expected %d, got %d", MaxURLsPerFile, got)
		}
	})
}
