package crawler

import (
	"errors"
	"net/url"
	"slices"
	"testing"
)

func htmlResult(pageURL, body string) *FetchResult {
	return &FetchResult{
		URL:         MustNormalize(pageURL),
		StatusCode:  200,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(body),
	}
}

func linkStrings(links []URL) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, l.String())
	}
	return out
}

func TestExtractorParse(t *testing.T) {
	t.Parallel()

	t.Run("extracts title", func(t *testing.T) {
		t.Parallel()

		doc := NewExtractor().Parse(htmlResult("http://example.com/", `<html><head><title>  Test Page </title></head></html>`))
		if doc == nil {
			t.Fatal("expected a document")
		}
		if doc.Title != "Test Page" {
			t.Errorf("expected title 'Test Page', got %q", doc.Title)
		}
	})

	t.Run("resolves and normalizes links", func(t *testing.T) {
		t.Parallel()

		body := `<html><body>
			<a href="/about/">About</a>
			<a href="contact#form">Contact</a>
			<a href="HTTP://Other.com:80/x">Other</a>
			<a href="/about">Duplicate</a>
		</body></html>`

		got := linkStrings(NewExtractor().Extract(htmlResult("http://example.com/dir/page", body)))
		want := []string{
			"http://example.com/about",
			"http://example.com/dir/contact",
			"http://other.com/x",
		}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("skips non-navigational links", func(t *testing.T) {
		t.Parallel()

		body := `<html><body>
			<a href="javascript:void(0)">JS</a>
			<a href="mailto:admin@example.com">Mail</a>
			<a href="tel:+123">Phone</a>
			<a href="data:text/plain,hi">Data</a>
			<a href="#top">Top</a>
			<a href="">Empty</a>
			<a href="http://exa mple.com/">Broken</a>
			<a href="/ok">OK</a>
		</body></html>`

		got := linkStrings(NewExtractor().Extract(htmlResult("http://example.com/", body)))
		want := []string{"http://example.com/ok"}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("collects frames areas and page links", func(t *testing.T) {
		t.Parallel()

		body := `<html><head>
			<link rel="stylesheet" href="/style.css">
			<link rel="icon" href="/favicon.ico">
			<link rel="next" href="/page/2">
			<link rel="canonical" href="/canonical">
		</head><body>
			<map><area href="/area"></map>
			<iframe src="/embedded"></iframe>
		</body></html>`

		doc := NewExtractor().Parse(htmlResult("http://example.com/", body))
		if doc == nil {
			t.Fatal("expected a document")
		}

		got := linkStrings(doc.Links)
		for _, want := range []string{
			"http://example.com/area",
			"http://example.com/embedded",
			"http://example.com/page/2",
			"http://example.com/canonical",
		} {
			if !slices.Contains(got, want) {
				t.Errorf("expected %s in %v", want, got)
			}
		}
		for _, unwanted := range []string{"http://example.com/style.css", "http://example.com/favicon.ico"} {
			if slices.Contains(got, unwanted) {
				t.Errorf("expected %s to be skipped", unwanted)
			}
		}
		if doc.Canonical.String() != "http://example.com/canonical" {
			t.Errorf("expected canonical URL, got %q", doc.Canonical.String())
		}
	})

	t.Run("honours base href", func(t *testing.T) {
		t.Parallel()

		body := `<html><head><base href="http://example.com/docs/"></head>
			<body><a href="intro">Intro</a></body></html>`

		got := linkStrings(NewExtractor().Extract(htmlResult("http://example.com/", body)))
		want := []string{"http://example.com/docs/intro"}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("resolves against the served location", func(t *testing.T) {
		t.Parallel()

		body := `<html><body>
			<a href="intro">Intro</a>
			<a href="../up">Up</a>
			<link rel="canonical" href="./">
		</body></html>`

		result := htmlResult("http://example.com/docs", body)
		result.FinalURL = &url.URL{Scheme: "http", Host: "example.com", Path: "/docs/"}

		doc := NewExtractor().Parse(result)
		if doc == nil {
			t.Fatal("expected a document")
		}
		got := linkStrings(doc.Links)
		for _, want := range []string{"http://example.com/docs/intro", "http://example.com/up"} {
			if !slices.Contains(got, want) {
				t.Errorf("expected %s in %v", want, got)
			}
		}
		if slices.Contains(got, "http://example.com/intro") {
			t.Errorf("expected intro to resolve under /docs/, got %v", got)
		}
		if doc.Canonical.String() != "http://example.com/docs" {
			t.Errorf("expected canonical http://example.com/docs, got %q", doc.Canonical.String())
		}
	})

	t.Run("relative base href keeps its directory", func(t *testing.T) {
		t.Parallel()

		body := `<html><head><base href="/guide/"></head>
			<body><a href="start">Start</a></body></html>`

		got := linkStrings(NewExtractor().Extract(htmlResult("http://example.com/", body)))
		want := []string{"http://example.com/guide/start"}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("meta robots nofollow suppresses links", func(t *testing.T) {
		t.Parallel()

		body := `<html><head><meta name="robots" content="noindex, nofollow"></head>
			<body><a href="/hidden">Hidden</a></body></html>`

		doc := NewExtractor().Parse(htmlResult("http://example.com/", body))
		if doc == nil {
			t.Fatal("expected a document")
		}
		if !doc.NoFollow || !doc.NoIndex {
			t.Errorf("expected nofollow and noindex, got %+v", doc)
		}
		if len(doc.Links) != 0 {
			t.Errorf("expected no links, got %v", linkStrings(doc.Links))
		}

		doc = NewExtractor(WithRespectNofollow(false)).Parse(htmlResult("http://example.com/", body))
		if len(doc.Links) != 1 {
			t.Errorf("expected links when nofollow is ignored, got %v", linkStrings(doc.Links))
		}
	})

	t.Run("rel nofollow anchors are skipped", func(t *testing.T) {
		t.Parallel()

		body := `<html><body>
			<a href="/sponsored" rel="sponsored nofollow">Ad</a>
			<a href="/normal" rel="noopener">Normal</a>
		</body></html>`

		got := linkStrings(NewExtractor().Extract(htmlResult("http://example.com/", body)))
		want := []string{"http://example.com/normal"}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("decodes declared charset", func(t *testing.T) {
		t.Parallel()

		result := htmlResult("http://example.com/", "<html><head><title>Caf\xe9</title></head></html>")
		result.ContentType = "text/html; charset=iso-8859-1"

		doc := NewExtractor().Parse(result)
		if doc == nil {
			t.Fatal("expected a document")
		}
		if doc.Title != "Café" {
			t.Errorf("expected title 'Café', got %q", doc.Title)
		}
	})
}

func TestExtractorIgnoresUnusableResults(t *testing.T) {
	t.Parallel()

	body := `<html><body><a href="/x">x</a></body></html>`

	tests := []struct {
		name   string
		result *FetchResult
	}{
		{"nil result", nil},
		{"failed fetch", &FetchResult{
			URL:         MustNormalize("http://example.com/"),
			StatusCode:  404,
			ContentType: "text/html",
			Body:        []byte(body),
			Err:         errors.Join(ErrFetch, ErrUnexpectedStatus),
		}},
		{"non-html", &FetchResult{
			URL:         MustNormalize("http://example.com/file.json"),
			StatusCode:  200,
			ContentType: "application/json",
			Body:        []byte(`{"href": "/x"}`),
		}},
		{"missing content type", &FetchResult{
			URL:        MustNormalize("http://example.com/"),
			StatusCode: 200,
			Body:       []byte(body),
		}},
		{"empty body", &FetchResult{
			URL:         MustNormalize("http://example.com/"),
			StatusCode:  200,
			ContentType: "text/html",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := NewExtractor()
			if doc := e.Parse(tt.result); doc != nil {
				t.Errorf("expected nil document, got %+v", doc)
			}
			if links := e.Extract(tt.result); len(links) != 0 {
				t.Errorf("expected no links, got %v", linkStrings(links))
			}
		})
	}
}
