package sitemap

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// Namespace is the sitemaps.org 0.9 schema namespace.
	Namespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

	// MaxURLsPerFile is the protocol limit of entries in one sitemap file.
	MaxURLsPerFile = 50000
)

// Sitemap is an append-only collection of entries, safe for concurrent use.
// Entries keep insertion order; a loc is stored once.
type Sitemap struct {
	mu         sync.Mutex
	urls       []URL
	index      map[string]int
	maxPerFile int
}

// Option configures a Sitemap.
type Option func(*Sitemap)

// WithMaxURLsPerFile overrides the number of entries written per file by
// WriteFiles. Values outside 1..MaxURLsPerFile are ignored.
func WithMaxURLsPerFile(n int) Option {
	return func(s *Sitemap) {
		if n > 0 && n <= MaxURLsPerFile {
			s.maxPerFile = n
		}
	}
}

// New returns an empty sitemap.
func New(opts ...Option) *Sitemap {
	s := &Sitemap{
		index:      make(map[string]int),
		maxPerFile: MaxURLsPerFile,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add appends u. It returns false if an entry with the same loc exists.
func (s *Sitemap) Add(u URL) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[u.Loc]; ok {
		return false
	}
	s.index[u.Loc] = len(s.urls)
	s.urls = append(s.urls, u)
	return true
}

// AddAll appends every entry of urls and returns how many were new.
func (s *Sitemap) AddAll(urls []URL) int {
	added := 0
	for _, u := range urls {
		if s.Add(u) {
			added++
		}
	}
	return added
}

// Get returns the entry stored for loc.
func (s *Sitemap) Get(loc string) (URL, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[loc]
	if !ok {
		return URL{}, false
	}
	return s.urls[i], true
}

// Has reports whether loc is in the sitemap.
func (s *Sitemap) Has(loc string) bool {
	_, ok := s.Get(loc)
	return ok
}

// Update replaces the entry stored for u.Loc. It returns false if there is
// none.
func (s *Sitemap) Update(u URL) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[u.Loc]
	if !ok {
		return false
	}
	s.urls[i] = u
	return true
}

// URLs returns a copy of the entries in insertion order.
func (s *Sitemap) URLs() []URL {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]URL, len(s.urls))
	copy(out, s.urls)
	return out
}

// Len returns the number of entries.
func (s *Sitemap) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.urls)
}

type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	Xmlns   string   `xml:"xmlns,attr"`
	URLs    []xmlURL `xml:"url"`
}

type xmlURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

type xmlIndex struct {
	XMLName  xml.Name      `xml:"sitemapindex"`
	Xmlns    string        `xml:"xmlns,attr"`
	Sitemaps []xmlIndexRef `xml:"sitemap"`
}

type xmlIndexRef struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

func toXML(u URL) xmlURL {
	x := xmlURL{Loc: u.Loc, ChangeFreq: string(u.ChangeFreq)}
	if !u.LastMod.IsZero() {
		x.LastMod = formatTime(u.LastMod)
	}
	if u.Priority != nil {
		x.Priority = strconv.FormatFloat(*u.Priority, 'f', 1, 64)
	}
	return x
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

// Render writes every entry as a single urlset document, ignoring the
// per-file limit.
func (s *Sitemap) Render(w io.Writer) error {
	return renderURLSet(w, s.URLs())
}

func renderURLSet(w io.Writer, urls []URL) error {
	set := xmlURLSet{Xmlns: Namespace, URLs: make([]xmlURL, len(urls))}
	for i, u := range urls {
		set.URLs[i] = toXML(u)
	}
	return encode(w, set)
}

func encode(w io.Writer, v any) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode sitemap: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// Bytes renders the sitemap into memory.
func (s *Sitemap) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := s.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteToFile renders the whole sitemap to path, creating parent
// directories as needed.
func (s *Sitemap) WriteToFile(path string) error {
	data, err := s.Bytes()
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

// WriteFiles writes the sitemap to path, splitting it when it holds more
// entries than fit in one file.
//
// When a split is needed the entries go to numbered siblings of path
// ("sitemap-1.xml", "sitemap-2.xml", ...) and path itself becomes a
// sitemapindex whose locations are baseURL joined with each part's file
// name. It returns the paths written, index last.
func (s *Sitemap) WriteFiles(path, baseURL string, now time.Time) ([]string, error) {
	urls := s.URLs()
	if len(urls) <= s.maxPerFile {
		if err := s.WriteToFile(path); err != nil {
			return nil, err
		}
		return []string{path}, nil
	}

	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)

	index := xmlIndex{Xmlns: Namespace}
	var written []string
	for part, start := 1, 0; start < len(urls); part, start = part+1, start+s.maxPerFile {
		end := min(start+s.maxPerFile, len(urls))
		name := fmt.Sprintf("%s-%d%s", stem, part, ext)
		partPath := filepath.Join(dir, name)

		var buf bytes.Buffer
		if err := renderURLSet(&buf, urls[start:end]); err != nil {
			return written, err
		}
		if err := writeFile(partPath, buf.Bytes()); err != nil {
			return written, err
		}
		written = append(written, partPath)

		index.Sitemaps = append(index.Sitemaps, xmlIndexRef{
			Loc:     strings.TrimSuffix(baseURL, "/") + "/" + name,
			LastMod: formatTime(now),
		})
	}

	var buf bytes.Buffer
	if err := encode(&buf, index); err != nil {
		return written, err
	}
	if err := writeFile(path, buf.Bytes()); err != nil {
		return written, err
	}
	return append(written, path), nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	//nolint:gosec // sitemaps are published files
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
