package crawler

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/proxy"
)

// Fetch defaults.
const (
	// DefaultFetchTimeout bounds a single request including body download.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxBodySize caps how much of a response body is kept.
	DefaultMaxBodySize = 5 * 1024 * 1024

	// DefaultUserAgent identifies the crawler to site operators.
	DefaultUserAgent = "sitemapgen/1.0 (+https://github.com/nao1215/sitemapgen)"

	// maxRedirects matches the limit net/http applies by default.
	maxRedirects = 10
)

var (
	// ErrFetch marks every failed FetchResult. Failures are data: the
	// crawl continues and the observer still sees the result.
	ErrFetch = errors.New("fetch failed")

	// ErrUnexpectedStatus is wrapped into FetchResult.Err when the server
	// answers with a status outside 2xx and 3xx.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// Fetcher retrieves a single URL. Implementations must not return nil and
// must report failures through FetchResult.Err instead of panicking.
type Fetcher interface {
	Fetch(ctx context.Context, u URL) *FetchResult
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, u URL) *FetchResult

// Fetch calls f(ctx, u).
func (f FetcherFunc) Fetch(ctx context.Context, u URL) *FetchResult {
	return f(ctx, u)
}

// FetchResult is the outcome of fetching one URL.
type FetchResult struct {
	// URL is the URL that was requested. Redirects are followed, but the
	// result stays keyed by the requested URL.
	URL URL

	// FinalURL is where the response actually came from, after redirects,
	// exactly as the server named it. Relative links in the body resolve
	// against it. Nil when no response arrived.
	FinalURL *url.URL

	// StatusCode is the final HTTP status, or 0 when no response arrived.
	StatusCode int

	// Header holds the response headers. Nil on network failure.
	Header http.Header

	// Body is the decoded response body, truncated to the fetcher's limit.
	// Empty on failure.
	Body []byte

	// ContentType is the raw Content-Type header value.
	ContentType string

	// Err is non-nil when the fetch failed. It always wraps ErrFetch.
	Err error

	// Duration is the wall time spent on the request.
	Duration time.Duration

	// FetchedAt is when the request started.
	FetchedAt time.Time

	// Document is the parsed page. The coordinator fills it in for
	// successful HTML responses before calling the observer.
	Document *Document
}

// NewFailedResult builds a FetchResult for u that carries err.
func NewFailedResult(u URL, err error) *FetchResult {
	if !errors.Is(err, ErrFetch) {
		err = fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return &FetchResult{URL: u, Err: err, FetchedAt: time.Now()}
}

// Failed reports whether the fetch failed, either on the network or with a
// status outside 2xx and 3xx.
func (r *FetchResult) Failed() bool {
	return r.Err != nil
}

// TimedOut reports whether the failure was caused by the request deadline.
func (r *FetchResult) TimedOut() bool {
	if r.Err == nil {
		return false
	}
	if errors.Is(r.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(r.Err, &netErr) && netErr.Timeout()
}

// MediaType returns the lowercase media type of ContentType without
// parameters, or "" when it is missing or malformed.
func (r *FetchResult) MediaType() string {
	if r.ContentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

// BaseURL returns the URL relative links in the body resolve against:
// FinalURL when known, otherwise the requested URL.
func (r *FetchResult) BaseURL() *url.URL {
	if r.FinalURL != nil {
		b := *r.FinalURL
		return &b
	}
	return r.URL.Parsed()
}

// IsHTML reports whether the response declares an HTML media type.
func (r *FetchResult) IsHTML() bool {
	switch r.MediaType() {
	case "text/html", "application/xhtml+xml":
		return true
	default:
		return false
	}
}

// LastModified parses the Last-Modified response header.
// The zero time is returned when the header is absent or malformed.
func (r *FetchResult) LastModified() time.Time {
	if r.Header == nil {
		return time.Time{}
	}
	v := r.Header.Get("Last-Modified")
	if v == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// HTTPFetcher fetches URLs with a plain HTTP GET.
type HTTPFetcher struct {
	client      *http.Client
	timeout     time.Duration
	userAgent   string
	maxBodySize int64
	headers     map[string]string
	cookie      string
	logger      *slog.Logger
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) FetcherOption {
	return func(f *HTTPFetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithMaxBodySize sets how many body bytes are kept per response.
func WithMaxBodySize(n int64) FetcherOption {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.maxBodySize = n
		}
	}
}

// WithHeaders adds custom request headers.
func WithHeaders(headers map[string]string) FetcherOption {
	return func(f *HTTPFetcher) {
		for k, v := range headers {
			f.headers[k] = v
		}
	}
}

// WithCookie sets the Cookie header ("name=value; other=value").
func WithCookie(cookie string) FetcherOption {
	return func(f *HTTPFetcher) {
		f.cookie = cookie
	}
}

// WithFetcherLogger sets the logger.
func WithFetcherLogger(logger *slog.Logger) FetcherOption {
	return func(f *HTTPFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewHTTPFetcher creates a fetcher around client. A nil client gets a
// default one from NewHTTPClient.
func NewHTTPFetcher(client *http.Client, opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:      client,
		timeout:     DefaultFetchTimeout,
		userAgent:   DefaultUserAgent,
		maxBodySize: DefaultMaxBodySize,
		headers:     make(map[string]string),
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.client == nil {
		f.client, _ = NewHTTPClient("") //nolint:errcheck // empty proxy never fails
	}

	return f
}

// Fetch performs a GET for u. It never returns an error: network failures,
// timeouts and bad statuses are reported in the result.
func (f *HTTPFetcher) Fetch(ctx context.Context, u URL) *FetchResult {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	started := time.Now()
	result := &FetchResult{URL: u, FetchedAt: started}
	defer func() {
		result.Duration = time.Since(started)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		result.Err = fmt.Errorf("%w: %w", ErrFetch, err)
		return result
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, br")
	if f.cookie != "" {
		req.Header.Set("Cookie", f.cookie)
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Debug("request failed", "url", u.String(), "error", err)
		result.Err = fmt.Errorf("%w: %w", ErrFetch, err)
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Header = resp.Header
	if resp.Request != nil && resp.Request.URL != nil {
		final := *resp.Request.URL
		result.FinalURL = &final
	}
	result.ContentType = resp.Header.Get("Content-Type")

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024)) //nolint:errcheck // drain for connection reuse
		result.Err = fmt.Errorf("%w: %w %d", ErrFetch, ErrUnexpectedStatus, resp.StatusCode)
		return result
	}

	body, err := f.readBody(resp)
	if err != nil {
		result.Err = fmt.Errorf("%w: read body: %w", ErrFetch, err)
		return result
	}
	result.Body = body

	return result
}

// readBody decodes the body according to Content-Encoding and applies the
// size limit to the decoded bytes.
func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}

	return io.ReadAll(io.LimitReader(reader, f.maxBodySize))
}

// NewHTTPClient builds the client used by HTTPFetcher and Robots.
// proxyAddr may be empty, an http(s) proxy URL, or a socks5/socks5h URL
// such as a local Tor daemon at "socks5h://127.0.0.1:9050".
func NewHTTPClient(proxyAddr string) (*http.Client, error) {
	transport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, errors.New("unexpected default transport type")
	}
	transport = transport.Clone()
	transport.MaxIdleConnsPerHost = 16

	if proxyAddr != "" {
		proxyURL, err := url.Parse(proxyAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy address: %w", err)
		}

		switch strings.ToLower(proxyURL.Scheme) {
		case "http", "https":
			transport.Proxy = http.ProxyURL(proxyURL)
		case "socks5", "socks5h":
			dialer, err := proxy.FromURL(proxyURL, proxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
			}
			transport.Proxy = nil
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				transport.DialContext = cd.DialContext
			} else {
				transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
					return dialer.Dial(network, addr)
				}
			}
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
		}
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}, nil
}
