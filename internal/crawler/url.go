package crawler

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned by Normalize for malformed input, unsupported
// schemes, or hosts that cannot be parsed. Link extraction drops such URLs
// silently; only the root URL turns it into a fatal error.
var ErrInvalidURL = errors.New("invalid URL")

// defaultPorts maps supported schemes to the port that is implied when none
// is written.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// URL is an absolute http(s) URL in canonical form.
// Values are immutable: every accessor returns a copy, and equality is
// defined by Key, so two URLs that differ only in casing, default port,
// fragment, or trailing slash compare equal.
type URL struct {
	raw        string
	host       string
	normalized string
	parsed     url.URL
}

// Normalize canonicalizes raw, resolving it against base when raw is
// relative. A nil base requires raw to be absolute.
//
// The canonical form lowercases scheme and host, strips the default port,
// drops the fragment, removes dot segments, and strips a trailing slash
// from every path except the root.
func Normalize(raw string, base *URL) (URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return URL{}, fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	var b *url.URL
	if base != nil {
		b = &base.parsed
	}
	return normalizeRef(raw, trimmed, b)
}

// resolveAgainst normalizes raw after resolving it against base exactly as
// given. Unlike a normalized URL, base keeps its trailing slash, so a link
// "intro" on a page served at "/docs/" resolves to "/docs/intro".
func resolveAgainst(raw string, base *url.URL) (URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return URL{}, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	return normalizeRef(raw, trimmed, base)
}

func normalizeRef(raw, trimmed string, base *url.URL) (URL, error) {
	ref, err := url.Parse(trimmed)
	if err != nil {
		return URL{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	var resolved *url.URL
	switch {
	case base != nil:
		resolved = base.ResolveReference(ref)
	case ref.IsAbs():
		// Resolving against an empty base removes dot segments.
		resolved = (&url.URL{}).ResolveReference(ref)
	default:
		return URL{}, fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, raw)
	}

	resolved.Scheme = strings.ToLower(resolved.Scheme)
	port, ok := defaultPorts[resolved.Scheme]
	if !ok {
		return URL{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, resolved.Scheme)
	}
	if resolved.Opaque != "" {
		return URL{}, fmt.Errorf("%w: opaque URL %q", ErrInvalidURL, raw)
	}

	host, err := canonicalHost(resolved, port)
	if err != nil {
		return URL{}, err
	}
	resolved.Host = host

	resolved.Fragment = ""
	resolved.RawFragment = ""
	resolved.ForceQuery = false
	canonicalPath(resolved)

	return URL{
		raw:        raw,
		host:       strings.ToLower(resolved.Hostname()),
		normalized: resolved.String(),
		parsed:     *resolved,
	}, nil
}

// MustNormalize is like Normalize but panics on error.
// It is intended for constants in tests and examples.
func MustNormalize(raw string) URL {
	u, err := Normalize(raw, nil)
	if err != nil {
		panic(err)
	}
	return u
}

// canonicalHost lowercases the host and drops the default port.
func canonicalHost(u *url.URL, defaultPort string) (string, error) {
	hostname := strings.ToLower(u.Hostname())
	if !validHostname(hostname) {
		return "", fmt.Errorf("%w: bad host %q", ErrInvalidURL, u.Host)
	}

	port := u.Port()
	if port == defaultPort {
		port = ""
	}

	if strings.Contains(hostname, ":") {
		// IPv6 literal
		if port == "" {
			return "[" + hostname + "]", nil
		}
		return net.JoinHostPort(hostname, port), nil
	}
	if port == "" {
		return hostname, nil
	}
	return hostname + ":" + port, nil
}

// validHostname rejects empty hosts, hosts made only of dots, and hosts
// carrying characters that never appear in a DNS name or IP literal.
func validHostname(h string) bool {
	if strings.Trim(h, ".") == "" {
		return false
	}
	if strings.ContainsAny(h, " \t\r\n<>\"{}|\\^`@/?#") {
		return false
	}
	return true
}

// canonicalPath removes the trailing slash of non-root paths and maps the
// empty path to "/".
func canonicalPath(u *url.URL) {
	p := u.Path
	if p == "" {
		u.Path = "/"
		u.RawPath = ""
		return
	}
	if p == "/" || !strings.HasSuffix(p, "/") {
		return
	}

	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		trimmed = "/"
	}
	u.Path = trimmed
	if u.RawPath != "" {
		raw := strings.TrimRight(u.RawPath, "/")
		if raw == "" {
			raw = "/"
		}
		u.RawPath = raw
	}
}

// String returns the normalized form.
func (u URL) String() string {
	return u.normalized
}

// Key returns the value used for equality and deduplication.
func (u URL) Key() string {
	return u.normalized
}

// Raw returns the input string Normalize was called with.
func (u URL) Raw() string {
	return u.raw
}

// Host returns the lowercase host name without port.
func (u URL) Host() string {
	return u.host
}

// HostPort returns host and port as they appear in the normalized URL.
func (u URL) HostPort() string {
	return u.parsed.Host
}

// Scheme returns "http" or "https".
func (u URL) Scheme() string {
	return u.parsed.Scheme
}

// Path returns the decoded path of the normalized URL.
func (u URL) Path() string {
	return u.parsed.Path
}

// RequestURI returns the encoded path and query, as sent on the wire.
func (u URL) RequestURI() string {
	return u.parsed.RequestURI()
}

// Parsed returns a copy of the parsed URL.
func (u URL) Parsed() *url.URL {
	c := u.parsed
	if u.parsed.User != nil {
		user := *u.parsed.User
		c.User = &user
	}
	return &c
}

// IsZero reports whether u is the zero value.
func (u URL) IsZero() bool {
	return u.normalized == ""
}

// Equal reports whether u and other normalize to the same URL.
func (u URL) Equal(other URL) bool {
	return u.normalized == other.normalized
}
