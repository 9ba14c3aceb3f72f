package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// sensitiveKeys are attribute keys whose values are always masked.
var sensitiveKeys = map[string]bool{
	// HTTP headers a crawl may be configured with
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,

	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"api-key":       true,
	"access_token":  true,
	"refresh_token": true,

	"session":    true,
	"session_id": true,
	"sessionid":  true,
	"sid":        true,
	"jsessionid": true,

	"credential":  true,
	"credentials": true,
	"auth":        true,
}

// sensitiveKeywords are substrings that mark a key as sensitive.
// The bare word "key" is left out because it matches too much
// ("primary_key", "monkey").
var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "auth",
	"credential", "cookie", "session",
}

// sensitivePatterns mark a whole string value as sensitive regardless of key.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*$`), // JWT
	regexp.MustCompile(`(?i)^bearer\s+.+`),
	regexp.MustCompile(`(?i)^basic\s+[A-Za-z0-9+/=]+$`),
	regexp.MustCompile(`^AKIA[0-9A-Z]{16}$`),
	regexp.MustCompile(`(?i)-----BEGIN.*(PRIVATE|SECRET).*KEY-----`),
}

// sensitiveQueryParams are query parameter names whose values are masked
// inside URLs. Crawled sites frequently leak session ids and signed tokens
// into links.
var sensitiveQueryParams = map[string]bool{
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"id_token":      true,
	"api_key":       true,
	"apikey":        true,
	"key":           true,
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"signature":     true,
	"sig":           true,
	"session":       true,
	"sessionid":     true,
	"session_id":    true,
	"sid":           true,
	"jsessionid":    true,
	"phpsessid":     true,
	"auth":          true,
	"code":          true,
}

// embeddedURL finds http(s) URLs inside free text such as error messages.
var embeddedURL = regexp.MustCompile(`https?://[^\s"'<>]+`)

// MaskValue is the string used to replace sensitive values.
const MaskValue = "***REDACTED***"

// urlMask replaces secrets inside URLs. It is short so that redacted URLs
// stay readable in crawl logs.
const urlMask = "***"

// SecureHandler wraps an slog.Handler and sanitizes attributes before they
// reach it.
//
// Besides masking sensitive keys and values, it rewrites URLs found in
// string, Stringer and error attributes: userinfo passwords and sensitive
// query parameters are replaced, the rest of the URL is kept.
type SecureHandler struct {
	handler slog.Handler
}

// NewSecureHandler wraps handler. A nil handler uses slog.Default().Handler().
func NewSecureHandler(handler slog.Handler) *SecureHandler {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &SecureHandler{handler: handler}
}

// Enabled delegates to the wrapped handler.
func (h *SecureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle sanitizes the record's message and attributes and forwards it.
func (h *SecureHandler) Handle(ctx context.Context, r slog.Record) error {
	sanitized := slog.NewRecord(r.Time, r.Level, RedactURLs(r.Message), r.PC)

	r.Attrs(func(a slog.Attr) bool {
		sanitized.AddAttrs(h.sanitizeAttr(a))
		return true
	})

	return h.handler.Handle(ctx, sanitized)
}

// WithAttrs sanitizes attrs and returns a handler that includes them.
func (h *SecureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	sanitizedAttrs := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		sanitizedAttrs[i] = h.sanitizeAttr(a)
	}
	return &SecureHandler{handler: h.handler.WithAttrs(sanitizedAttrs)}
}

// WithGroup returns a handler that nests attributes under name.
func (h *SecureHandler) WithGroup(name string) slog.Handler {
	return &SecureHandler{handler: h.handler.WithGroup(name)}
}

func (h *SecureHandler) sanitizeAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		sanitizedAttrs := make([]slog.Attr, len(attrs))
		for i, groupAttr := range attrs {
			sanitizedAttrs[i] = h.sanitizeAttr(groupAttr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(sanitizedAttrs...)}
	}

	keyLower := strings.ToLower(a.Key)
	if sensitiveKeys[keyLower] || containsSensitiveKeyword(keyLower) {
		return slog.String(a.Key, MaskValue)
	}

	switch a.Value.Kind() {
	case slog.KindString:
		s := a.Value.String()
		if isSensitiveValue(s) {
			return slog.String(a.Key, MaskValue)
		}
		if redacted := RedactURLs(s); redacted != s {
			return slog.String(a.Key, redacted)
		}
	case slog.KindAny:
		switch v := a.Value.Any().(type) {
		case *url.URL:
			if v != nil {
				return slog.String(a.Key, RedactURL(v.String()))
			}
		case error:
			msg := v.Error()
			if redacted := RedactURLs(msg); redacted != msg {
				return slog.String(a.Key, redacted)
			}
		case fmt.Stringer:
			s := v.String()
			if redacted := RedactURLs(s); redacted != s {
				return slog.String(a.Key, redacted)
			}
		}
	}

	return a
}

func containsSensitiveKeyword(key string) bool {
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(key, keyword) {
			return true
		}
	}
	return false
}

func isSensitiveValue(value string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}

// RedactURL masks the userinfo password and sensitive query parameters of
// raw. Strings that do not parse as absolute URLs are returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}

	changed := false
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), urlMask)
		changed = true
	}

	if u.RawQuery != "" {
		q := u.Query()
		for name, values := range q {
			if !sensitiveQueryParams[strings.ToLower(name)] {
				continue
			}
			for i := range values {
				values[i] = urlMask
			}
			changed = true
		}
		if changed {
			u.RawQuery = q.Encode()
		}
	}

	if !changed {
		return raw
	}
	// url.UserPassword escapes "*"; keep the mask readable.
	return strings.Replace(u.String(), "%2A%2A%2A", urlMask, -1)
}

// RedactURLs applies RedactURL to every http(s) URL embedded in s.
func RedactURLs(s string) string {
	if !strings.Contains(s, "://") {
		return s
	}
	return embeddedURL.ReplaceAllStringFunc(s, RedactURL)
}

// NewSecureLogger returns a text logger that sanitizes its output.
// verbose selects Debug level, otherwise Warn.
func NewSecureLogger(w io.Writer, verbose bool) *slog.Logger {
	return slog.New(NewSecureHandler(slog.NewTextHandler(w, handlerOptions(verbose))))
}

// NewSecureJSONLogger is like NewSecureLogger but writes JSON lines.
func NewSecureJSONLogger(w io.Writer, verbose bool) *slog.Logger {
	return slog.New(NewSecureHandler(slog.NewJSONHandler(w, handlerOptions(verbose))))
}

func handlerOptions(verbose bool) *slog.HandlerOptions {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return &slog.HandlerOptions{Level: level}
}
