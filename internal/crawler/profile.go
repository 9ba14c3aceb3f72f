package crawler

import (
	"path/filepath"
	"strings"
)

// Profile decides whether a URL may be fetched.
//
// Returning an error is a policy failure: the coordinator stops the whole
// crawl and reports it wrapped in ErrPolicy. A URL the profile simply
// rejects should return (false, nil).
type Profile interface {
	ShouldCrawl(u URL) (bool, error)
}

// ProfileFunc adapts a function to the Profile interface.
type ProfileFunc func(u URL) (bool, error)

// ShouldCrawl calls f(u).
func (f ProfileFunc) ShouldCrawl(u URL) (bool, error) {
	return f(u)
}

// Predicate adapts an infallible filter to the Profile interface.
func Predicate(fn func(u URL) bool) Profile {
	return ProfileFunc(func(u URL) (bool, error) {
		return fn(u), nil
	})
}

// CrawlAll accepts every URL.
func CrawlAll() Profile {
	return ProfileFunc(func(URL) (bool, error) {
		return true, nil
	})
}

// SameHost accepts URLs whose host equals the root's host, ignoring case.
// The port is not compared.
func SameHost(root URL) Profile {
	host := root.Host()
	return ProfileFunc(func(u URL) (bool, error) {
		return u.Host() == host, nil
	})
}

// AllOf accepts a URL only when every profile accepts it. Evaluation stops at
// the first rejection or error. Nil entries are skipped.
func AllOf(profiles ...Profile) Profile {
	return ProfileFunc(func(u URL) (bool, error) {
		for _, p := range profiles {
			if p == nil {
				continue
			}
			ok, err := p.ShouldCrawl(u)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	})
}

// PatternProfile filters on URL path globs.
//
// A path matching any ignore pattern is rejected. When follow patterns are
// given, the path must also match at least one of them.
func PatternProfile(ignore, follow []string) Profile {
	ignore = append([]string(nil), ignore...)
	follow = append([]string(nil), follow...)

	return ProfileFunc(func(u URL) (bool, error) {
		path := u.Path()
		if path == "" {
			path = "/"
		}

		for _, pattern := range ignore {
			if matchPattern(pattern, path) {
				return false, nil
			}
		}

		if len(follow) == 0 {
			return true, nil
		}
		for _, pattern := range follow {
			if matchPattern(pattern, path) {
				return true, nil
			}
		}
		return false, nil
	})
}

// matchPattern checks if a path matches a glob pattern.
//
//   - "/admin/*" matches "/admin" and everything below it
//   - "*.pdf" matches any path ending in ".pdf"
//   - anything else goes through filepath.Match, and patterns without a
//     slash are also tried against the last path segment
func matchPattern(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}

	if ext, ok := strings.CutPrefix(pattern, "*"); ok && strings.HasPrefix(ext, ".") && !strings.ContainsAny(ext, "*?[") {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}

	if matched, err := filepath.Match(pattern, path); err == nil && matched {
		return true
	}

	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		if matched, err := filepath.Match(pattern, filepath.Base(path)); err == nil && matched {
			return true
		}
	}

	return false
}
