package sitemap

import (
	"errors"
	"fmt"
	"time"
)

// Defaults applied by NewURL.
const (
	DefaultChangeFrequency = ChangeDaily
	DefaultPriority        = 0.8
)

var (
	// ErrInvalidPriority is returned when a priority falls outside 0.0 to 1.0.
	ErrInvalidPriority = errors.New("invalid priority: must be between 0.0 and 1.0")

	// ErrEmptyLoc is returned for entries without a location.
	ErrEmptyLoc = errors.New("sitemap entry has no loc")
)

// URL is one <url> entry of a sitemap.
//
// Zero LastMod, empty ChangeFreq and nil Priority are omitted from the
// rendered document.
type URL struct {
	Loc        string
	LastMod    time.Time
	ChangeFreq ChangeFrequency
	Priority   *float64
}

// NewURL returns an entry for loc modified at now, with a daily change
// frequency and a priority of 0.8.
func NewURL(loc string, now time.Time) URL {
	p := DefaultPriority
	return URL{
		Loc:        loc,
		LastMod:    now,
		ChangeFreq: DefaultChangeFrequency,
		Priority:   &p,
	}
}

// SetLastModificationDate returns a copy of u with LastMod set to t.
func (u URL) SetLastModificationDate(t time.Time) URL {
	u.LastMod = t
	return u
}

// SetChangeFrequency returns a copy of u with ChangeFreq set to f.
func (u URL) SetChangeFrequency(f ChangeFrequency) URL {
	u.ChangeFreq = f
	return u
}

// SetPriority returns a copy of u with the priority clamped to [0, 1].
func (u URL) SetPriority(p float64) URL {
	p = min(max(p, 0), 1)
	u.Priority = &p
	return u
}

// ClearPriority returns a copy of u without a priority.
func (u URL) ClearPriority() URL {
	u.Priority = nil
	return u
}

// Validate checks the fields the protocol constrains.
func (u URL) Validate() error {
	if u.Loc == "" {
		return ErrEmptyLoc
	}
	if u.ChangeFreq != "" && !u.ChangeFreq.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidChangeFrequency, u.ChangeFreq)
	}
	if u.Priority != nil && (*u.Priority < 0 || *u.Priority > 1) {
		return fmt.Errorf("%w: %v", ErrInvalidPriority, *u.Priority)
	}
	return nil
}

// ValidatePriority checks that p is usable as a sitemap priority.
func ValidatePriority(p float64) error {
	if p < 0 || p > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidPriority, p)
	}
	return nil
}
