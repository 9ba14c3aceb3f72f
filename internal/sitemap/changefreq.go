package sitemap

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidChangeFrequency is returned by ParseChangeFrequency for values
// the sitemap protocol does not define.
var ErrInvalidChangeFrequency = errors.New("invalid change frequency")

// ChangeFrequency is the <changefreq> hint of a sitemap entry.
// The empty value means the element is omitted.
type ChangeFrequency string

// Change frequencies defined by the sitemap protocol.
const (
	ChangeAlways  ChangeFrequency = "always"
	ChangeHourly  ChangeFrequency = "hourly"
	ChangeDaily   ChangeFrequency = "daily"
	ChangeWeekly  ChangeFrequency = "weekly"
	ChangeMonthly ChangeFrequency = "monthly"
	ChangeYearly  ChangeFrequency = "yearly"
	ChangeNever   ChangeFrequency = "never"
)

// ChangeFrequencies lists every valid frequency from most to least frequent.
func ChangeFrequencies() []ChangeFrequency {
	return []ChangeFrequency{
		ChangeAlways, ChangeHourly, ChangeDaily, ChangeWeekly,
		ChangeMonthly, ChangeYearly, ChangeNever,
	}
}

// ParseChangeFrequency parses s case-insensitively.
func ParseChangeFrequency(s string) (ChangeFrequency, error) {
	f := ChangeFrequency(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidChangeFrequency, s)
	}
	return f, nil
}

// Valid reports whether f is one of the protocol values.
func (f ChangeFrequency) Valid() bool {
	switch f {
	case ChangeAlways, ChangeHourly, ChangeDaily, ChangeWeekly,
		ChangeMonthly, ChangeYearly, ChangeNever:
		return true
	}
	return false
}

// String returns the protocol spelling.
func (f ChangeFrequency) String() string {
	return string(f)
}
