package attendance

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Filter narrows an attendance listing. Zero values disable a criterion.
type Filter struct {
	Name string
	From time.Time
	To   time.Time
}

// foldName lowercases and strips diacritics so "José" matches "jose".
func foldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return strings.ToLower(strings.TrimSpace(result))
}

// HasDateRange reports whether either bound is set.
func (f Filter) HasDateRange() bool {
	return !f.From.IsZero() || !f.To.IsZero()
}

// Match reports whether r passes the filter. Records whose date cannot be
// parsed never match a date range.
func (f Filter) Match(r Record) bool {
	if f.Name != "" && !strings.Contains(foldName(r.Name), foldName(f.Name)) {
		return false
	}
	if !f.HasDateRange() {
		return true
	}
	day, ok := r.Day()
	if !ok {
		return false
	}
	if !f.From.IsZero() && day.Before(dateOnly(f.From)) {
		return false
	}
	if !f.To.IsZero() && day.After(dateOnly(f.To)) {
		return false
	}
	return true
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}
