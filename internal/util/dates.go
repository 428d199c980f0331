package util

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for trading dates. Lexicographic order on
// these strings matches chronological order, which the simulators rely on.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD trading date into a UTC time.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// ValidDate reports whether s is a well-formed YYYY-MM-DD date.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// DaysBetween returns the number of calendar days from one date to another.
// Malformed inputs yield 0.
func DaysBetween(from, to string) int {
	f, err1 := ParseDate(from)
	t, err2 := ParseDate(to)
	if err1 != nil || err2 != nil {
		return 0
	}
	return int(t.Sub(f).Hours() / 24)
}

// AddDays returns the date n calendar days after (or before, when negative) d.
func AddDays(d string, n int) string {
	t, err := ParseDate(d)
	if err != nil {
		return d
	}
	return t.AddDate(0, 0, n).Format(DateLayout)
}

// ISOWeek returns the ISO-8601 year and week number for a date.
func ISOWeek(d string) (year, week int, err error) {
	t, err := ParseDate(d)
	if err != nil {
		return 0, 0, err
	}
	year, week = t.ISOWeek()
	return year, week, nil
}
