package calendar

import (
	"fmt"
	"strings"
	"time"
)

var defaultLoc = time.UTC

// SetDefaultLocation sets the location used when callers pass a nil location (fallback UTC).
func SetDefaultLocation(loc *time.Location) {
	if loc != nil {
		defaultLoc = loc
	}
}

// DefaultLocation returns the location configured with SetDefaultLocation.
func DefaultLocation() *time.Location {
	return defaultLoc
}

// LoadLocation resolves an IANA zone name. Empty name means UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", name, err)
	}
	return loc, nil
}

// DayBounds returns the half-open range [start, end) of the calendar day containing at.
func DayBounds(at time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = defaultLoc
	}
	t := at.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	// AddDate keeps DST days correct (23h or 25h long)
	end := start.AddDate(0, 0, 1)
	return start, end
}

// DayKey formats the calendar day of at as YYYY-MM-DD.
func DayKey(at time.Time, loc *time.Location) string {
	if loc == nil {
		loc = defaultLoc
	}
	return at.In(loc).Format("2006-01-02")
}

// Within reports whether at lies in [start, end).
func Within(at, start, end time.Time) bool {
	return (at.Equal(start) || at.After(start)) && at.Before(end)
}
