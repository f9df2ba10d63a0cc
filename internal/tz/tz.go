// Package tz holds the operating timezone and calendar-day helpers.
// Every "day" string in the system is derived through this package.
package tz

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Operating is the zone used for calendar-day boundaries regardless of
// client locale.
const Operating = "Africa/Tunis"

// DayLayout is the calendar-day format (YYYY-MM-DD).
const DayLayout = "2006-01-02"

// Load resolves an IANA zone name. An empty name resolves to Operating.
func Load(name string) (*time.Location, error) {
	if name == "" {
		name = Operating
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// MustOperating returns the operating location and panics if tzdata is
// unavailable, which cannot happen with the embedded database.
func MustOperating() *time.Location {
	loc, err := Load(Operating)
	if err != nil {
		panic(err)
	}
	return loc
}

// Day returns the calendar day of t in loc.
func Day(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DayLayout)
}

// ParseDay parses a YYYY-MM-DD string as midnight in loc.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DayLayout, s, loc)
}

// AddDays shifts a calendar day by n days. Calendar arithmetic is used so
// DST transitions never skip or repeat a day.
func AddDays(day string, n int, loc *time.Location) (string, error) {
	t, err := ParseDay(day, loc)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(DayLayout), nil
}

// DaysBetween returns the number of calendar days from a to b.
func DaysBetween(a, b string, loc *time.Location) (int, error) {
	ta, err := ParseDay(a, loc)
	if err != nil {
		return 0, err
	}
	tb, err := ParseDay(b, loc)
	if err != nil {
		return 0, err
	}
	ua := time.Date(ta.Year(), ta.Month(), ta.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(tb.Year(), tb.Month(), tb.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24), nil
}
