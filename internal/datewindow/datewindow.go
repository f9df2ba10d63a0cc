// Package datewindow maps listing filters ("today", "weekend", a literal
// date) to an inclusive calendar-day window in the operating timezone.
package datewindow

import (
	"strings"
	"time"

	"showsched/internal/tz"
)

// Supported symbolic tokens.
const (
	Today    = "today"
	Tomorrow = "tomorrow"
	ThisWeek = "this-week"
	Weekend  = "weekend"
)

// Window is an inclusive [StartDate, EndDate] range of YYYY-MM-DD days.
type Window struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Resolve interprets token relative to now in loc. It returns false when
// the token is neither a known symbol nor a valid literal date; callers
// then fall back to "not yet ended" filtering.
func Resolve(token string, now time.Time, loc *time.Location) (Window, bool) {
	if loc == nil {
		loc = tz.MustOperating()
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	day := func(offset int) string {
		return today.AddDate(0, 0, offset).Format(tz.DayLayout)
	}

	switch strings.ToLower(strings.TrimSpace(token)) {
	case Today:
		return Window{StartDate: day(0), EndDate: day(0)}, true
	case Tomorrow:
		return Window{StartDate: day(1), EndDate: day(1)}, true
	case ThisWeek:
		// time.Sunday == 0, so this is 0 on Sundays.
		untilSunday := (7 - int(today.Weekday())) % 7
		return Window{StartDate: day(0), EndDate: day(untilSunday)}, true
	case Weekend:
		switch today.Weekday() {
		case time.Saturday:
			return Window{StartDate: day(0), EndDate: day(1)}, true
		case time.Sunday:
			return Window{StartDate: day(0), EndDate: day(0)}, true
		default:
			untilSaturday := int(time.Saturday - today.Weekday())
			return Window{StartDate: day(untilSaturday), EndDate: day(untilSaturday + 1)}, true
		}
	}

	literal := strings.TrimSpace(token)
	if t, err := tz.ParseDay(literal, loc); err == nil {
		d := t.Format(tz.DayLayout)
		return Window{StartDate: d, EndDate: d}, true
	}
	return Window{}, false
}
