// Package ics converts between scheduled events and iCalendar payloads.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "showsched/internal/log"
	"showsched/internal/schedule"
	"showsched/internal/tz"
)

var ErrEmptyBody = errors.New("empty ICS body")

// ImportedEvent is the normalized form of one VEVENT.
type ImportedEvent struct {
	UID         string
	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule   string
	ExDates []time.Time
}

// Parse reads every VEVENT from body. Times without a TZID are read in
// loc. VEVENTs without UID or DTSTART are logged and skipped.
func Parse(body []byte, loc *time.Location) ([]ImportedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}
	if loc == nil {
		loc = tz.MustOperating()
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	events := make([]ImportedEvent, 0)
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(ve, loc)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr)
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (ImportedEvent, error) {
	var out ImportedEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return out, fmt.Errorf("%s: missing DTSTART", out.UID)
	}
	start, err := propertyTime(dtStart.Value, dtStart.ICalParameters, loc)
	if err != nil {
		return out, fmt.Errorf("%s: DTSTART: %w", out.UID, err)
	}
	out.Start = start
	out.AllDay = isDateValue(dtStart.Value, dtStart.ICalParameters)

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil && dtEnd.Value != "" {
		if end, err := propertyTime(dtEnd.Value, dtEnd.ICalParameters, loc); err == nil {
			out.End = end
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RRule = p.Value
	}

	// EXDATE may repeat and carry comma-separated values.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := propertyTime(part, p.ICalParameters, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	return out, nil
}

func isDateValue(v string, params map[string][]string) bool {
	if vs := params["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(v, "T")
}

// propertyTime parses DATE, local DATE-TIME and UTC DATE-TIME values,
// honoring a TZID parameter when present.
func propertyTime(v string, params map[string][]string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if tzids := params["TZID"]; len(tzids) > 0 {
		if l, err := tz.Load(tzids[0]); err == nil {
			loc = l
		}
	}

	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

// CreateInput maps an imported VEVENT onto an event creation request.
// Timed events get a showtime template at their start time; all-day events
// get none. DTEND of an all-day event is exclusive.
func (ev ImportedEvent) CreateInput(loc *time.Location) schedule.CreateEventInput {
	in := schedule.CreateEventInput{
		Name:        ev.Summary,
		Description: ev.Description,
		StartDate:   tz.Day(ev.Start, loc),
	}
	in.EndDate = in.StartDate
	if !ev.End.IsZero() {
		end := ev.End
		if ev.AllDay {
			end = end.AddDate(0, 0, -1)
		}
		if day := tz.Day(end, loc); day > in.StartDate {
			in.EndDate = day
		}
	}
	if ev.RRule != "" {
		in.Recurring = true
		in.RecurrenceRule = ev.RRule
		for _, ex := range ev.ExDates {
			in.Exclusions = append(in.Exclusions, tz.Day(ex, loc))
		}
	}
	if !ev.AllDay {
		in.Showtime = &schedule.Template{TimeOfDay: ev.Start.In(loc).Format("15:04")}
	}
	return in
}
