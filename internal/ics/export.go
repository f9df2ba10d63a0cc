package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"showsched/internal/model"
)

const (
	productID      = "-//showsched//schedule export//EN"
	defaultRuntime = 2 * time.Hour
)

// Export renders one VEVENT per showtime. runtimeMinutes sets DTEND; zero
// falls back to two hours.
func Export(ev model.Event, showtimes []model.Showtime, runtimeMinutes int) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName(ev.Title)

	length := defaultRuntime
	if runtimeMinutes > 0 {
		length = time.Duration(runtimeMinutes) * time.Minute
	}
	stamp := ev.CreatedAt
	if stamp.IsZero() {
		stamp = time.Now()
	}

	for _, st := range showtimes {
		ve := cal.AddEvent(st.ID + "@showsched")
		ve.SetDtStampTime(stamp.UTC())
		ve.SetStartAt(st.Datetime.UTC())
		ve.SetEndAt(st.Datetime.Add(length).UTC())
		ve.SetSummary(summary(ev))
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if st.VenueID != "" {
			ve.SetLocation(st.VenueID)
		}
		if ev.Status == model.StatusPublished {
			ve.SetStatus(ical.ObjectStatusConfirmed)
		} else {
			ve.SetStatus(ical.ObjectStatusTentative)
		}
	}
	return cal.Serialize()
}

func summary(ev model.Event) string {
	if ev.Title != "" {
		return ev.Title
	}
	return ev.Name
}
