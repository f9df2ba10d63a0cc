package schedule

import (
	"context"
	"fmt"
	"time"

	"showsched/internal/model"
	"showsched/internal/notify"
	"showsched/internal/tz"
)

// Template holds the fields shared by every showtime of one synthesis call.
type Template struct {
	// TimeOfDay is HH:MM (or HH:MM:SS) in the operating timezone.
	TimeOfDay        string
	Format           string
	Language         string
	Subtitles        string
	Price            float64
	TicketsAvailable int
	// WorkID overrides the event's work for these showtimes.
	WorkID string
}

// BulkShowtimesInput creates one showtime per date on an existing event.
// Nil pointers and empty strings fall back to the service defaults.
type BulkShowtimesInput struct {
	EventID          string
	VenueID          string
	Dates            []string
	Time             string
	Format           string
	Language         string
	Subtitles        string
	Price            *float64
	TicketsAvailable *int
	WorkID           string
}

func parseTimeOfDay(s string) (hour, minute, second int, err error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		t, perr := time.Parse(layout, s)
		if perr == nil {
			return t.Hour(), t.Minute(), t.Second(), nil
		}
		err = perr
	}
	return 0, 0, 0, err
}

func (s *Service) validateTemplate(tmpl Template) error {
	if tmpl.TimeOfDay == "" {
		return invalid("time", "is required")
	}
	if _, _, _, err := parseTimeOfDay(tmpl.TimeOfDay); err != nil {
		return invalidCause("time", "must be HH:MM", err)
	}
	if tmpl.Price < 0 {
		return invalid("price", "must not be negative")
	}
	if tmpl.TicketsAvailable < 0 {
		return invalid("tickets_available", "must not be negative")
	}
	return nil
}

// at combines a calendar day and a time of day in the operating timezone.
func (s *Service) at(day, timeOfDay string) (time.Time, error) {
	d, err := tz.ParseDay(day, s.loc)
	if err != nil {
		return time.Time{}, err
	}
	h, m, sec, err := parseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, sec, 0, s.loc), nil
}

// synthesize creates one showtime per date, strictly in input order. The
// first failure aborts the loop; the caller's transaction discards what was
// already written.
func (s *Service) synthesize(ctx context.Context, ev model.Event, venueID string, tmpl Template, dates []string) ([]model.Showtime, error) {
	if venueID == "" {
		venueID = ev.VenueID
	}

	out := make([]model.Showtime, 0, len(dates))
	for i, day := range dates {
		datetime, err := s.at(day, tmpl.TimeOfDay)
		if err != nil {
			return nil, invalidCause(fmt.Sprintf("dates[%d]", i), "must be YYYY-MM-DD", err)
		}

		st := model.NewShowtime(ev.ID, datetime, s.loc)
		st.VenueID = venueID
		st.WorkID = tmpl.WorkID
		st.Format = tmpl.Format
		st.Language = tmpl.Language
		st.Subtitles = tmpl.Subtitles
		st.Price = tmpl.Price
		st.TicketsAvailable = tmpl.TicketsAvailable

		created, err := s.store.CreateShowtime(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("create showtime for %s: %w", day, err)
		}
		out = append(out, created)
	}
	return out, nil
}

func (s *Service) templateFromBulk(in BulkShowtimesInput) Template {
	tmpl := Template{
		TimeOfDay:        in.Time,
		Format:           in.Format,
		Language:         in.Language,
		Subtitles:        in.Subtitles,
		TicketsAvailable: s.defaults.TicketsAvailable,
		WorkID:           in.WorkID,
	}
	if tmpl.Format == "" {
		tmpl.Format = s.defaults.Format
	}
	if tmpl.Language == "" {
		tmpl.Language = s.defaults.Language
	}
	if in.Price != nil {
		tmpl.Price = *in.Price
	}
	if in.TicketsAvailable != nil {
		tmpl.TicketsAvailable = *in.TicketsAvailable
	}
	return tmpl
}

// CreateBulkShowtimes synthesizes showtimes for in.Dates on an existing
// event and recomputes the event's aggregates, all or nothing.
func (s *Service) CreateBulkShowtimes(ctx context.Context, in BulkShowtimesInput) ([]model.Showtime, error) {
	if in.EventID == "" {
		return nil, invalid("event_id", "is required")
	}
	if len(in.Dates) == 0 {
		return nil, invalid("dates", "must contain at least one date")
	}
	for i, day := range in.Dates {
		if _, err := tz.ParseDay(day, s.loc); err != nil {
			return nil, invalidCause(fmt.Sprintf("dates[%d]", i), "must be YYYY-MM-DD", err)
		}
	}
	tmpl := s.templateFromBulk(in)
	if err := s.validateTemplate(tmpl); err != nil {
		return nil, err
	}

	works := s.prefetchEventWorks(ctx, in.EventID, tmpl.WorkID)

	var created []model.Showtime
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		ev, err := s.store.FindEvent(ctx, in.EventID)
		if err != nil {
			return fmt.Errorf("find event %s: %w", in.EventID, err)
		}
		created, err = s.synthesize(ctx, ev, in.VenueID, tmpl, in.Dates)
		if err != nil {
			return err
		}
		_, err = s.recompute(ctx, ev, works)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, notify.ShowtimesCreated, map[string]any{
		"event_id": in.EventID,
		"count":    len(created),
	})
	return created, nil
}
