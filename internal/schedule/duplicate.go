package schedule

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"showsched/internal/model"
	"showsched/internal/notify"
	"showsched/internal/tz"
)

type DuplicateInput struct {
	EventID  string
	NewTitle string
	// DateOffset shifts visibility bounds and copied showtimes by whole
	// calendar days. It may be zero or negative.
	DateOffset    int
	CopyShowtimes bool
}

// DuplicateEvent clones an event's descriptive fields into a new draft,
// unfeatured event with a fresh slug. Copied showtimes keep every
// descriptive field, move by DateOffset days, and start with no tickets
// sold. The copy is a standalone event: it never inherits the source's
// recurrence rule or occurrence link.
func (s *Service) DuplicateEvent(ctx context.Context, in DuplicateInput) (model.Event, error) {
	if in.EventID == "" {
		return model.Event{}, invalid("event_id", "is required")
	}

	works := s.prefetchEventWorks(ctx, in.EventID)

	var out model.Event
	copied := 0
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		src, err := s.store.FindEvent(ctx, in.EventID)
		if err != nil {
			return fmt.Errorf("find event %s: %w", in.EventID, err)
		}

		start, err := shiftDay(src.StartDate, in.DateOffset, s)
		if err != nil {
			return invalidCause("start_date", "source event has an invalid start date", err)
		}
		end, err := shiftDay(src.EndDate, in.DateOffset, s)
		if err != nil {
			return invalidCause("end_date", "source event has an invalid end date", err)
		}

		name := strings.TrimSpace(in.NewTitle)
		if name == "" {
			name = src.Name
		}
		base := src.Slug
		if base == "" {
			base = slugify(src.Name)
		}

		dup, err := s.store.CreateEvent(ctx, model.Event{
			Slug:        base + "-" + uuid.NewString()[:8],
			Name:        name,
			Title:       name,
			Description: src.Description,
			Status:      model.StatusDraft,
			Featured:    false,
			StartDate:   start,
			EndDate:     end,
			VenueID:     src.VenueID,
			WorkID:      src.WorkID,
			CreatedAt:   s.clock.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("create duplicate: %w", err)
		}

		if in.CopyShowtimes {
			sources, err := s.store.FindShowtimesByEvent(ctx, src.ID)
			if err != nil {
				return fmt.Errorf("load source showtimes: %w", err)
			}
			for _, st := range sources {
				cp := model.NewShowtime(dup.ID, st.Datetime.In(s.loc).AddDate(0, 0, in.DateOffset), s.loc)
				cp.VenueID = st.VenueID
				cp.WorkID = st.WorkID
				cp.Format = st.Format
				cp.Language = st.Language
				cp.Subtitles = st.Subtitles
				cp.Price = st.Price
				cp.TicketsAvailable = st.TicketsAvailable
				if _, err := s.store.CreateShowtime(ctx, cp); err != nil {
					return fmt.Errorf("copy showtime %s: %w", st.ID, err)
				}
				copied++
			}
		}

		out, err = s.recompute(ctx, dup, works)
		return err
	})
	if err != nil {
		return model.Event{}, err
	}

	s.publish(ctx, notify.EventDuplicated, map[string]any{
		"source_id": in.EventID,
		"event_id":  out.ID,
		"showtimes": copied,
	})
	return out, nil
}

func shiftDay(day string, offset int, s *Service) (string, error) {
	if day == "" {
		return "", nil
	}
	return tz.AddDays(day, offset, s.loc)
}
