package schedule

import (
	"context"
	"fmt"
	"strings"

	"showsched/internal/model"
	"showsched/internal/notify"
	"showsched/internal/recurrence"
	"showsched/internal/tz"
)

// CreateEventInput describes a new root event. When Recurring is set the
// rule is expanded into occurrence events; when Showtime is set every
// created event gets one showtime on its start day.
type CreateEventInput struct {
	Name        string
	Description string
	VenueID     string
	WorkID      string
	Status      string
	Featured    bool

	StartDate string
	EndDate   string

	Recurring      bool
	RecurrenceRule string
	// Exclusions are calendar days the rule must skip.
	Exclusions []string

	Showtime *Template
}

type CreateEventResult struct {
	Root        model.Event      `json:"root"`
	Occurrences []model.Event    `json:"occurrences"`
	Showtimes   []model.Showtime `json:"showtimes"`
}

func (s *Service) validateCreate(in *CreateEventInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return invalid("name", "is required")
	}
	if _, err := tz.ParseDay(in.StartDate, s.loc); err != nil {
		return invalidCause("start_date", "must be YYYY-MM-DD", err)
	}
	if in.EndDate == "" {
		in.EndDate = in.StartDate
	}
	if _, err := tz.ParseDay(in.EndDate, s.loc); err != nil {
		return invalidCause("end_date", "must be YYYY-MM-DD", err)
	}
	if in.EndDate < in.StartDate {
		return invalid("end_date", "must not be before start_date")
	}
	switch in.Status {
	case "":
		in.Status = model.StatusDraft
	case model.StatusDraft, model.StatusPublished:
	default:
		return invalid("status", "must be draft or published")
	}

	if in.Recurring {
		if strings.TrimSpace(in.RecurrenceRule) == "" {
			return invalid("recurrence_rule", "is required for recurring events")
		}
		if err := recurrence.ValidateRule(in.RecurrenceRule); err != nil {
			return invalidCause("recurrence_rule", "is not a bounded RFC-5545 rule", err)
		}
	} else if in.RecurrenceRule != "" || len(in.Exclusions) > 0 {
		return invalid("recurrence_rule", "is only allowed on recurring events")
	}
	for i, day := range in.Exclusions {
		if _, err := tz.ParseDay(day, s.loc); err != nil {
			return invalidCause(fmt.Sprintf("exclusions[%d]", i), "must be YYYY-MM-DD", err)
		}
	}

	if in.Showtime != nil {
		if in.Showtime.Format == "" {
			in.Showtime.Format = s.defaults.Format
		}
		if in.Showtime.Language == "" {
			in.Showtime.Language = s.defaults.Language
		}
		if err := s.validateTemplate(*in.Showtime); err != nil {
			return err
		}
	}
	return nil
}

// occurrenceDays expands the rule and returns the additional start days,
// strictly after the root's day and never on an excluded day.
func (s *Service) occurrenceDays(in CreateEventInput) ([]string, error) {
	hour, minute, second := 0, 0, 0
	if in.Showtime != nil {
		var err error
		if hour, minute, second, err = parseTimeOfDay(in.Showtime.TimeOfDay); err != nil {
			return nil, invalidCause("time", "must be HH:MM", err)
		}
	}
	hour, minute, second, err := recurrence.AnchorTime(in.RecurrenceRule, hour, minute, second, in.Showtime != nil)
	if err != nil {
		return nil, invalidCause("recurrence_rule", "must match the showtime time of day", err)
	}
	timeOfDay := fmt.Sprintf("%02d:%02d:%02d", hour, minute, second)

	dtstart, err := s.at(in.StartDate, timeOfDay)
	if err != nil {
		return nil, invalidCause("start_date", "must be YYYY-MM-DD", err)
	}

	spec := model.RecurrenceSpec{
		DTStart:  dtstart,
		Rule:     in.RecurrenceRule,
		Timezone: s.loc.String(),
	}
	skip := make(map[string]bool, len(in.Exclusions))
	for _, day := range in.Exclusions {
		ex, err := s.at(day, timeOfDay)
		if err != nil {
			return nil, invalidCause("exclusions", "must be YYYY-MM-DD", err)
		}
		spec.Exclusions = append(spec.Exclusions, ex)
		skip[tz.Day(ex, s.loc)] = true
	}

	instants, err := s.expander.Expand(spec)
	if err != nil {
		return nil, invalidCause("recurrence_rule", "cannot be expanded", err)
	}

	// Sub-daily rules collapse onto one occurrence per day, and the root
	// already covers its own day.
	last := tz.Day(dtstart, s.loc)
	days := make([]string, 0, len(instants))
	for _, t := range instants {
		day := tz.Day(t, s.loc)
		if day <= last || skip[day] {
			continue
		}
		days = append(days, day)
		last = day
	}
	return days, nil
}

// CreateEvent creates a root event and, for recurring events, one
// occurrence per additional rule date. Occurrences share the root's
// descriptive fields and day span, point back at the root, and never carry
// a rule of their own. The whole set, its showtimes and the aggregate
// recompute commit together.
func (s *Service) CreateEvent(ctx context.Context, in CreateEventInput) (CreateEventResult, error) {
	if err := s.validateCreate(&in); err != nil {
		return CreateEventResult{}, err
	}

	var days []string
	if in.Recurring {
		var err error
		if days, err = s.occurrenceDays(in); err != nil {
			return CreateEventResult{}, err
		}
	}
	span, err := tz.DaysBetween(in.StartDate, in.EndDate, s.loc)
	if err != nil {
		return CreateEventResult{}, invalidCause("end_date", "must be YYYY-MM-DD", err)
	}

	templateWork := ""
	if in.Showtime != nil {
		templateWork = in.Showtime.WorkID
	}
	works := s.prefetchWorks(ctx, "", in.WorkID, templateWork)

	var res CreateEventResult
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		root, err := s.store.CreateEvent(ctx, model.Event{
			Slug:           slugify(in.Name),
			Name:           in.Name,
			Title:          in.Name,
			Description:    in.Description,
			Status:         in.Status,
			Featured:       in.Featured,
			StartDate:      in.StartDate,
			EndDate:        in.EndDate,
			Recurring:      in.Recurring,
			RecurrenceRule: in.RecurrenceRule,
			VenueID:        in.VenueID,
			WorkID:         in.WorkID,
			CreatedAt:      s.clock.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("create root event: %w", err)
		}

		events := []model.Event{root}
		for _, day := range days {
			end, err := tz.AddDays(day, span, s.loc)
			if err != nil {
				return err
			}
			occ, err := s.store.CreateEvent(ctx, model.Event{
				Slug:         root.Slug + "-" + day,
				Name:         root.Name,
				Title:        root.Name,
				Description:  root.Description,
				Status:       root.Status,
				Featured:     root.Featured,
				StartDate:    day,
				EndDate:      end,
				OccurrenceOf: root.ID,
				VenueID:      root.VenueID,
				WorkID:       root.WorkID,
				CreatedAt:    root.CreatedAt,
			})
			if err != nil {
				return fmt.Errorf("create occurrence %s: %w", day, err)
			}
			events = append(events, occ)
		}

		for i, ev := range events {
			if in.Showtime != nil {
				sts, err := s.synthesize(ctx, ev, in.VenueID, *in.Showtime, []string{ev.StartDate})
				if err != nil {
					return err
				}
				res.Showtimes = append(res.Showtimes, sts...)
			}
			updated, err := s.recompute(ctx, ev, works)
			if err != nil {
				return err
			}
			events[i] = updated
		}

		res.Root = events[0]
		res.Occurrences = events[1:]
		return nil
	})
	if err != nil {
		return CreateEventResult{}, err
	}

	s.publish(ctx, notify.EventCreated, map[string]any{
		"event_id":    res.Root.ID,
		"occurrences": len(res.Occurrences),
		"showtimes":   len(res.Showtimes),
	})
	return res, nil
}
