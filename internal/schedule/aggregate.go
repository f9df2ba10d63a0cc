package schedule

import (
	"context"
	"fmt"
	"slices"
	"strings"

	appLog "showsched/internal/log"
	"showsched/internal/metadata"
	"showsched/internal/model"
	"showsched/internal/notify"
)

const untitled = "Untitled"

// Aggregates are the denormalized event fields derived from the showtimes.
type Aggregates struct {
	Title          string
	RuntimeMinutes int
	ColorPalette   model.ColorPalette
}

// Apply writes the aggregates onto ev.
func (a Aggregates) Apply(ev model.Event) model.Event {
	ev.Title = a.Title
	ev.RuntimeMinutes = a.RuntimeMinutes
	ev.ColorPalette = a.ColorPalette
	return ev
}

// ComputeAggregates derives title, runtime and palette for ev from its
// showtimes in creation order.
//
//   - Title joins one label per showtime, "{work} [{language}][{format}]",
//     dropping repeats of an identical label. Empty brackets are omitted
//     and the format falls back to the work's type code.
//   - Runtime sums each distinct work once. Unresolvable or unparseable
//     runtimes count as 0.
//   - The palette is the first showtime's work palette only.
//
// Resolver failures are logged and degrade to defaults.
func (s *Service) ComputeAggregates(ctx context.Context, ev model.Event, showtimes []model.Showtime) Aggregates {
	return s.aggregate(ctx, ev, showtimes, make(workCache))
}

// workCache holds the metadata resolved for one operation, keyed by work
// ID. Resolving into it before a transaction keeps resolver round trips
// outside the store transaction; anything missing is resolved on demand.
type workCache map[string]model.Work

func (s *Service) resolveWork(ctx context.Context, eventID, workID string) model.Work {
	var w model.Work
	if workID != "" {
		var err error
		w, err = s.resolver.Resolve(ctx, workID)
		if err != nil {
			appLog.Error("schedule: work metadata unavailable, using defaults", err,
				"event_id", eventID,
				"work_id", workID,
			)
			w = model.Work{}
		}
	}
	w.ID = workID
	return w
}

func (s *Service) prefetchWorks(ctx context.Context, eventID string, workIDs ...string) workCache {
	works := make(workCache, len(workIDs))
	for _, id := range workIDs {
		if _, ok := works[id]; ok || id == "" {
			continue
		}
		works[id] = s.resolveWork(ctx, eventID, id)
	}
	return works
}

// prefetchEventWorks reads eventID and its showtimes outside any
// transaction and resolves every referenced work plus extra. A read error
// yields whatever was gathered; the transaction reports it.
func (s *Service) prefetchEventWorks(ctx context.Context, eventID string, extra ...string) workCache {
	ids := slices.Clone(extra)
	if ev, sts, err := s.GetEvent(ctx, eventID); err == nil {
		ids = append(ids, ev.WorkID)
		for _, st := range sts {
			ids = append(ids, st.WorkID)
		}
	}
	return s.prefetchWorks(ctx, eventID, ids...)
}

func (s *Service) aggregate(ctx context.Context, ev model.Event, showtimes []model.Showtime, works workCache) Aggregates {
	if len(showtimes) == 0 {
		return Aggregates{Title: fallbackTitle(ev)}
	}

	resolve := func(workID string) model.Work {
		if w, ok := works[workID]; ok {
			return w
		}
		w := s.resolveWork(ctx, ev.ID, workID)
		works[workID] = w
		return w
	}

	var (
		agg     Aggregates
		labels  []string
		seen    = make(map[string]bool)
		counted = make(map[string]bool)
	)
	for i, st := range showtimes {
		workID := st.WorkID
		if workID == "" {
			workID = ev.WorkID
		}
		w := resolve(workID)

		label := showtimeLabel(w, ev, st)
		if !seen[label] {
			seen[label] = true
			labels = append(labels, label)
		}

		if workID != "" && !counted[workID] {
			counted[workID] = true
			agg.RuntimeMinutes += metadata.ParseRuntime(w.Runtime)
		}

		if i == 0 {
			agg.ColorPalette = w.ResolvedPalette()
		}
	}
	agg.Title = strings.Join(labels, s.separator)
	return agg
}

func showtimeLabel(w model.Work, ev model.Event, st model.Showtime) string {
	title := w.Title
	if title == "" {
		title = fallbackTitle(ev)
	}
	code := st.Format
	if code == "" {
		code = strings.ToUpper(w.Type)
	}

	var b strings.Builder
	b.WriteString(title)
	if st.Language != "" || code != "" {
		b.WriteByte(' ')
	}
	if st.Language != "" {
		b.WriteString("[" + st.Language + "]")
	}
	if code != "" {
		b.WriteString("[" + code + "]")
	}
	return b.String()
}

func fallbackTitle(ev model.Event) string {
	if ev.Name != "" {
		return ev.Name
	}
	return untitled
}

// recompute reloads ev's showtimes and persists fresh aggregates. It runs
// inside the caller's transaction.
func (s *Service) recompute(ctx context.Context, ev model.Event, works workCache) (model.Event, error) {
	showtimes, err := s.store.FindShowtimesByEvent(ctx, ev.ID)
	if err != nil {
		return model.Event{}, fmt.Errorf("recompute %s: %w", ev.ID, err)
	}
	updated, err := s.store.UpdateEvent(ctx, s.aggregate(ctx, ev, showtimes, works).Apply(ev))
	if err != nil {
		return model.Event{}, fmt.Errorf("recompute %s: %w", ev.ID, err)
	}
	return updated, nil
}

// RecomputeEvent refreshes an event's aggregates from its current
// showtimes. The content layer calls it after adding or removing a single
// showtime directly.
func (s *Service) RecomputeEvent(ctx context.Context, eventID string) (model.Event, error) {
	works := s.prefetchEventWorks(ctx, eventID)

	var out model.Event
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		ev, err := s.store.FindEvent(ctx, eventID)
		if err != nil {
			return err
		}
		out, err = s.recompute(ctx, ev, works)
		return err
	})
	if err != nil {
		return model.Event{}, err
	}
	s.publish(ctx, notify.EventRecomputed, map[string]any{"event_id": out.ID})
	return out, nil
}
