// Package storetest holds the behavioural checks every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"showsched/internal/model"
	"showsched/internal/store"
)

// Run exercises s against the store contract. newStore must return an
// empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("event round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ev, err := s.CreateEvent(ctx, model.Event{
			Name:         "Festival",
			Status:       model.StatusDraft,
			StartDate:    "2025-01-06",
			EndDate:      "2025-01-07",
			ColorPalette: model.ColorPalette{Dominant: "#112233"},
		})
		if err != nil {
			t.Fatalf("create event: %v", err)
		}
		if ev.ID == "" {
			t.Fatalf("expected an assigned id")
		}

		ev.Title = "Festival [fr][2D]"
		ev.RuntimeMinutes = 95
		if _, err := s.UpdateEvent(ctx, ev); err != nil {
			t.Fatalf("update event: %v", err)
		}

		got, err := s.FindEvent(ctx, ev.ID)
		if err != nil {
			t.Fatalf("find event: %v", err)
		}
		if got.Title != "Festival [fr][2D]" || got.RuntimeMinutes != 95 || got.ColorPalette.Dominant != "#112233" {
			t.Fatalf("unexpected event after update: %+v", got)
		}

		if _, err := s.FindEvent(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := s.UpdateEvent(ctx, model.Event{ID: "missing"}); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on update, got %v", err)
		}
	})

	t.Run("showtimes keep creation order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ev := mustEvent(t, s, "2025-01-06")

		base := time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC)
		// Deliberately created out of chronological order.
		for _, offset := range []int{3, 1, 2} {
			st := model.Showtime{
				EventID:          ev.ID,
				Datetime:         base.AddDate(0, 0, offset),
				Day:              base.AddDate(0, 0, offset).Format("2006-01-02"),
				Format:           "2D",
				Price:            12.5,
				TicketsAvailable: 100,
			}
			if _, err := s.CreateShowtime(ctx, st); err != nil {
				t.Fatalf("create showtime: %v", err)
			}
		}

		got, err := s.FindShowtimesByEvent(ctx, ev.ID)
		if err != nil {
			t.Fatalf("find showtimes: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 showtimes, got %d", len(got))
		}
		for i, wantDay := range []string{"2025-01-13", "2025-01-11", "2025-01-12"} {
			if got[i].Day != wantDay {
				t.Fatalf("showtime %d: expected day %s, got %s", i, wantDay, got[i].Day)
			}
			if !got[i].Datetime.Equal(base.AddDate(0, 0, []int{3, 1, 2}[i])) {
				t.Fatalf("showtime %d: datetime not preserved: %v", i, got[i].Datetime)
			}
		}

		if _, err := s.CreateShowtime(ctx, model.Showtime{EventID: "missing"}); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for unknown event, got %v", err)
		}
	})

	t.Run("swap inventory compares version", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ev := mustEvent(t, s, "2025-01-06")
		st, err := s.CreateShowtime(ctx, model.Showtime{EventID: ev.ID, Datetime: time.Now().UTC(), TicketsAvailable: 10})
		if err != nil {
			t.Fatalf("create showtime: %v", err)
		}

		updated, err := s.SwapInventory(ctx, st.ID, st.Version, 20, 5)
		if err != nil {
			t.Fatalf("swap inventory: %v", err)
		}
		if updated.TicketsAvailable != 20 || updated.TicketsSold != 5 || updated.Version != st.Version+1 {
			t.Fatalf("unexpected showtime after swap: %+v", updated)
		}

		if _, err := s.SwapInventory(ctx, st.ID, st.Version, 30, 6); !errors.Is(err, store.ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict with stale version, got %v", err)
		}
		if _, err := s.SwapInventory(ctx, "missing", 0, 1, 0); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("transaction rolls back on error", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ev := mustEvent(t, s, "2025-01-06")

		boom := errors.New("boom")
		err := s.WithTx(ctx, func(ctx context.Context) error {
			if _, err := s.CreateShowtime(ctx, model.Showtime{EventID: ev.ID, Datetime: time.Now().UTC()}); err != nil {
				return err
			}
			if _, err := s.CreateEvent(ctx, model.Event{Name: "ghost", StartDate: "2025-02-01"}); err != nil {
				return err
			}
			ev.Title = "changed"
			if _, err := s.UpdateEvent(ctx, ev); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}

		sts, err := s.FindShowtimesByEvent(ctx, ev.ID)
		if err != nil {
			t.Fatalf("find showtimes: %v", err)
		}
		if len(sts) != 0 {
			t.Fatalf("expected rolled back showtimes, got %d", len(sts))
		}
		events, err := s.ListEvents(ctx, store.EventFilter{})
		if err != nil {
			t.Fatalf("list events: %v", err)
		}
		if len(events) != 1 || events[0].Title == "changed" {
			t.Fatalf("expected only the original, unchanged event, got %+v", events)
		}
	})

	t.Run("delete keeps occurrences and root", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		root := mustEvent(t, s, "2025-01-06")
		occ, err := s.CreateEvent(ctx, model.Event{Name: "occ", StartDate: "2025-01-13", EndDate: "2025-01-13", OccurrenceOf: root.ID})
		if err != nil {
			t.Fatalf("create occurrence: %v", err)
		}
		if _, err := s.CreateShowtime(ctx, model.Showtime{EventID: occ.ID, Datetime: time.Now().UTC()}); err != nil {
			t.Fatalf("create showtime: %v", err)
		}

		if err := s.DeleteEvent(ctx, occ.ID); err != nil {
			t.Fatalf("delete occurrence: %v", err)
		}
		if _, err := s.FindEvent(ctx, root.ID); err != nil {
			t.Fatalf("expected root to survive, got %v", err)
		}
		sts, _ := s.FindShowtimesByEvent(ctx, occ.ID)
		if len(sts) != 0 {
			t.Fatalf("expected owned showtimes deleted, got %d", len(sts))
		}

		occ2, _ := s.CreateEvent(ctx, model.Event{Name: "occ2", StartDate: "2025-01-20", OccurrenceOf: root.ID})
		if err := s.DeleteEvent(ctx, root.ID); err != nil {
			t.Fatalf("delete root: %v", err)
		}
		if _, err := s.FindEvent(ctx, occ2.ID); err != nil {
			t.Fatalf("expected occurrence to survive root deletion, got %v", err)
		}
		if err := s.DeleteEvent(ctx, root.ID); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on second delete, got %v", err)
		}
	})

	t.Run("list filters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		root, _ := s.CreateEvent(ctx, model.Event{Name: "root", StartDate: "2025-01-06", EndDate: "2025-01-06", Recurring: true})
		_, _ = s.CreateEvent(ctx, model.Event{Name: "occ", StartDate: "2025-01-13", EndDate: "2025-01-13", OccurrenceOf: root.ID})
		_, _ = s.CreateEvent(ctx, model.Event{Name: "long", StartDate: "2025-01-01", EndDate: "2025-01-31"})

		got, err := s.ListEvents(ctx, store.EventFilter{From: "2025-01-10", To: "2025-01-14"})
		if err != nil {
			t.Fatalf("list events: %v", err)
		}
		if len(got) != 2 || got[0].Name != "long" || got[1].Name != "occ" {
			t.Fatalf("unexpected window result: %+v", names(got))
		}

		got, _ = s.ListEvents(ctx, store.EventFilter{OccurrenceOf: root.ID})
		if len(got) != 1 || got[0].Name != "occ" {
			t.Fatalf("unexpected occurrence result: %+v", names(got))
		}

		got, _ = s.ListEvents(ctx, store.EventFilter{RootsOnly: true})
		if len(got) != 2 {
			t.Fatalf("expected 2 roots, got %+v", names(got))
		}
	})
}

func mustEvent(t *testing.T, s store.Store, day string) model.Event {
	t.Helper()
	ev, err := s.CreateEvent(context.Background(), model.Event{Name: "Event " + day, StartDate: day, EndDate: day})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return ev
}

func names(events []model.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Name)
	}
	return out
}
