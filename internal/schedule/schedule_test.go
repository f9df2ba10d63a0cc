package schedule

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"showsched/internal/datewindow"
	"showsched/internal/metadata"
	"showsched/internal/model"
	"showsched/internal/notify"
	"showsched/internal/recurrence"
	"showsched/internal/store"
	"showsched/internal/store/memstore"
)

func TestCreateBulkShowtimes_PreservesOrderAndDerivesDay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ev := f.mustCreate(t, CreateEventInput{Name: "Late Show", StartDate: "2025-01-10", EndDate: "2025-01-20"}).Root

	dates := []string{"2025-01-12", "2025-01-10", "2025-01-11"}
	created, err := f.svc.CreateBulkShowtimes(ctx, BulkShowtimesInput{
		EventID: ev.ID,
		Dates:   dates,
		Time:    "23:30",
	})
	if err != nil {
		t.Fatalf("CreateBulkShowtimes: %v", err)
	}
	if len(created) != len(dates) {
		t.Fatalf("expected %d showtimes, got %d", len(dates), len(created))
	}
	for i, st := range created {
		if st.Day != dates[i] {
			t.Errorf("showtime %d: day = %s, want %s", i, st.Day, dates[i])
		}
		// 23:30 in Tunis is 22:30 UTC on the same calendar day.
		if u := st.Datetime.UTC(); u.Hour() != 22 || u.Minute() != 30 || u.Format("2006-01-02") != dates[i] {
			t.Errorf("showtime %d: datetime = %s", i, st.Datetime)
		}
		if st.Format != "2D" || st.Language != "VO" || st.TicketsAvailable != 100 || st.TicketsSold != 0 {
			t.Errorf("showtime %d: defaults not applied: %+v", i, st)
		}
	}

	stored := f.showtimes(t, ev.ID)
	for i := range stored {
		if stored[i].ID != created[i].ID {
			t.Fatalf("stored order differs at %d", i)
		}
	}
	if got := f.rec.Types(); !slices.Contains(got, notify.ShowtimesCreated) {
		t.Errorf("expected %s message, got %v", notify.ShowtimesCreated, got)
	}
}

func TestCreateBulkShowtimes_RollsBackOnFailure(t *testing.T) {
	st := &failingStore{Store: memstore.New(), failAfter: 2}
	f := newFixture(t, st)
	ctx := context.Background()
	ev := f.mustCreate(t, CreateEventInput{Name: "Gala", StartDate: "2025-01-10"}).Root

	_, err := f.svc.CreateBulkShowtimes(ctx, BulkShowtimesInput{
		EventID: ev.ID,
		Dates:   []string{"2025-01-10", "2025-01-11", "2025-01-12", "2025-01-13"},
		Time:    "20:00",
	})
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if sts := f.showtimes(t, ev.ID); len(sts) != 0 {
		t.Fatalf("expected rollback to leave no showtimes, got %d", len(sts))
	}
	got, err := f.st.FindEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("FindEvent: %v", err)
	}
	if got.Title != "Gala" {
		t.Errorf("aggregates changed after rollback: title = %q", got.Title)
	}
}

func TestCreateBulkShowtimes_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		in    BulkShowtimesInput
		field string
	}{
		{"missing event", BulkShowtimesInput{Dates: []string{"2025-01-10"}, Time: "20:00"}, "event_id"},
		{"no dates", BulkShowtimesInput{EventID: "x", Time: "20:00"}, "dates"},
		{"bad date", BulkShowtimesInput{EventID: "x", Dates: []string{"2025-01-10", "10/01"}, Time: "20:00"}, "dates[1]"},
		{"bad time", BulkShowtimesInput{EventID: "x", Dates: []string{"2025-01-10"}, Time: "8pm"}, "time"},
		{"negative price", BulkShowtimesInput{EventID: "x", Dates: []string{"2025-01-10"}, Time: "20:00", Price: ptr(-1.0)}, "price"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateBulkShowtimes(ctx, tc.in)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if got := FieldOf(err); got != tc.field {
				t.Errorf("field = %q, want %q", got, tc.field)
			}
		})
	}

	_, err := f.svc.CreateBulkShowtimes(ctx, BulkShowtimesInput{EventID: "missing", Dates: []string{"2025-01-10"}, Time: "20:00"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateEvent_RecurringExpandsOccurrences(t *testing.T) {
	f := newFixture(t, nil)

	res := f.mustCreate(t, CreateEventInput{
		Name:           "Monday Jazz",
		Status:         model.StatusPublished,
		StartDate:      "2025-01-06",
		EndDate:        "2025-01-07",
		Recurring:      true,
		RecurrenceRule: "FREQ=WEEKLY;COUNT=4",
		Showtime:       &Template{TimeOfDay: "20:00", TicketsAvailable: 80},
	})

	if !res.Root.Recurring || res.Root.RecurrenceRule == "" || res.Root.IsOccurrence() {
		t.Fatalf("unexpected root: %+v", res.Root)
	}
	wantStarts := []string{"2025-01-13", "2025-01-20", "2025-01-27"}
	wantEnds := []string{"2025-01-14", "2025-01-21", "2025-01-28"}
	if len(res.Occurrences) != len(wantStarts) {
		t.Fatalf("expected %d occurrences, got %d", len(wantStarts), len(res.Occurrences))
	}
	for i, occ := range res.Occurrences {
		if occ.OccurrenceOf != res.Root.ID {
			t.Errorf("occurrence %d points at %q", i, occ.OccurrenceOf)
		}
		if occ.Recurring || occ.RecurrenceRule != "" {
			t.Errorf("occurrence %d carries a rule", i)
		}
		if occ.StartDate != wantStarts[i] || occ.EndDate != wantEnds[i] {
			t.Errorf("occurrence %d: %s..%s", i, occ.StartDate, occ.EndDate)
		}
		if occ.Status != model.StatusPublished || occ.Name != "Monday Jazz" {
			t.Errorf("occurrence %d did not inherit root fields: %+v", i, occ)
		}
		sts := f.showtimes(t, occ.ID)
		if len(sts) != 1 || sts[0].Day != occ.StartDate || sts[0].TicketsAvailable != 80 {
			t.Errorf("occurrence %d showtimes: %+v", i, sts)
		}
	}
	if len(res.Showtimes) != 4 {
		t.Errorf("expected 4 showtimes total, got %d", len(res.Showtimes))
	}
	if sts := f.showtimes(t, res.Root.ID); len(sts) != 1 || sts[0].Day != "2025-01-06" {
		t.Errorf("root showtimes: %+v", sts)
	}

	all, err := f.st.ListEvents(context.Background(), store.EventFilter{OccurrenceOf: res.Root.ID})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 listed occurrences, got %d", len(all))
	}
}

func TestCreateEvent_RecurringWithExclusions(t *testing.T) {
	f := newFixture(t, nil)
	res := f.mustCreate(t, CreateEventInput{
		Name:           "Matinee",
		StartDate:      "2025-01-06",
		Recurring:      true,
		RecurrenceRule: "RRULE:FREQ=DAILY;COUNT=5",
		Exclusions:     []string{"2025-01-08"},
	})
	var got []string
	for _, occ := range res.Occurrences {
		got = append(got, occ.StartDate)
	}
	want := []string{"2025-01-07", "2025-01-09", "2025-01-10"}
	if !slices.Equal(got, want) {
		t.Fatalf("occurrence days = %v, want %v", got, want)
	}
	if len(res.Showtimes) != 0 {
		t.Errorf("no template given, expected no showtimes, got %d", len(res.Showtimes))
	}
}

func TestCreateEvent_SubDailyRuleSkipsRootDay(t *testing.T) {
	f := newFixture(t, nil)
	res := f.mustCreate(t, CreateEventInput{
		Name:           "Late Shows",
		StartDate:      "2025-01-10",
		Recurring:      true,
		RecurrenceRule: "FREQ=HOURLY;COUNT=6",
		Showtime:       &Template{TimeOfDay: "20:00"},
	})

	// 21:00..23:00 fall on the root's day, 00:00 and 01:00 on the next one.
	if len(res.Occurrences) != 1 || res.Occurrences[0].StartDate != "2025-01-11" {
		t.Fatalf("expected one occurrence on 2025-01-11, got %+v", res.Occurrences)
	}
	if sts := f.showtimes(t, res.Root.ID); len(sts) != 1 {
		t.Fatalf("expected a single root showtime, got %d", len(sts))
	}
	if len(res.Showtimes) != 2 {
		t.Fatalf("expected 2 showtimes total, got %d", len(res.Showtimes))
	}
}

func TestCreateEvent_RuleTimeOfDay(t *testing.T) {
	t.Run("anchors on rule hour without template", func(t *testing.T) {
		f := newFixture(t, nil)
		res := f.mustCreate(t, CreateEventInput{
			Name:           "Evening",
			StartDate:      "2025-01-10",
			Recurring:      true,
			RecurrenceRule: "FREQ=DAILY;COUNT=4;BYHOUR=18;BYMINUTE=0;BYSECOND=0",
			Exclusions:     []string{"2025-01-12"},
		})
		var got []string
		for _, occ := range res.Occurrences {
			got = append(got, occ.StartDate)
		}
		want := []string{"2025-01-11", "2025-01-13"}
		if !slices.Equal(got, want) {
			t.Fatalf("occurrence days = %v, want %v", got, want)
		}
	})

	t.Run("matching template hour", func(t *testing.T) {
		f := newFixture(t, nil)
		res := f.mustCreate(t, CreateEventInput{
			Name:           "Evening",
			StartDate:      "2025-01-10",
			Recurring:      true,
			RecurrenceRule: "FREQ=DAILY;COUNT=3;BYHOUR=20",
			Showtime:       &Template{TimeOfDay: "20:00"},
		})
		if len(res.Occurrences) != 2 {
			t.Fatalf("expected 2 occurrences, got %d", len(res.Occurrences))
		}
		for _, st := range res.Showtimes {
			if h := st.Datetime.In(f.svc.Location()).Hour(); h != 20 {
				t.Fatalf("showtime %s at hour %d, want 20", st.Day, h)
			}
		}
	})
}

func TestCreateEvent_RejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		in    CreateEventInput
		field string
		cause error
	}{
		{"missing name", CreateEventInput{StartDate: "2025-01-06"}, "name", nil},
		{"bad start", CreateEventInput{Name: "x", StartDate: "nope"}, "start_date", nil},
		{"end before start", CreateEventInput{Name: "x", StartDate: "2025-01-06", EndDate: "2025-01-05"}, "end_date", nil},
		{"bad status", CreateEventInput{Name: "x", StartDate: "2025-01-06", Status: "live"}, "status", nil},
		{"rule required", CreateEventInput{Name: "x", StartDate: "2025-01-06", Recurring: true}, "recurrence_rule", nil},
		{"rule without recurring", CreateEventInput{Name: "x", StartDate: "2025-01-06", RecurrenceRule: "FREQ=DAILY;COUNT=2"}, "recurrence_rule", nil},
		{"unbounded", CreateEventInput{Name: "x", StartDate: "2025-01-06", Recurring: true, RecurrenceRule: "FREQ=DAILY"}, "recurrence_rule", recurrence.ErrUnboundedRule},
		{"malformed", CreateEventInput{Name: "x", StartDate: "2025-01-06", Recurring: true, RecurrenceRule: "FREQ=SOMETIMES;COUNT=2"}, "recurrence_rule", recurrence.ErrInvalidRule},
		{"too many", CreateEventInput{Name: "x", StartDate: "2025-01-06", Recurring: true, RecurrenceRule: "FREQ=DAILY;COUNT=900"}, "recurrence_rule", recurrence.ErrTooManyOccurrences},
		{"rule hour conflicts with showtime", CreateEventInput{Name: "x", StartDate: "2025-01-10", Recurring: true, RecurrenceRule: "FREQ=DAILY;COUNT=4;BYHOUR=18;BYMINUTE=0;BYSECOND=0", Showtime: &Template{TimeOfDay: "20:00"}}, "recurrence_rule", recurrence.ErrTimeConflict},
		{"bad template time", CreateEventInput{Name: "x", StartDate: "2025-01-06", Showtime: &Template{TimeOfDay: "25:00"}}, "time", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateEvent(ctx, tc.in)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if got := FieldOf(err); got != tc.field {
				t.Errorf("field = %q, want %q", got, tc.field)
			}
			if tc.cause != nil && !errors.Is(err, tc.cause) {
				t.Errorf("expected cause %v, got %v", tc.cause, err)
			}
		})
	}

	events, err := f.st.ListEvents(ctx, store.EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("rejected input persisted %d events", len(events))
	}
}

func TestDuplicateEvent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	src := f.mustCreate(t, CreateEventInput{
		Name:           "Opera Night",
		Description:    "Tosca",
		Status:         model.StatusPublished,
		Featured:       true,
		StartDate:      "2025-01-06",
		EndDate:        "2025-01-20",
		Recurring:      true,
		RecurrenceRule: "FREQ=WEEKLY;COUNT=2",
	}).Root
	if _, err := f.svc.CreateBulkShowtimes(ctx, BulkShowtimesInput{
		EventID: src.ID,
		Dates:   []string{"2025-01-06", "2025-01-07"},
		Time:    "19:00",
		Price:   ptr(25.0),
	}); err != nil {
		t.Fatalf("CreateBulkShowtimes: %v", err)
	}
	sts := f.showtimes(t, src.ID)
	if _, err := f.svc.SellTickets(ctx, sts[0].ID, 30); err != nil {
		t.Fatalf("SellTickets: %v", err)
	}

	t.Run("without showtimes", func(t *testing.T) {
		dup, err := f.svc.DuplicateEvent(ctx, DuplicateInput{EventID: src.ID})
		if err != nil {
			t.Fatalf("DuplicateEvent: %v", err)
		}
		if got := f.showtimes(t, dup.ID); len(got) != 0 {
			t.Fatalf("expected 0 showtimes, got %d", len(got))
		}
		if dup.Name != src.Name || dup.Description != "Tosca" {
			t.Errorf("descriptive fields not copied: %+v", dup)
		}
		if dup.StartDate != src.StartDate || dup.EndDate != src.EndDate {
			t.Errorf("zero offset moved dates: %s..%s", dup.StartDate, dup.EndDate)
		}
		if dup.Title != "Opera Night" || dup.RuntimeMinutes != 0 {
			t.Errorf("aggregates not recomputed for empty copy: %+v", dup)
		}
	})

	t.Run("with showtimes and offset", func(t *testing.T) {
		dup, err := f.svc.DuplicateEvent(ctx, DuplicateInput{
			EventID:       src.ID,
			NewTitle:      "Opera Night (reprise)",
			DateOffset:    7,
			CopyShowtimes: true,
		})
		if err != nil {
			t.Fatalf("DuplicateEvent: %v", err)
		}
		if dup.ID == src.ID || dup.Slug == src.Slug || !strings.HasPrefix(dup.Slug, src.Slug+"-") {
			t.Errorf("unexpected identity: id=%s slug=%s", dup.ID, dup.Slug)
		}
		if dup.Status != model.StatusDraft || dup.Featured {
			t.Errorf("copy must be an unfeatured draft: %+v", dup)
		}
		if dup.Recurring || dup.RecurrenceRule != "" || dup.OccurrenceOf != "" {
			t.Errorf("copy inherited recurrence: %+v", dup)
		}
		if dup.Name != "Opera Night (reprise)" || dup.StartDate != "2025-01-13" || dup.EndDate != "2025-01-27" {
			t.Errorf("unexpected copy: %+v", dup)
		}

		copied := f.showtimes(t, dup.ID)
		if len(copied) != len(sts) {
			t.Fatalf("expected %d showtimes, got %d", len(sts), len(copied))
		}
		wantDays := []string{"2025-01-13", "2025-01-14"}
		for i, cp := range copied {
			if cp.Day != wantDays[i] || cp.Datetime.Hour() != 19 {
				t.Errorf("showtime %d: %s %s", i, cp.Day, cp.Datetime)
			}
			if cp.TicketsSold != 0 || cp.TicketsAvailable != sts[i].TicketsAvailable || cp.Price != 25 {
				t.Errorf("showtime %d: inventory not reset: %+v", i, cp)
			}
		}
		if orig := f.showtimes(t, src.ID); orig[0].TicketsSold != 30 {
			t.Errorf("source showtime changed: %+v", orig[0])
		}
	})

	t.Run("missing source", func(t *testing.T) {
		if _, err := f.svc.DuplicateEvent(ctx, DuplicateInput{EventID: "nope"}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	if got := f.rec.Types(); !slices.Contains(got, notify.EventDuplicated) {
		t.Errorf("expected %s message, got %v", notify.EventDuplicated, got)
	}
}

func TestComputeStats(t *testing.T) {
	stats := ComputeStats([]model.Showtime{
		{TicketsAvailable: 100, TicketsSold: 80},
		{TicketsAvailable: 50, TicketsSold: 50},
	})
	want := model.EventStats{
		ShowtimeCount:         2,
		TotalTicketsAvailable: 150,
		TotalTicketsSold:      130,
		RemainingTickets:      20,
		SoldPercentage:        87,
	}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}

	if empty := ComputeStats(nil); empty != (model.EventStats{}) {
		t.Fatalf("empty stats = %+v", empty)
	}
	if zero := ComputeStats([]model.Showtime{{}}); zero.SoldPercentage != 0 || zero.ShowtimeCount != 1 {
		t.Fatalf("zero-capacity stats = %+v", zero)
	}
}

func TestEventStats(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ev := f.mustCreate(t, CreateEventInput{Name: "Stats", StartDate: "2025-01-10"}).Root

	stats, err := f.svc.EventStats(ctx, ev.ID)
	if err != nil {
		t.Fatalf("EventStats: %v", err)
	}
	if stats.EventID != ev.ID || stats.ShowtimeCount != 0 || stats.SoldPercentage != 0 {
		t.Fatalf("unexpected empty stats: %+v", stats)
	}

	if _, err := f.svc.EventStats(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAggregates(t *testing.T) {
	works := metadata.Static{
		"dune": {
			Title:         "Dune",
			Runtime:       "2h 35m",
			Type:          "movie",
			PosterPalette: model.ColorPalette{Dominant: "#c2a35b"},
		},
		"heat": {
			Title:   "Heat",
			Runtime: "170",
			Type:    "movie",
			Palette: model.ColorPalette{Dominant: "#102030"},
		},
		"mystery": {Title: "Mystery", Runtime: "very long"},
	}
	f := newFixture(t, nil, WithResolver(works))
	ctx := context.Background()
	ev := f.mustCreate(t, CreateEventInput{Name: "Double Bill", WorkID: "dune", StartDate: "2025-01-10"}).Root

	if _, err := f.svc.CreateBulkShowtimes(ctx, BulkShowtimesInput{
		EventID: ev.ID, Dates: []string{"2025-01-10", "2025-01-11"}, Time: "18:00",
	}); err != nil {
		t.Fatalf("CreateBulkShowtimes: %v", err)
	}
	first, err := f.st.FindEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("FindEvent: %v", err)
	}
	if first.Title != "Dune [VO][2D]" {
		t.Errorf("title = %q", first.Title)
	}
	if first.RuntimeMinutes != 155 {
		t.Errorf("runtime = %d, want 155", first.RuntimeMinutes)
	}
	if first.ColorPalette.Dominant != "#c2a35b" {
		t.Errorf("palette = %+v, want poster fallback", first.ColorPalette)
	}

	if _, err := f.svc.CreateBulkShowtimes(ctx, BulkShowtimesInput{
		EventID: ev.ID, Dates: []string{"2025-01-10"}, Time: "21:00", Format: "IMAX", Language: "FR", WorkID: "heat",
	}); err != nil {
		t.Fatalf("CreateBulkShowtimes: %v", err)
	}
	second, _ := f.st.FindEvent(ctx, ev.ID)
	if second.Title != "Dune [VO][2D] | Heat [FR][IMAX]" {
		t.Errorf("title = %q", second.Title)
	}
	if second.RuntimeMinutes < first.RuntimeMinutes || second.RuntimeMinutes != 325 {
		t.Errorf("runtime = %d, want 325", second.RuntimeMinutes)
	}
	if second.ColorPalette != first.ColorPalette {
		t.Errorf("palette must come from the first showtime only: %+v", second.ColorPalette)
	}

	if _, err := f.svc.CreateBulkShowtimes(ctx, BulkShowtimesInput{
		EventID: ev.ID, Dates: []string{"2025-01-12"}, Time: "21:00", WorkID: "mystery",
	}); err != nil {
		t.Fatalf("CreateBulkShowtimes: %v", err)
	}
	third, _ := f.st.FindEvent(ctx, ev.ID)
	if third.RuntimeMinutes != 325 {
		t.Errorf("unparseable runtime must count as 0, got %d", third.RuntimeMinutes)
	}
}

func TestComputeAggregates_TypeCodeAndEmptyBrackets(t *testing.T) {
	works := metadata.Static{"hamlet": {Title: "Hamlet", Type: "play"}}
	f := newFixture(t, nil, WithResolver(works), WithTitleSeparator(" / "))
	ev := model.Event{ID: "e1", Name: "Season"}

	agg := f.svc.ComputeAggregates(context.Background(), ev, []model.Showtime{
		{WorkID: "hamlet", Language: "EN"},
		{WorkID: "hamlet"},
		{},
	})
	want := "Hamlet [EN][PLAY] / Hamlet [PLAY] / Season"
	if agg.Title != want {
		t.Fatalf("title = %q, want %q", agg.Title, want)
	}

	if empty := f.svc.ComputeAggregates(context.Background(), model.Event{}, nil); empty.Title != "Untitled" {
		t.Fatalf("empty title = %q", empty.Title)
	}
}

func TestAggregates_ResolverFailureDegrades(t *testing.T) {
	f := newFixture(t, nil, WithResolver(brokenResolver{}))
	ev := f.mustCreate(t, CreateEventInput{
		Name:      "Offline",
		WorkID:    "w1",
		StartDate: "2025-01-10",
		Showtime:  &Template{TimeOfDay: "20:00"},
	}).Root

	if ev.Title != "Offline [VO][2D]" {
		t.Errorf("title = %q", ev.Title)
	}
	if ev.RuntimeMinutes != 0 || !ev.ColorPalette.IsZero() {
		t.Errorf("expected defaults, got runtime=%d palette=%+v", ev.RuntimeMinutes, ev.ColorPalette)
	}
}

func TestAggregates_ResolvesOutsideTransactions(t *testing.T) {
	st := &txTrackingStore{Store: memstore.New()}
	res := &txCheckingResolver{st: st, works: metadata.Static{
		"dune": {Title: "Dune", Runtime: "155"},
		"solo": {Title: "Solo", Runtime: "90"},
	}}
	f := newFixture(t, st, WithResolver(res))
	ctx := context.Background()

	ev := f.mustCreate(t, CreateEventInput{
		Name:      "Double Bill",
		WorkID:    "dune",
		StartDate: "2025-01-10",
		Showtime:  &Template{TimeOfDay: "20:00"},
	}).Root
	if _, err := f.svc.CreateBulkShowtimes(ctx, BulkShowtimesInput{
		EventID: ev.ID,
		Dates:   []string{"2025-01-11"},
		Time:    "18:00",
		WorkID:  "solo",
	}); err != nil {
		t.Fatalf("CreateBulkShowtimes: %v", err)
	}
	if _, err := f.svc.DuplicateEvent(ctx, DuplicateInput{EventID: ev.ID, CopyShowtimes: true}); err != nil {
		t.Fatalf("DuplicateEvent: %v", err)
	}
	got, err := f.svc.RecomputeEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("RecomputeEvent: %v", err)
	}

	if got.RuntimeMinutes != 245 {
		t.Fatalf("runtime = %d, want 245", got.RuntimeMinutes)
	}
	if res.calls.Load() == 0 {
		t.Fatalf("expected the resolver to be consulted")
	}
	if n := res.inTxns.Load(); n != 0 {
		t.Fatalf("expected no lookups inside a transaction, got %d", n)
	}
}

func TestRecomputeEvent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ev := f.mustCreate(t, CreateEventInput{Name: "Solo", StartDate: "2025-01-10"}).Root

	// A showtime added behind the engine's back.
	extra := model.NewShowtime(ev.ID, testNow, f.svc.Location())
	extra.Language = "AR"
	if _, err := f.st.CreateShowtime(ctx, extra); err != nil {
		t.Fatalf("CreateShowtime: %v", err)
	}
	got, err := f.svc.RecomputeEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("RecomputeEvent: %v", err)
	}
	if got.Title != "Solo [AR]" {
		t.Errorf("title = %q", got.Title)
	}
	if _, err := f.svc.RecomputeEvent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestListEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.mustCreate(t, CreateEventInput{Name: "Past", StartDate: "2025-01-01", EndDate: "2025-01-07"})
	f.mustCreate(t, CreateEventInput{Name: "Running", StartDate: "2025-01-01", EndDate: "2025-01-08"})
	f.mustCreate(t, CreateEventInput{Name: "Weekend", StartDate: "2025-01-11"})

	names := func(evs []model.Event) []string {
		var out []string
		for _, ev := range evs {
			out = append(out, ev.Name)
		}
		return out
	}

	open, err := f.svc.ListEvents(ctx, nil)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if got := names(open); !slices.Equal(got, []string{"Running", "Weekend"}) {
		t.Errorf("not-yet-ended = %v", got)
	}

	w, _ := datewindow.Resolve(datewindow.Weekend, testNow, f.svc.Location())
	weekend, err := f.svc.ListEvents(ctx, &w)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if got := names(weekend); !slices.Equal(got, []string{"Weekend"}) {
		t.Errorf("weekend = %v", got)
	}
}

func TestUpdateInventory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res := f.mustCreate(t, CreateEventInput{Name: "Inv", StartDate: "2025-01-10", Showtime: &Template{TimeOfDay: "20:00", TicketsAvailable: 10}})
	id := res.Showtimes[0].ID

	got, err := f.svc.UpdateInventory(ctx, InventoryInput{ShowtimeID: id, TicketsAvailable: 20, TicketsSold: ptr(5)})
	if err != nil {
		t.Fatalf("UpdateInventory: %v", err)
	}
	if got.TicketsAvailable != 20 || got.TicketsSold != 5 || got.Version != 1 {
		t.Fatalf("unexpected showtime: %+v", got)
	}

	// Shrinking capacity below what was sold is rejected.
	_, err = f.svc.UpdateInventory(ctx, InventoryInput{ShowtimeID: id, TicketsAvailable: 4})
	if !errors.Is(err, ErrInventoryInvariant) || FieldOf(err) != "tickets_sold" {
		t.Fatalf("expected invariant error on tickets_sold, got %v", err)
	}
	_, err = f.svc.UpdateInventory(ctx, InventoryInput{ShowtimeID: id, TicketsAvailable: 20, TicketsSold: ptr(21)})
	if !errors.Is(err, ErrInventoryInvariant) {
		t.Fatalf("expected invariant error, got %v", err)
	}
	_, err = f.svc.UpdateInventory(ctx, InventoryInput{ShowtimeID: id, TicketsAvailable: -1})
	if FieldOf(err) != "tickets_available" {
		t.Fatalf("expected tickets_available validation, got %v", err)
	}
	if _, err := f.svc.UpdateInventory(ctx, InventoryInput{ShowtimeID: "missing", TicketsAvailable: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	cur, _ := f.st.FindShowtime(ctx, id)
	if cur.TicketsAvailable != 20 || cur.TicketsSold != 5 {
		t.Fatalf("rejected writes changed the row: %+v", cur)
	}
	if got := f.rec.Types(); !slices.Contains(got, notify.InventoryUpdated) {
		t.Errorf("expected %s message, got %v", notify.InventoryUpdated, got)
	}
}

func TestSellTickets(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res := f.mustCreate(t, CreateEventInput{Name: "Sell", StartDate: "2025-01-10", Showtime: &Template{TimeOfDay: "20:00", TicketsAvailable: 10}})
	id := res.Showtimes[0].ID

	if got, err := f.svc.SellTickets(ctx, id, 7); err != nil || got.TicketsSold != 7 {
		t.Fatalf("SellTickets(7) = %+v, %v", got, err)
	}
	if _, err := f.svc.SellTickets(ctx, id, 4); !errors.Is(err, ErrInventoryInvariant) {
		t.Fatalf("expected oversell rejection, got %v", err)
	}
	if got, err := f.svc.SellTickets(ctx, id, -2); err != nil || got.TicketsSold != 5 {
		t.Fatalf("refund = %+v, %v", got, err)
	}
	if _, err := f.svc.SellTickets(ctx, id, -6); FieldOf(err) != "quantity" {
		t.Fatalf("expected quantity validation, got %v", err)
	}
	if _, err := f.svc.SellTickets(ctx, id, 0); FieldOf(err) != "quantity" {
		t.Fatalf("expected quantity validation, got %v", err)
	}
}

func TestSellTickets_ConcurrentNeverOversells(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	const capacity = 10
	res := f.mustCreate(t, CreateEventInput{Name: "Rush", StartDate: "2025-01-10", Showtime: &Template{TimeOfDay: "20:00", TicketsAvailable: capacity}})
	id := res.Showtimes[0].ID

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SellTickets(ctx, id, 1)
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
			case errors.Is(err, ErrInventoryInvariant), errors.Is(err, ErrConcurrentUpdate):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	cur, err := f.st.FindShowtime(ctx, id)
	if err != nil {
		t.Fatalf("FindShowtime: %v", err)
	}
	if cur.TicketsSold != succeeded {
		t.Fatalf("sold = %d, successful sales = %d", cur.TicketsSold, succeeded)
	}
	if cur.TicketsSold > capacity || succeeded == 0 {
		t.Fatalf("sold = %d with capacity %d", cur.TicketsSold, capacity)
	}
}

func TestSellTickets_RetriesExhausted(t *testing.T) {
	st := &conflictStore{Store: memstore.New()}
	f := newFixture(t, st)
	ctx := context.Background()
	res := f.mustCreate(t, CreateEventInput{Name: "Busy", StartDate: "2025-01-10", Showtime: &Template{TimeOfDay: "20:00", TicketsAvailable: 5}})

	_, err := f.svc.SellTickets(ctx, res.Showtimes[0].ID, 1)
	if !errors.Is(err, ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}
	if got := st.attempts.Load(); got != maxSwapAttempts {
		t.Fatalf("attempts = %d, want %d", got, maxSwapAttempts)
	}
}

func TestDeleteEvent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res := f.mustCreate(t, CreateEventInput{
		Name:           "Weekly",
		StartDate:      "2025-01-06",
		Recurring:      true,
		RecurrenceRule: "FREQ=WEEKLY;COUNT=2",
		Showtime:       &Template{TimeOfDay: "20:00"},
	})
	if err := f.svc.DeleteEvent(ctx, res.Root.ID); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if _, _, err := f.svc.GetEvent(ctx, res.Root.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected root gone, got %v", err)
	}
	occ, sts, err := f.svc.GetEvent(ctx, res.Occurrences[0].ID)
	if err != nil || occ.OccurrenceOf != res.Root.ID || len(sts) != 1 {
		t.Fatalf("occurrence must survive root deletion: %+v %v", occ, err)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Opera Night":        "opera-night",
		"  Jazz & Blues!! ":  "jazz-blues",
		"Ciné-Club Tunis 25": "ciné-club-tunis-25",
		"***":                "event",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
