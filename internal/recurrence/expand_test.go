package recurrence

import (
	"errors"
	"testing"
	"time"

	"showsched/internal/model"
	"showsched/internal/tz"
)

func TestRRuleExpander_Expand(t *testing.T) {
	t.Parallel()

	loc := tz.MustOperating()
	monday := time.Date(2025, 1, 6, 20, 0, 0, 0, loc)

	t.Run("weekly count excludes dtstart", func(t *testing.T) {
		got, err := NewRRuleExpander(0).Expand(model.RecurrenceSpec{
			DTStart:  monday,
			Rule:     "FREQ=WEEKLY;COUNT=4",
			Timezone: tz.Operating,
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		want := []string{"2025-01-13", "2025-01-20", "2025-01-27"}
		if len(got) != len(want) {
			t.Fatalf("expected %d dates, got %d (%v)", len(want), len(got), got)
		}
		for i, w := range want {
			if d := tz.Day(got[i], loc); d != w {
				t.Fatalf("date %d: expected %s, got %s", i, w, d)
			}
			if got[i].Hour() != 20 {
				t.Fatalf("date %d: expected 20:00 local, got %v", i, got[i])
			}
		}
	})

	t.Run("rrule prefix and exclusions", func(t *testing.T) {
		got, err := NewRRuleExpander(0).Expand(model.RecurrenceSpec{
			DTStart:    monday,
			Rule:       "RRULE:FREQ=DAILY;COUNT=5",
			Timezone:   tz.Operating,
			Exclusions: []time.Time{monday.AddDate(0, 0, 2)},
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 dates, got %d (%v)", len(got), got)
		}
		for _, d := range got {
			if d.Equal(monday) {
				t.Fatalf("dtstart must never be returned")
			}
			if tz.Day(d, loc) == "2025-01-08" {
				t.Fatalf("excluded date returned")
			}
		}
	})

	t.Run("until bound", func(t *testing.T) {
		got, err := NewRRuleExpander(0).Expand(model.RecurrenceSpec{
			DTStart:  monday,
			Rule:     "FREQ=WEEKLY;BYDAY=MO,FR;UNTIL=20250117T235959Z",
			Timezone: tz.Operating,
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		want := []string{"2025-01-10", "2025-01-13", "2025-01-17"}
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i, w := range want {
			if d := tz.Day(got[i], loc); d != w {
				t.Fatalf("date %d: expected %s, got %s", i, w, d)
			}
		}
	})

	t.Run("single occurrence yields nothing", func(t *testing.T) {
		got, err := NewRRuleExpander(0).Expand(model.RecurrenceSpec{
			DTStart: monday,
			Rule:    "FREQ=DAILY;COUNT=1",
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("expected no dates, got %v", got)
		}
	})

	t.Run("unbounded rule rejected", func(t *testing.T) {
		_, err := NewRRuleExpander(0).Expand(model.RecurrenceSpec{
			DTStart: monday,
			Rule:    "FREQ=DAILY",
		})
		if !errors.Is(err, ErrUnboundedRule) {
			t.Fatalf("expected ErrUnboundedRule, got %v", err)
		}
	})

	t.Run("malformed rule rejected", func(t *testing.T) {
		_, err := NewRRuleExpander(0).Expand(model.RecurrenceSpec{
			DTStart: monday,
			Rule:    "FREQ=SOMETIMES;COUNT=3",
		})
		if !errors.Is(err, ErrInvalidRule) {
			t.Fatalf("expected ErrInvalidRule, got %v", err)
		}
	})

	t.Run("cap enforced", func(t *testing.T) {
		_, err := NewRRuleExpander(5).Expand(model.RecurrenceSpec{
			DTStart: monday,
			Rule:    "FREQ=DAILY;COUNT=50",
		})
		if !errors.Is(err, ErrTooManyOccurrences) {
			t.Fatalf("expected ErrTooManyOccurrences, got %v", err)
		}

		_, err = NewRRuleExpander(5).Expand(model.RecurrenceSpec{
			DTStart: monday,
			Rule:    "FREQ=HOURLY;UNTIL=20250201T000000Z",
		})
		if !errors.Is(err, ErrTooManyOccurrences) {
			t.Fatalf("expected ErrTooManyOccurrences for UNTIL rule, got %v", err)
		}
	})
}

func TestValidateRule(t *testing.T) {
	t.Parallel()

	cases := []struct {
		rule    string
		wantErr error
	}{
		{"FREQ=WEEKLY;COUNT=4", nil},
		{"DTSTART:20250106T200000Z\nRRULE:FREQ=WEEKLY;COUNT=2", nil},
		{"FREQ=MONTHLY", ErrUnboundedRule},
		{"", ErrInvalidRule},
		{"NOT A RULE", ErrInvalidRule},
	}
	for _, tc := range cases {
		err := ValidateRule(tc.rule)
		if tc.wantErr == nil && err != nil {
			t.Fatalf("%q: expected no error, got %v", tc.rule, err)
		}
		if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
			t.Fatalf("%q: expected %v, got %v", tc.rule, tc.wantErr, err)
		}
	}
}

func TestAnchorTime(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		rule    string
		fixed   bool
		want    [3]int
		wantErr error
	}{
		{"no by-parts keeps time", "FREQ=DAILY;COUNT=3", true, [3]int{20, 30, 0}, nil},
		{"matching hour", "FREQ=DAILY;COUNT=3;BYHOUR=18,20", true, [3]int{20, 30, 0}, nil},
		{"conflicting hour with fixed time", "FREQ=DAILY;COUNT=3;BYHOUR=18;BYMINUTE=0", true, [3]int{}, ErrTimeConflict},
		{"free time follows rule", "FREQ=DAILY;COUNT=3;BYHOUR=21,18;BYMINUTE=15", false, [3]int{18, 15, 0}, nil},
		{"unbounded", "FREQ=DAILY;BYHOUR=18", false, [3]int{}, ErrUnboundedRule},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, m, s, err := AnchorTime(tc.rule, 20, 30, 0, tc.fixed)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got := [3]int{h, m, s}; got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
