package recurrence

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "showsched/internal/log"
	"showsched/internal/model"
	"showsched/internal/tz"
)

const (
	defaultMaxOccurrences = 500
)

var (
	// ErrInvalidRule is returned for rule strings the RFC-5545 parser rejects.
	ErrInvalidRule = errors.New("invalid recurrence rule")
	// ErrUnboundedRule is returned when a rule has neither COUNT nor UNTIL.
	ErrUnboundedRule = errors.New("recurrence rule must carry COUNT or UNTIL")
	// ErrTooManyOccurrences is returned when a bounded rule still yields more
	// instants than the configured cap.
	ErrTooManyOccurrences = errors.New("recurrence rule yields too many occurrences")
	// ErrTimeConflict is returned when BYHOUR, BYMINUTE or BYSECOND rule out
	// the fixed start time.
	ErrTimeConflict = errors.New("recurrence rule time does not match start time")
)

// Expander turns a recurrence spec into the additional instants it implies.
// Implementations must exclude spec.DTStart and return instants sorted and
// without duplicates.
type Expander interface {
	Expand(spec model.RecurrenceSpec) ([]time.Time, error)
}

// RRuleExpander evaluates rules with teambition/rrule-go.
type RRuleExpander struct {
	// MaxOccurrences caps a single expansion. If zero,
	// defaultMaxOccurrences is used.
	MaxOccurrences int
}

// NewRRuleExpander returns an expander with the given cap.
func NewRRuleExpander(maxOccurrences int) *RRuleExpander {
	return &RRuleExpander{MaxOccurrences: maxOccurrences}
}

// Expand builds a rule-set anchored at spec.DTStart in spec.Timezone, adds
// DTStart and every exclusion as EXDATEs, and enumerates what remains.
// A malformed or unbounded rule fails the whole call.
func (e *RRuleExpander) Expand(spec model.RecurrenceSpec) ([]time.Time, error) {
	limit := e.MaxOccurrences
	if limit <= 0 {
		limit = defaultMaxOccurrences
	}

	loc, err := tz.Load(spec.Timezone)
	if err != nil {
		return nil, err
	}

	opt, err := ParseRule(spec.Rule, loc)
	if err != nil {
		return nil, err
	}
	if opt.Count > limit+1 {
		// COUNT includes DTSTART, which is excluded below.
		return nil, fmt.Errorf("%w: COUNT=%d, cap %d", ErrTooManyOccurrences, opt.Count, limit)
	}

	dtstart := spec.DTStart.In(loc)
	opt.Dtstart = dtstart

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	var set rrule.Set
	set.RRule(r)
	set.ExDate(dtstart)
	for _, ex := range spec.Exclusions {
		set.ExDate(ex.In(loc))
	}

	out := make([]time.Time, 0)
	next := set.Iterator()
	for {
		t, ok := next()
		if !ok {
			break
		}
		if t.Equal(dtstart) {
			continue
		}
		if n := len(out); n > 0 && !t.After(out[n-1]) {
			continue
		}
		if len(out) == limit {
			appLog.Error("recurrence: expansion exceeded cap",
				ErrTooManyOccurrences,
				"rule", spec.Rule,
				"cap", limit,
			)
			return nil, fmt.Errorf("%w: cap %d", ErrTooManyOccurrences, limit)
		}
		out = append(out, t)
	}

	return out, nil
}

// ParseRule parses a rule string (with or without an "RRULE:" prefix, or a
// multi-line DTSTART/RRULE block) and rejects unbounded rules.
func ParseRule(rule string, loc *time.Location) (*rrule.ROption, error) {
	body := extractRRule(rule)
	if body == "" {
		return nil, fmt.Errorf("%w: empty rule", ErrInvalidRule)
	}

	opt, err := rrule.StrToROptionInLocation(body, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if opt.Count <= 0 && opt.Until.IsZero() {
		return nil, ErrUnboundedRule
	}
	return opt, nil
}

// AnchorTime returns the time of day DTSTART should carry so that it lines
// up with the rule's BYHOUR / BYMINUTE / BYSECOND parts. A fixed time must
// already satisfy them; otherwise the rule's earliest values replace the
// ones that do not.
func AnchorTime(rule string, hour, minute, second int, fixed bool) (h, m, sec int, err error) {
	opt, err := ParseRule(rule, time.UTC)
	if err != nil {
		return 0, 0, 0, err
	}
	h, okH := alignTo(opt.Byhour, hour)
	m, okM := alignTo(opt.Byminute, minute)
	sec, okS := alignTo(opt.Bysecond, second)
	if fixed && !(okH && okM && okS) {
		return 0, 0, 0, fmt.Errorf("%w: %02d:%02d:%02d", ErrTimeConflict, hour, minute, second)
	}
	return h, m, sec, nil
}

func alignTo(by []int, v int) (int, bool) {
	if len(by) == 0 || slices.Contains(by, v) {
		return v, true
	}
	return slices.Min(by), false
}

// ValidateRule checks a rule without expanding it.
func ValidateRule(rule string) error {
	_, err := ParseRule(rule, time.UTC)
	return err
}

func extractRRule(rule string) string {
	rule = strings.TrimSpace(rule)
	if !strings.ContainsAny(rule, "\r\n") {
		return strings.TrimPrefix(rule, "RRULE:")
	}
	for _, line := range strings.FieldsFunc(rule, func(r rune) bool { return r == '\n' || r == '\r' }) {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "RRULE:") {
			return strings.TrimPrefix(line, "RRULE:")
		}
	}
	return ""
}
