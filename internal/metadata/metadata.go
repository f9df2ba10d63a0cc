// Package metadata resolves creative-work metadata (title, runtime, type,
// palettes) that decorates event aggregates. Failures here must never block
// scheduling; callers degrade to defaults.
package metadata

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"showsched/internal/model"
)

var ErrUnknownWork = errors.New("unknown work")

// Resolver looks up a work by reference.
type Resolver interface {
	Resolve(ctx context.Context, workID string) (model.Work, error)
}

// Static resolves from a fixed map.
type Static map[string]model.Work

func (s Static) Resolve(_ context.Context, workID string) (model.Work, error) {
	w, ok := s[workID]
	if !ok {
		return model.Work{}, ErrUnknownWork
	}
	if w.ID == "" {
		w.ID = workID
	}
	return w, nil
}

// None resolves nothing. It is used when no content API is configured.
type None struct{}

func (None) Resolve(context.Context, string) (model.Work, error) {
	return model.Work{}, ErrUnknownWork
}

var (
	plainMinutes = regexp.MustCompile(`^(\d+)\s*(m|min|mins|minutes?)?$`)
	hoursMinutes = regexp.MustCompile(`^(\d+)\s*h(?:ours?|rs?)?\s*(?:(\d+)\s*(?:m|min|mins|minutes?)?)?$`)
	clockForm    = regexp.MustCompile(`^(\d+):(\d{2})$`)
)

// ParseRuntime converts a runtime label to minutes. It understands "120",
// "120 min", "2h", "2h 15m", "1h30" and "1:45". Anything else, including
// negative values, is 0.
func ParseRuntime(s string) int {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0
	}
	if m := plainMinutes.FindStringSubmatch(s); m != nil {
		return atoi(m[1])
	}
	if m := hoursMinutes.FindStringSubmatch(s); m != nil {
		return atoi(m[1])*60 + atoi(m[2])
	}
	if m := clockForm.FindStringSubmatch(s); m != nil {
		return atoi(m[1])*60 + atoi(m[2])
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return int(f)
	}
	return 0
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
