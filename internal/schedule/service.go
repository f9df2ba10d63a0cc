// Package schedule is the showtime scheduling engine: recurrence expansion
// into occurrence events, showtime synthesis, event duplication, aggregate
// recompute and ticket inventory.
//
// Every write that changes an event's showtime set runs in one store
// transaction together with the aggregate recompute, so the denormalized
// fields are never visible out of sync with the showtimes.
package schedule

import (
	"context"
	"strings"
	"time"
	"unicode"

	"showsched/internal/clock"
	"showsched/internal/datewindow"
	appLog "showsched/internal/log"
	"showsched/internal/metadata"
	"showsched/internal/model"
	"showsched/internal/notify"
	"showsched/internal/recurrence"
	"showsched/internal/store"
	"showsched/internal/tz"
)

const defaultTitleSeparator = " | "

// Defaults fill showtime template fields a request leaves empty.
type Defaults struct {
	Format           string
	Language         string
	TicketsAvailable int
}

type Service struct {
	store     store.Store
	expander  recurrence.Expander
	resolver  metadata.Resolver
	publisher notify.Publisher
	clock     clock.Clock
	loc       *time.Location
	defaults  Defaults
	separator string
}

type Option func(*Service)

func WithExpander(e recurrence.Expander) Option {
	return func(s *Service) { s.expander = e }
}

func WithResolver(r metadata.Resolver) Option {
	return func(s *Service) { s.resolver = r }
}

func WithPublisher(p notify.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLocation sets the operating timezone. Nil keeps Africa/Tunis.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithDefaults(d Defaults) Option {
	return func(s *Service) { s.defaults = d }
}

func WithTitleSeparator(sep string) Option {
	return func(s *Service) {
		if sep != "" {
			s.separator = sep
		}
	}
}

func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:     st,
		expander:  recurrence.NewRRuleExpander(0),
		resolver:  metadata.None{},
		publisher: notify.Nop{},
		clock:     clock.NewSystem(),
		loc:       tz.MustOperating(),
		separator: defaultTitleSeparator,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the operating timezone.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Now is the service clock's current instant.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// Today is the current calendar day in the operating timezone.
func (s *Service) Today() string {
	return tz.Day(s.clock.Now(), s.loc)
}

// GetEvent loads an event together with its showtimes in creation order.
func (s *Service) GetEvent(ctx context.Context, id string) (model.Event, []model.Showtime, error) {
	ev, err := s.store.FindEvent(ctx, id)
	if err != nil {
		return model.Event{}, nil, err
	}
	sts, err := s.store.FindShowtimesByEvent(ctx, id)
	if err != nil {
		return model.Event{}, nil, err
	}
	return ev, sts, nil
}

// ListEvents returns events overlapping window. A nil window means "not yet
// ended": every event whose end date is today or later.
func (s *Service) ListEvents(ctx context.Context, window *datewindow.Window) ([]model.Event, error) {
	f := store.EventFilter{From: s.Today()}
	if window != nil {
		f = store.EventFilter{From: window.StartDate, To: window.EndDate}
	}
	return s.FindEvents(ctx, f)
}

// FindEvents lists events matching f, ordered by start date then creation.
func (s *Service) FindEvents(ctx context.Context, f store.EventFilter) ([]model.Event, error) {
	return s.store.ListEvents(ctx, f)
}

// DeleteEvent removes one event and its showtimes. Occurrences of a root
// are independent events and are not cascaded.
func (s *Service) DeleteEvent(ctx context.Context, id string) error {
	return s.store.DeleteEvent(ctx, id)
}

func (s *Service) publish(ctx context.Context, msgType string, payload any) {
	if err := s.publisher.Publish(ctx, msgType, payload); err != nil {
		appLog.Error("schedule: publish failed", err, "type", msgType)
	}
}

// slugify lowercases name and joins letter/digit runs with dashes.
func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		dash = true
	}
	if b.Len() == 0 {
		return "event"
	}
	return b.String()
}
