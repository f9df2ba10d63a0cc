// Package store defines the persistence boundary the scheduling engine
// consumes. The content layer owns the schema; this package only fixes the
// operations and their error contract.
package store

import (
	"context"
	"errors"

	"showsched/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
)

// EventFilter narrows ListEvents. Empty fields do not filter.
type EventFilter struct {
	// From / To select events whose [StartDate, EndDate] overlaps the
	// inclusive day range. Either bound may be empty.
	From string
	To   string
	// OccurrenceOf selects the occurrences of one root event.
	OccurrenceOf string
	// RootsOnly drops generated occurrences.
	RootsOnly bool
}

// Match reports whether ev satisfies the filter. Store implementations that
// cannot express a filter natively use it to post-filter rows.
func (f EventFilter) Match(ev model.Event) bool {
	end := ev.EndDate
	if end == "" {
		end = ev.StartDate
	}
	if f.From != "" && end < f.From {
		return false
	}
	if f.To != "" && ev.StartDate > f.To {
		return false
	}
	if f.OccurrenceOf != "" && ev.OccurrenceOf != f.OccurrenceOf {
		return false
	}
	if f.RootsOnly && ev.IsOccurrence() {
		return false
	}
	return true
}

type EventStore interface {
	// CreateEvent assigns an ID when ev.ID is empty.
	CreateEvent(ctx context.Context, ev model.Event) (model.Event, error)
	UpdateEvent(ctx context.Context, ev model.Event) (model.Event, error)
	FindEvent(ctx context.Context, id string) (model.Event, error)
	ListEvents(ctx context.Context, f EventFilter) ([]model.Event, error)
	// DeleteEvent removes the event and the showtimes it owns. Occurrences
	// pointing at it, and the root it points at, are left alone.
	DeleteEvent(ctx context.Context, id string) error
}

type ShowtimeStore interface {
	// CreateShowtime assigns an ID when st.ID is empty.
	CreateShowtime(ctx context.Context, st model.Showtime) (model.Showtime, error)
	FindShowtime(ctx context.Context, id string) (model.Showtime, error)
	// FindShowtimesByEvent returns showtimes in creation order.
	FindShowtimesByEvent(ctx context.Context, eventID string) ([]model.Showtime, error)
	UpdateShowtime(ctx context.Context, st model.Showtime) (model.Showtime, error)
	// SwapInventory writes both counters only if the stored version still
	// equals version, bumping it on success. It returns ErrVersionConflict
	// otherwise.
	SwapInventory(ctx context.Context, id string, version int64, available, sold int) (model.Showtime, error)
}

// Store is the full boundary plus a transaction scope.
type Store interface {
	EventStore
	ShowtimeStore
	// WithTx runs fn in a transaction. Calls made with the ctx passed to fn
	// join it; a nested WithTx joins the outer transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Close() error
}
