// Package memstore is an in-memory store.Store used by tests and by the
// server when no database is configured.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"showsched/internal/model"
	"showsched/internal/store"
)

type txKey struct{}

// data is one consistent view of the store.
type data struct {
	events    map[string]model.Event
	eventSeq  map[string]int64
	showtimes map[string]model.Showtime
	byEvent   map[string][]string
}

func newData() *data {
	return &data{
		events:    make(map[string]model.Event),
		eventSeq:  make(map[string]int64),
		showtimes: make(map[string]model.Showtime),
		byEvent:   make(map[string][]string),
	}
}

func (d *data) clone() *data {
	byEvent := make(map[string][]string, len(d.byEvent))
	for id, ids := range d.byEvent {
		byEvent[id] = slices.Clone(ids)
	}
	return &data{
		events:    maps.Clone(d.events),
		eventSeq:  maps.Clone(d.eventSeq),
		showtimes: maps.Clone(d.showtimes),
		byEvent:   byEvent,
	}
}

// txState is a private copy of the store plus the keys the transaction
// touched. Only touched keys are written back on commit.
type txState struct {
	view      *data
	events    map[string]struct{}
	showtimes map[string]struct{}
	byEvent   map[string]struct{}
}

// Store keeps events and showtimes in maps guarded by mu. Transactions are
// serialized by txMu and work on a copy that replaces the touched keys on
// commit, so nothing a transaction writes is visible outside it before
// then. Writes outside a transaction (inventory swaps) go straight to the
// committed view.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	committed *data
	seq       int64
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{committed: newData()}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	tx := &txState{
		view:      s.committed.clone(),
		events:    make(map[string]struct{}),
		showtimes: make(map[string]struct{}),
		byEvent:   make(map[string]struct{}),
	}
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *txState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, v := s.committed, tx.view
	for id := range tx.events {
		if ev, ok := v.events[id]; ok {
			c.events[id] = ev
			c.eventSeq[id] = v.eventSeq[id]
		} else {
			delete(c.events, id)
			delete(c.eventSeq, id)
		}
	}
	for id := range tx.showtimes {
		if st, ok := v.showtimes[id]; ok {
			c.showtimes[id] = st
		} else {
			delete(c.showtimes, id)
		}
	}
	for id := range tx.byEvent {
		if ids, ok := v.byEvent[id]; ok {
			c.byEvent[id] = ids
		} else {
			delete(c.byEvent, id)
		}
	}
}

func txFromContext(ctx context.Context) *txState {
	tx, _ := ctx.Value(txKey{}).(*txState)
	return tx
}

// view returns the data ctx reads and writes. Callers hold s.mu.
func (s *Store) view(ctx context.Context) *data {
	if tx := txFromContext(ctx); tx != nil {
		return tx.view
	}
	return s.committed
}

func touchEvent(ctx context.Context, id string) {
	if tx := txFromContext(ctx); tx != nil {
		tx.events[id] = struct{}{}
	}
}

func touchShowtime(ctx context.Context, id string) {
	if tx := txFromContext(ctx); tx != nil {
		tx.showtimes[id] = struct{}{}
	}
}

func touchByEvent(ctx context.Context, eventID string) {
	if tx := txFromContext(ctx); tx != nil {
		tx.byEvent[eventID] = struct{}{}
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateEvent(ctx context.Context, ev model.Event) (model.Event, error) {
	if err := ctx.Err(); err != nil {
		return model.Event{}, err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.view(ctx)
	if _, exists := d.events[ev.ID]; exists {
		return model.Event{}, fmt.Errorf("create event: duplicate id %s", ev.ID)
	}
	s.seq++
	d.events[ev.ID] = ev
	d.eventSeq[ev.ID] = s.seq
	touchEvent(ctx, ev.ID)
	return ev, nil
}

func (s *Store) UpdateEvent(ctx context.Context, ev model.Event) (model.Event, error) {
	if err := ctx.Err(); err != nil {
		return model.Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.view(ctx)
	prev, ok := d.events[ev.ID]
	if !ok {
		return model.Event{}, store.ErrNotFound
	}
	ev.CreatedAt = prev.CreatedAt
	d.events[ev.ID] = ev
	touchEvent(ctx, ev.ID)
	return ev, nil
}

func (s *Store) FindEvent(ctx context.Context, id string) (model.Event, error) {
	if err := ctx.Err(); err != nil {
		return model.Event{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.view(ctx).events[id]
	if !ok {
		return model.Event{}, store.ErrNotFound
	}
	return ev, nil
}

func (s *Store) ListEvents(ctx context.Context, f store.EventFilter) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.view(ctx)

	out := make([]model.Event, 0)
	for _, ev := range d.events {
		if f.Match(ev) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartDate != out[j].StartDate {
			return out[i].StartDate < out[j].StartDate
		}
		return d.eventSeq[out[i].ID] < d.eventSeq[out[j].ID]
	})
	return out, nil
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.view(ctx)
	if _, ok := d.events[id]; !ok {
		return store.ErrNotFound
	}
	for _, sid := range d.byEvent[id] {
		delete(d.showtimes, sid)
		touchShowtime(ctx, sid)
	}
	delete(d.byEvent, id)
	delete(d.events, id)
	delete(d.eventSeq, id)
	touchByEvent(ctx, id)
	touchEvent(ctx, id)
	return nil
}

func (s *Store) CreateShowtime(ctx context.Context, st model.Showtime) (model.Showtime, error) {
	if err := ctx.Err(); err != nil {
		return model.Showtime{}, err
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.view(ctx)
	if _, ok := d.events[st.EventID]; !ok {
		return model.Showtime{}, fmt.Errorf("create showtime: event %s: %w", st.EventID, store.ErrNotFound)
	}
	if _, exists := d.showtimes[st.ID]; exists {
		return model.Showtime{}, fmt.Errorf("create showtime: duplicate id %s", st.ID)
	}
	d.showtimes[st.ID] = st
	d.byEvent[st.EventID] = append(d.byEvent[st.EventID], st.ID)
	touchShowtime(ctx, st.ID)
	touchByEvent(ctx, st.EventID)
	return st, nil
}

func (s *Store) FindShowtime(ctx context.Context, id string) (model.Showtime, error) {
	if err := ctx.Err(); err != nil {
		return model.Showtime{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.view(ctx).showtimes[id]
	if !ok {
		return model.Showtime{}, store.ErrNotFound
	}
	return st, nil
}

func (s *Store) FindShowtimesByEvent(ctx context.Context, eventID string) ([]model.Showtime, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.view(ctx)
	ids := d.byEvent[eventID]
	out := make([]model.Showtime, 0, len(ids))
	for _, id := range ids {
		out = append(out, d.showtimes[id])
	}
	return out, nil
}

func (s *Store) UpdateShowtime(ctx context.Context, st model.Showtime) (model.Showtime, error) {
	if err := ctx.Err(); err != nil {
		return model.Showtime{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.view(ctx)
	prev, ok := d.showtimes[st.ID]
	if !ok {
		return model.Showtime{}, store.ErrNotFound
	}
	// Ownership never moves between events.
	st.EventID = prev.EventID
	st.Version = prev.Version + 1
	d.showtimes[st.ID] = st
	touchShowtime(ctx, st.ID)
	return st, nil
}

func (s *Store) SwapInventory(ctx context.Context, id string, version int64, available, sold int) (model.Showtime, error) {
	if err := ctx.Err(); err != nil {
		return model.Showtime{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.view(ctx)
	prev, ok := d.showtimes[id]
	if !ok {
		return model.Showtime{}, store.ErrNotFound
	}
	if prev.Version != version {
		return model.Showtime{}, store.ErrVersionConflict
	}
	next := prev
	next.TicketsAvailable = available
	next.TicketsSold = sold
	next.Version++
	d.showtimes[id] = next
	touchShowtime(ctx, id)
	return next, nil
}
