package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"showsched/internal/clock"
	"showsched/internal/metadata"
	"showsched/internal/model"
	"showsched/internal/notify"
	"showsched/internal/store"
	"showsched/internal/store/memstore"
)

// 2025-01-08 is a Wednesday.
var testNow = time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc *Service
	st  store.Store
	rec *notify.Recorder
}

func newFixture(t *testing.T, st store.Store, opts ...Option) fixture {
	t.Helper()
	if st == nil {
		st = memstore.New()
	}
	rec := &notify.Recorder{}
	base := []Option{
		WithClock(clock.NewFixed(testNow)),
		WithPublisher(rec),
		WithDefaults(Defaults{Format: "2D", Language: "VO", TicketsAvailable: 100}),
	}
	return fixture{
		svc: NewService(st, append(base, opts...)...),
		st:  st,
		rec: rec,
	}
}

func (f fixture) mustCreate(t *testing.T, in CreateEventInput) CreateEventResult {
	t.Helper()
	res, err := f.svc.CreateEvent(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateEvent(%q): %v", in.Name, err)
	}
	return res
}

func (f fixture) showtimes(t *testing.T, eventID string) []model.Showtime {
	t.Helper()
	sts, err := f.st.FindShowtimesByEvent(context.Background(), eventID)
	if err != nil {
		t.Fatalf("FindShowtimesByEvent: %v", err)
	}
	return sts
}

var errInjected = errors.New("injected failure")

// failingStore fails CreateShowtime once failAfter showtimes were written.
type failingStore struct {
	*memstore.Store
	failAfter int64
	created   atomic.Int64
}

func (s *failingStore) CreateShowtime(ctx context.Context, st model.Showtime) (model.Showtime, error) {
	if s.created.Add(1) > s.failAfter {
		return model.Showtime{}, errInjected
	}
	return s.Store.CreateShowtime(ctx, st)
}

// conflictStore never lets an inventory swap land.
type conflictStore struct {
	*memstore.Store
	attempts atomic.Int64
}

func (s *conflictStore) SwapInventory(context.Context, string, int64, int, int) (model.Showtime, error) {
	s.attempts.Add(1)
	return model.Showtime{}, store.ErrVersionConflict
}

type brokenResolver struct{}

func (brokenResolver) Resolve(context.Context, string) (model.Work, error) {
	return model.Work{}, errors.New("content api down")
}

// txTrackingStore reports whether a transaction is open.
type txTrackingStore struct {
	*memstore.Store
	open atomic.Bool
}

func (s *txTrackingStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.open.Store(true)
	defer s.open.Store(false)
	return s.Store.WithTx(ctx, fn)
}

// txCheckingResolver counts lookups made while st has a transaction open.
type txCheckingResolver struct {
	st     *txTrackingStore
	works  metadata.Static
	calls  atomic.Int64
	inTxns atomic.Int64
}

func (r *txCheckingResolver) Resolve(ctx context.Context, workID string) (model.Work, error) {
	r.calls.Add(1)
	if r.st.open.Load() {
		r.inTxns.Add(1)
	}
	return r.works.Resolve(ctx, workID)
}

func ptr[T any](v T) *T { return &v }
