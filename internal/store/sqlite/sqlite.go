// Package sqlite implements store.Store on SQLite through database/sql.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	appLog "showsched/internal/log"
	"showsched/internal/model"
	"showsched/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id              TEXT PRIMARY KEY,
	seq             INTEGER NOT NULL,
	slug            TEXT NOT NULL DEFAULT '',
	name            TEXT NOT NULL DEFAULT '',
	title           TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'draft',
	featured        INTEGER NOT NULL DEFAULT 0,
	start_date      TEXT NOT NULL,
	end_date        TEXT NOT NULL DEFAULT '',
	recurring       INTEGER NOT NULL DEFAULT 0,
	recurrence_rule TEXT NOT NULL DEFAULT '',
	occurrence_of   TEXT NOT NULL DEFAULT '',
	runtime_minutes INTEGER NOT NULL DEFAULT 0,
	color_palette   TEXT NOT NULL DEFAULT '{}',
	venue_id        TEXT NOT NULL DEFAULT '',
	work_id         TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_dates ON events(start_date, end_date);
CREATE INDEX IF NOT EXISTS idx_events_occurrence_of ON events(occurrence_of);

CREATE TABLE IF NOT EXISTS showtimes (
	seq               INTEGER PRIMARY KEY AUTOINCREMENT,
	id                TEXT NOT NULL UNIQUE,
	event_id          TEXT NOT NULL,
	venue_id          TEXT NOT NULL DEFAULT '',
	work_id           TEXT NOT NULL DEFAULT '',
	datetime          TEXT NOT NULL,
	day               TEXT NOT NULL,
	format            TEXT NOT NULL DEFAULT '',
	language          TEXT NOT NULL DEFAULT '',
	subtitles         TEXT NOT NULL DEFAULT '',
	price             REAL NOT NULL DEFAULT 0,
	tickets_available INTEGER NOT NULL DEFAULT 0,
	tickets_sold      INTEGER NOT NULL DEFAULT 0,
	version           INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_showtimes_event_id ON showtimes(event_id);
`

const eventColumns = `id, slug, name, title, description, status, featured, start_date, end_date,
	recurring, recurrence_rule, occurrence_of, runtime_minutes, color_palette, venue_id, work_id, created_at`

const showtimeColumns = `id, event_id, venue_id, work_id, datetime, day, format, language, subtitles,
	price, tickets_available, tickets_sold, version`

type txKey struct{}

// sqlCommand is satisfied by both *sql.DB and *sql.Tx.
type sqlCommand interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema. SQLite serializes writers, so the pool holds one connection.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is empty")
	}
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	appLog.Info("sqlite store opened", "path", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func txFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

func (s *Store) cmd(ctx context.Context) sqlCommand {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}

func (s *Store) CreateEvent(ctx context.Context, ev model.Event) (model.Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	palette, err := json.Marshal(ev.ColorPalette)
	if err != nil {
		return model.Event{}, fmt.Errorf("create event: encode palette: %w", err)
	}

	const stmt = `
INSERT INTO events (seq, ` + eventColumns + `)
VALUES ((SELECT COALESCE(MAX(seq), 0) + 1 FROM events), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.cmd(ctx).ExecContext(ctx, stmt,
		ev.ID, ev.Slug, ev.Name, ev.Title, ev.Description, ev.Status, ev.Featured,
		ev.StartDate, ev.EndDate, ev.Recurring, ev.RecurrenceRule, ev.OccurrenceOf,
		ev.RuntimeMinutes, string(palette), ev.VenueID, ev.WorkID,
		ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return model.Event{}, fmt.Errorf("create event: %w", err)
	}
	return ev, nil
}

func (s *Store) UpdateEvent(ctx context.Context, ev model.Event) (model.Event, error) {
	palette, err := json.Marshal(ev.ColorPalette)
	if err != nil {
		return model.Event{}, fmt.Errorf("update event: encode palette: %w", err)
	}

	const stmt = `
UPDATE events SET
	slug = ?, name = ?, title = ?, description = ?, status = ?, featured = ?,
	start_date = ?, end_date = ?, recurring = ?, recurrence_rule = ?, occurrence_of = ?,
	runtime_minutes = ?, color_palette = ?, venue_id = ?, work_id = ?
WHERE id = ?`

	res, err := s.cmd(ctx).ExecContext(ctx, stmt,
		ev.Slug, ev.Name, ev.Title, ev.Description, ev.Status, ev.Featured,
		ev.StartDate, ev.EndDate, ev.Recurring, ev.RecurrenceRule, ev.OccurrenceOf,
		ev.RuntimeMinutes, string(palette), ev.VenueID, ev.WorkID,
		ev.ID,
	)
	if err != nil {
		return model.Event{}, fmt.Errorf("update event: %w", err)
	}
	if err := requireRow(res); err != nil {
		return model.Event{}, err
	}
	return s.FindEvent(ctx, ev.ID)
}

func (s *Store) FindEvent(ctx context.Context, id string) (model.Event, error) {
	row := s.cmd(ctx).QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Event{}, store.ErrNotFound
		}
		return model.Event{}, fmt.Errorf("find event: %w", err)
	}
	return ev, nil
}

func (s *Store) ListEvents(ctx context.Context, f store.EventFilter) ([]model.Event, error) {
	var (
		where []string
		args  []any
	)
	if f.From != "" {
		where = append(where, `(CASE WHEN end_date = '' THEN start_date ELSE end_date END) >= ?`)
		args = append(args, f.From)
	}
	if f.To != "" {
		where = append(where, `start_date <= ?`)
		args = append(args, f.To)
	}
	if f.OccurrenceOf != "" {
		where = append(where, `occurrence_of = ?`)
		args = append(args, f.OccurrenceOf)
	}
	if f.RootsOnly {
		where = append(where, `occurrence_of = ''`)
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_date, seq`

	rows, err := s.cmd(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := make([]model.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		res, err := s.cmd(ctx).ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}
		if _, err := s.cmd(ctx).ExecContext(ctx, `DELETE FROM showtimes WHERE event_id = ?`, id); err != nil {
			return fmt.Errorf("delete event showtimes: %w", err)
		}
		return nil
	})
}

func (s *Store) CreateShowtime(ctx context.Context, st model.Showtime) (model.Showtime, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}

	var exists int
	err := s.cmd(ctx).QueryRowContext(ctx, `SELECT COUNT(1) FROM events WHERE id = ?`, st.EventID).Scan(&exists)
	if err != nil {
		return model.Showtime{}, fmt.Errorf("create showtime: %w", err)
	}
	if exists == 0 {
		return model.Showtime{}, fmt.Errorf("create showtime: event %s: %w", st.EventID, store.ErrNotFound)
	}

	const stmt = `INSERT INTO showtimes (` + showtimeColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.cmd(ctx).ExecContext(ctx, stmt,
		st.ID, st.EventID, st.VenueID, st.WorkID,
		st.Datetime.UTC().Format(time.RFC3339Nano), st.Day,
		st.Format, st.Language, st.Subtitles, st.Price,
		st.TicketsAvailable, st.TicketsSold, st.Version,
	)
	if err != nil {
		return model.Showtime{}, fmt.Errorf("create showtime: %w", err)
	}
	return st, nil
}

func (s *Store) FindShowtime(ctx context.Context, id string) (model.Showtime, error) {
	row := s.cmd(ctx).QueryRowContext(ctx, `SELECT `+showtimeColumns+` FROM showtimes WHERE id = ?`, id)
	st, err := scanShowtime(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Showtime{}, store.ErrNotFound
		}
		return model.Showtime{}, fmt.Errorf("find showtime: %w", err)
	}
	return st, nil
}

func (s *Store) FindShowtimesByEvent(ctx context.Context, eventID string) ([]model.Showtime, error) {
	rows, err := s.cmd(ctx).QueryContext(ctx,
		`SELECT `+showtimeColumns+` FROM showtimes WHERE event_id = ? ORDER BY seq`, eventID)
	if err != nil {
		return nil, fmt.Errorf("find showtimes by event: %w", err)
	}
	defer rows.Close()

	out := make([]model.Showtime, 0)
	for rows.Next() {
		st, err := scanShowtime(rows)
		if err != nil {
			return nil, fmt.Errorf("find showtimes by event: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) UpdateShowtime(ctx context.Context, st model.Showtime) (model.Showtime, error) {
	const stmt = `
UPDATE showtimes SET
	venue_id = ?, work_id = ?, datetime = ?, day = ?, format = ?, language = ?, subtitles = ?,
	price = ?, tickets_available = ?, tickets_sold = ?, version = version + 1
WHERE id = ?`

	res, err := s.cmd(ctx).ExecContext(ctx, stmt,
		st.VenueID, st.WorkID, st.Datetime.UTC().Format(time.RFC3339Nano), st.Day,
		st.Format, st.Language, st.Subtitles, st.Price,
		st.TicketsAvailable, st.TicketsSold,
		st.ID,
	)
	if err != nil {
		return model.Showtime{}, fmt.Errorf("update showtime: %w", err)
	}
	if err := requireRow(res); err != nil {
		return model.Showtime{}, err
	}
	return s.FindShowtime(ctx, st.ID)
}

func (s *Store) SwapInventory(ctx context.Context, id string, version int64, available, sold int) (model.Showtime, error) {
	const stmt = `
UPDATE showtimes SET tickets_available = ?, tickets_sold = ?, version = version + 1
WHERE id = ? AND version = ?`

	res, err := s.cmd(ctx).ExecContext(ctx, stmt, available, sold, id, version)
	if err != nil {
		return model.Showtime{}, fmt.Errorf("swap inventory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Showtime{}, fmt.Errorf("swap inventory: %w", err)
	}
	if n == 0 {
		// Either the row is gone or someone else won the race.
		if _, err := s.FindShowtime(ctx, id); err != nil {
			return model.Showtime{}, err
		}
		return model.Showtime{}, store.ErrVersionConflict
	}
	return s.FindShowtime(ctx, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (model.Event, error) {
	var (
		ev        model.Event
		palette   string
		createdAt string
	)
	err := row.Scan(&ev.ID, &ev.Slug, &ev.Name, &ev.Title, &ev.Description, &ev.Status, &ev.Featured,
		&ev.StartDate, &ev.EndDate, &ev.Recurring, &ev.RecurrenceRule, &ev.OccurrenceOf,
		&ev.RuntimeMinutes, &palette, &ev.VenueID, &ev.WorkID, &createdAt)
	if err != nil {
		return model.Event{}, err
	}
	if palette != "" {
		if err := json.Unmarshal([]byte(palette), &ev.ColorPalette); err != nil {
			return model.Event{}, fmt.Errorf("decode palette: %w", err)
		}
	}
	if ev.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return model.Event{}, fmt.Errorf("decode created_at: %w", err)
	}
	return ev, nil
}

func scanShowtime(row scanner) (model.Showtime, error) {
	var (
		st       model.Showtime
		datetime string
	)
	err := row.Scan(&st.ID, &st.EventID, &st.VenueID, &st.WorkID, &datetime, &st.Day,
		&st.Format, &st.Language, &st.Subtitles, &st.Price,
		&st.TicketsAvailable, &st.TicketsSold, &st.Version)
	if err != nil {
		return model.Showtime{}, err
	}
	if st.Datetime, err = time.Parse(time.RFC3339Nano, datetime); err != nil {
		return model.Showtime{}, fmt.Errorf("decode datetime: %w", err)
	}
	return st, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
