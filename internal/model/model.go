package model

import (
	"time"

	"showsched/internal/tz"
)

// Event status values.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

// ColorPalette is the representative palette shown on event cards.
// The zero value means "no palette".
type ColorPalette struct {
	Dominant string `json:"dominant,omitempty" yaml:"dominant,omitempty"`
	Vibrant  string `json:"vibrant,omitempty" yaml:"vibrant,omitempty"`
	Muted    string `json:"muted,omitempty" yaml:"muted,omitempty"`
}

// IsZero reports whether the palette carries no color at all.
func (p ColorPalette) IsZero() bool {
	return p.Dominant == "" && p.Vibrant == "" && p.Muted == ""
}

// Event represents a schedulable happening: a root listing, or a dated
// occurrence generated from a root's recurrence rule.
type Event struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`

	// Name is the editor-entered name. Title is derived from the showtimes
	// and must only be written by the aggregate recompute.
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	Status   string `json:"status"`
	Featured bool   `json:"featured"`

	// Calendar-day bounds of visibility (YYYY-MM-DD, operating timezone).
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`

	Recurring      bool   `json:"recurring"`
	RecurrenceRule string `json:"recurrence_rule,omitempty"`

	// OccurrenceOf is a weak reference to the root event. It is only set on
	// generated occurrences and always points at a root.
	OccurrenceOf string `json:"occurrence_of,omitempty"`

	// Denormalized aggregates.
	RuntimeMinutes int          `json:"runtime_minutes"`
	ColorPalette   ColorPalette `json:"color_palette"`

	VenueID string `json:"venue_id,omitempty"`
	WorkID  string `json:"work_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsOccurrence reports whether the event was generated from a root.
func (e Event) IsOccurrence() bool {
	return e.OccurrenceOf != ""
}

// Showtime is one bookable time slot owned by exactly one event.
type Showtime struct {
	ID      string `json:"id"`
	EventID string `json:"event_id"`
	VenueID string `json:"venue_id,omitempty"`
	// WorkID overrides the event's work when a showtime screens something
	// else (festival programmes, double bills).
	WorkID string `json:"work_id,omitempty"`

	Datetime time.Time `json:"datetime"`
	// Day is always tz.Day(Datetime, operating location).
	Day string `json:"day"`

	Format    string  `json:"format,omitempty"`
	Language  string  `json:"language,omitempty"`
	Subtitles string  `json:"subtitles,omitempty"`
	Price     float64 `json:"price"`

	TicketsAvailable int `json:"tickets_available"`
	TicketsSold      int `json:"tickets_sold"`

	// Version is bumped by every inventory write and used for
	// compare-and-swap.
	Version int64 `json:"version"`
}

// NewShowtime builds a showtime at datetime with Day derived in loc and
// zero tickets sold.
func NewShowtime(eventID string, datetime time.Time, loc *time.Location) Showtime {
	return Showtime{
		EventID:  eventID,
		Datetime: datetime.In(loc),
		Day:      tz.Day(datetime, loc),
	}
}

// Work is the creative work (film, play, concert programme) a showtime
// presents, as returned by the metadata resolver.
type Work struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	// Runtime is kept raw; see metadata.ParseRuntime.
	Runtime string `json:"runtime"`
	// Type is a short type code such as "movie", "play" or "concert".
	Type string `json:"type"`

	Palette         ColorPalette   `json:"color_palette"`
	PosterPalette   ColorPalette   `json:"poster_palette"`
	GalleryPalettes []ColorPalette `json:"gallery_palettes,omitempty"`
}

// ResolvedPalette walks the fallback chain: direct palette, primary poster,
// first gallery photo, empty.
func (w Work) ResolvedPalette() ColorPalette {
	if !w.Palette.IsZero() {
		return w.Palette
	}
	if !w.PosterPalette.IsZero() {
		return w.PosterPalette
	}
	if len(w.GalleryPalettes) > 0 {
		return w.GalleryPalettes[0]
	}
	return ColorPalette{}
}

// EventStats is the ticket inventory roll-up for one event.
type EventStats struct {
	EventID               string `json:"event_id"`
	ShowtimeCount         int    `json:"showtime_count"`
	TotalTicketsAvailable int    `json:"total_tickets_available"`
	TotalTicketsSold      int    `json:"total_tickets_sold"`
	RemainingTickets      int    `json:"remaining_tickets"`
	SoldPercentage        int    `json:"sold_percentage"`
}

// RecurrenceSpec exists only for the duration of one expansion call.
type RecurrenceSpec struct {
	DTStart    time.Time
	Rule       string
	Timezone   string
	Exclusions []time.Time
}
