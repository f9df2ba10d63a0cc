package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"showsched/internal/schedule"
)

const maxBodyBytes = 1 << 20

type templateRequest struct {
	Time             string   `json:"time" validate:"required"`
	Format           string   `json:"format" validate:"max=32"`
	Language         string   `json:"language" validate:"max=32"`
	Subtitles        string   `json:"subtitles" validate:"max=32"`
	Price            *float64 `json:"price" validate:"omitempty,gte=0"`
	TicketsAvailable *int     `json:"tickets_available" validate:"omitempty,gte=0"`
	WorkID           string   `json:"work_id"`
}

type createEventRequest struct {
	Name           string           `json:"name" validate:"required,max=200"`
	Description    string           `json:"description"`
	VenueID        string           `json:"venue_id"`
	WorkID         string           `json:"work_id"`
	Status         string           `json:"status" validate:"omitempty,oneof=draft published"`
	Featured       bool             `json:"featured"`
	StartDate      string           `json:"start_date" validate:"required"`
	EndDate        string           `json:"end_date"`
	Recurring      bool             `json:"recurring"`
	RecurrenceRule string           `json:"recurrence_rule" validate:"required_if=Recurring true"`
	Exclusions     []string         `json:"exclusions" validate:"omitempty,dive,required"`
	Showtime       *templateRequest `json:"showtime"`
}

func (req createEventRequest) input(d schedule.Defaults) schedule.CreateEventInput {
	in := schedule.CreateEventInput{
		Name:           req.Name,
		Description:    req.Description,
		VenueID:        req.VenueID,
		WorkID:         req.WorkID,
		Status:         req.Status,
		Featured:       req.Featured,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		Recurring:      req.Recurring,
		RecurrenceRule: req.RecurrenceRule,
		Exclusions:     req.Exclusions,
	}
	if t := req.Showtime; t != nil {
		tmpl := schedule.Template{
			TimeOfDay:        t.Time,
			Format:           t.Format,
			Language:         t.Language,
			Subtitles:        t.Subtitles,
			TicketsAvailable: d.TicketsAvailable,
			WorkID:           t.WorkID,
		}
		if t.Price != nil {
			tmpl.Price = *t.Price
		}
		if t.TicketsAvailable != nil {
			tmpl.TicketsAvailable = *t.TicketsAvailable
		}
		in.Showtime = &tmpl
	}
	return in
}

type bulkShowtimesRequest struct {
	EventID          string   `json:"event_id" validate:"required"`
	VenueID          string   `json:"venue_id"`
	Dates            []string `json:"dates" validate:"required,min=1,dive,required"`
	Time             string   `json:"time" validate:"required"`
	Format           string   `json:"format" validate:"max=32"`
	Language         string   `json:"language" validate:"max=32"`
	Subtitles        string   `json:"subtitles" validate:"max=32"`
	Price            *float64 `json:"price" validate:"omitempty,gte=0"`
	TicketsAvailable *int     `json:"tickets_available" validate:"omitempty,gte=0"`
	WorkID           string   `json:"work_id"`
}

func (req bulkShowtimesRequest) input() schedule.BulkShowtimesInput {
	return schedule.BulkShowtimesInput{
		EventID:          req.EventID,
		VenueID:          req.VenueID,
		Dates:            req.Dates,
		Time:             req.Time,
		Format:           req.Format,
		Language:         req.Language,
		Subtitles:        req.Subtitles,
		Price:            req.Price,
		TicketsAvailable: req.TicketsAvailable,
		WorkID:           req.WorkID,
	}
}

type duplicateRequest struct {
	NewTitle      string `json:"new_title" validate:"max=200"`
	DateOffset    int    `json:"date_offset" validate:"gte=-3650,lte=3650"`
	CopyShowtimes bool   `json:"copy_showtimes"`
}

type inventoryRequest struct {
	TicketsAvailable *int `json:"tickets_available" validate:"required,gte=0"`
	TicketsSold      *int `json:"tickets_sold" validate:"omitempty,gte=0"`
}

type sellRequest struct {
	// Negative quantities refund.
	Quantity int `json:"quantity" validate:"required"`
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// requestError is a malformed or invalid body. It renders as 400.
type requestError struct {
	field string
	msg   string
}

func (e *requestError) Error() string { return e.msg }

// decode reads a JSON body into dst and validates it. An empty body is
// accepted when allowEmpty is set.
func (s *Server) decode(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return &requestError{msg: fmt.Sprintf("invalid JSON body: %v", err)}
		}
	}

	if err := s.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &requestError{
				field: fe.Field(),
				msg:   fmt.Sprintf("invalid '%s': failed '%s' check", fe.Field(), fe.Tag()),
			}
		}
		return &requestError{msg: err.Error()}
	}
	return nil
}

func writeRequestError(w http.ResponseWriter, err error) {
	var re *requestError
	if errors.As(err, &re) {
		writeError(w, http.StatusBadRequest, re.msg, re.field)
		return
	}
	writeError(w, http.StatusBadRequest, err.Error(), "")
}
