package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"showsched/internal/datewindow"
	"showsched/internal/ics"
	appLog "showsched/internal/log"
	"showsched/internal/model"
	"showsched/internal/schedule"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type dateWindowResponse struct {
	When     string             `json:"when"`
	Window   *datewindow.Window `json:"window"`
	Timezone string             `json:"timezone"`
}

// resolveWindow reads ?when= and ?now=. An absent or unrecognized token
// yields a nil window.
func (s *Server) resolveWindow(r *http.Request) (string, *datewindow.Window, error) {
	q := r.URL.Query()
	now := s.svc.Now()
	if raw := q.Get("now"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return "", nil, &requestError{field: "now", msg: "now must be RFC 3339"}
		}
		now = t
	}
	when := q.Get("when")
	if when == "" {
		return "", nil, nil
	}
	w, ok := datewindow.Resolve(when, now, s.svc.Location())
	if !ok {
		return when, nil, nil
	}
	return when, &w, nil
}

// GET /api/date-window?when=weekend&now=2025-01-08T10:00:00Z
func (s *Server) handleDateWindow(w http.ResponseWriter, r *http.Request) {
	when, window, err := s.resolveWindow(r)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dateWindowResponse{
		When:     when,
		Window:   window,
		Timezone: s.svc.Location().String(),
	})
}

type eventsResponse struct {
	Window *datewindow.Window `json:"window"`
	Events []model.Event      `json:"events"`
}

// GET /api/events?when=today
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	_, window, err := s.resolveWindow(r)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	events, err := s.svc.ListEvents(r.Context(), window)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Window: window, Events: events})
}

func (s *Server) defaults() schedule.Defaults {
	d := s.cfg.ShowtimeDefaults
	return schedule.Defaults{Format: d.Format, Language: d.Language, TicketsAvailable: d.TicketsAvailable}
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := s.decode(r, &req, false); err != nil {
		writeRequestError(w, err)
		return
	}
	res, err := s.svc.CreateEvent(r.Context(), req.input(s.defaults()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type importFailure struct {
	UID   string `json:"uid"`
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

type importResponse struct {
	Created []schedule.CreateEventResult `json:"created"`
	Failed  []importFailure              `json:"failed"`
}

// handleImport creates one event per VEVENT of a text/calendar body.
// VEVENTs are imported independently; one failure does not stop the rest.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body", "")
		return
	}
	loc := s.svc.Location()
	events, err := ics.Parse(body, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	resp := importResponse{
		Created: []schedule.CreateEventResult{},
		Failed:  []importFailure{},
	}
	for _, ev := range events {
		in := ev.CreateInput(loc)
		if in.Showtime != nil {
			in.Showtime.TicketsAvailable = s.cfg.ShowtimeDefaults.TicketsAvailable
		}
		res, err := s.svc.CreateEvent(r.Context(), in)
		if err != nil {
			if !errors.Is(err, schedule.ErrValidation) {
				writeServiceError(w, r, err)
				return
			}
			resp.Failed = append(resp.Failed, importFailure{UID: ev.UID, Error: err.Error(), Field: schedule.FieldOf(err)})
			continue
		}
		resp.Created = append(resp.Created, res)
	}

	appLog.Info("ics import completed", "created", len(resp.Created), "failed", len(resp.Failed))
	writeJSON(w, http.StatusOK, resp)
}

type eventResponse struct {
	Event     model.Event      `json:"event"`
	Showtimes []model.Showtime `json:"showtimes"`
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, sts, err := s.svc.GetEvent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if sts == nil {
		sts = []model.Showtime{}
	}
	writeJSON(w, http.StatusOK, eventResponse{Event: ev, Showtimes: sts})
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.DeleteEvent(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.invalidateStats(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDuplicate(w http.ResponseWriter, r *http.Request) {
	var req duplicateRequest
	if err := s.decode(r, &req, true); err != nil {
		writeRequestError(w, err)
		return
	}
	ev, err := s.svc.DuplicateEvent(r.Context(), schedule.DuplicateInput{
		EventID:       mux.Vars(r)["id"],
		NewTitle:      req.NewTitle,
		DateOffset:    req.DateOffset,
		CopyShowtimes: req.CopyShowtimes,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	ev, err := s.svc.RecomputeEvent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if stats, ok := s.cachedStats(id); ok {
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, stats)
		return
	}
	stats, err := s.svc.EventStats(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.storeStats(stats)
	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	ev, sts, err := s.svc.GetEvent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	body := ics.Export(ev, sts, ev.RuntimeMinutes)
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.ics"`, ev.Slug))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

type showtimesResponse struct {
	Showtimes []model.Showtime `json:"showtimes"`
}

func (s *Server) handleBulkShowtimes(w http.ResponseWriter, r *http.Request) {
	var req bulkShowtimesRequest
	if err := s.decode(r, &req, false); err != nil {
		writeRequestError(w, err)
		return
	}
	created, err := s.svc.CreateBulkShowtimes(r.Context(), req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.invalidateStats(req.EventID)
	writeJSON(w, http.StatusCreated, showtimesResponse{Showtimes: created})
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	var req inventoryRequest
	if err := s.decode(r, &req, false); err != nil {
		writeRequestError(w, err)
		return
	}
	st, err := s.svc.UpdateInventory(r.Context(), schedule.InventoryInput{
		ShowtimeID:       mux.Vars(r)["id"],
		TicketsAvailable: *req.TicketsAvailable,
		TicketsSold:      req.TicketsSold,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.invalidateStats(st.EventID)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var req sellRequest
	if err := s.decode(r, &req, false); err != nil {
		writeRequestError(w, err)
		return
	}
	st, err := s.svc.SellTickets(r.Context(), mux.Vars(r)["id"], req.Quantity)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.invalidateStats(st.EventID)
	writeJSON(w, http.StatusOK, st)
}
