package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"showsched/internal/config"
	appLog "showsched/internal/log"
	"showsched/internal/model"
	"showsched/internal/schedule"
	"showsched/internal/store"
)

const statsCacheTTL = 30 * time.Second

// Server exposes the scheduling engine over JSON HTTP.
type Server struct {
	cfg      *config.Config
	svc      *schedule.Service
	router   *mux.Router
	validate *validator.Validate

	// Per-event stats responses. Inventory writes drop the event's entry.
	statsMu    sync.RWMutex
	statsCache map[string]statsEntry
}

type statsEntry struct {
	stats     model.EventStats
	updatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, svc *schedule.Service) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Server{
		cfg:        cfg,
		svc:        svc,
		router:     mux.NewRouter(),
		validate:   newValidator(),
		statsCache: make(map[string]statsEntry),
	}
	s.registerRoutes()
	return s
}

// Handler returns the router wrapped in CORS and, when configured, basic
// auth.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	if len(s.cfg.CORSOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}).Handler(h)
	}
	return h
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(requestLogger)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found", "")
	})

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/date-window", s.handleDateWindow).Methods(http.MethodGet)

	api.HandleFunc("/events", s.handleListEvents).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleCreateEvent).Methods(http.MethodPost)
	api.HandleFunc("/events/import", s.handleImport).Methods(http.MethodPost)
	api.HandleFunc("/events/{id}", s.handleGetEvent).Methods(http.MethodGet)
	api.HandleFunc("/events/{id}", s.handleDeleteEvent).Methods(http.MethodDelete)
	api.HandleFunc("/events/{id}/duplicate", s.handleDuplicate).Methods(http.MethodPost)
	api.HandleFunc("/events/{id}/recompute", s.handleRecompute).Methods(http.MethodPost)
	api.HandleFunc("/events/{id}/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/events/{id}/calendar.ics", s.handleCalendar).Methods(http.MethodGet)

	api.HandleFunc("/showtimes/bulk", s.handleBulkShowtimes).Methods(http.MethodPost)
	api.HandleFunc("/showtimes/{id}/inventory", s.handleInventory).Methods(http.MethodPut)
	api.HandleFunc("/showtimes/{id}/sell", s.handleSell).Methods(http.MethodPost)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="showsched", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) cachedStats(eventID string) (model.EventStats, bool) {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	e, ok := s.statsCache[eventID]
	if !ok || time.Since(e.updatedAt) >= statsCacheTTL {
		return model.EventStats{}, false
	}
	return e.stats, true
}

func (s *Server) storeStats(stats model.EventStats) {
	s.statsMu.Lock()
	s.statsCache[stats.EventID] = statsEntry{stats: stats, updatedAt: time.Now()}
	s.statsMu.Unlock()
}

func (s *Server) invalidateStats(eventID string) {
	s.statsMu.Lock()
	delete(s.statsCache, eventID)
	s.statsMu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, field string) {
	writeJSON(w, status, errorResponse{Error: msg, Field: field})
}

// writeServiceError maps engine errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, schedule.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error(), schedule.FieldOf(err))
	case errors.Is(err, schedule.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found", "")
	case errors.Is(err, schedule.ErrInventoryInvariant):
		writeError(w, http.StatusConflict, err.Error(), schedule.FieldOf(err))
	case errors.Is(err, schedule.ErrConcurrentUpdate), errors.Is(err, store.ErrVersionConflict):
		writeError(w, http.StatusConflict, err.Error(), "")
	default:
		appLog.Error("api request failed", err, "method", r.Method, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}
