// Package api provides the Admin HTTP API for hookpipe rule and
// delivery management.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/hookpipe/hookpipe/dlq"
	"github.com/hookpipe/hookpipe/rule"
	"github.com/hookpipe/hookpipe/schedule"
	"github.com/hookpipe/hookpipe/store"
)

// Handler is the root HTTP handler for the hookpipe admin API.
type Handler struct {
	store       store.Store
	ruleSvc     *rule.Service
	dlqSvc      *dlq.Service
	scheduleSvc *schedule.Service
	logger      *slog.Logger
	mux         *http.ServeMux
}

// NewHandler creates a new admin API handler.
func NewHandler(
	s store.Store,
	ruleSvc *rule.Service,
	dlqSvc *dlq.Service,
	scheduleSvc *schedule.Service,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		store:       s,
		ruleSvc:     ruleSvc,
		dlqSvc:      dlqSvc,
		scheduleSvc: scheduleSvc,
		logger:      logger,
		mux:         http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	// Rules
	h.mux.HandleFunc("POST /rules", h.createRule)
	h.mux.HandleFunc("GET /rules", h.listRules)
	h.mux.HandleFunc("GET /rules/{id}", h.getRule)
	h.mux.HandleFunc("PUT /rules/{id}", h.updateRule)
	h.mux.HandleFunc("DELETE /rules/{id}", h.deleteRule)
	h.mux.HandleFunc("PATCH /rules/{id}/activate", h.activateRule)
	h.mux.HandleFunc("PATCH /rules/{id}/deactivate", h.deactivateRule)
	h.mux.HandleFunc("POST /rules/{id}/rotate-secret", h.rotateSecret)

	// Attempt logs
	h.mux.HandleFunc("GET /attempts", h.listAttempts)
	h.mux.HandleFunc("GET /attempts/{id}", h.getAttempt)
	h.mux.HandleFunc("GET /rules/{id}/attempts", h.listRuleAttempts)

	// DLQ
	h.mux.HandleFunc("GET /dlq", h.listDLQ)
	h.mux.HandleFunc("POST /dlq/{id}/replay", h.replayDLQ)
	h.mux.HandleFunc("POST /dlq/replay", h.replayBulkDLQ)
	h.mux.HandleFunc("POST /dlq/purge", h.purgeDLQ)

	// Schedules
	h.mux.HandleFunc("GET /schedules", h.listSchedules)
	h.mux.HandleFunc("GET /schedules/{id}", h.getSchedule)
	h.mux.HandleFunc("DELETE /schedules/{id}", h.cancelSchedule)

	// Lookup tables
	h.mux.HandleFunc("PUT /lookup-tables/{name}", h.upsertLookupTable)
	h.mux.HandleFunc("GET /lookup-tables/{name}", h.getLookupTable)
	h.mux.HandleFunc("DELETE /lookup-tables/{name}", h.deleteLookupTable)

	// Stats
	h.mux.HandleFunc("GET /stats", h.getStats)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(next))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Info("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryParam returns a query parameter value, or empty string if not present.
func queryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryInt returns a query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	var n int
	for _, c := range v {
		if c < '0' || c > '9' {
			return defaultVal
		}
		n = n*10 + int(c-'0')
	}
	return n
}
