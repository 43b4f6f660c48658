// Package proxy accepts inbound integration requests and normalizes them
// into source events, so third-party callbacks flow through the same
// matching, transformation, and delivery pipeline as polled events.
package proxy

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/hookpipe/hookpipe/event"
)

// maxInboundBody bounds inbound payload size.
const maxInboundBody = 1 << 20

// AuthKind selects how an integration authenticates inbound requests.
type AuthKind string

// Inbound auth variants.
const (
	AuthNone   AuthKind = "none"
	AuthAPIKey AuthKind = "api_key"
	AuthBearer AuthKind = "bearer"
	AuthBasic  AuthKind = "basic"
)

// Integration configures one inbound integration type.
type Integration struct {
	// Type is the path segment the integration is mounted at.
	Type string

	// EventType is the event type emitted for accepted requests.
	// Defaults to "integration.<type>".
	EventType string

	// Auth selects the inbound credential check.
	Auth AuthKind

	// Header is the header carrying the API key (api_key auth).
	Header string

	// Secret is the expected API key or bearer token.
	Secret string

	// Username and Password are the expected basic credentials.
	Username string
	Password string
}

// Handler serves POST /integrations/{type}?orgId=... and appends each
// accepted request to the event source.
type Handler struct {
	source       event.Source
	integrations map[string]Integration
	logger       *slog.Logger
	mux          *http.ServeMux
}

// NewHandler creates an inbound proxy handler.
func NewHandler(source event.Source, integrations []Integration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	byType := make(map[string]Integration, len(integrations))
	for _, in := range integrations {
		if in.EventType == "" {
			in.EventType = "integration." + in.Type
		}
		byType[in.Type] = in
	}

	h := &Handler{
		source:       source,
		integrations: byType,
		logger:       logger,
		mux:          http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /integrations/{type}", h.handleInbound)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.panicRecovery(h.mux).ServeHTTP(w, r)
}

func (h *Handler) handleInbound(w http.ResponseWriter, r *http.Request) {
	integ, ok := h.integrations[r.PathValue("type")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown integration type")
		return
	}

	orgID := r.URL.Query().Get("orgId")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "orgId query parameter is required")
		return
	}

	if !h.authorize(r, integ) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "body must be valid JSON")
		return
	}

	evt := &event.Event{
		TenantID:   orgID,
		Type:       integ.EventType,
		Payload:    body,
		OccurredAt: time.Now().UTC(),
	}

	if err := h.source.AppendEvent(r.Context(), evt); err != nil {
		h.logger.ErrorContext(r.Context(), "append inbound event failed",
			"integration", integ.Type, "tenant_id", orgID, "error", err)
		writeError(w, http.StatusInternalServerError, "event ingestion failed")
		return
	}

	h.logger.DebugContext(r.Context(), "inbound event accepted",
		"integration", integ.Type, "tenant_id", orgID, "source_id", evt.SourceID)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":  true,
		"source_id": evt.SourceID,
	})
}

// authorize checks the inbound credential. The switch is exhaustive over
// AuthKind.
func (h *Handler) authorize(r *http.Request, integ Integration) bool {
	switch integ.Auth {
	case AuthNone, "":
		return true

	case AuthAPIKey:
		header := integ.Header
		if header == "" {
			header = "X-Api-Key"
		}
		return secureEqual(r.Header.Get(header), integ.Secret)

	case AuthBearer:
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
			return false
		}
		return secureEqual(auth[len(prefix):], integ.Secret)

	case AuthBasic:
		user, pass, ok := r.BasicAuth()
		if !ok {
			return false
		}
		return secureEqual(user, integ.Username) && secureEqual(pass, integ.Password)

	default:
		return false
	}
}

func secureEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
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

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
