package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hookpipe/hookpipe"
	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/rule"
)

type ruleRequest struct {
	TenantID    string               `json:"tenant_id"`
	Name        string               `json:"name"`
	EventType   string               `json:"event_type"`
	URL         string               `json:"url"`
	Method      string               `json:"method"`
	ContentType string               `json:"content_type"`
	Headers     map[string]string    `json:"headers"`
	Auth        rule.AuthConfig      `json:"auth"`
	Transform   rule.TransformConfig `json:"transform"`
	Mode        rule.ModeConfig      `json:"mode"`
	Retry       rule.RetryPolicy     `json:"retry"`
	Secret      string               `json:"secret"`
	Schema      json.RawMessage      `json:"schema"`
	RateLimit   *rateLimitRequest    `json:"rate_limit"`
	Global      bool                 `json:"global"`
}

type rateLimitRequest struct {
	MaxRequests int    `json:"max_requests"`
	Window      string `json:"window"` // Go duration string
}

func (req *ruleRequest) toInput() (rule.Input, error) {
	in := rule.Input{
		TenantID:    req.TenantID,
		Name:        req.Name,
		EventType:   req.EventType,
		URL:         req.URL,
		Method:      req.Method,
		ContentType: req.ContentType,
		Headers:     req.Headers,
		Auth:        req.Auth,
		Transform:   req.Transform,
		Mode:        req.Mode,
		Retry:       req.Retry,
		Secret:      req.Secret,
		Schema:      req.Schema,
		Global:      req.Global,
	}
	if req.RateLimit != nil {
		window, err := time.ParseDuration(req.RateLimit.Window)
		if err != nil {
			return in, errors.New("invalid rate_limit.window duration")
		}
		in.RateLimit = &rule.RateLimitInput{
			MaxRequests: req.RateLimit.MaxRequests,
			Window:      window,
		}
	}
	return in, nil
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.ruleSvc.Create(r.Context(), in)
	if err != nil {
		var vErr *rule.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The secret is returned once, at creation time.
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":   created,
		"secret": created.PrimarySecret(),
	})
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	opts := rule.ListOpts{
		Offset:        queryInt(r, "offset", 0),
		Limit:         queryInt(r, "limit", 50),
		EventType:     queryParam(r, "event_type"),
		IncludeGlobal: queryParam(r, "include_global") == "true",
	}

	rules, err := h.ruleSvc.List(r.Context(), queryParam(r, "tenant_id"), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (h *Handler) getRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := id.ParseRuleID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule ID")
		return
	}

	found, err := h.ruleSvc.Get(r.Context(), ruleID)
	if err != nil {
		if errors.Is(err, hookpipe.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *Handler) updateRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := id.ParseRuleID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule ID")
		return
	}

	var req ruleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.ruleSvc.Update(r.Context(), ruleID, in)
	if err != nil {
		if errors.Is(err, hookpipe.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		var vErr *rule.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := id.ParseRuleID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule ID")
		return
	}

	if err := h.ruleSvc.Delete(r.Context(), ruleID); err != nil {
		if errors.Is(err, hookpipe.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) activateRule(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handler) deactivateRule(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	ruleID, err := id.ParseRuleID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule ID")
		return
	}

	if err := h.ruleSvc.SetActive(r.Context(), ruleID, active); err != nil {
		if errors.Is(err, hookpipe.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	ruleID, err := id.ParseRuleID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule ID")
		return
	}

	secret, err := h.ruleSvc.RotateSecret(r.Context(), ruleID)
	if err != nil {
		if errors.Is(err, hookpipe.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}
