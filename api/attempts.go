package api

import (
	"errors"
	"net/http"

	"github.com/hookpipe/hookpipe"
	"github.com/hookpipe/hookpipe/delivery"
	"github.com/hookpipe/hookpipe/id"
)

func attemptListOpts(r *http.Request) delivery.ListOpts {
	opts := delivery.ListOpts{
		Offset:   queryInt(r, "offset", 0),
		Limit:    queryInt(r, "limit", 50),
		TenantID: queryParam(r, "tenant_id"),
	}
	if s := queryParam(r, "status"); s != "" {
		status := delivery.Status(s)
		opts.Status = &status
	}
	if c := queryParam(r, "category"); c != "" {
		category := delivery.Category(c)
		opts.Category = &category
	}
	return opts
}

func (h *Handler) listAttempts(w http.ResponseWriter, r *http.Request) {
	logs, err := h.store.ListAttempts(r.Context(), attemptListOpts(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) getAttempt(w http.ResponseWriter, r *http.Request) {
	logID, err := id.ParseDeliveryID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attempt ID")
		return
	}

	d, err := h.store.GetAttempt(r.Context(), logID)
	if err != nil {
		if errors.Is(err, hookpipe.ErrAttemptNotFound) {
			writeError(w, http.StatusNotFound, "attempt not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) listRuleAttempts(w http.ResponseWriter, r *http.Request) {
	ruleID, err := id.ParseRuleID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule ID")
		return
	}

	logs, err := h.store.ListAttemptsByRule(r.Context(), ruleID, attemptListOpts(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
