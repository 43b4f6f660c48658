package api

import (
	"errors"
	"net/http"

	"github.com/hookpipe/hookpipe"
	"github.com/hookpipe/hookpipe/internal/entity"
	"github.com/hookpipe/hookpipe/transform"
)

type lookupTableRequest struct {
	TenantID     string            `json:"tenant_id"`
	Entries      map[string]string `json:"entries"`
	OnUnmapped   string            `json:"on_unmapped"`
	DefaultValue string            `json:"default_value"`
}

func (h *Handler) upsertLookupTable(w http.ResponseWriter, r *http.Request) {
	var req lookupTableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Entries) == 0 {
		writeError(w, http.StatusBadRequest, "entries must not be empty")
		return
	}

	policy := transform.UnmappedPolicy(req.OnUnmapped)
	if policy == "" {
		policy = transform.UnmappedPassthrough
	}
	switch policy {
	case transform.UnmappedPassthrough, transform.UnmappedFail, transform.UnmappedDefault:
	default:
		writeError(w, http.StatusBadRequest, "invalid on_unmapped policy")
		return
	}

	table := &transform.LookupTable{
		Entity:       entity.New(),
		TenantID:     req.TenantID,
		Name:         r.PathValue("name"),
		Entries:      req.Entries,
		OnUnmapped:   policy,
		DefaultValue: req.DefaultValue,
	}
	if err := h.store.UpsertLookupTable(r.Context(), table); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (h *Handler) getLookupTable(w http.ResponseWriter, r *http.Request) {
	table, err := h.store.GetLookupTable(r.Context(), queryParam(r, "tenant_id"), r.PathValue("name"))
	if err != nil {
		if errors.Is(err, hookpipe.ErrLookupTableNotFound) {
			writeError(w, http.StatusNotFound, "lookup table not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (h *Handler) deleteLookupTable(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteLookupTable(r.Context(), queryParam(r, "tenant_id"), r.PathValue("name"))
	if err != nil {
		if errors.Is(err, hookpipe.ErrLookupTableNotFound) {
			writeError(w, http.StatusNotFound, "lookup table not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
