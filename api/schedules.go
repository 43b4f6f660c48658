package api

import (
	"errors"
	"net/http"

	"github.com/hookpipe/hookpipe"
	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/schedule"
)

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	opts := schedule.ListOpts{
		Offset:   queryInt(r, "offset", 0),
		Limit:    queryInt(r, "limit", 50),
		TenantID: queryParam(r, "tenant_id"),
	}
	if rid := queryParam(r, "rule_id"); rid != "" {
		ruleID, err := id.ParseRuleID(rid)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid rule ID")
			return
		}
		opts.RuleID = &ruleID
	}
	if s := queryParam(r, "status"); s != "" {
		status := schedule.Status(s)
		opts.Status = &status
	}

	schedules, err := h.scheduleSvc.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (h *Handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	schID, err := id.ParseScheduleID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule ID")
		return
	}

	sch, err := h.scheduleSvc.Get(r.Context(), schID)
	if err != nil {
		if errors.Is(err, hookpipe.ErrScheduleNotFound) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

func (h *Handler) cancelSchedule(w http.ResponseWriter, r *http.Request) {
	schID, err := id.ParseScheduleID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule ID")
		return
	}

	if err := h.scheduleSvc.Cancel(r.Context(), schID); err != nil {
		if errors.Is(err, hookpipe.ErrScheduleNotFound) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
