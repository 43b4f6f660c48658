package api

import (
	"net/http"

	"github.com/hookpipe/hookpipe/delivery"
)

type statsResponse struct {
	PendingAttempts  int64 `json:"pending_attempts"`
	RetryingAttempts int64 `json:"retrying_attempts"`
	DLQSize          int64 `json:"dlq_size"`
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pending, err := h.store.CountAttempts(ctx, delivery.StatusPending)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	retrying, err := h.store.CountAttempts(ctx, delivery.StatusRetrying)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	dlqCount, err := h.store.CountDLQ(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		PendingAttempts:  pending,
		RetryingAttempts: retrying,
		DLQSize:          dlqCount,
	})
}
