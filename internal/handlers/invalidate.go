package handlers

import (
	"encoding/json"
	"net/http"

	"prompt-cache/internal/common/logging"
	"prompt-cache/internal/invalidation"
)

type invalidateResponse struct {
	invalidation.Report
	Complete bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// Invalidate purges the keys made stale by a mutation committed elsewhere.
// The body is an invalidation event; the response is the fan-out report. A
// partially failed purge still answers 200 since the leftovers expire by TTL.
func (h *Handlers) Invalidate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var event invalidation.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := event.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report := h.invalidator.Invalidate(r.Context(), event)

	resp := invalidateResponse{Report: report, Complete: report.OK()}
	if report.Err != nil {
		resp.Error = report.Err.Error()
		h.logger.WithContext(r.Context()).Warn("Invalidation request incomplete",
			logging.String("kind", string(event.Kind)),
			logging.Int("failed", len(report.Failed)),
		)
	}
	writeJSON(w, http.StatusOK, resp)
}
