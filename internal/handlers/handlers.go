// Package handlers serves the HTTP surface of the cache service: health,
// metrics, out-of-process invalidation and session maintenance.
package handlers

import (
	"encoding/json"
	"net/http"

	"prompt-cache/internal/common/logging"
	"prompt-cache/internal/invalidation"
	"prompt-cache/internal/metrics"
	"prompt-cache/internal/session"
	"prompt-cache/internal/store"
)

// maxBodyBytes bounds request bodies accepted by the JSON endpoints.
const maxBodyBytes = 1 << 20

type Handlers struct {
	store       store.Store
	invalidator *invalidation.Service
	sessions    *session.Cache
	metrics     *metrics.Recorder
	logger      logging.Logger
}

func New(s store.Store, invalidator *invalidation.Service, sessions *session.Cache, recorder *metrics.Recorder, logger logging.Logger) *Handlers {
	return &Handlers{
		store:       s,
		invalidator: invalidator,
		sessions:    sessions,
		metrics:     recorder,
		logger:      logging.Component(logger, "handlers"),
	}
}

// Metrics exposes the Prometheus registry.
func (h *Handlers) Metrics() http.Handler {
	return h.metrics.Handler()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
