package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck reports whether the cache store answers. An unhealthy store
// degrades the service to source-of-truth reads but is still surfaced as 503
// so orchestrators can see it.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"store":     "healthy",
	}

	if err := h.store.Health(ctx); err != nil {
		status["status"] = "degraded"
		status["store"] = "unhealthy"
		status["store_error"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}

	writeJSON(w, http.StatusOK, status)
}
