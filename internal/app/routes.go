package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"prompt-cache/internal/handlers"
	"prompt-cache/internal/middleware"
	"prompt-cache/internal/ratelimit"
)

// Process-wide cap on invalidation requests. Each one can trigger several
// SCAN-based purges, so the store is protected even from callers that stay
// under their own rate limit.
const (
	invalidateRPS   = 50
	invalidateBurst = 100
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, limiter *ratelimit.Limiter, metricsEnabled bool) {
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware)

	// Health check and metrics are never rate limited
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	if metricsEnabled {
		router.Handle("/metrics", h.Metrics()).Methods("GET")
	}

	api := router.PathPrefix("/api").Subrouter()
	if limiter != nil {
		api.Use(limiter.HTTPMiddleware("api", 0, 0, ratelimit.IPKey))
	}

	api.Handle("/invalidate", ratelimit.Throttle(invalidateRPS, invalidateBurst)(http.HandlerFunc(h.Invalidate))).Methods("POST")

	api.HandleFunc("/sessions/{userID}/activity", h.GetSessionActivity).Methods("GET")
	api.HandleFunc("/sessions/{userID}", h.DeleteSession).Methods("DELETE")
}
