package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// GetSessionActivity returns the most recent activity of a user, newest
// first. The optional limit query parameter caps the entries returned.
func (h *Handlers) GetSessionActivity(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative number")
			return
		}
		limit = parsed
	}

	activity := h.sessions.RecentActivity(r.Context(), userID, limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  userID,
		"activity": activity,
	})
}

// DeleteSession drops the cached session record of a user.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	if !h.sessions.InvalidateSession(r.Context(), userID) {
		writeError(w, http.StatusServiceUnavailable, "Session store unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
