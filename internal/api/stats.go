package api

import (
	"net/http"
	"strconv"
	"time"
)

// statsResponse mirrors internal/store.Stats for the wire.
type statsResponse struct {
	WindowSince time.Time `json:"window_since"`
	Total       int       `json:"total"`
	Allowed     int       `json:"allowed"`
	Warned      int       `json:"warned"`
	Blocked     int       `json:"blocked"`
}

// handleStats implements GET /api/stats?window_minutes=N, defaulting to
// cfg.StatsWindow (24h) when the caller doesn't specify one.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	window := h.cfg.StatsWindow
	if raw := r.URL.Query().Get("window_minutes"); raw != "" {
		if minutes, err := strconv.Atoi(raw); err == nil && minutes > 0 {
			window = time.Duration(minutes) * time.Minute
		}
	}

	since := time.Now().Add(-window)
	stats, err := h.db.StatsSince(since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to aggregate stats")
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		WindowSince: since,
		Total:       stats.Total,
		Allowed:     stats.Allowed,
		Warned:      stats.Warned,
		Blocked:     stats.Blocked,
	})
}
