package api

import (
	"net/http"
	"strconv"

	"aegis/internal/store"
)

const (
	defaultLogPageSize = 50
	maxLogPageSize     = 500
)

// logsResponse paginates internal/store.EventsPage for the wire.
type logsResponse struct {
	Events     []store.EventRecord `json:"events"`
	TotalCount int                 `json:"total_count"`
	Limit      int                 `json:"limit"`
	Offset     int                 `json:"offset"`
}

// handleLogs implements GET /api/logs?limit=&offset=&action=, the
// paginated filterable event log spec.md §4.9 describes.
func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := defaultLogPageSize
	if raw := query.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLogPageSize {
		limit = maxLogPageSize
	}

	offset := 0
	if raw := query.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}

	page, err := h.db.ListEvents(limit, offset, query.Get("action"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, logsResponse{
		Events:     page.Events,
		TotalCount: page.TotalCount,
		Limit:      limit,
		Offset:     offset,
	})
}
