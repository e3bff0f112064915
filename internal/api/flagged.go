package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"aegis/internal/store"
)

const (
	defaultFlaggedPageSize = 50
	maxFlaggedPageSize     = 500
)

type flaggedResponse struct {
	Events []store.FlaggedEventRecord `json:"events"`
	Limit  int                        `json:"limit"`
	Offset int                        `json:"offset"`
}

// handleListFlagged implements GET /api/flagged: the session-gated
// feed of Tier-3 sentiment flags awaiting caregiver review.
func (h *Handler) handleListFlagged(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := defaultFlaggedPageSize
	if raw := query.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxFlaggedPageSize {
		limit = maxFlaggedPageSize
	}
	offset := 0
	if raw := query.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}

	events, err := h.db.ListFlaggedEvents(limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list flagged events")
		return
	}

	writeJSON(w, http.StatusOK, flaggedResponse{Events: events, Limit: limit, Offset: offset})
}

// handleAcknowledgeFlagged implements POST /api/flagged/:id/acknowledge.
func (h *Handler) handleAcknowledgeFlagged(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "flagged event id required")
		return
	}

	if err := h.db.AcknowledgeFlaggedEvent(id); err != nil {
		writeError(w, http.StatusNotFound, "flagged event not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged", "id": id})
}
