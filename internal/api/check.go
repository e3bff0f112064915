package api

import (
	"encoding/json"
	"net/http"
	"time"

	"aegis/internal/rules"
)

// checkRequest is the POST /api/check request body.
type checkRequest struct {
	Prompt     string `json:"prompt" validate:"required"`
	OSUsername string `json:"os_username"`
}

// handleCheck implements POST /api/check: classify+evaluate a single
// prompt on behalf of the browser interceptor, targeting p99 <= 100ms
// per spec.md §4.9.
func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	var prof rules.Profile
	if req.OSUsername != "" {
		prof = h.profiles.Lookup(req.OSUsername)
	} else {
		prof = h.profiles.Current()
	}

	classification := h.classifier.Classify(req.Prompt)
	status, err := h.db.GetProtectionStatus()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "protection state unavailable")
		return
	}

	verdict := rules.Evaluate(classification, time.Now(), prof, rules.ProtectionState{Active: status.State == "Active"})

	writeJSON(w, http.StatusOK, checkResponse{
		Action:     verdict.Action,
		Reason:     verdict.Reason,
		Categories: verdictToCategoriesJSON(classification),
		LatencyMS:  time.Since(start).Milliseconds(),
	})
}
