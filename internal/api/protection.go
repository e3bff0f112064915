package api

import (
	"encoding/json"
	"net/http"
	"time"

	"aegis/internal/store"
)

// protectionStatusResponse implements GET /api/protection/status's
// `{state, pause_until?}` contract.
type protectionStatusResponse struct {
	State      string     `json:"state"`
	PauseUntil *time.Time `json:"pause_until,omitempty"`
}

func (h *Handler) handleProtectionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.db.GetProtectionStatus()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read protection status")
		return
	}
	writeJSON(w, http.StatusOK, protectionStatusResponse{State: status.State, PauseUntil: status.PauseUntil})
}

// pauseRequest is the POST /api/protection/pause request body.
type pauseRequest struct {
	DurationMinutes int  `json:"duration_minutes"`
	Indefinite      bool `json:"indefinite"`
}

// handleProtectionPause implements POST /api/protection/pause. Per
// spec.md §7, pause requires no session auth (a caregiver-present
// disable does, via /api/protection/disable) — see spec.md §7's
// referenced note.
func (h *Handler) handleProtectionPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	status := store.ProtectionStatus{State: "Paused"}
	if !req.Indefinite {
		minutes := req.DurationMinutes
		if minutes <= 0 {
			minutes = 15
		}
		until := time.Now().Add(time.Duration(minutes) * time.Minute).UTC()
		status.PauseUntil = &until
	}

	if err := h.db.SetProtectionStatus(status); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to pause protection")
		return
	}
	writeJSON(w, http.StatusOK, protectionStatusResponse{State: status.State, PauseUntil: status.PauseUntil})
}

func (h *Handler) handleProtectionResume(w http.ResponseWriter, r *http.Request) {
	status := store.ProtectionStatus{State: "Active"}
	if err := h.db.SetProtectionStatus(status); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resume protection")
		return
	}
	writeJSON(w, http.StatusOK, protectionStatusResponse{State: status.State})
}

// handleProtectionDisable implements POST /api/protection/disable, which
// requires session auth (enforced by requireSession middleware) since
// disabling is a stronger action than a timed pause.
func (h *Handler) handleProtectionDisable(w http.ResponseWriter, r *http.Request) {
	status := store.ProtectionStatus{State: "Disabled"}
	if err := h.db.SetProtectionStatus(status); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to disable protection")
		return
	}
	writeJSON(w, http.StatusOK, protectionStatusResponse{State: status.State})
}
