package api

import (
	"encoding/json"
	"net/http"

	"aegis/internal/classify"
	"aegis/internal/rules"
)

// handleGetRules implements GET /api/rules: return the active profile's
// current rule set.
func (h *Handler) handleGetRules(w http.ResponseWriter, r *http.Request) {
	prof := h.profiles.Current()
	writeJSON(w, http.StatusOK, prof)
}

// putRulesRequest is the PUT /api/rules request body: a full replacement
// of one profile's rule set.
type putRulesRequest struct {
	ProfileID    string              `json:"profile_id" validate:"required"`
	Name         string              `json:"name" validate:"required"`
	OSUsername   string              `json:"os_username" validate:"required"`
	TimeRules    []rules.TimeRule    `json:"time_rules"`
	ContentRules []rules.ContentRule `json:"content_rules"`
	NSFWThreshold float64            `json:"nsfw_threshold" validate:"gte=0,lte=1"`
	Enabled      bool                `json:"enabled"`
}

// handlePutRules implements PUT /api/rules: replace a profile's rules.
// Per spec.md §7's Config error taxonomy, an invalid rule (unknown
// category/action, out-of-range threshold) is rejected here rather than
// silently loaded.
func (h *Handler) handlePutRules(w http.ResponseWriter, r *http.Request) {
	var req putRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule set: "+err.Error())
		return
	}
	for _, cr := range req.ContentRules {
		switch cr.Category {
		case classify.CategoryViolence, classify.CategorySelfHarm, classify.CategoryAdult, classify.CategoryJailbreak,
			classify.CategoryHate, classify.CategoryIllegal, classify.CategoryProfanity:
		default:
			writeError(w, http.StatusBadRequest, "unknown content rule category: "+string(cr.Category))
			return
		}
		if cr.Action != rules.ActionAllow && cr.Action != rules.ActionWarn && cr.Action != rules.ActionBlock {
			writeError(w, http.StatusBadRequest, "unknown content rule action: "+string(cr.Action))
			return
		}
		if cr.Threshold < 0 || cr.Threshold > 1 {
			writeError(w, http.StatusBadRequest, "content rule threshold must be in [0,1]")
			return
		}
	}

	prof := rules.Profile{
		ID:            req.ProfileID,
		Name:          req.Name,
		OSUsername:    req.OSUsername,
		TimeRules:     req.TimeRules,
		ContentRules:  req.ContentRules,
		NSFWThreshold: req.NSFWThreshold,
		Enabled:       req.Enabled,
	}

	if err := h.db.UpsertProfile(prof); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save profile")
		return
	}

	writeJSON(w, http.StatusOK, prof)
}
