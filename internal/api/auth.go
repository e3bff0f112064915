package api

import (
	"encoding/json"
	"net"
	"net/http"

	"aegis/internal/store"
)

// loginRequest is the POST /api/auth/login request body.
type loginRequest struct {
	Password string `json:"password" validate:"required"`
}

// loginResponse is the POST /api/auth/login response body.
type loginResponse struct {
	SessionToken string `json:"session_token"`
	ExpiresAt    string `json:"expires_at"`
}

// handleLogin implements POST /api/auth/login, rate-limited to 5/min/IP
// per spec.md §4.9.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if h.limiter != nil && !h.limiter.Allow(r.Context(), ip) {
		writeError(w, http.StatusTooManyRequests, "too many login attempts, try again later")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	encoded, err := h.db.PasswordHash()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "authentication unavailable")
		return
	}
	if encoded == "" {
		writeError(w, http.StatusUnauthorized, "no dashboard password configured")
		return
	}

	ok, err := store.VerifyPassword(req.Password, encoded)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}

	token, err := store.NewSessionToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}
	sess, err := h.db.CreateSession(token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		SessionToken: sess.Token,
		ExpiresAt:    sess.Expires.Format(timeRFC3339),
	})
}

// handleLogout implements POST /api/auth/logout.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "session token required")
		return
	}
	if err := h.db.DeleteSession(sess.Token); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to invalidate session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

const timeRFC3339 = "2006-01-02T15:04:05Z07:00"

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
