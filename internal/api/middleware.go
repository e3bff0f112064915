package api

import (
	"context"
	"net/http"
	"strings"

	"aegis/internal/store"
)

type sessionContextKey struct{}

// requireSession enforces the bearer-token session contract the endpoint
// table marks "session" auth for. The token travels as
// "Authorization: Bearer <token>", matching the extension/dashboard's
// existing convention for the other session-authenticated surfaces in the
// reference stack.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "session token required")
			return
		}

		sess, ok, err := h.db.ValidateSession(token)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "session validation failed")
			return
		}
		if !ok {
			writeError(w, http.StatusUnauthorized, "session expired or invalid")
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-Aegis-Session")
}

func sessionFromContext(ctx context.Context) (store.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(store.Session)
	return sess, ok
}
