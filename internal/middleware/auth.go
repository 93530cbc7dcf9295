package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dukerupert/daostore/internal/auth"
	"github.com/dukerupert/daostore/internal/store"
)

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "daostore_session"

// RequireAuth validates the session cookie and attaches an auth.Session to
// the request context. Unauthenticated requests get a 401 JSON error.
func RequireAuth(sessions *store.SessionStore, members *store.MemberStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			sess, err := sessions.GetByToken(r.Context(), cookie.Value, time.Now())
			if err != nil || sess == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			member, err := members.GetByID(r.Context(), sess.MemberID)
			if err != nil || member == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			noteMember(r.Context(), member.ID)
			ctx := auth.WithSession(r.Context(), auth.Session{
				MemberID:  member.ID,
				Role:      member.Role,
				SessionID: sess.ID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin checks that the authenticated member has the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(r.Context()) {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
