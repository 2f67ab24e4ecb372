package middleware

import (
	"context"
	"net/http"
	"strings"
)

// SessionCookieName is the cookie the sign-in callback sets.
const SessionCookieName = "session_token"

type userIDContextKey struct{}

// TokenVerifier validates a session token and returns the user id it was
// issued to.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// Auth guards /api/ routes with the session token, read from the cookie
// set at sign-in or from an Authorization bearer header. Everything
// outside /api/ (health, the sign-in flow itself) passes through.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				if cookie, err := r.Cookie(SessionCookieName); err == nil {
					token = cookie.Value
				}
			}
			if token == "" {
				writeUnauthorized(w, r)
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				writeUnauthorized(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey{}, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID returns the authenticated user id, or 0 outside the auth
// middleware.
func GetUserID(ctx context.Context) int64 {
	value, _ := ctx.Value(userIDContextKey{}).(int64)
	return value
}

func bearerToken(r *http.Request) string {
	authorization := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authorization, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"authentication required"},"request_id":"` + GetRequestID(r.Context()) + `"}`))
}
