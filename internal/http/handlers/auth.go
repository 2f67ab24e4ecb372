package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/retina/retina-export-back/internal/http/middleware"
	"github.com/retina/retina-export-back/internal/repository"
)

const oauthStateCookieName = "oauth_state"

// GoogleLogin starts the sign-in flow. The random state lands in a
// short-lived cookie and must round-trip through Google untouched.
func (api *API) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   api.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, api.authenticator.AuthURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback finishes the flow: validates state, trades the code for
// tokens, stores the user, and sends the browser back to the frontend with
// a session cookie.
func (api *API) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "oauth state mismatch")
		return
	}
	api.clearCookie(w, oauthStateCookieName)

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "authorization code is required")
		return
	}

	user, err := api.authenticator.Exchange(r.Context(), code)
	if err != nil {
		writeError(w, r, http.StatusBadGateway, "oauth_failed", "google sign-in failed")
		return
	}

	session, err := api.tokens.Issue(user.ID, user.Email, user.Name)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session,
		Path:     "/",
		MaxAge:   int(api.tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   api.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, api.frontendURL, http.StatusTemporaryRedirect)
}

// CurrentUser lives outside the /api/ guard so the frontend can probe the
// session without triggering a 401 interceptor; the token is checked here.
func (api *API) CurrentUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	token := ""
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		token = cookie.Value
	}
	if token == "" {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	userID, err := api.tokens.Verify(token)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	user, err := api.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "session user no longer exists")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":       user.ID,
		"email":    user.Email,
		"name":     user.Name,
		"photoUrl": user.PhotoURL,
	})
}

func (api *API) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	api.clearCookie(w, middleware.SessionCookieName)
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

func (api *API) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   api.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
