package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/retina/retina-export-back/internal/auth"
	"github.com/retina/retina-export-back/internal/domain"
	"github.com/retina/retina-export-back/internal/http/middleware"
	"github.com/retina/retina-export-back/internal/repository"
)

func newAuthAPI(t *testing.T) (*API, *auth.TokenManager, *domain.User) {
	t.Helper()

	users := repository.NewMemoryUsersRepository()
	user, err := users.UpsertByGoogleID(context.Background(), &domain.User{
		GoogleID: "g-1",
		Email:    "alice@example.com",
		Name:     "Alice",
		PhotoURL: "https://example.com/alice.png",
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	tokens := auth.NewTokenManager("test-secret", time.Hour)
	api := NewAPI(APIDependencies{Users: users, Tokens: tokens})
	return api, tokens, user
}

func TestCurrentUserWithSessionCookie(t *testing.T) {
	api, tokens, user := newAuthAPI(t)

	session, err := tokens.Issue(user.ID, user.Email, user.Name)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/auth/current_user", nil)
	request.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: session})
	recorder := httptest.NewRecorder()

	api.CurrentUser(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	if payload["email"] != "alice@example.com" || payload["name"] != "Alice" {
		t.Fatalf("unexpected user payload %v", payload)
	}
}

func TestCurrentUserWithoutSession(t *testing.T) {
	api, _, _ := newAuthAPI(t)

	request := httptest.NewRequest(http.MethodGet, "/auth/current_user", nil)
	recorder := httptest.NewRecorder()

	api.CurrentUser(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestCurrentUserWithForgedToken(t *testing.T) {
	api, _, user := newAuthAPI(t)

	forged, err := auth.NewTokenManager("other-secret", time.Hour).Issue(user.ID, user.Email, user.Name)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/auth/current_user", nil)
	request.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: forged})
	recorder := httptest.NewRecorder()

	api.CurrentUser(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged token, got %d", recorder.Code)
	}
}

func TestLogoutClearsSessionCookie(t *testing.T) {
	api, _, _ := newAuthAPI(t)

	request := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	recorder := httptest.NewRecorder()

	api.Logout(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	setCookie := recorder.Header().Get("Set-Cookie")
	if !strings.Contains(setCookie, middleware.SessionCookieName+"=") || !strings.Contains(setCookie, "Max-Age=0") {
		t.Fatalf("expected session cookie cleared, got %q", setCookie)
	}
}
