package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/retina/retina-export-back/internal/auth"
	"github.com/retina/retina-export-back/internal/http/middleware"
	"github.com/retina/retina-export-back/internal/repository"
	"github.com/retina/retina-export-back/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

type API struct {
	downloads     *service.DownloadsService
	photos        *service.PhotosService
	users         repository.UsersRepository
	authenticator *auth.GoogleAuthenticator
	tokens        *auth.TokenManager
	frontendURL   string
	secureCookies bool
}

type APIDependencies struct {
	Downloads     *service.DownloadsService
	Photos        *service.PhotosService
	Users         repository.UsersRepository
	Authenticator *auth.GoogleAuthenticator
	Tokens        *auth.TokenManager
	FrontendURL   string
	SecureCookies bool
}

func NewAPI(deps APIDependencies) *API {
	return &API{
		downloads:     deps.Downloads,
		photos:        deps.Photos,
		users:         deps.Users,
		authenticator: deps.Authenticator,
		tokens:        deps.Tokens,
		frontendURL:   deps.FrontendURL,
		secureCookies: deps.SecureCookies,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

// pathID extracts the numeric id that follows the route prefix, as in
// /api/download/status/42.
func pathID(path, prefix string) (int64, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(path, prefix))
	if raw == "" || strings.Contains(raw, "/") {
		return 0, errInvalidPayload
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidPayload
	}
	return id, nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
