package httpserver

import (
	"log"
	"net/http"

	"github.com/retina/retina-export-back/internal/http/handlers"
	"github.com/retina/retina-export-back/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Verifier       middleware.TokenVerifier
	Logger         *log.Logger
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)

	mux.HandleFunc("/auth/google", deps.API.GoogleLogin)
	mux.HandleFunc("/auth/google/callback", deps.API.GoogleCallback)
	mux.HandleFunc("/auth/logout", deps.API.Logout)
	mux.HandleFunc("/auth/current_user", deps.API.CurrentUser)

	mux.HandleFunc("/api/uploads", deps.API.Uploads)
	mux.HandleFunc("/api/image", deps.API.Image)
	mux.HandleFunc("/api/master-data", deps.API.MasterData)

	mux.HandleFunc("/api/download/start", deps.API.StartDownload)
	mux.HandleFunc("/api/download/active", deps.API.ActiveDownload)
	mux.HandleFunc("/api/download/status/", deps.API.DownloadStatus)
	mux.HandleFunc("/api/download/cancel/", deps.API.CancelDownload)
	mux.HandleFunc("/api/download/queue", deps.API.DownloadQueue)

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.Verifier)(handler)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   deps.CORSOrigins,
		AllowCredentials: true,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
