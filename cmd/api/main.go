package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/retina/retina-export-back/internal/auth"
	"github.com/retina/retina-export-back/internal/cache"
	"github.com/retina/retina-export-back/internal/config"
	"github.com/retina/retina-export-back/internal/drive"
	"github.com/retina/retina-export-back/internal/export"
	httpserver "github.com/retina/retina-export-back/internal/http"
	"github.com/retina/retina-export-back/internal/http/handlers"
	"github.com/retina/retina-export-back/internal/mail"
	"github.com/retina/retina-export-back/internal/objstore"
	"github.com/retina/retina-export-back/internal/repository"
	"github.com/retina/retina-export-back/internal/service"
	"github.com/retina/retina-export-back/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[retina-export] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobsRepo, photosRepo, usersRepo, repoCloser := setupRepositories(ctx, cfg, logger)
	defer repoCloser()

	store := setupObjectStore(ctx, cfg, logger)
	appCache := setupCache(cfg, logger)

	mailer, err := mail.NewSender(mail.Config{
		Provider:         cfg.MailProvider,
		SMTPHost:         cfg.SMTPHost,
		SMTPPort:         strconv.Itoa(cfg.SMTPPort),
		SMTPUsername:     cfg.SMTPUsername,
		SMTPPassword:     cfg.SMTPPassword,
		SMTPFrom:         cfg.MailFrom,
		SendGridAPIKey:   cfg.SendgridKey,
		SendGridFrom:     cfg.MailFrom,
		SendGridFromName: cfg.MailFromName,
	})
	if err != nil {
		logger.Fatalf("invalid mail configuration: %v", err)
	}

	uploader := drive.NewGoogleUploader(cfg.GoogleClientID, cfg.GoogleClientSecret, logger)
	orchestrator := export.NewOrchestrator(export.Dependencies{
		Jobs:     jobsRepo,
		Photos:   photosRepo,
		Users:    usersRepo,
		Store:    store,
		Uploader: uploader,
		Mailer:   mailer,
		Logger:   logger,
		WorkRoot: cfg.WorkRoot,
	})
	runner := worker.NewRunner(jobsRepo, orchestrator, logger)

	tokens := auth.NewTokenManager(cfg.JWTSecret, time.Duration(cfg.SessionTTLHours)*time.Hour)
	authenticator := auth.NewGoogleAuthenticator(
		cfg.GoogleClientID,
		cfg.GoogleClientSecret,
		cfg.GoogleRedirectURL,
		usersRepo,
	)

	downloadsService := service.NewDownloadsService(jobsRepo, usersRepo, runner, logger)
	photosService := service.NewPhotosService(photosRepo, store, appCache, logger)

	api := handlers.NewAPI(handlers.APIDependencies{
		Downloads:     downloadsService,
		Photos:        photosService,
		Users:         usersRepo,
		Authenticator: authenticator,
		Tokens:        tokens,
		FrontendURL:   cfg.FrontendURL,
		SecureCookies: cfg.SecureCookies || strings.HasPrefix(cfg.FrontendURL, "https://"),
	})

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Verifier:       tokens,
		Logger:         logger,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if cfg.WorkerEnabled {
		go runner.Start(ctx)
		logger.Printf("export worker enabled and started")
	} else {
		logger.Printf("export worker disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupRepositories(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.JobsRepository, repository.PhotosRepository, repository.UsersRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory repositories")
		return repository.NewMemoryJobsRepository(),
			repository.NewMemoryPhotosRepository(nil),
			repository.NewMemoryUsersRepository(),
			func() {}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres pool, fallback to memory: %v", err)
		return repository.NewMemoryJobsRepository(),
			repository.NewMemoryPhotosRepository(nil),
			repository.NewMemoryUsersRepository(),
			func() {}
	}
	logger.Printf("postgres repositories initialized")
	return repository.NewPostgresJobsRepository(pool),
		repository.NewPostgresPhotosRepository(pool),
		repository.NewPostgresUsersRepository(pool),
		pool.Close
}

func setupObjectStore(ctx context.Context, cfg config.Config, logger *log.Logger) objstore.ObjectStore {
	if cfg.GCSBucket == "" {
		logger.Printf("GCS_BUCKET not configured, using in-memory object store")
		return objstore.NewMemoryStore()
	}

	store, err := objstore.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsFile)
	if err != nil {
		logger.Printf("failed to initialize gcs store, fallback to memory: %v", err)
		return objstore.NewMemoryStore()
	}
	logger.Printf("gcs object store initialized bucket=%s", cfg.GCSBucket)
	return store
}

func setupCache(cfg config.Config, logger *log.Logger) cache.Cache {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using in-memory cache")
		return cache.NewMemoryCache()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	logger.Printf("redis cache initialized addr=%s", cfg.RedisAddr)
	return cache.NewRedisCache(client)
}
