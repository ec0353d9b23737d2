package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/google"
	"github.com/rs/cors"

	"github.com/petermazzocco/recipe-media/internal/auth"
	"github.com/petermazzocco/recipe-media/internal/cache"
	"github.com/petermazzocco/recipe-media/internal/catalog"
	"github.com/petermazzocco/recipe-media/internal/config"
	"github.com/petermazzocco/recipe-media/internal/handlers"
	"github.com/petermazzocco/recipe-media/internal/logger"
	"github.com/petermazzocco/recipe-media/internal/monitor"
	"github.com/petermazzocco/recipe-media/internal/retention"
	"github.com/petermazzocco/recipe-media/internal/storage"
	"github.com/petermazzocco/recipe-media/internal/transcode"
	"github.com/petermazzocco/recipe-media/internal/upload"
)

const (
	shutdownTimeout = 15 * time.Second
	sweepTimeout    = 10 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.L

	if err := run(cfg, log); err != nil {
		log.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}

	mon := monitor.New()
	mon.AddCheck("storage", store.Ping)

	infoCache := cache.NewMemory()
	go cache.Janitor(ctx, infoCache, time.Minute)

	// The service is built after the sweeper it wraps; removals only start once both exist.
	var svc *upload.Service
	sweeper := retention.NewSweeper(log, store, retention.WithOnRemove(func(name string) {
		svc.Swept(context.WithoutCancel(ctx), name)
		mon.FilesSwept(1)
	}))

	opts := upload.Options{
		Limits: upload.Limits{
			MaxSize:      cfg.Upload.MaxFileSize,
			AllowedTypes: cfg.Upload.AllowedTypes,
		},
		BaseURL:  cfg.AssetBaseURL(),
		CacheTTL: cfg.CacheTTL,
		Cache:    infoCache,
	}

	var users handlers.UserStore
	if cfg.DSN != "" {
		cat, err := catalog.Open(cfg.DSN)
		if err != nil {
			return err
		}
		opts.Recorder = cat
		users = cat
		mon.AddCheck("database", cat.Ping)
		log.Info("catalog enabled")
	}

	svc = upload.NewService(log, store, transcode.New(cfg.Upload.MaxImagePixels), sweeper, opts)
	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.ExpiresIn, cfg.Auth.RefreshExpiresIn)

	// OAuth
	if users != nil && cfg.OAuth.Enabled() {
		setupOAuth(cfg)
		log.Info("oauth login enabled", slog.String("provider", "google"))
	} else {
		users = nil
	}

	// Startup sweep, then whatever recurrence is configured.
	go sweeper.RunAtStartup(ctx, cfg.RetentionDays)
	var scheduler retention.Scheduler = retention.NewExternalScheduler(log)
	if cfg.CleanupSchedule != "" {
		cs, err := retention.NewCronScheduler(log, cfg.CleanupSchedule)
		if err != nil {
			return err
		}
		scheduler = cs
	}
	if err := scheduler.Schedule(retention.Job(ctx, sweeper, cfg.RetentionDays, sweepTimeout)); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}

	// Chi
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(log))
	r.Use(middleware.Recoverer)
	r.Use(mon.Middleware)

	deps := handlers.Deps{
		Uploads:   svc,
		Issuer:    issuer,
		Monitor:   mon,
		Users:     users,
		RateLimit: cfg.RateLimit,
	}
	if local, ok := store.(*storage.Local); ok && cfg.PublicURL == "" {
		deps.StaticDir = local.Dir()
	}
	handlers.Mount(r, deps)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           corsHandler.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting API server", slog.String("addr", srv.Addr), slog.String("env", cfg.Env))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	scheduler.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	if cfg.Storage.Driver != "s3" {
		return storage.NewLocal(cfg.Upload.Dir), nil
	}

	// Create custom HTTP client with TLS config
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			MaxVersion: tls.VersionTLS13,
			CipherSuites: []uint16{
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			},
		},
	}
	httpClient := &http.Client{Transport: tr}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithHTTPClient(httpClient),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.Storage.AccessKeyID, cfg.Storage.AccessKeySecret, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// R2 when an account id is set, otherwise the default S3 endpoint resolution.
		if cfg.Storage.AccountID != "" {
			o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.Storage.AccountID))
		}
	})
	return storage.NewS3(client, cfg.Storage.Bucket, cfg.Storage.Prefix), nil
}

func setupOAuth(cfg config.Config) {
	goth.UseProviders(google.New(cfg.OAuth.GoogleKey, cfg.OAuth.GoogleSecret, cfg.ServerBaseURL()+"/auth/google/callback", "email", "profile"))

	// Session store
	store := sessions.NewCookieStore([]byte(cfg.OAuth.SessionSecret))
	store.MaxAge(86400 * 30)
	store.Options.Path = "/"
	store.Options.HttpOnly = true
	store.Options.Secure = cfg.IsProduction()
	gothic.Store = store
}
