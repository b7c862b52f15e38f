package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/numberoneson/nos-analytics/analytics/internal/audit"
	"github.com/numberoneson/nos-analytics/analytics/internal/config"
	"github.com/numberoneson/nos-analytics/analytics/internal/dlq"
	"github.com/numberoneson/nos-analytics/analytics/internal/geo"
	"github.com/numberoneson/nos-analytics/analytics/internal/handlers"
	"github.com/numberoneson/nos-analytics/analytics/internal/normalizer"
	"github.com/numberoneson/nos-analytics/analytics/internal/server"
	"github.com/numberoneson/nos-analytics/analytics/internal/service"
	"github.com/numberoneson/nos-analytics/analytics/internal/storage"
	"github.com/numberoneson/nos-analytics/analytics/pkg/session"
	"github.com/numberoneson/nos-analytics/common/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("analytics"))
	logging.SetDefault(logger)

	slog.Info("Starting analytics service",
		slog.Int("port", cfg.Server.Port),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.String("log_level", cfg.Logging.Level),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	b, err := openBackend(ctx, cfg)
	if err != nil {
		cancel()
		log.Fatalf("Failed to open storage backend: %v", err)
	}
	if err := b.Init(ctx); err != nil {
		cancel()
		log.Fatalf("Failed to initialize storage backend: %v", err)
	}
	defer b.Close()

	gate, window, err := newGate(ctx, cfg, b, logger)
	if err != nil {
		cancel()
		log.Fatalf("Failed to initialize rate limiter: %v", err)
	}
	defer gate.Close()
	if window != nil {
		slog.Info("Rate limiting enabled",
			slog.String("backend", cfg.RateLimit.Backend),
			slog.Int("max_per_window", cfg.RateLimit.MaxPerWindow),
			slog.Duration("window", cfg.RateLimit.Window),
		)
	} else {
		slog.Info("Rate limiting disabled in configuration")
	}

	dlqStore, closeDLQ, err := dlq.New(ctx, cfg.DLQ, logger)
	cancel()
	if err != nil {
		log.Fatalf("Failed to initialize dead letter queue: %v", err)
	}
	defer closeDLQ()
	if dlqStore != nil {
		slog.Info("Dead letter queue enabled", slog.String("backend", cfg.DLQ.Backend))
	}

	locator, closeGeo, err := geo.New(cfg.Geo, logger)
	if err != nil {
		log.Fatalf("Failed to initialize geo lookup: %v", err)
	}
	defer closeGeo()

	signer, err := session.NewSigner(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatalf("Failed to initialize session signer: %v", err)
	}
	passwords, err := session.NewPasswordChecker(cfg.Auth.Password, cfg.Auth.PasswordHash, 0)
	if err != nil {
		log.Fatalf("Failed to initialize password checker: %v", err)
	}
	sunset := cfg.LegacySunsetTime()
	if cfg.Auth.LegacyEnabled {
		slog.Warn("Legacy dashboard credentials accepted", slog.String("sunset", cfg.Auth.LegacySunset))
	}

	ingestService := service.NewIngestService(service.IngestDeps{
		Backend:      b,
		Normalizer:   normalizer.New(cfg.SiteIDs()),
		Gate:         gate,
		MaxPerWindow: cfg.RateLimit.MaxPerWindow,
		Locator:      locator,
		DLQ:          dlqStore,
		Logger:       logger,
	})
	queryService := service.NewQueryService(b, storage.NewCalendar(cfg.Location()), cfg.Sites, cfg.Query)

	var purger service.RatePurger
	if window != nil {
		purger = window
	}
	maintenanceService := service.NewMaintenanceService(b, purger, logger)

	handler := handlers.New(handlers.Deps{
		Collector:   ingestService,
		Queries:     queryService,
		Maintenance: maintenanceService,
		Health:      b,
		DLQ:         dlqStore,
		Auth: handlers.Auth{
			Signer:       signer,
			Passwords:    passwords,
			Chain:        session.NewChain(signer, passwords, cfg.Auth.LegacyEnabled, sunset),
			CookieName:   cfg.Auth.CookieName,
			CookieSecure: cfg.Auth.CookieSecure,
			CronSecret:   cfg.Auth.CronSecret,
		},
		Audit:        audit.NewLogger(b, logger),
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
	})
	router := server.NewRouter(handler, cfg.CORS.AllowedOrigins, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Analytics service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", logging.Error(err))
	}
	slog.Info("Server stopped")
}
