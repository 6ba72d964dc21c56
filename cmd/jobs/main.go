// Package main is the entry point for the Gather background jobs service.
//
// The service exposes two cron-invoked endpoints over one HTTP server: the
// notification worker, which drains the email notification queue in bounded
// batches, and the scheduled location unlock, which reveals an outing's
// exact meeting place to approved attendees shortly before start.
//
// Startup wires configuration, the structured logger, the pgx connection
// pool, the provider clients (real when credentials are present, stub or
// disabled otherwise), and the chi router with the shared middleware chain.
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gather/internal/config"
	"gather/internal/core"
	"gather/internal/db"
	"gather/internal/external"
	"gather/internal/notifications"
	"gather/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("gather jobs service starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	pool, err := newPool(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	// Repositories.
	queueRepo := db.NewQueueRepository(pool)
	logRepo := db.NewNotificationLogRepository(pool)
	eventRepo := db.NewEventRepository(pool)
	profileRepo := db.NewProfileRepository(pool)
	unlockLogRepo := db.NewUnlockLogRepository(pool)

	// Provider clients.
	emailProvider := newEmailProvider(cfg, logger)
	copyGenerator := newCopyGenerator(cfg, logger)

	// Notification worker.
	contexts := notifications.NewContextBuilder(eventRepo, profileRepo, logger)
	copyBuilder := notifications.NewCopyBuilder(copyGenerator, cfg.Copy.Timeout, logger)
	worker := notifications.NewWorker(
		queueRepo,
		logRepo,
		contexts,
		copyBuilder,
		emailProvider,
		notifications.WorkerConfig{
			BatchSize:   cfg.Worker.BatchSize,
			MaxAttempts: cfg.Worker.MaxAttempts,
			From:        cfg.Email.From,
			FromName:    "Gather",
		},
		logger,
	)
	workerHandler := notifications.NewHandler(worker, cfg.Worker.CronSecret, logger)

	// Scheduled location unlock.
	unlockService := scheduler.NewUnlockService(
		eventRepo,
		unlockLogRepo,
		queueRepo,
		scheduler.UnlockWindow{
			LeadMinutes:      cfg.Unlock.LeadMinutes,
			ToleranceMinutes: cfg.Unlock.ToleranceMinutes,
		},
		logger,
	)
	unlockHandler := scheduler.NewHandler(
		unlockService,
		cfg.Unlock.SchedulerToken,
		cfg.Unlock.AdminAPIKey,
		logger,
	)

	// Router.
	r := chi.NewRouter()
	r.Use(core.Recoverer(logger))
	r.Use(core.RequestID)
	r.Use(core.RequestLogger(logger, []string{"x-cron-secret", "x-admin-key", "authorization"}))

	r.Get("/healthz", core.HealthHandler(pool))
	r.Post("/jobs/notifications/run", workerHandler.Run)
	r.Post("/jobs/location-unlock/run", unlockHandler.Run)

	return runHTTPServer(r, cfg, logger)
}

// newPool builds the pgx connection pool from the database configuration and
// verifies connectivity before the server starts taking invocations.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// newEmailProvider selects the email client for the environment: the real
// Resend client when a key is configured, a logging stub in local
// development, and a provider that fails every send with a descriptive error
// elsewhere so jobs still reach a terminal state.
func newEmailProvider(cfg *config.Config, logger *slog.Logger) external.EmailProvider {
	if cfg.Email.ResendAPIKey.IsSet() {
		return external.NewResendClient(
			&http.Client{Timeout: 10 * time.Second},
			external.ResendClientConfig{
				APIKey: cfg.Email.ResendAPIKey.Unmask(),
				Logger: logger,
			},
		)
	}

	if cfg.Environment == "local" {
		logger.Warn("RESEND_API_KEY not set; using stub email provider")
		return external.NewStubEmailProvider(logger)
	}

	logger.Warn("RESEND_API_KEY not set; email delivery is disabled")
	return external.NewDisabledEmailProvider("missing_RESEND_API_KEY")
}

// newCopyGenerator selects the copy client: the real completion client when
// a key is configured, otherwise nil in deployed environments (template-only
// copy) and an always-failing stub locally to exercise the fallback path.
func newCopyGenerator(cfg *config.Config, logger *slog.Logger) external.CopyGenerator {
	if cfg.Copy.APIKey.IsSet() {
		return external.NewCopyClient(
			&http.Client{Timeout: cfg.Copy.Timeout},
			external.CopyClientConfig{
				APIKey:  cfg.Copy.APIKey.Unmask(),
				BaseURL: cfg.Copy.BaseURL,
				Model:   cfg.Copy.Model,
				Logger:  logger,
			},
		)
	}

	if cfg.Environment == "local" {
		logger.Warn("COPY_API_KEY not set; using stub copy generator")
		return external.NewStubCopyGenerator(logger)
	}

	logger.Info("COPY_API_KEY not set; notification copy is template-only")
	return nil
}

// runHTTPServer starts the server with graceful shutdown.
func runHTTPServer(handler http.Handler, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // a full batch of provider calls can be slow
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
