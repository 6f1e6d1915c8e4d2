package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/autovault-auth/idm"
	"github.com/tendant/autovault-auth/internal/config"
	"github.com/tendant/autovault-auth/internal/notification"
	"github.com/tendant/autovault-auth/pkg/repository"
	"github.com/tendant/autovault-auth/pkg/store"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := idm.Options{Config: cfg, Logger: logger}

	// Storage
	if cfg.Storage == "postgres" {
		db, err := repository.NewDB(ctx, cfg.DatabaseURL())
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := repository.Migrate(ctx, db); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to database")
		opts.DB = db
	} else {
		logger.Warn("using in-memory storage; data is lost on restart")
	}

	// Denylist and abuse counters
	if cfg.StoreBackend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err, "addr", cfg.Redis.Addr)
			os.Exit(1)
		}
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
		opts.Counters = store.NewRedis(client, cfg.Redis.Prefix)
	}

	// Mail
	if cfg.SMTP.Enabled() {
		opts.Sender = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		logger.Info("email service enabled", "host", cfg.SMTP.Host)
	} else {
		logger.Warn("SMTP not configured; emails are logged instead of sent")
	}

	auth, err := idm.New(opts)
	if err != nil {
		logger.Error("failed to initialize auth core", "error", err)
		os.Exit(1)
	}
	go auth.Run(ctx)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      auth.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", server.Addr, "env", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", "error", err)
	}

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := auth.Close(shutdownCtx); err != nil {
		logger.Error("background tasks did not finish", "error", err)
	}

	logger.Info("server stopped")
}
