// Package cli holds the bootstrap steps shared by cmd/conti, cmd/conti-worker and
// cmd/recurring-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"conti/internal/backend"
	"conti/internal/config"
	"conti/internal/log"
)

// LoadEnvFile loads .env for local development. A missing file is fine.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and makes
// it the slog default.
func SetupLogger(component string) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Level = log.ParseLevel(os.Getenv("LOG_LEVEL"))
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = format
	}
	cfg.Component = component
	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration and exits the process when it is invalid.
// validate defaults to (*config.Config).Validate.
func LoadAndValidateConfig(logger *log.Logger, validate func(*config.Config) error) *config.Config {
	cfg := config.Load()
	if validate == nil {
		validate = (*config.Config).Validate
	}
	if err := validate(cfg); err != nil {
		logger.Error("Configuration validation failed",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}
	return cfg
}

// InitBackend creates the configured backend or exits: running on an empty store
// would silently hide the user's data.
func InitBackend(ctx context.Context, logger *log.Logger, cfg *config.Config, requireAMQP bool) *backend.Backend {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	bcfg.RequireAMQP = requireAMQP

	b, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeDatabase,
			"backend", cfg.DataBackend)
		os.Exit(1)
	}
	return b
}

// GracefulShutdown returns a context cancelled on SIGINT/SIGTERM. cleanup runs
// with timeout before the returned channel closes.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String(), log.FieldOperation, log.OpShutdown)

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup(shutdownCtx)
			}
			close(finished)
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup finished.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
