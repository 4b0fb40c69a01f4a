package main

import (
	"context"
	"errors"
	"time"

	"conti/internal/cli"
	"conti/internal/core"
	"conti/internal/log"
	"conti/internal/services"
	"conti/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting conti-worker")

	cfg := cli.LoadAndValidateConfig(logger, nil)
	b := cli.InitBackend(context.Background(), logger, cfg, true)

	migrator := services.NewMigrator(b.Store, b.Guard, b.Publisher, cfg.MigrationBatchSize, logger)
	w := worker.NewEventWorker(b.Store, migrator, b.Exporter, core.SystemClock{}, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if err := b.Close(); err != nil {
			logger.Error("Backend close error", log.FieldError, err)
		}
	})

	logger.Info("Performing startup migration check...")
	if err := w.StartupCheck(ctx); err != nil {
		logger.Error("Startup migration check failed", log.FieldError, err)
	}

	if err := b.AMQP.Run(ctx, w.HandleLedgerEvent); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Event consumption failed", log.FieldError, err, log.FieldErrorType, log.ErrorTypeNetwork)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
