package main

import (
	"context"
	"time"

	"conti/internal/cli"
	"conti/internal/core"
	"conti/internal/log"
	"conti/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentRecurring)
	logger.Info("Starting recurring-worker")

	cfg := cli.LoadAndValidateConfig(logger, nil)
	b := cli.InitBackend(context.Background(), logger, cfg, false)

	processor := services.NewRecurringProcessor(b.Store, b.Guard, b.Publisher, core.SystemClock{}, services.RecurringProcessorConfig{
		MaxPerRun: cfg.RecurringMaxPerRun,
		GuardTTL:  cfg.GuardTTL,
		Retry:     services.DefaultRetryPolicy(),
	}, logger)
	migrator := services.NewMigrator(b.Store, b.Guard, b.Publisher, cfg.MigrationBatchSize, logger)

	scheduler := services.NewScheduler(processor, migrator, services.SchedulerConfig{
		Interval: cfg.RecurringInterval,
		// The event worker migrates on change when the broker is up.
		MigrateCategories: b.Publisher == nil,
	}, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := scheduler.Stop(ctx); err != nil {
			logger.Warn("Scheduler stop error", log.FieldError, err)
		}
		if err := b.Close(); err != nil {
			logger.Error("Backend close error", log.FieldError, err)
		}
	})

	logger.Info("Recurring processor configured",
		"interval", cfg.RecurringInterval,
		"max_per_run", cfg.RecurringMaxPerRun,
		"backend", cfg.DataBackend)
	if err := scheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler", log.FieldError, err)
		_ = b.Close()
		return
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Recurring-worker shutdown complete")
}
