package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"conti/internal/ai"
	"conti/internal/cache"
	"conti/internal/cli"
	"conti/internal/config"
	"conti/internal/core"
	apphttp "conti/internal/http"
	"conti/internal/log"
	"conti/internal/middleware/ratelimit"
	"conti/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateServer)

	b := cli.InitBackend(context.Background(), logger, cfg, false)
	clock := core.SystemClock{}

	ledger := services.NewLedgerService(b.Store, b.Publisher, clock, logger)
	recurring := services.NewRecurringProcessor(b.Store, b.Guard, b.Publisher, clock, services.RecurringProcessorConfig{
		MaxPerRun: cfg.RecurringMaxPerRun,
		GuardTTL:  cfg.GuardTTL,
		Retry:     services.DefaultRetryPolicy(),
	}, logger)
	migrator := services.NewMigrator(b.Store, b.Guard, b.Publisher, cfg.MigrationBatchSize, logger)

	caches := cache.NewManager(logger)
	deps := apphttp.Deps{
		Ledger:    ledger,
		Recurring: recurring,
		Migrator:  migrator,
		Checks: map[string]apphttp.ReadinessCheck{
			"store": func(ctx context.Context) error {
				_, err := b.Store.ListUsers(ctx)
				return err
			},
		},
		Logger: logger,
	}

	if cfg.AIEnabled() {
		model, err := ai.NewGeminiClient(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Warn("Failed to initialize Gemini client, AI endpoints disabled", log.FieldError, err)
		} else {
			assistant := ai.NewService(model, ai.Config{CacheSize: cfg.AICacheSize, CacheTTL: cfg.AICacheTTL}, logger)
			caches.Register(assistant.Cache())
			deps.Assistant = assistant
			logger.Info("AI endpoints enabled", "model", cfg.GeminiModel)
		}
	} else {
		logger.Info("AI endpoints disabled - no GEMINI_API_KEY provided")
	}
	caches.StartCleanup(10 * time.Minute)

	srv := apphttp.NewServer(apphttp.Config{
		Addr:      ":" + cfg.Port,
		JWTSecret: cfg.JWTSecret,
		JWTIssuer: "conti",
		RateLimit: ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitPerMinute,
			Burst:             cfg.RateLimitBurst,
		},
	}, deps)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		caches.Stop()
		if err := b.Close(); err != nil {
			logger.Error("Backend close error", log.FieldError, err)
		}
	})

	logger.Info("Starting conti server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"events", b.Publisher != nil,
		log.FieldOperation, log.OpStartup)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		_ = b.Close()
		return
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
