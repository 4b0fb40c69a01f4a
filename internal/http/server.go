// Package http exposes the bookkeeping core as a JSON API under /api/v1.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"conti/internal/ai"
	"conti/internal/log"
	"conti/internal/middleware/ratelimit"
	"conti/internal/middleware/security"
	"conti/internal/middleware/trace"
	"conti/internal/services"
)

// RecurringRunner materializes due recurring occurrences for one user.
type RecurringRunner interface {
	Process(ctx context.Context, userID string) (services.RecurringResult, error)
}

// MigrationRunner runs the legacy category migration for one user.
type MigrationRunner interface {
	Run(ctx context.Context, userID string) (services.MigrationResult, error)
}

// Assistant answers the AI endpoints. Nil disables them with 503.
type Assistant interface {
	Projection(ctx context.Context, snap *services.Snapshot) (string, error)
	ScanReceipt(ctx context.Context, image []byte, mimeType string) (ai.Receipt, error)
}

// ReadinessCheck reports whether one dependency can serve requests.
type ReadinessCheck func(ctx context.Context) error

type Config struct {
	Addr      string
	JWTSecret string
	// JWTIssuer, when set, must match the token's iss claim.
	JWTIssuer string
	RateLimit ratelimit.Config
}

type Deps struct {
	Ledger    *services.LedgerService
	Recurring RecurringRunner
	Migrator  MigrationRunner
	Assistant Assistant
	Checks    map[string]ReadinessCheck
	Logger    *log.Logger
}

type Server struct {
	http.Server
	ledger    *services.LedgerService
	recurring RecurringRunner
	migrator  MigrationRunner
	assistant Assistant
	checks    map[string]ReadinessCheck
	logger    *log.Logger

	auth     *Authenticator
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	started  time.Time

	shutdownOnce sync.Once
}

// NewServer wires middleware and routes and returns a ready-to-run server.
func NewServer(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		ledger:    deps.Ledger,
		recurring: deps.Recurring,
		migrator:  deps.Migrator,
		assistant: deps.Assistant,
		checks:    deps.Checks,
		logger:    logger,
		auth:      NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer),
		limiter:   ratelimit.NewLimiter(cfg.RateLimit),
		detector:  security.NewDetector(logger),
		started:   time.Now(),
	}
	s.tracer = trace.NewMiddleware(logger, s.detector.ExtractClientIP)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Authenticator exposes token issuing for tooling and tests.
func (s *Server) Authenticator() *Authenticator { return s.auth }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.tracer.Middleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.detector.Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
		}))
		r.Use(s.auth.Middleware)

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", s.handleListTransactions)
			r.Post("/", s.handleCreateTransactions)
			r.Get("/{id}", s.handleGetTransaction)
			r.Put("/{id}", s.handleUpdateTransaction)
			r.Delete("/{id}", s.handleDeleteTransaction)
		})

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", s.handleListCategories)
			r.Post("/", s.handleAddCategory)
			r.Put("/{id}", s.handleRenameCategory)
			r.Delete("/{id}", s.handleRemoveCategory)
		})

		r.Route("/recurring", func(r chi.Router) {
			r.Get("/", s.handleListRecurring)
			r.Post("/", s.handleSaveRecurring)
			r.Get("/{id}", s.handleGetRecurring)
			r.Put("/{id}", s.handleSaveRecurring)
			r.Delete("/{id}", s.handleDeleteRecurring)
		})

		r.Route("/budgets", func(r chi.Router) {
			r.Get("/", s.handleListBudgets)
			r.Post("/", s.handleSaveBudget)
			r.Get("/details", s.handleBudgetDetails)
			r.Put("/{id}", s.handleSaveBudget)
			r.Delete("/{id}", s.handleDeleteBudget)
		})

		r.Route("/goals", func(r chi.Router) {
			r.Get("/", s.handleListGoals)
			r.Post("/", s.handleSaveGoal)
			r.Put("/{id}", s.handleSaveGoal)
			r.Delete("/{id}", s.handleDeleteGoal)
			r.Post("/{id}/contributions", s.handleContributeToGoal)
		})

		r.Route("/formulas", func(r chi.Router) {
			r.Get("/", s.handleListFormulas)
			r.Post("/", s.handleSaveFormula)
			r.Post("/evaluate", s.handleEvaluateFormulas)
			r.Put("/{id}", s.handleSaveFormula)
			r.Delete("/{id}", s.handleDeleteFormula)
		})

		r.Get("/reports/eoy/{year}", s.handleEOYReport)
		r.Get("/reports/quarterly/{year}/{quarter}", s.handleQuarterlyReport)
		r.Post("/reports/export/{year}", s.handleExportReport)
		r.Post("/widgets/data", s.handleWidgetData)

		r.Post("/session/start", s.handleSessionStart)
		r.Post("/migrations/categories", s.handleMigrateCategories)

		r.Post("/ai/projection", s.handleProjection)
		r.Post("/ai/receipt", s.handleScanReceipt)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady runs every readiness check with a shared deadline.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := make(map[string]string, len(s.checks)+1)
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			checks[name] = "failed: " + err.Error()
			status, code = "not_ready", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	if s.ledger == nil {
		checks["ledger"] = "not_configured"
		status, code = "not_ready", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": checks,
		"rate_limiter": map[string]any{
			"active_clients": s.limiter.ActiveClients(),
			"rejected":       s.limiter.GetMetrics().Rejected,
		},
		"requests": s.tracer.GetMetrics().TotalRequests,
	})
}

// Shutdown stops the listener, then the limiter cleanup. Runs once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.Server.Shutdown(ctx)
		s.limiter.Stop()
	})
	return err
}
