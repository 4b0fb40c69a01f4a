package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conti/internal/amqp"
	"conti/internal/core"
	"conti/internal/guard"
	"conti/internal/log"
	"conti/internal/storage"
)

// RecurringFailure records a definition skipped during a run.
type RecurringFailure struct {
	RecurringID string `json:"recurringId"`
	Err         error  `json:"-"`
	Message     string `json:"error"`
}

// RecurringResult summarizes one materialization run for one user.
type RecurringResult struct {
	Materialized int                `json:"materialized"`
	Definitions  int                `json:"definitions"` // definitions that produced occurrences
	Failures     []RecurringFailure `json:"failures,omitempty"`
	Truncated    bool               `json:"truncated"` // run hit the per-run cap; the rest follows next run
	Skipped      bool               `json:"skipped"`   // another run held the guard
}

type RecurringProcessorConfig struct {
	// MaxPerRun caps the occurrences materialized in one batch (default: 500)
	MaxPerRun int
	// GuardTTL bounds how long a crashed run can block the next one (default: 2m)
	GuardTTL time.Duration
	Retry    RetryPolicy
}

func DefaultRecurringProcessorConfig() RecurringProcessorConfig {
	return RecurringProcessorConfig{
		MaxPerRun: 500,
		GuardTTL:  2 * time.Minute,
		Retry:     DefaultRetryPolicy(),
	}
}

// RecurringProcessor materializes due occurrences of a user's recurring definitions.
type RecurringProcessor struct {
	store     storage.Store
	guard     guard.Guard
	publisher EventPublisher
	clock     core.Clock
	config    RecurringProcessorConfig
	logger    *log.Logger
}

func NewRecurringProcessor(store storage.Store, g guard.Guard, publisher EventPublisher, clock core.Clock, config RecurringProcessorConfig, logger *log.Logger) *RecurringProcessor {
	if g == nil {
		g = guard.NewMemoryGuard()
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if config.MaxPerRun <= 0 {
		config.MaxPerRun = DefaultRecurringProcessorConfig().MaxPerRun
	}
	if config.GuardTTL <= 0 {
		config.GuardTTL = DefaultRecurringProcessorConfig().GuardTTL
	}
	return &RecurringProcessor{
		store:     store,
		guard:     g,
		publisher: publisher,
		clock:     clock,
		config:    config,
		logger:    logger.WithComponent(log.ComponentRecurring),
	}
}

// Process materializes every due occurrence for userID in one atomic batch.
// A concurrent run for the same user makes this call a no-op with Skipped set.
func (p *RecurringProcessor) Process(ctx context.Context, userID string) (RecurringResult, error) {
	var res RecurringResult
	err := guard.Do(ctx, p.guard, guard.Key("recurring", userID), p.config.GuardTTL, func(ctx context.Context) error {
		var err error
		res, err = p.process(ctx, userID)
		return err
	})
	if errors.Is(err, guard.ErrBusy) {
		p.logger.DebugContext(ctx, "Recurring run already in progress", log.FieldUserID, userID)
		return RecurringResult{Skipped: true}, nil
	}
	return res, err
}

func (p *RecurringProcessor) process(ctx context.Context, userID string) (RecurringResult, error) {
	var res RecurringResult

	defs, err := p.store.ListRecurring(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("list recurring definitions: %w", err)
	}
	if len(defs) == 0 {
		return res, nil
	}

	today := core.Today(p.clock)
	batch := &storage.Batch{}
	remaining := p.config.MaxPerRun

	for _, def := range defs {
		if remaining == 0 {
			res.Truncated = true
			break
		}

		dates, err := DueOccurrences(def, today, remaining)
		if err != nil {
			p.logger.WarnContext(ctx, "Skipping recurring definition",
				log.NewFields().WithUser(userID).WithRecurring(def.ID, 0).WithError(err).ToSlice()...)
			res.Failures = append(res.Failures, RecurringFailure{RecurringID: def.ID, Err: err, Message: err.Error()})
			continue
		}
		if len(dates) == 0 {
			continue
		}

		for _, d := range dates {
			batch.SetTransactions = append(batch.SetTransactions, Materialize(def, d))
		}
		// One watermark per definition, at the last occurrence written in this batch.
		batch.Watermarks = append(batch.Watermarks, storage.Watermark{RecurringID: def.ID, Date: dates[len(dates)-1]})
		remaining -= len(dates)
		res.Definitions++

		p.logger.DebugContext(ctx, "Recurring definition due",
			log.NewFields().WithUser(userID).WithRecurring(def.ID, len(dates)).ToSlice()...)
	}
	if remaining == 0 && !res.Truncated {
		res.Truncated = p.moreDue(defs, batch, today)
	}

	if batch.IsEmpty() {
		return res, nil
	}

	if err := commitWithRetry(ctx, p.store, userID, batch, p.config.Retry, p.logger); err != nil {
		return res, fmt.Errorf("commit recurring batch: %w", err)
	}
	res.Materialized = len(batch.SetTransactions)

	p.logger.InfoContext(ctx, "Recurring occurrences materialized",
		log.FieldUserID, userID,
		log.FieldOccurrences, res.Materialized,
		"definitions", res.Definitions,
		"failures", len(res.Failures),
		"truncated", res.Truncated)

	publishEvent(ctx, p.publisher, p.logger, userID, amqp.KindRecurringMaterialize, res.Materialized)
	return res, nil
}

// moreDue reports whether any definition still has occurrences after this batch.
func (p *RecurringProcessor) moreDue(defs []core.RecurringTransaction, b *storage.Batch, today core.Date) bool {
	advanced := make(map[string]core.Date, len(b.Watermarks))
	for _, w := range b.Watermarks {
		advanced[w.RecurringID] = w.Date
	}
	for _, def := range defs {
		if d, ok := advanced[def.ID]; ok {
			def.LastAddedDate = d
		}
		if dates, err := DueOccurrences(def, today, 1); err == nil && len(dates) > 0 {
			return true
		}
	}
	return false
}

// ProcessAll runs Process for every known user, isolating per-user failures.
func (p *RecurringProcessor) ProcessAll(ctx context.Context) (int, error) {
	users, err := p.store.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	total := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		res, err := p.Process(ctx, userID)
		if err != nil {
			p.logger.ErrorContext(ctx, "Recurring run failed", log.FieldUserID, userID, log.FieldError, err)
			continue
		}
		total += res.Materialized
	}
	return total, nil
}
