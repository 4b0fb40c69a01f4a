package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conti/internal/amqp"
	"conti/internal/core"
	"conti/internal/log"
	"conti/internal/storage"
)

// EventPublisher announces committed ledger changes. *amqp.Client implements it.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, event *amqp.LedgerEvent) error
}

// publishEvent never fails the caller: the batch is already committed and consumers
// re-derive their work from storage.
func publishEvent(ctx context.Context, p EventPublisher, logger *log.Logger, userID, kind string, count int) {
	if p == nil {
		return
	}
	if err := p.PublishLedgerEvent(ctx, amqp.NewLedgerEvent(userID, kind, count)); err != nil {
		logger.WarnContext(ctx, "Failed to publish ledger event",
			log.FieldUserID, userID,
			log.FieldEventKind, kind,
			log.FieldError, err)
	}
}

// RetryPolicy controls whole-batch retries.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 200 * time.Millisecond}
}

// commitWithRetry resubmits the same batch on failure. Batches are idempotent by
// construction (deterministic ids, absolute watermarks, backfill-only patches), so
// a retry after an ambiguous failure cannot duplicate anything.
func commitWithRetry(ctx context.Context, store storage.Store, userID string, b *storage.Batch, policy RetryPolicy, logger *log.Logger) error {
	attempts := max(policy.Attempts, 1)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := policy.BaseDelay << (attempt - 1)
			logger.WarnContext(ctx, "Retrying batch commit",
				log.FieldUserID, userID,
				log.FieldAttempt, attempt+1,
				log.FieldError, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		err = store.Commit(ctx, userID, b)
		if err == nil || permanent(err) {
			return err
		}
	}
	return fmt.Errorf("commit failed after %d attempts: %w", attempts, err)
}

func permanent(err error) bool {
	return errors.Is(err, core.ErrNotFound) ||
		errors.Is(err, storage.ErrEmptyID) ||
		errors.Is(err, context.Canceled) ||
		core.IsValidation(err)
}
