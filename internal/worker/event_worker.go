// Package worker reacts to ledger events published after committed batches.
package worker

import (
	"context"
	"errors"
	"fmt"

	"conti/internal/amqp"
	"conti/internal/core"
	"conti/internal/log"
	"conti/internal/report"
	"conti/internal/services"
	"conti/internal/sheets"
	"conti/internal/storage"
)

// maxMigrationRounds bounds how many batches one event may drive.
const maxMigrationRounds = 20

// Migrator is the part of *services.Migrator the worker drives.
type Migrator interface {
	Run(ctx context.Context, userID string) (services.MigrationResult, error)
	RunAll(ctx context.Context) (int, error)
}

// EventWorker runs the legacy category migration when transactions or categories
// change and exports year-end reports on request.
type EventWorker struct {
	store    storage.Store
	migrator Migrator
	exporter sheets.ReportExporter
	clock    core.Clock
	logger   *log.Logger
}

func NewEventWorker(store storage.Store, migrator Migrator, exporter sheets.ReportExporter, clock core.Clock, logger *log.Logger) *EventWorker {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &EventWorker{
		store:    store,
		migrator: migrator,
		exporter: exporter,
		clock:    clock,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// HandleLedgerEvent dispatches one event. A returned error makes the consumer
// requeue the delivery once.
func (w *EventWorker) HandleLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	w.logger.DebugContext(ctx, "Processing ledger event",
		log.FieldUserID, ev.UserID,
		log.FieldEventKind, ev.Kind,
		"count", ev.Count)

	switch ev.Kind {
	case amqp.KindTransactionsCreated, amqp.KindCategoriesChanged, amqp.KindRecurringMaterialize:
		_, err := w.Migrate(ctx, ev.UserID)
		return err
	case amqp.KindReportExport:
		year := ev.Year
		if year == 0 {
			year = core.Today(w.clock).Year()
		}
		_, err := w.Export(ctx, ev.UserID, year)
		return err
	default:
		// categories.migrated and deletions need no follow-up.
		return nil
	}
}

// Migrate runs migration batches for userID until nothing more can be backfilled.
func (w *EventWorker) Migrate(ctx context.Context, userID string) (int, error) {
	total := 0
	for range maxMigrationRounds {
		res, err := w.migrator.Run(ctx, userID)
		if err != nil {
			return total, fmt.Errorf("migrate %s: %w", userID, err)
		}
		total += res.Backfilled
		if res.Skipped || res.Backfilled == 0 || res.Pending == 0 {
			break
		}
	}
	return total, nil
}

var ErrNoExporter = errors.New("no report exporter configured")

// Export computes userID's report for year and hands it to the exporter.
func (w *EventWorker) Export(ctx context.Context, userID string, year int) (string, error) {
	if w.exporter == nil {
		w.logger.WarnContext(ctx, "Report export requested without an exporter",
			log.FieldUserID, userID, log.FieldYear, year)
		return "", ErrNoExporter
	}
	snap, err := services.LoadSnapshot(ctx, w.store, userID, core.Today(w.clock))
	if err != nil {
		return "", err
	}
	r := report.ComputeEOYReport(year, snap.Transactions, snap.Categories)
	ref, err := w.exporter.ExportReport(ctx, userID, r)
	if err != nil {
		w.logger.ErrorContext(ctx, "Report export failed",
			log.FieldUserID, userID, log.FieldYear, year, log.FieldError, err)
		return "", fmt.Errorf("export report: %w", err)
	}
	w.logger.InfoContext(ctx, "Report export completed",
		log.FieldUserID, userID, log.FieldYear, year, "ref", ref)
	return ref, nil
}

// StartupCheck migrates every user once, picking up work whose events were lost
// while the worker was down.
func (w *EventWorker) StartupCheck(ctx context.Context) error {
	n, err := w.migrator.RunAll(ctx)
	if err != nil {
		return fmt.Errorf("startup migration: %w", err)
	}
	w.logger.InfoContext(ctx, "Startup migration completed", "backfilled", n)
	return nil
}
