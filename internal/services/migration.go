package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conti/internal/amqp"
	"conti/internal/category"
	"conti/internal/core"
	"conti/internal/guard"
	"conti/internal/log"
	"conti/internal/storage"
)

// DefaultMigrationBatchSize bounds the backfill writes of one run.
const DefaultMigrationBatchSize = 100

// PlanCategoryMigration matches transactions without a categoryId to a tree node by
// their legacy category path and returns at most limit backfill patches.
// Transactions that already carry a categoryId are never touched; unmatched ones
// are left for a later run.
func PlanCategoryMigration(txs []core.Transaction, forest []core.CategoryNode, limit int) []storage.TransactionPatch {
	if limit <= 0 {
		limit = DefaultMigrationBatchSize
	}
	var patches []storage.TransactionPatch
	for _, tx := range txs {
		if len(patches) >= limit {
			break
		}
		if tx.CategoryID != "" {
			continue
		}
		node := category.FindByPath(forest, tx.Category)
		if node == nil {
			continue
		}
		patches = append(patches, storage.TransactionPatch{ID: tx.ID, CategoryID: node.ID})
	}
	return patches
}

// PlanRenameCascade rewrites the display path of every transaction linked to the
// renamed node or one of its descendants, since their labels all embed its name.
// forest must already contain the new name.
func PlanRenameCascade(txs []core.Transaction, forest []core.CategoryNode, nodeID string) []storage.TransactionPatch {
	idx := category.NewIndex(forest)
	st, ok := idx.Subtree(nodeID)
	if !ok {
		return nil
	}
	ids := st.IDSet()

	var patches []storage.TransactionPatch
	for _, tx := range txs {
		if _, in := ids[tx.CategoryID]; !in {
			continue
		}
		label, _ := idx.Path(tx.CategoryID)
		if tx.Category == label {
			continue
		}
		patches = append(patches, storage.TransactionPatch{ID: tx.ID, Category: &label})
	}
	return patches
}

// MigrationResult summarizes one migration run.
type MigrationResult struct {
	Backfilled int  `json:"backfilled"`
	Pending    int  `json:"pending"` // still lacking a categoryId after this run
	Skipped    bool `json:"skipped"`
}

// Migrator runs the legacy category migration for one user at a time.
type Migrator struct {
	store     storage.Store
	guard     guard.Guard
	publisher EventPublisher
	batchSize int
	guardTTL  time.Duration
	retry     RetryPolicy
	logger    *log.Logger
}

func NewMigrator(store storage.Store, g guard.Guard, publisher EventPublisher, batchSize int, logger *log.Logger) *Migrator {
	if g == nil {
		g = guard.NewMemoryGuard()
	}
	if batchSize <= 0 {
		batchSize = DefaultMigrationBatchSize
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Migrator{
		store:     store,
		guard:     g,
		publisher: publisher,
		batchSize: batchSize,
		guardTTL:  time.Minute,
		retry:     DefaultRetryPolicy(),
		logger:    logger.WithComponent(log.ComponentMigration),
	}
}

// Run backfills categoryId on up to batchSize transactions in one batch.
func (m *Migrator) Run(ctx context.Context, userID string) (MigrationResult, error) {
	var res MigrationResult
	err := guard.Do(ctx, m.guard, guard.Key("migration", userID), m.guardTTL, func(ctx context.Context) error {
		var err error
		res, err = m.run(ctx, userID)
		return err
	})
	if errors.Is(err, guard.ErrBusy) {
		return MigrationResult{Skipped: true}, nil
	}
	return res, err
}

func (m *Migrator) run(ctx context.Context, userID string) (MigrationResult, error) {
	var res MigrationResult

	forest, err := m.store.ListCategories(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("list categories: %w", err)
	}
	if len(forest) == 0 {
		return res, nil
	}

	pending, err := m.store.ListTransactions(ctx, userID, storage.TransactionFilter{MissingCategoryID: true})
	if err != nil {
		return res, fmt.Errorf("list unmigrated transactions: %w", err)
	}
	if len(pending) == 0 {
		return res, nil
	}

	patches := PlanCategoryMigration(pending, forest, m.batchSize)
	res.Pending = len(pending) - len(patches)
	if len(patches) == 0 {
		m.logger.DebugContext(ctx, "No legacy categories matched", log.FieldUserID, userID, "pending", res.Pending)
		return res, nil
	}

	batch := &storage.Batch{PatchTransactions: patches}
	if err := commitWithRetry(ctx, m.store, userID, batch, m.retry, m.logger); err != nil {
		return res, fmt.Errorf("commit migration batch: %w", err)
	}
	res.Backfilled = len(patches)

	m.logger.InfoContext(ctx, "Legacy categories backfilled",
		log.FieldUserID, userID,
		"backfilled", res.Backfilled,
		"pending", res.Pending)

	publishEvent(ctx, m.publisher, m.logger, userID, amqp.KindCategoriesMigrated, res.Backfilled)
	return res, nil
}

// RunAll migrates every known user, isolating per-user failures.
func (m *Migrator) RunAll(ctx context.Context) (int, error) {
	users, err := m.store.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	total := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		res, err := m.Run(ctx, userID)
		if err != nil {
			m.logger.ErrorContext(ctx, "Category migration failed", log.FieldUserID, userID, log.FieldError, err)
			continue
		}
		total += res.Backfilled
	}
	return total, nil
}
