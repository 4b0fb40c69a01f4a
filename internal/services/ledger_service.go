package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"conti/internal/amqp"
	"conti/internal/category"
	"conti/internal/core"
	"conti/internal/log"
	"conti/internal/storage"
)

// ErrNoPublisher is returned by operations that only work through the event broker.
var ErrNoPublisher = errors.New("report export requires an event publisher")

// LedgerService is the CRUD surface over one store. Every mutation is one batch.
type LedgerService struct {
	store     storage.Store
	publisher EventPublisher
	clock     core.Clock
	logger    *log.Logger
	newID     func() string
}

func NewLedgerService(store storage.Store, publisher EventPublisher, clock core.Clock, logger *log.Logger) *LedgerService {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &LedgerService{
		store:     store,
		publisher: publisher,
		clock:     clock,
		logger:    logger.WithComponent(log.ComponentLedger),
		newID:     uuid.NewString,
	}
}

// Today is the service clock's current date.
func (s *LedgerService) Today() core.Date { return core.Today(s.clock) }

func (s *LedgerService) commit(ctx context.Context, userID, op string, b *storage.Batch) error {
	if err := s.store.Commit(ctx, userID, b); err != nil {
		s.logger.ErrorContext(ctx, "Batch commit failed",
			log.NewFields().WithUser(userID).WithOperation(op).WithError(err).ToSlice()...)
		return err
	}
	s.logger.DebugContext(ctx, "Batch committed",
		log.FieldUserID, userID, log.FieldOperation, op, log.FieldWrites, b.Len())
	return nil
}

// Snapshot loads the user's whole dataset at today's date.
func (s *LedgerService) Snapshot(ctx context.Context, userID string) (*Snapshot, error) {
	return LoadSnapshot(ctx, s.store, userID, s.Today())
}

// --- transactions ---

func (s *LedgerService) ListTransactions(ctx context.Context, userID string, f storage.TransactionFilter) ([]core.Transaction, error) {
	return s.store.ListTransactions(ctx, userID, f)
}

func (s *LedgerService) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	return s.store.GetTransaction(ctx, userID, id)
}

// CreateTransactions stores new transactions in one batch and returns them with
// ids and category links filled in.
func (s *LedgerService) CreateTransactions(ctx context.Context, userID string, txs ...core.Transaction) ([]core.Transaction, error) {
	if len(txs) == 0 {
		return nil, nil
	}
	forest, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	idx := category.NewIndex(forest)

	out := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.ID == "" {
			tx.ID = s.newID()
		}
		tx.Description = strings.TrimSpace(tx.Description)
		if err := linkCategory(idx, &tx.CategoryID, &tx.Category); err != nil {
			return nil, err
		}
		if err := tx.Validate(); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}

	if err := s.commit(ctx, userID, log.OpCreate, &storage.Batch{SetTransactions: out}); err != nil {
		return nil, fmt.Errorf("save transactions: %w", err)
	}
	publishEvent(ctx, s.publisher, s.logger, userID, amqp.KindTransactionsCreated, len(out))
	return out, nil
}

// UpdateTransaction replaces a stored transaction.
func (s *LedgerService) UpdateTransaction(ctx context.Context, userID string, tx core.Transaction) (core.Transaction, error) {
	prev, err := s.store.GetTransaction(ctx, userID, tx.ID)
	if err != nil {
		return core.Transaction{}, err
	}
	forest, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("list categories: %w", err)
	}
	tx.Description = strings.TrimSpace(tx.Description)
	if tx.RecurringID == "" {
		tx.RecurringID = prev.RecurringID
	}
	if err := linkCategory(category.NewIndex(forest), &tx.CategoryID, &tx.Category); err != nil {
		return core.Transaction{}, err
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := s.commit(ctx, userID, log.OpUpdate, &storage.Batch{SetTransactions: []core.Transaction{tx}}); err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	return tx, nil
}

func (s *LedgerService) DeleteTransaction(ctx context.Context, userID, id string) error {
	if _, err := s.store.GetTransaction(ctx, userID, id); err != nil {
		return err
	}
	if err := s.commit(ctx, userID, log.OpDelete, &storage.Batch{DeleteTransactions: []string{id}}); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	publishEvent(ctx, s.publisher, s.logger, userID, amqp.KindTransactionsDeleted, 1)
	return nil
}

// linkCategory fills whichever of id and label is missing. A known id always wins
// and rewrites the label to its current path. A label that matches no node is kept
// as is for a later migration pass.
func linkCategory(idx *category.Index, id, label *string) error {
	if *id != "" {
		path, ok := idx.Path(*id)
		if !ok {
			return fmt.Errorf("%w: %s", core.ErrUnknownCategory, *id)
		}
		*label = path
		return nil
	}
	if n := idx.ResolvePath(*label); n != nil {
		*id = n.ID
		*label, _ = idx.Path(n.ID)
	}
	return nil
}

// --- categories ---

func (s *LedgerService) ListCategories(ctx context.Context, userID string) ([]core.CategoryNode, error) {
	return s.store.ListCategories(ctx, userID)
}

// AddCategory adds node as a root when parentID is empty, else under parentID.
func (s *LedgerService) AddCategory(ctx context.Context, userID, parentID string, node core.CategoryNode) (core.CategoryNode, error) {
	forest, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return core.CategoryNode{}, fmt.Errorf("list categories: %w", err)
	}
	if node.ID == "" {
		node.ID = s.newID()
	}

	var next []core.CategoryNode
	if parentID == "" {
		next, err = category.AddRoot(forest, node)
	} else {
		parentPath := category.PathTo(forest, parentID)
		if parentPath == nil {
			return core.CategoryNode{}, storage.NotFound("category", parentID)
		}
		next, err = category.AddChild(forest, parentPath, node)
	}
	if err != nil {
		return core.CategoryNode{}, categoryError(err)
	}

	if err := s.replaceForest(ctx, userID, log.OpCreate, next, nil); err != nil {
		return core.CategoryNode{}, err
	}
	return *category.FindByID(next, node.ID), nil
}

// RenameCategory renames a node and, in the same batch, rewrites the display path
// of every transaction and recurring definition linked to it or its descendants.
func (s *LedgerService) RenameCategory(ctx context.Context, userID, id, name string) (int, error) {
	forest, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list categories: %w", err)
	}
	next, err := category.RenameByID(forest, id, name)
	if err != nil {
		return 0, categoryError(err)
	}

	txs, err := s.store.ListTransactions(ctx, userID, storage.TransactionFilter{})
	if err != nil {
		return 0, fmt.Errorf("list transactions: %w", err)
	}
	defs, err := s.store.ListRecurring(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list recurring: %w", err)
	}

	b := &storage.Batch{PatchTransactions: PlanRenameCascade(txs, next, id)}
	b.SetRecurring = relabelRecurring(defs, next, id)

	if err := s.replaceForest(ctx, userID, log.OpRename, next, b); err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "Category renamed",
		log.FieldUserID, userID,
		log.FieldCategoryID, id,
		"relabeled", len(b.PatchTransactions))
	return len(b.PatchTransactions), nil
}

func relabelRecurring(defs []core.RecurringTransaction, forest []core.CategoryNode, id string) []core.RecurringTransaction {
	idx := category.NewIndex(forest)
	st, ok := idx.Subtree(id)
	if !ok {
		return nil
	}
	var out []core.RecurringTransaction
	for _, def := range defs {
		if !st.HasID(def.CategoryID) {
			continue
		}
		if label, _ := idx.Path(def.CategoryID); label != def.Category {
			def.Category = label
			out = append(out, def)
		}
	}
	return out
}

// RemoveCategory drops a node and its descendants. Transactions keep their now
// dangling categoryId and stop counting towards budgets.
func (s *LedgerService) RemoveCategory(ctx context.Context, userID, id string) error {
	forest, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	next, err := category.RemoveByID(forest, id)
	if err != nil {
		return categoryError(err)
	}
	return s.replaceForest(ctx, userID, log.OpDelete, next, nil)
}

func (s *LedgerService) replaceForest(ctx context.Context, userID, op string, forest []core.CategoryNode, b *storage.Batch) error {
	if b == nil {
		b = &storage.Batch{}
	}
	b.ReplaceCategories = true
	b.Categories = forest
	if err := s.commit(ctx, userID, op, b); err != nil {
		return fmt.Errorf("save categories: %w", err)
	}
	publishEvent(ctx, s.publisher, s.logger, userID, amqp.KindCategoriesChanged, 1)
	return nil
}

func categoryError(err error) error {
	if errors.Is(err, category.ErrNodeNotFound) || errors.Is(err, category.ErrEmptyPath) {
		return fmt.Errorf("%w: %w", core.ErrNotFound, err)
	}
	if errors.Is(err, category.ErrDuplicateID) {
		return fmt.Errorf("%w: %w", core.ErrDuplicateID, err)
	}
	return err
}

// --- recurring definitions ---

func (s *LedgerService) ListRecurring(ctx context.Context, userID string) ([]core.RecurringTransaction, error) {
	return s.store.ListRecurring(ctx, userID)
}

func (s *LedgerService) GetRecurring(ctx context.Context, userID, id string) (core.RecurringTransaction, error) {
	return s.store.GetRecurring(ctx, userID, id)
}

// SaveRecurring creates or replaces a definition. An update keeps the stored
// watermark unless the caller moves it explicitly.
func (s *LedgerService) SaveRecurring(ctx context.Context, userID string, def core.RecurringTransaction) (core.RecurringTransaction, error) {
	if def.ID == "" {
		def.ID = s.newID()
	} else if prev, err := s.store.GetRecurring(ctx, userID, def.ID); err == nil {
		if def.LastAddedDate.IsZero() {
			def.LastAddedDate = prev.LastAddedDate
		}
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.RecurringTransaction{}, err
	}

	forest, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("list categories: %w", err)
	}
	def.Description = strings.TrimSpace(def.Description)
	if err := linkCategory(category.NewIndex(forest), &def.CategoryID, &def.Category); err != nil {
		return core.RecurringTransaction{}, err
	}
	if err := def.Validate(); err != nil {
		return core.RecurringTransaction{}, err
	}
	if err := s.commit(ctx, userID, log.OpUpdate, &storage.Batch{SetRecurring: []core.RecurringTransaction{def}}); err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("save recurring: %w", err)
	}
	return def, nil
}

// DeleteRecurring removes a definition. Occurrences already materialized stay.
func (s *LedgerService) DeleteRecurring(ctx context.Context, userID, id string) error {
	if _, err := s.store.GetRecurring(ctx, userID, id); err != nil {
		return err
	}
	return s.commit(ctx, userID, log.OpDelete, &storage.Batch{DeleteRecurring: []string{id}})
}

// --- budgets ---

func (s *LedgerService) ListBudgets(ctx context.Context, userID string) ([]core.Budget, error) {
	return s.store.ListBudgets(ctx, userID)
}

func (s *LedgerService) GetBudget(ctx context.Context, userID, id string) (core.Budget, error) {
	return s.store.GetBudget(ctx, userID, id)
}

func (s *LedgerService) SaveBudget(ctx context.Context, userID string, b core.Budget) (core.Budget, error) {
	if b.ID == "" {
		b.ID = s.newID()
	}
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}
	forest, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return core.Budget{}, fmt.Errorf("list categories: %w", err)
	}
	if category.FindByID(forest, b.CategoryID) == nil {
		return core.Budget{}, fmt.Errorf("%w: %s", core.ErrUnknownCategory, b.CategoryID)
	}
	if err := s.commit(ctx, userID, log.OpUpdate, &storage.Batch{SetBudgets: []core.Budget{b}}); err != nil {
		return core.Budget{}, fmt.Errorf("save budget: %w", err)
	}
	return b, nil
}

func (s *LedgerService) DeleteBudget(ctx context.Context, userID, id string) error {
	if _, err := s.store.GetBudget(ctx, userID, id); err != nil {
		return err
	}
	return s.commit(ctx, userID, log.OpDelete, &storage.Batch{DeleteBudgets: []string{id}})
}

// BudgetDetails evaluates every budget at date at (today when zero).
func (s *LedgerService) BudgetDetails(ctx context.Context, userID string, at core.Date) ([]BudgetDetail, error) {
	if at.IsZero() {
		at = s.Today()
	}
	snap, err := LoadSnapshot(ctx, s.store, userID, at)
	if err != nil {
		return nil, err
	}
	return snap.BudgetDetails(), nil
}

// --- goals ---

// Goals returns every goal with auto-tracked ones recomputed.
func (s *LedgerService) Goals(ctx context.Context, userID string) ([]ProcessedGoal, error) {
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return snap.ProcessedGoals(), nil
}

func (s *LedgerService) GetGoal(ctx context.Context, userID, id string) (core.Goal, error) {
	return s.store.GetGoal(ctx, userID, id)
}

func (s *LedgerService) SaveGoal(ctx context.Context, userID string, g core.Goal) (core.Goal, error) {
	if g.ID == "" {
		g.ID = s.newID()
	}
	g.LinkedCategoryID = strings.TrimSpace(g.LinkedCategoryID)
	if err := g.Validate(); err != nil {
		return core.Goal{}, err
	}
	if g.AutoTracked() {
		forest, err := s.store.ListCategories(ctx, userID)
		if err != nil {
			return core.Goal{}, fmt.Errorf("list categories: %w", err)
		}
		if category.FindByID(forest, g.LinkedCategoryID) == nil {
			return core.Goal{}, fmt.Errorf("%w: %s", core.ErrUnknownCategory, g.LinkedCategoryID)
		}
	}
	if err := s.commit(ctx, userID, log.OpUpdate, &storage.Batch{SetGoals: []core.Goal{g}}); err != nil {
		return core.Goal{}, fmt.Errorf("save goal: %w", err)
	}
	return g, nil
}

func (s *LedgerService) DeleteGoal(ctx context.Context, userID, id string) error {
	if _, err := s.store.GetGoal(ctx, userID, id); err != nil {
		return err
	}
	return s.commit(ctx, userID, log.OpDelete, &storage.Batch{DeleteGoals: []string{id}})
}

// ContributeToGoal adds amount to a manual goal's saved amount.
func (s *LedgerService) ContributeToGoal(ctx context.Context, userID, goalID string, amount core.Money) (core.Goal, error) {
	if err := amount.Validate(); err != nil {
		return core.Goal{}, err
	}
	g, err := s.store.GetGoal(ctx, userID, goalID)
	if err != nil {
		return core.Goal{}, err
	}
	if g.AutoTracked() {
		return core.Goal{}, fmt.Errorf("%w: %s", core.ErrGoalAutoTracked, goalID)
	}
	b := &storage.Batch{GoalIncrements: []storage.GoalIncrement{{GoalID: goalID, Amount: amount}}}
	if err := s.commit(ctx, userID, log.OpUpdate, b); err != nil {
		return core.Goal{}, fmt.Errorf("contribute to goal: %w", err)
	}
	return s.store.GetGoal(ctx, userID, goalID)
}

// --- formulas ---

func (s *LedgerService) ListFormulas(ctx context.Context, userID string) ([]core.Formula, error) {
	return s.store.ListFormulas(ctx, userID)
}

func (s *LedgerService) GetFormula(ctx context.Context, userID, id string) (core.Formula, error) {
	return s.store.GetFormula(ctx, userID, id)
}

func (s *LedgerService) SaveFormula(ctx context.Context, userID string, f core.Formula) (core.Formula, error) {
	if f.ID == "" {
		f.ID = s.newID()
	}
	if err := f.Validate(); err != nil {
		return core.Formula{}, err
	}
	if err := s.commit(ctx, userID, log.OpUpdate, &storage.Batch{SetFormulas: []core.Formula{f}}); err != nil {
		return core.Formula{}, fmt.Errorf("save formula: %w", err)
	}
	return f, nil
}

func (s *LedgerService) DeleteFormula(ctx context.Context, userID, id string) error {
	if _, err := s.store.GetFormula(ctx, userID, id); err != nil {
		return err
	}
	return s.commit(ctx, userID, log.OpDelete, &storage.Batch{DeleteFormulas: []string{id}})
}

// RequestReportExport asks the worker to export the year's report.
func (s *LedgerService) RequestReportExport(ctx context.Context, userID string, year int) error {
	if s.publisher == nil {
		return ErrNoPublisher
	}
	ev := amqp.NewLedgerEvent(userID, amqp.KindReportExport, 0)
	ev.Year = year
	return s.publisher.PublishLedgerEvent(ctx, ev)
}

// Close closes the store and, when it has one, the publisher.
func (s *LedgerService) Close() error {
	var errs []error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if c, ok := s.publisher.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}
	return errors.Join(errs...)
}
