package services

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"conti/internal/core"
	"conti/internal/storage"
)

// Snapshot is one user's whole dataset as loaded at a point in time. Aggregation
// and reports are pure functions over it.
type Snapshot struct {
	UserID       string
	At           core.Date
	Transactions []core.Transaction
	Categories   []core.CategoryNode
	Recurring    []core.RecurringTransaction
	Budgets      []core.Budget
	Goals        []core.Goal
	Formulas     []core.Formula
}

// LoadSnapshot reads every collection of userID concurrently. Any failure aborts
// the load: computing balances over a partial dataset would be silently wrong.
func LoadSnapshot(ctx context.Context, store storage.Store, userID string, at core.Date) (*Snapshot, error) {
	s := &Snapshot{UserID: userID, At: at}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		s.Transactions, err = store.ListTransactions(ctx, userID, storage.TransactionFilter{})
		return wrapLoad("transactions", err)
	})
	g.Go(func() (err error) {
		s.Categories, err = store.ListCategories(ctx, userID)
		return wrapLoad("categories", err)
	})
	g.Go(func() (err error) {
		s.Recurring, err = store.ListRecurring(ctx, userID)
		return wrapLoad("recurring", err)
	})
	g.Go(func() (err error) {
		s.Budgets, err = store.ListBudgets(ctx, userID)
		return wrapLoad("budgets", err)
	})
	g.Go(func() (err error) {
		s.Goals, err = store.ListGoals(ctx, userID)
		return wrapLoad("goals", err)
	})
	g.Go(func() (err error) {
		s.Formulas, err = store.ListFormulas(ctx, userID)
		return wrapLoad("formulas", err)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s, nil
}

func wrapLoad(what string, err error) error {
	if err != nil {
		return fmt.Errorf("load %s: %w", what, err)
	}
	return nil
}

// BudgetDetails evaluates the snapshot's budgets at its own date.
func (s *Snapshot) BudgetDetails() []BudgetDetail {
	return BudgetDetails(s.Budgets, s.Categories, s.Transactions, s.At)
}

// ProcessedGoals recomputes the snapshot's goals.
func (s *Snapshot) ProcessedGoals() []ProcessedGoal {
	return ProcessGoals(s.Goals, s.Categories, s.Transactions)
}
