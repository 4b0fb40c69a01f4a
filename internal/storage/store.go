// Package storage defines the per-user persistence port and its SQLite implementation.
package storage

import (
	"context"
	"errors"
	"fmt"

	"conti/internal/core"
)

// Store is the persistence contract the bookkeeping core relies on. Every method is
// scoped to one user; Commit applies a whole Batch or nothing.
type Store interface {
	ListTransactions(ctx context.Context, userID string, f TransactionFilter) ([]core.Transaction, error)
	GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error)
	ListCategories(ctx context.Context, userID string) ([]core.CategoryNode, error)
	ListRecurring(ctx context.Context, userID string) ([]core.RecurringTransaction, error)
	GetRecurring(ctx context.Context, userID, id string) (core.RecurringTransaction, error)
	ListBudgets(ctx context.Context, userID string) ([]core.Budget, error)
	GetBudget(ctx context.Context, userID, id string) (core.Budget, error)
	ListGoals(ctx context.Context, userID string) ([]core.Goal, error)
	GetGoal(ctx context.Context, userID, id string) (core.Goal, error)
	ListFormulas(ctx context.Context, userID string) ([]core.Formula, error)
	GetFormula(ctx context.Context, userID, id string) (core.Formula, error)
	// ListUsers returns every user that owns at least one record.
	ListUsers(ctx context.Context) ([]string, error)
	Commit(ctx context.Context, userID string, b *Batch) error
	Close() error
}

// TransactionFilter narrows ListTransactions. Zero values mean "no constraint".
type TransactionFilter struct {
	From              core.Date
	To                core.Date
	CategoryID        string
	RecurringID       string
	Type              core.TransactionType
	MissingCategoryID bool
	Limit             int
}

// Match reports whether tx passes the filter (Limit is not considered).
func (f TransactionFilter) Match(tx core.Transaction) bool {
	if !tx.Date.Between(f.From, f.To) {
		return false
	}
	if f.CategoryID != "" && tx.CategoryID != f.CategoryID {
		return false
	}
	if f.RecurringID != "" && tx.RecurringID != f.RecurringID {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.MissingCategoryID && tx.CategoryID != "" {
		return false
	}
	return true
}

// TransactionPatch updates selected fields of a stored transaction.
//
// CategoryID is a backfill: it is written only when the stored transaction has no
// categoryId yet, so an established link is never overwritten. Category, when set,
// replaces the display path.
type TransactionPatch struct {
	ID         string
	CategoryID string
	Category   *string
}

// Watermark moves a recurring definition's lastAddedDate.
type Watermark struct {
	RecurringID string
	Date        core.Date
}

// GoalIncrement adds Amount to a goal's persisted savedAmount.
type GoalIncrement struct {
	GoalID string
	Amount core.Money
}

// Batch is one logical write. Operations are applied in field order.
type Batch struct {
	SetTransactions    []core.Transaction
	PatchTransactions  []TransactionPatch
	DeleteTransactions []string

	SetRecurring    []core.RecurringTransaction
	Watermarks      []Watermark
	DeleteRecurring []string

	SetBudgets    []core.Budget
	DeleteBudgets []string

	SetGoals       []core.Goal
	GoalIncrements []GoalIncrement
	DeleteGoals    []string

	SetFormulas    []core.Formula
	DeleteFormulas []string

	// ReplaceCategories swaps the user's whole forest for Categories.
	ReplaceCategories bool
	Categories        []core.CategoryNode
}

// Len counts the individual writes in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	n := len(b.SetTransactions) + len(b.PatchTransactions) + len(b.DeleteTransactions) +
		len(b.SetRecurring) + len(b.Watermarks) + len(b.DeleteRecurring) +
		len(b.SetBudgets) + len(b.DeleteBudgets) +
		len(b.SetGoals) + len(b.GoalIncrements) + len(b.DeleteGoals) +
		len(b.SetFormulas) + len(b.DeleteFormulas)
	if b.ReplaceCategories {
		n++
	}
	return n
}

func (b *Batch) IsEmpty() bool { return b.Len() == 0 }

var ErrEmptyID = errors.New("record id cannot be empty")

// Validate rejects batches carrying records without ids.
func (b *Batch) Validate() error {
	for _, t := range b.SetTransactions {
		if t.ID == "" {
			return fmt.Errorf("transaction: %w", ErrEmptyID)
		}
	}
	for _, p := range b.PatchTransactions {
		if p.ID == "" {
			return fmt.Errorf("transaction patch: %w", ErrEmptyID)
		}
	}
	for _, r := range b.SetRecurring {
		if r.ID == "" {
			return fmt.Errorf("recurring: %w", ErrEmptyID)
		}
	}
	for _, w := range b.Watermarks {
		if w.RecurringID == "" {
			return fmt.Errorf("watermark: %w", ErrEmptyID)
		}
	}
	for _, x := range b.SetBudgets {
		if x.ID == "" {
			return fmt.Errorf("budget: %w", ErrEmptyID)
		}
	}
	for _, g := range b.SetGoals {
		if g.ID == "" {
			return fmt.Errorf("goal: %w", ErrEmptyID)
		}
	}
	for _, g := range b.GoalIncrements {
		if g.GoalID == "" {
			return fmt.Errorf("goal increment: %w", ErrEmptyID)
		}
	}
	for _, f := range b.SetFormulas {
		if f.ID == "" {
			return fmt.Errorf("formula: %w", ErrEmptyID)
		}
	}
	return nil
}

// NotFound wraps core.ErrNotFound with the missing record.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, core.ErrNotFound)
}
