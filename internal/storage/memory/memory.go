// Package memory is an in-process storage.Store used by tests and the "memory" backend.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"conti/internal/core"
	"conti/internal/storage"
)

type userData struct {
	transactions map[string]core.Transaction
	recurring    map[string]core.RecurringTransaction
	budgets      map[string]core.Budget
	goals        map[string]core.Goal
	formulas     map[string]core.Formula
	categories   []core.CategoryNode
}

func newUserData() *userData {
	return &userData{
		transactions: map[string]core.Transaction{},
		recurring:    map[string]core.RecurringTransaction{},
		budgets:      map[string]core.Budget{},
		goals:        map[string]core.Goal{},
		formulas:     map[string]core.Formula{},
	}
}

func (u *userData) clone() *userData {
	return &userData{
		transactions: maps.Clone(u.transactions),
		recurring:    maps.Clone(u.recurring),
		budgets:      maps.Clone(u.budgets),
		goals:        maps.Clone(u.goals),
		formulas:     maps.Clone(u.formulas),
		categories:   u.categories, // replaced wholesale, never edited in place
	}
}

type Store struct {
	mu    sync.RWMutex
	users map[string]*userData
	seed  []core.CategoryNode
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store. Users that have no categories yet see seed.
func New(seed []core.CategoryNode) *Store {
	return &Store{users: map[string]*userData{}, seed: seed}
}

func (s *Store) user(userID string) *userData {
	if u, ok := s.users[userID]; ok {
		return u
	}
	return nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, f storage.TransactionFilter) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := s.user(userID)
	if u == nil {
		return nil, nil
	}
	var out []core.Transaction
	for _, tx := range u.transactions {
		if f.Match(tx) {
			out = append(out, tx)
		}
	}
	slices.SortFunc(out, func(a, b core.Transaction) int {
		if c := a.Date.Compare(b.Date.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) GetTransaction(_ context.Context, userID, id string) (core.Transaction, error) {
	return get(s, userID, id, "transaction", func(u *userData) map[string]core.Transaction { return u.transactions })
}

func (s *Store) ListCategories(_ context.Context, userID string) ([]core.CategoryNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := s.user(userID)
	if u == nil || u.categories == nil {
		return s.seed, nil
	}
	return u.categories, nil
}

func (s *Store) ListRecurring(_ context.Context, userID string) ([]core.RecurringTransaction, error) {
	return list(s, userID, func(u *userData) map[string]core.RecurringTransaction { return u.recurring },
		func(a, b core.RecurringTransaction) int {
			if c := a.StartDate.Compare(b.StartDate.Time); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		}), nil
}

func (s *Store) GetRecurring(_ context.Context, userID, id string) (core.RecurringTransaction, error) {
	return get(s, userID, id, "recurring transaction", func(u *userData) map[string]core.RecurringTransaction { return u.recurring })
}

func (s *Store) ListBudgets(_ context.Context, userID string) ([]core.Budget, error) {
	return list(s, userID, func(u *userData) map[string]core.Budget { return u.budgets },
		func(a, b core.Budget) int { return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID)) }), nil
}

func (s *Store) GetBudget(_ context.Context, userID, id string) (core.Budget, error) {
	return get(s, userID, id, "budget", func(u *userData) map[string]core.Budget { return u.budgets })
}

func (s *Store) ListGoals(_ context.Context, userID string) ([]core.Goal, error) {
	return list(s, userID, func(u *userData) map[string]core.Goal { return u.goals },
		func(a, b core.Goal) int { return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID)) }), nil
}

func (s *Store) GetGoal(_ context.Context, userID, id string) (core.Goal, error) {
	return get(s, userID, id, "goal", func(u *userData) map[string]core.Goal { return u.goals })
}

func (s *Store) ListFormulas(_ context.Context, userID string) ([]core.Formula, error) {
	return list(s, userID, func(u *userData) map[string]core.Formula { return u.formulas },
		func(a, b core.Formula) int { return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID)) }), nil
}

func (s *Store) GetFormula(_ context.Context, userID, id string) (core.Formula, error) {
	return get(s, userID, id, "formula", func(u *userData) map[string]core.Formula { return u.formulas })
}

func (s *Store) ListUsers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.users)), nil
}

// Commit applies the batch to a copy of the user's data and swaps it in only when
// every operation succeeded.
func (s *Store) Commit(_ context.Context, userID string, b *storage.Batch) error {
	if b.IsEmpty() {
		return nil
	}
	if err := b.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.user(userID)
	if cur == nil {
		cur = newUserData()
	}
	next := cur.clone()
	if err := apply(next, b); err != nil {
		return err
	}
	s.users[userID] = next
	return nil
}

func (s *Store) Close() error { return nil }

func apply(u *userData, b *storage.Batch) error {
	for _, t := range b.SetTransactions {
		u.transactions[t.ID] = t
	}
	for _, p := range b.PatchTransactions {
		tx, ok := u.transactions[p.ID]
		if !ok {
			return storage.NotFound("transaction", p.ID)
		}
		if p.CategoryID != "" && tx.CategoryID == "" {
			tx.CategoryID = p.CategoryID
		}
		if p.Category != nil {
			tx.Category = *p.Category
		}
		u.transactions[p.ID] = tx
	}
	for _, id := range b.DeleteTransactions {
		delete(u.transactions, id)
	}

	for _, re := range b.SetRecurring {
		u.recurring[re.ID] = re
	}
	for _, w := range b.Watermarks {
		re, ok := u.recurring[w.RecurringID]
		if !ok {
			return storage.NotFound("recurring transaction", w.RecurringID)
		}
		re.LastAddedDate = w.Date
		u.recurring[w.RecurringID] = re
	}
	for _, id := range b.DeleteRecurring {
		delete(u.recurring, id)
	}

	for _, x := range b.SetBudgets {
		u.budgets[x.ID] = x
	}
	for _, id := range b.DeleteBudgets {
		delete(u.budgets, id)
	}

	for _, g := range b.SetGoals {
		u.goals[g.ID] = g
	}
	for _, inc := range b.GoalIncrements {
		g, ok := u.goals[inc.GoalID]
		if !ok {
			return storage.NotFound("goal", inc.GoalID)
		}
		g.SavedAmount = g.SavedAmount.Add(inc.Amount)
		u.goals[inc.GoalID] = g
	}
	for _, id := range b.DeleteGoals {
		delete(u.goals, id)
	}

	for _, f := range b.SetFormulas {
		u.formulas[f.ID] = f
	}
	for _, id := range b.DeleteFormulas {
		delete(u.formulas, id)
	}

	if b.ReplaceCategories {
		forest := b.Categories
		if forest == nil {
			forest = []core.CategoryNode{}
		}
		u.categories = forest
	}
	return nil
}

func get[T any](s *Store, userID, id, kind string, pick func(*userData) map[string]T) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var zero T
	u := s.user(userID)
	if u == nil {
		return zero, storage.NotFound(kind, id)
	}
	v, ok := pick(u)[id]
	if !ok {
		return zero, storage.NotFound(kind, id)
	}
	return v, nil
}

func list[T any](s *Store, userID string, pick func(*userData) map[string]T, order func(a, b T) int) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := s.user(userID)
	if u == nil {
		return nil
	}
	out := slices.SortedFunc(maps.Values(pick(u)), order)
	return out
}
