package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conti/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "conti.db"), DefaultForest())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func strPtr(s string) *string { return &s }

func TestSQLiteTransactionsRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	err := repo.Commit(ctx, "u1", &Batch{SetTransactions: []core.Transaction{
		{ID: "t1", Date: core.NewDate(2024, 3, 2), Description: "Coffee", Amount: core.Cents(350), Type: core.Expense, Category: "Food > Coffee", CategoryID: "coffee"},
		{ID: "t2", Date: core.NewDate(2024, 1, 15), Description: "Salary", Amount: core.Cents(300000), Type: core.Income, Category: "Salary"},
		{ID: "t3", Date: core.NewDate(2024, 2, 1), Description: "Bus", Amount: core.Cents(200), Type: core.Expense, Category: "Transport"},
	}})
	require.NoError(t, err)

	all, err := repo.ListTransactions(ctx, "u1", TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"t2", "t3", "t1"}, []string{all[0].ID, all[1].ID, all[2].ID}, "ordered by date")

	got, err := repo.GetTransaction(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, core.NewDate(2024, 3, 2), got.Date)
	assert.Equal(t, int64(350), got.Amount.Cents)
	assert.Equal(t, "coffee", got.CategoryID)

	missing, err := repo.ListTransactions(ctx, "u1", TransactionFilter{MissingCategoryID: true})
	require.NoError(t, err)
	assert.Len(t, missing, 2)

	ranged, err := repo.ListTransactions(ctx, "u1", TransactionFilter{From: core.NewDate(2024, 2, 1), To: core.NewDate(2024, 2, 29)})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "t3", ranged[0].ID)

	limited, err := repo.ListTransactions(ctx, "u1", TransactionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = repo.GetTransaction(ctx, "u2", "t1")
	assert.True(t, errors.Is(err, core.ErrNotFound), "other users cannot see the record")
}

func TestSQLitePatchNeverOverwritesCategoryID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Commit(ctx, "u1", &Batch{SetTransactions: []core.Transaction{
		{ID: "a", Date: core.NewDate(2024, 1, 1), Description: "x", Type: core.Expense, Category: "Food", CategoryID: "food"},
		{ID: "b", Date: core.NewDate(2024, 1, 1), Description: "y", Type: core.Expense, Category: "Food"},
	}}))

	require.NoError(t, repo.Commit(ctx, "u1", &Batch{PatchTransactions: []TransactionPatch{
		{ID: "a", CategoryID: "other"},
		{ID: "b", CategoryID: "food", Category: strPtr("Food & Drink")},
	}}))

	a, err := repo.GetTransaction(ctx, "u1", "a")
	require.NoError(t, err)
	assert.Equal(t, "food", a.CategoryID)

	b, err := repo.GetTransaction(ctx, "u1", "b")
	require.NoError(t, err)
	assert.Equal(t, "food", b.CategoryID)
	assert.Equal(t, "Food & Drink", b.Category)
}

func TestSQLiteCommitIsAtomic(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Commit(ctx, "u1", &Batch{SetRecurring: []core.RecurringTransaction{
		{ID: "r1", Description: "Rent", Amount: core.Cents(1000), Type: core.Expense, Frequency: core.Monthly, StartDate: core.NewDate(2024, 1, 1)},
	}}))

	err := repo.Commit(ctx, "u1", &Batch{
		SetTransactions: []core.Transaction{{ID: "occ", Date: core.NewDate(2024, 1, 1), Description: "[Recurring] Rent", Type: core.Expense}},
		Watermarks:      []Watermark{{RecurringID: "r1", Date: core.NewDate(2024, 1, 1)}, {RecurringID: "ghost", Date: core.NewDate(2024, 1, 1)}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNotFound))

	_, err = repo.GetTransaction(ctx, "u1", "occ")
	assert.True(t, errors.Is(err, core.ErrNotFound), "transaction must roll back with the failed watermark")

	re, err := repo.GetRecurring(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.True(t, re.LastAddedDate.IsEmpty())
}

func TestSQLiteCategoriesPreserveOrderAndShape(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	forest := []core.CategoryNode{
		{ID: "food", Name: "Food", Type: core.Expense, SubCategories: []core.CategoryNode{
			{ID: "rest", Name: "Restaurants", SubCategories: []core.CategoryNode{{ID: "coffee", Name: "Coffee"}}},
			{ID: "groc", Name: "Groceries"},
		}},
		{ID: "salary", Name: "Salary", Type: core.Income},
	}
	require.NoError(t, repo.Commit(ctx, "u1", &Batch{ReplaceCategories: true, Categories: forest}))

	got, err := repo.ListCategories(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, forest, got)

	fresh, err := repo.ListCategories(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, DefaultForest(), fresh, "users without a stored forest read the seed")

	require.NoError(t, repo.Commit(ctx, "u3", &Batch{ReplaceCategories: true}))
	emptied, err := repo.ListCategories(ctx, "u3")
	require.NoError(t, err)
	assert.NotNil(t, emptied)
	assert.Empty(t, emptied, "a stored empty forest is not reseeded")
}

func TestLoadSeed(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, DefaultForest(), LoadSeed(""))
	assert.Equal(t, DefaultForest(), LoadSeed(filepath.Join(dir, "missing.json")))

	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`[{"id":"a","name":"A"}]`), 0o644))
	assert.Equal(t, DefaultForest(), LoadSeed(invalid), "roots without a type are rejected")

	path := filepath.Join(dir, "seed.json")
	content := `[{"id":"a","name":"A","type":"expense","subCategories":[{"id":"b","name":"B"}]}]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	forest := LoadSeed(path)
	require.Len(t, forest, 1)
	assert.Equal(t, "b", forest[0].SubCategories[0].ID)
}

func TestSQLiteGoalsBudgetsFormulas(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Commit(ctx, "u1", &Batch{
		SetBudgets:  []core.Budget{{ID: "b1", Name: "Food", CategoryID: "food", Amount: core.Cents(40000), Period: core.PeriodMonthly}},
		SetGoals:    []core.Goal{{ID: "g1", Name: "Trip", TargetAmount: core.Cents(100000), SavedAmount: core.Cents(500)}},
		SetFormulas: []core.Formula{{ID: "f1", Name: "Savings rate", Expression: "net / totalIncome * 100"}},
	}))
	require.NoError(t, repo.Commit(ctx, "u1", &Batch{GoalIncrements: []GoalIncrement{{GoalID: "g1", Amount: core.Cents(250)}}}))

	g, err := repo.GetGoal(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(750), g.SavedAmount.Cents)
	assert.True(t, g.TargetDate.IsEmpty())

	b, err := repo.GetBudget(ctx, "u1", "b1")
	require.NoError(t, err)
	assert.Equal(t, core.PeriodMonthly, b.Period)

	fs, err := repo.ListFormulas(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, fs, 1)
	assert.Equal(t, "net / totalIncome * 100", fs[0].Expression)

	require.NoError(t, repo.Commit(ctx, "u1", &Batch{DeleteGoals: []string{"g1"}, DeleteFormulas: []string{"f1"}}))
	_, err = repo.GetGoal(ctx, "u1", "g1")
	assert.True(t, errors.Is(err, core.ErrNotFound))

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)
}

func TestBatchValidate(t *testing.T) {
	assert.True(t, (&Batch{}).IsEmpty())
	assert.Equal(t, 0, (*Batch)(nil).Len())

	b := &Batch{SetTransactions: []core.Transaction{{Description: "no id"}}}
	assert.ErrorIs(t, b.Validate(), ErrEmptyID)

	b = &Batch{ReplaceCategories: true}
	assert.Equal(t, 1, b.Len())
}

func TestTransactionFilterMatch(t *testing.T) {
	tx := core.Transaction{Date: core.NewDate(2024, 5, 5), Type: core.Expense, CategoryID: "food"}
	assert.True(t, TransactionFilter{}.Match(tx))
	assert.True(t, TransactionFilter{CategoryID: "food", Type: core.Expense}.Match(tx))
	assert.False(t, TransactionFilter{MissingCategoryID: true}.Match(tx))
	assert.False(t, TransactionFilter{To: core.NewDate(2024, 5, 4)}.Match(tx))
}
