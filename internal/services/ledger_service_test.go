package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conti/internal/amqp"
	"conti/internal/core"
	"conti/internal/log"
	"conti/internal/storage"
	"conti/internal/storage/memory"
)

func newTestLedger(t *testing.T) (*LedgerService, *memory.Store, *recordingPublisher) {
	t.Helper()
	store := memory.New(budgetForest())
	pub := &recordingPublisher{}
	return NewLedgerService(store, pub, fixedClock(2024, 3, 20), log.Discard()), store, pub
}

func TestLedger_CreateTransactionsLinksCategories(t *testing.T) {
	ctx := context.Background()
	svc, _, pub := newTestLedger(t)

	out, err := svc.CreateTransactions(ctx, "u1",
		core.Transaction{Date: d(2024, 3, 1), Description: " Bread ", Amount: core.Cents(250), Type: core.Expense, Category: "food > groceries"},
		core.Transaction{Date: d(2024, 3, 2), Description: "Espresso", Amount: core.Cents(120), Type: core.Expense, CategoryID: "coffee"},
		core.Transaction{Date: d(2024, 3, 3), Description: "Legacy", Amount: core.Cents(100), Type: core.Expense, Category: "Pets"},
	)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.NotEmpty(t, out[0].ID)
	assert.Equal(t, "Bread", out[0].Description)
	assert.Equal(t, "groceries", out[0].CategoryID)
	assert.Equal(t, "Food > Groceries", out[0].Category)

	assert.Equal(t, "Food > Restaurants > Coffee", out[1].Category)

	assert.Empty(t, out[2].CategoryID)
	assert.Equal(t, "Pets", out[2].Category)

	assert.Equal(t, []string{amqp.KindTransactionsCreated}, pub.kinds())
}

func TestLedger_CreateTransactionsRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestLedger(t)

	_, err := svc.CreateTransactions(ctx, "u1",
		core.Transaction{Date: d(2024, 3, 1), Description: "ok", Amount: core.Cents(1), Type: core.Expense},
		core.Transaction{Date: d(2024, 3, 1), Description: "bad", Amount: core.Cents(1), Type: core.Expense, CategoryID: "nope"},
	)
	require.ErrorIs(t, err, core.ErrUnknownCategory)
	assert.True(t, core.IsValidation(err))

	_, err = svc.CreateTransactions(ctx, "u1", core.Transaction{Date: d(2024, 3, 1), Description: "neg", Amount: core.Cents(-1), Type: core.Expense})
	require.ErrorIs(t, err, core.ErrInvalidAmount)

	txs, _ := store.ListTransactions(ctx, "u1", storage.TransactionFilter{})
	assert.Empty(t, txs, "a rejected batch writes nothing")
}

func TestLedger_UpdateAndDeleteTransaction(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestLedger(t)

	out, err := svc.CreateTransactions(ctx, "u1", core.Transaction{Date: d(2024, 3, 1), Description: "Bus", Amount: core.Cents(200), Type: core.Expense, CategoryID: "transport"})
	require.NoError(t, err)

	tx := out[0]
	tx.Amount = core.Cents(300)
	updated, err := svc.UpdateTransaction(ctx, "u1", tx)
	require.NoError(t, err)
	assert.Equal(t, int64(300), updated.Amount.Cents)

	_, err = svc.UpdateTransaction(ctx, "u1", core.Transaction{ID: "missing"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, svc.DeleteTransaction(ctx, "u1", tx.ID))
	assert.ErrorIs(t, svc.DeleteTransaction(ctx, "u1", tx.ID), core.ErrNotFound)
}

func TestLedger_CategoryLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, store, pub := newTestLedger(t)

	node, err := svc.AddCategory(ctx, "u1", "", core.CategoryNode{ID: "pets", Name: "Pets", Type: core.Expense})
	require.NoError(t, err)
	assert.Equal(t, "pets", node.ID)

	_, err = svc.AddCategory(ctx, "u1", "pets", core.CategoryNode{ID: "vet", Name: "Vet"})
	require.NoError(t, err)

	_, err = svc.AddCategory(ctx, "u1", "missing", core.CategoryNode{Name: "X"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.AddCategory(ctx, "u1", "", core.CategoryNode{ID: "food", Name: "Dup", Type: core.Expense})
	assert.ErrorIs(t, err, core.ErrDuplicateID)

	forest, err := store.ListCategories(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, forest, 4)

	require.NoError(t, svc.RemoveCategory(ctx, "u1", "pets"))
	assert.ErrorIs(t, svc.RemoveCategory(ctx, "u1", "pets"), core.ErrNotFound)

	assert.Contains(t, pub.kinds(), amqp.KindCategoriesChanged)
}

func TestLedger_RenameCategoryCascades(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestLedger(t)

	_, err := svc.CreateTransactions(ctx, "u1",
		core.Transaction{ID: "r", Date: d(2024, 3, 1), Description: "Pizza", Amount: core.Cents(1500), Type: core.Expense, CategoryID: "restaurants"},
		core.Transaction{ID: "c", Date: d(2024, 3, 2), Description: "Latte", Amount: core.Cents(300), Type: core.Expense, CategoryID: "coffee"},
		core.Transaction{ID: "g", Date: d(2024, 3, 3), Description: "Milk", Amount: core.Cents(100), Type: core.Expense, CategoryID: "groceries"},
	)
	require.NoError(t, err)
	_, err = svc.SaveRecurring(ctx, "u1", core.RecurringTransaction{
		ID: "rc", Description: "Coffee beans", Amount: core.Cents(900), Type: core.Expense,
		CategoryID: "coffee", Frequency: core.Monthly, StartDate: d(2024, 1, 1),
	})
	require.NoError(t, err)

	n, err := svc.RenameCategory(ctx, "u1", "restaurants", "Dining")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	r, _ := store.GetTransaction(ctx, "u1", "r")
	c, _ := store.GetTransaction(ctx, "u1", "c")
	g, _ := store.GetTransaction(ctx, "u1", "g")
	assert.Equal(t, "Food > Dining", r.Category)
	assert.Equal(t, "Food > Dining > Coffee", c.Category)
	assert.Equal(t, "Food > Groceries", g.Category)
	assert.Equal(t, "restaurants", r.CategoryID, "ids survive renames")

	def, _ := store.GetRecurring(ctx, "u1", "rc")
	assert.Equal(t, "Food > Dining > Coffee", def.Category)

	_, err = svc.RenameCategory(ctx, "u1", "restaurants", "Bad > Name")
	assert.True(t, core.IsValidation(err))
}

func TestLedger_SaveRecurringKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestLedger(t)
	seedRecurring(t, store, core.RecurringTransaction{
		ID: "rent", Description: "Rent", Amount: core.Cents(100), Type: core.Expense,
		Frequency: core.Monthly, StartDate: d(2024, 1, 1), LastAddedDate: d(2024, 3, 1),
	})

	def, err := svc.SaveRecurring(ctx, "u1", core.RecurringTransaction{
		ID: "rent", Description: "Rent", Amount: core.Cents(120), Type: core.Expense,
		Frequency: core.Monthly, StartDate: d(2024, 1, 1),
	})
	require.NoError(t, err)
	assert.True(t, def.LastAddedDate.Equal(d(2024, 3, 1)))

	_, err = svc.SaveRecurring(ctx, "u1", core.RecurringTransaction{Description: "x", Amount: core.Cents(1), Type: core.Expense, Frequency: "hourly", StartDate: d(2024, 1, 1)})
	assert.ErrorIs(t, err, core.ErrInvalidFrequency)

	require.NoError(t, svc.DeleteRecurring(ctx, "u1", "rent"))
	assert.ErrorIs(t, svc.DeleteRecurring(ctx, "u1", "rent"), core.ErrNotFound)
}

func TestLedger_BudgetsAndGoals(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestLedger(t)

	_, err := svc.SaveBudget(ctx, "u1", core.Budget{Name: "Food", CategoryID: "food", Amount: core.Cents(10000), Period: core.PeriodMonthly})
	require.NoError(t, err)
	_, err = svc.SaveBudget(ctx, "u1", core.Budget{Name: "Ghost", CategoryID: "ghost", Amount: core.Cents(1), Period: core.PeriodMonthly})
	assert.ErrorIs(t, err, core.ErrUnknownCategory)

	_, err = svc.CreateTransactions(ctx, "u1", core.Transaction{Date: d(2024, 3, 5), Description: "Dinner", Amount: core.Cents(2500), Type: core.Expense, CategoryID: "restaurants"})
	require.NoError(t, err)

	details, err := svc.BudgetDetails(ctx, "u1", core.Date{})
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, int64(2500), details[0].Spent.Cents)

	manual, err := svc.SaveGoal(ctx, "u1", core.Goal{Name: "Trip", TargetAmount: core.Cents(1000)})
	require.NoError(t, err)
	linked, err := svc.SaveGoal(ctx, "u1", core.Goal{Name: "Eat out", TargetAmount: core.Cents(5000), LinkedCategoryID: "restaurants"})
	require.NoError(t, err)

	g, err := svc.ContributeToGoal(ctx, "u1", manual.ID, core.Cents(400))
	require.NoError(t, err)
	assert.Equal(t, int64(400), g.SavedAmount.Cents)

	_, err = svc.ContributeToGoal(ctx, "u1", manual.ID, core.Cents(0))
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
	_, err = svc.ContributeToGoal(ctx, "u1", linked.ID, core.Cents(100))
	assert.True(t, errors.Is(err, core.ErrGoalAutoTracked))

	goals, err := svc.Goals(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, goals, 2)
	for _, pg := range goals {
		if pg.ID == linked.ID {
			assert.True(t, pg.AutoTrackingActive)
			assert.Equal(t, int64(2500), pg.SavedAmount.Cents)
		}
	}
}

func TestLedger_Formulas(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestLedger(t)

	f, err := svc.SaveFormula(ctx, "u1", core.Formula{Name: "Savings", Expression: "totalIncome - totalExpenses"})
	require.NoError(t, err)

	_, err = svc.SaveFormula(ctx, "u1", core.Formula{Name: "Empty"})
	assert.ErrorIs(t, err, core.ErrEmptyExpression)

	list, err := svc.ListFormulas(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.DeleteFormula(ctx, "u1", f.ID))
}

func TestLedger_RequestReportExport(t *testing.T) {
	ctx := context.Background()
	svc, _, pub := newTestLedger(t)

	require.NoError(t, svc.RequestReportExport(ctx, "u1", 2024))
	require.Len(t, pub.events, 1)
	assert.Equal(t, amqp.KindReportExport, pub.events[0].Kind)
	assert.Equal(t, 2024, pub.events[0].Year)

	bare := NewLedgerService(memory.New(nil), nil, nil, log.Discard())
	assert.Error(t, bare.RequestReportExport(ctx, "u1", 2024))
}
