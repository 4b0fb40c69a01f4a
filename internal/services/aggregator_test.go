package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conti/internal/core"
)

func budgetForest() []core.CategoryNode {
	return []core.CategoryNode{
		{ID: "food", Name: "Food", Type: core.Expense, SubCategories: []core.CategoryNode{
			{ID: "groceries", Name: "Groceries"},
			{ID: "restaurants", Name: "Restaurants", SubCategories: []core.CategoryNode{
				{ID: "coffee", Name: "Coffee"},
			}},
		}},
		{ID: "transport", Name: "Transport", Type: core.Expense},
		{ID: "salary", Name: "Salary", Type: core.Income},
	}
}

func expense(id string, date core.Date, cents int64, categoryID, label string) core.Transaction {
	return core.Transaction{
		ID: id, Date: date, Description: id, Amount: core.Cents(cents),
		Type: core.Expense, CategoryID: categoryID, Category: label,
	}
}

func TestBudgetDetails_ScopesToSubtree(t *testing.T) {
	txs := []core.Transaction{
		expense("g", d(2024, 3, 2), 4000, "groceries", "Food > Groceries"),
		expense("r", d(2024, 3, 10), 2500, "restaurants", "Food > Restaurants"),
		expense("c", d(2024, 3, 11), 500, "coffee", "Food > Restaurants > Coffee"),
		expense("t", d(2024, 3, 12), 9900, "transport", "Transport"),
		expense("old", d(2024, 2, 28), 1000, "groceries", "Food > Groceries"),
		expense("legacy", d(2024, 3, 5), 700, "", "Food > Groceries"),
		{ID: "in", Date: d(2024, 3, 1), Description: "refund", Amount: core.Cents(300), Type: core.Income, CategoryID: "groceries"},
	}
	budgets := []core.Budget{{ID: "b1", Name: "Food", CategoryID: "food", Amount: core.Cents(10000), Period: core.PeriodMonthly}}

	got := BudgetDetails(budgets, budgetForest(), txs, d(2024, 3, 20))
	require.Len(t, got, 1)

	assert.Equal(t, int64(7000), got[0].Spent.Cents)
	assert.Equal(t, int64(3000), got[0].Remaining.Cents)
	assert.InDelta(t, 70.0, got[0].Progress, 1e-9)
	assert.True(t, got[0].From.Equal(d(2024, 3, 1)))
	assert.True(t, got[0].To.Equal(d(2024, 3, 31)))
}

func TestBudgetDetails_Periods(t *testing.T) {
	txs := []core.Transaction{
		expense("jan", d(2024, 1, 15), 1000, "transport", ""),
		expense("jun", d(2024, 6, 15), 2000, "transport", ""),
		expense("prev", d(2023, 12, 31), 4000, "transport", ""),
	}
	budgets := []core.Budget{
		{ID: "y", Name: "Yearly", CategoryID: "transport", Amount: core.Cents(2000), Period: core.PeriodYearly},
		{ID: "f", Name: "Fixed", CategoryID: "transport", Amount: core.Cents(5000), Period: core.PeriodFixed,
			StartDate: d(2023, 12, 1), EndDate: d(2024, 1, 31)},
		{ID: "open", Name: "Open", CategoryID: "transport", Amount: core.Cents(0), Period: core.PeriodFixed,
			StartDate: d(2024, 1, 1)},
	}

	got := BudgetDetails(budgets, budgetForest(), txs, d(2024, 7, 1))
	require.Len(t, got, 3)

	assert.Equal(t, int64(3000), got[0].Spent.Cents)
	assert.InDelta(t, 150.0, got[0].Progress, 1e-9, "progress is not clamped")
	assert.Equal(t, int64(-1000), got[0].Remaining.Cents)

	assert.Equal(t, int64(5000), got[1].Spent.Cents)

	assert.Equal(t, int64(3000), got[2].Spent.Cents)
	assert.Zero(t, got[2].Progress, "zero amount yields zero progress")
}

func TestBudgetDetails_UnknownCategory(t *testing.T) {
	budgets := []core.Budget{{ID: "b", Name: "Gone", CategoryID: "gone", Amount: core.Cents(100), Period: core.PeriodMonthly}}
	txs := []core.Transaction{expense("x", d(2024, 3, 1), 50, "gone", "")}

	got := BudgetDetails(budgets, budgetForest(), txs, d(2024, 3, 1))
	require.Len(t, got, 1)
	assert.Zero(t, got[0].Spent.Cents)
	assert.Equal(t, int64(100), got[0].Remaining.Cents)
}

func TestProcessGoals_AutoTrackedRecomputes(t *testing.T) {
	goals := []core.Goal{{
		ID: "g", Name: "Coffee fund", TargetAmount: core.Cents(10000), SavedAmount: core.Cents(99999),
		LinkedCategoryID: "coffee", ContributionStartDate: d(2024, 3, 1),
	}}
	txs := []core.Transaction{
		expense("early", d(2024, 2, 15), 5000, "coffee", "Food > Restaurants > Coffee"),
		expense("in", d(2024, 3, 2), 1000, "coffee", "Food > Restaurants > Coffee"),
	}

	got := ProcessGoals(goals, budgetForest(), txs)
	require.Len(t, got, 1)

	assert.True(t, got[0].AutoTrackingActive)
	assert.Equal(t, int64(1000), got[0].SavedAmount.Cents)
	require.Len(t, got[0].Contributions, 1)
	assert.Equal(t, "in", got[0].Contributions[0].ID)
	assert.False(t, got[0].Completed)
	assert.InDelta(t, 10.0, got[0].Progress, 1e-9)
}

func TestProcessGoals_FallbackMatching(t *testing.T) {
	goals := []core.Goal{{ID: "g", Name: "Eat out", TargetAmount: core.Cents(1000), LinkedCategoryID: "restaurants"}}
	txs := []core.Transaction{
		expense("exact", d(2024, 1, 1), 100, "", "Coffee"),
		expense("suffix", d(2024, 1, 2), 200, "", "Food > Restaurants"),
		expense("linked", d(2024, 1, 3), 300, "coffee", "whatever"),
		expense("other-link", d(2024, 1, 4), 400, "groceries", "Restaurants"),
		expense("unrelated", d(2024, 1, 5), 500, "", "Transport"),
		{ID: "income", Date: d(2024, 1, 6), Description: "x", Amount: core.Cents(600), Type: core.Income, Category: "Restaurants"},
	}

	got := ProcessGoals(goals, budgetForest(), txs)
	require.Len(t, got, 1)

	var ids []string
	for _, tx := range got[0].Contributions {
		ids = append(ids, tx.ID)
	}
	assert.Equal(t, []string{"exact", "suffix", "linked"}, ids)
	assert.Equal(t, int64(600), got[0].SavedAmount.Cents)
}

func TestProcessGoals_ManualAndUnresolvable(t *testing.T) {
	goals := []core.Goal{
		{ID: "manual", Name: "Trip", TargetAmount: core.Cents(500), SavedAmount: core.Cents(500)},
		{ID: "dangling", Name: "Old", TargetAmount: core.Cents(500), SavedAmount: core.Cents(120), LinkedCategoryID: "deleted"},
	}
	txs := []core.Transaction{expense("x", d(2024, 1, 1), 100, "coffee", "")}

	got := ProcessGoals(goals, budgetForest(), txs)
	require.Len(t, got, 2)

	assert.False(t, got[0].AutoTrackingActive)
	assert.True(t, got[0].Completed)
	assert.InDelta(t, 100.0, got[0].Progress, 1e-9)

	assert.False(t, got[1].AutoTrackingActive)
	assert.Equal(t, int64(120), got[1].SavedAmount.Cents)
	assert.Empty(t, got[1].Contributions)
}
