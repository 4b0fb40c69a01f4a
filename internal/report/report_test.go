package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conti/internal/core"
	"conti/internal/log"
	"conti/internal/services"
)

func forest() []core.CategoryNode {
	return []core.CategoryNode{
		{ID: "food", Name: "Food", Type: core.Expense, SubCategories: []core.CategoryNode{
			{ID: "groceries", Name: "Groceries"},
			{ID: "restaurants", Name: "Restaurants"},
		}},
		{ID: "transport", Name: "Transport", Type: core.Expense},
		{ID: "salary", Name: "Salary", Type: core.Income},
	}
}

func tx(id string, date core.Date, cents int64, typ core.TransactionType, categoryID, label string) core.Transaction {
	return core.Transaction{ID: id, Date: date, Description: id, Amount: core.Cents(cents), Type: typ, CategoryID: categoryID, Category: label}
}

func ledger() []core.Transaction {
	return []core.Transaction{
		tx("pay1", core.NewDate(2024, 1, 25), 300000, core.Income, "salary", "Salary"),
		tx("pay2", core.NewDate(2024, 4, 25), 300000, core.Income, "salary", "Salary"),
		tx("groc", core.NewDate(2024, 1, 5), 40000, core.Expense, "groceries", "Food > Groceries"),
		tx("rest", core.NewDate(2024, 2, 14), 20000, core.Expense, "restaurants", "Food > Restaurants"),
		tx("bus", core.NewDate(2024, 4, 2), 10000, core.Expense, "transport", "Transport"),
		tx("legacy", core.NewDate(2024, 3, 3), 5000, core.Expense, "", "Groceries"),
		tx("mystery", core.NewDate(2024, 3, 4), 5000, core.Expense, "", "Pets > Vet"),
		tx("lastyear", core.NewDate(2023, 12, 31), 99900, core.Expense, "groceries", "Food > Groceries"),
	}
}

func TestComputeEOYReport(t *testing.T) {
	r := ComputeEOYReport(2024, ledger(), forest())

	assert.Equal(t, int64(600000), r.TotalIncome.Cents)
	assert.Equal(t, int64(80000), r.TotalExpenses.Cents)
	assert.Equal(t, int64(520000), r.Net.Cents)
	assert.Equal(t, 7, r.TransactionCount)

	assert.Equal(t, "Jan", r.Monthly[0].Label)
	assert.Equal(t, int64(260000), r.Monthly[0].Net.Cents)
	assert.Equal(t, int64(-20000), r.Monthly[1].Net.Cents)
	assert.Zero(t, r.Monthly[11].Expenses.Cents)

	require.Len(t, r.Categories, 5)
	assert.Equal(t, "Food > Groceries", r.Categories[0].Name)
	assert.InDelta(t, 50.0, r.Categories[0].Percentage, 1e-9)
	assert.Equal(t, "Food > Restaurants", r.Categories[1].Name)

	require.Len(t, r.MainCategories, 3)
	assert.Equal(t, "Food", r.MainCategories[0].Name)
	assert.Equal(t, int64(65000), r.MainCategories[0].Total.Cents, "legacy 'Groceries' folds into Food")
	assert.Equal(t, "Transport", r.MainCategories[1].Name)
	assert.Equal(t, Uncategorized, r.MainCategories[2].Name)
}

func TestComputeEOYReportEmptyYear(t *testing.T) {
	r := ComputeEOYReport(1999, ledger(), forest())

	for i, p := range r.Monthly {
		assert.Equal(t, i+1, p.Month)
		assert.Zero(t, p.Income.Cents)
		assert.Zero(t, p.Expenses.Cents)
		assert.Zero(t, p.Net.Cents)
	}
	assert.Empty(t, r.Categories)
	assert.Empty(t, r.MainCategories)
}

func TestComputeQuarterlyReport(t *testing.T) {
	budgets := []core.Budget{
		{ID: "m", Name: "Food monthly", CategoryID: "food", Amount: core.Cents(20000), Period: core.PeriodMonthly},
		{ID: "y", Name: "Transport yearly", CategoryID: "transport", Amount: core.Cents(40000), Period: core.PeriodYearly},
		{ID: "f", Name: "Fixed", CategoryID: "food", Amount: core.Cents(1000), Period: core.PeriodFixed, StartDate: core.NewDate(2024, 1, 1)},
	}
	goals := []core.Goal{
		{ID: "g", Name: "Eat out", TargetAmount: core.Cents(40000), LinkedCategoryID: "restaurants"},
	}

	r, err := ComputeQuarterlyReport(2024, 1, ledger(), forest(), budgets, goals)
	require.NoError(t, err)

	assert.True(t, r.From.Equal(core.NewDate(2024, 1, 1)))
	assert.True(t, r.To.Equal(core.NewDate(2024, 3, 31)))
	require.Len(t, r.Monthly, 3)

	assert.Equal(t, int64(300000), r.KPIs.Income.Cents)
	assert.Equal(t, int64(70000), r.KPIs.Expenses.Cents)
	assert.InDelta(t, 230000.0/300000.0*100, r.KPIs.ProfitMargin, 1e-9)
	assert.InDelta(t, 70000.0/300000.0*100, r.KPIs.ExpenseToIncome, 1e-9)

	require.Len(t, r.BudgetComparison, 3)
	assert.Equal(t, int64(60000), r.BudgetComparison[0].Budgeted.Cents)
	assert.Equal(t, int64(60000), r.BudgetComparison[0].Actual.Cents, "unmigrated expenses are not counted")
	assert.Equal(t, int64(10000), r.BudgetComparison[1].Budgeted.Cents)
	assert.Zero(t, r.BudgetComparison[1].Actual.Cents)
	assert.Equal(t, int64(1000), r.BudgetComparison[2].Budgeted.Cents)
	assert.Equal(t, int64(-59000), r.BudgetComparison[2].Variance.Cents)

	require.Len(t, r.Goals, 1)
	assert.True(t, r.Goals[0].AutoTracked)
	assert.Equal(t, int64(20000), r.Goals[0].Saved.Cents)
	assert.InDelta(t, 50.0, r.Goals[0].Progress, 1e-9)

	later := append(ledger(), tx("dinner", core.NewDate(2024, 6, 10), 15000, core.Expense, "restaurants", "Food > Restaurants"))
	r, err = ComputeQuarterlyReport(2024, 1, later, forest(), budgets, goals)
	require.NoError(t, err)
	require.Len(t, r.Goals, 1)
	assert.Equal(t, int64(20000), r.Goals[0].Saved.Cents, "contributions after the quarter end are excluded")

	r, err = ComputeQuarterlyReport(2024, 2, later, forest(), budgets, goals)
	require.NoError(t, err)
	assert.Equal(t, int64(35000), r.Goals[0].Saved.Cents, "goal progress is cumulative")

	_, err = ComputeQuarterlyReport(2024, 5, nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidQuarter)
	assert.True(t, core.IsValidation(err))
}

func snapshot() *services.Snapshot {
	return &services.Snapshot{
		UserID:       "u1",
		At:           core.NewDate(2024, 2, 20),
		Transactions: ledger(),
		Categories:   forest(),
		Budgets:      []core.Budget{{ID: "b", Name: "Food", CategoryID: "food", Amount: core.Cents(30000), Period: core.PeriodMonthly}},
		Goals:        []core.Goal{{ID: "g", Name: "Trip", TargetAmount: core.Cents(1000), SavedAmount: core.Cents(250)}},
		Formulas: []core.Formula{
			{ID: "f1", Name: "Savings", Expression: "totalIncome - totalExpenses"},
			{ID: "f2", Name: "Food share", Expression: "Food / totalExpenses * 100"},
			{ID: "f3", Name: "Broken", Expression: "1 / 0"},
		},
	}
}

func TestGetWidgetData(t *testing.T) {
	snap := snapshot()

	kpi, err := GetWidgetData(WidgetSpec{Kind: WidgetKPI}, snap, log.Discard())
	require.NoError(t, err)
	assert.Equal(t, 6000.0, kpi.KPIs[KPITotalIncome])
	assert.Equal(t, 800.0, kpi.KPIs[KPITotalExpenses])
	assert.Empty(t, kpi.Data)
	assert.NotNil(t, kpi.Data)

	trend, err := GetWidgetData(WidgetSpec{Kind: WidgetMonthlyTrend}, snap, nil)
	require.NoError(t, err)
	require.Len(t, trend.Data, 12)
	assert.Equal(t, "Jan", trend.Data[0]["month"])
	assert.Equal(t, []string{"income", "expenses", "net"}, trend.DataKeys)

	breakdown, err := GetWidgetData(WidgetSpec{Kind: WidgetCategoryBreakdown, Main: true, Limit: 1}, snap, nil)
	require.NoError(t, err)
	require.Len(t, breakdown.Data, 1)
	assert.Equal(t, "Food", breakdown.Data[0]["name"])

	budgets, err := GetWidgetData(WidgetSpec{Kind: WidgetBudgetStatus}, snap, nil)
	require.NoError(t, err)
	require.Len(t, budgets.Data, 1)
	assert.Equal(t, 200.0, budgets.Data[0]["spent"])

	goals, err := GetWidgetData(WidgetSpec{Kind: WidgetGoalProgress}, snap, nil)
	require.NoError(t, err)
	require.Len(t, goals.Data, 1)
	assert.Equal(t, 25.0, goals.Data[0]["progress"])

	_, err = GetWidgetData(WidgetSpec{Kind: "pie"}, snap, nil)
	assert.ErrorIs(t, err, ErrUnknownWidget)
}

func TestGetWidgetDataFormulas(t *testing.T) {
	snap := snapshot()

	all, err := GetWidgetData(WidgetSpec{Kind: WidgetFormula}, snap, log.Discard())
	require.NoError(t, err)
	require.Len(t, all.Data, 3)
	assert.Equal(t, 5200.0, all.Data[0]["value"])
	assert.InDelta(t, 75.0, all.Data[1]["value"], 1e-9, "unmigrated expenses stay out of category paths")
	assert.Contains(t, all.Data[2], "error")

	some, err := GetWidgetData(WidgetSpec{Kind: WidgetFormula, FormulaIDs: []string{"f2"}}, snap, nil)
	require.NoError(t, err)
	require.Len(t, some.Data, 1)
	assert.Equal(t, "Food share", some.Data[0]["name"])
	assert.Len(t, snap.Formulas, 3, "filtering must not touch the snapshot")

	adhoc, err := GetWidgetData(WidgetSpec{Kind: WidgetFormula, Expression: "Food > Groceries + Food_amount"}, snap, nil)
	require.NoError(t, err)
	require.Len(t, adhoc.Data, 1)
	assert.Equal(t, 400.0+300.0, adhoc.Data[0]["value"])
}
