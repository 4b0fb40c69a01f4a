// Package report rolls transactions up into period reports and dashboard widgets.
package report

import (
	"cmp"
	"slices"
	"time"

	"conti/internal/category"
	"conti/internal/core"
	"conti/internal/services"
)

// Uncategorized collects expenses whose category cannot be placed in the tree.
const Uncategorized = "Uncategorized"

type MonthlyPoint struct {
	Month    int        `json:"month"`
	Label    string     `json:"label"`
	Income   core.Money `json:"income"`
	Expenses core.Money `json:"expenses"`
	Net      core.Money `json:"net"`
}

type CategorySummary struct {
	Name       string     `json:"name"`
	CategoryID string     `json:"categoryId,omitempty"`
	Total      core.Money `json:"total"`
	Percentage float64    `json:"percentage"`
	Count      int        `json:"count"`
}

type EOYReport struct {
	Year             int               `json:"year"`
	Monthly          [12]MonthlyPoint  `json:"monthly"`
	Categories       []CategorySummary `json:"categories"`
	MainCategories   []CategorySummary `json:"mainCategories"`
	TotalIncome      core.Money        `json:"totalIncome"`
	TotalExpenses    core.Money        `json:"totalExpenses"`
	Net              core.Money        `json:"net"`
	TransactionCount int               `json:"transactionCount"`
}

// ComputeEOYReport summarizes year: twelve zero-filled monthly points in month
// order, expense totals per leaf category and per main (root) category.
func ComputeEOYReport(year int, txs []core.Transaction, forest []core.CategoryNode) EOYReport {
	from, to := core.NewDate(year, 1, 1), core.NewDate(year, 12, 31)
	r := EOYReport{Year: year}
	for i := range r.Monthly {
		r.Monthly[i] = MonthlyPoint{Month: i + 1, Label: time.Month(i + 1).String()[:3]}
	}

	inYear := filter(txs, from, to)
	for _, tx := range inYear {
		p := &r.Monthly[tx.Date.Month()-1]
		switch tx.Type {
		case core.Income:
			p.Income = p.Income.Add(tx.Amount)
			r.TotalIncome = r.TotalIncome.Add(tx.Amount)
		case core.Expense:
			p.Expenses = p.Expenses.Add(tx.Amount)
			r.TotalExpenses = r.TotalExpenses.Add(tx.Amount)
		}
	}
	for i := range r.Monthly {
		r.Monthly[i].Net = r.Monthly[i].Income.Sub(r.Monthly[i].Expenses)
	}
	r.Net = r.TotalIncome.Sub(r.TotalExpenses)
	r.TransactionCount = len(inYear)

	idx := category.NewIndex(forest)
	r.Categories, r.MainCategories = categoryTotals(inYear, idx)
	return r
}

func filter(txs []core.Transaction, from, to core.Date) []core.Transaction {
	var out []core.Transaction
	for _, tx := range txs {
		if tx.Date.Between(from, to) {
			out = append(out, tx)
		}
	}
	return out
}

// categoryTotals groups expenses by leaf label and by main category.
func categoryTotals(txs []core.Transaction, idx *category.Index) (leaves, mains []CategorySummary) {
	leafAcc := newAccumulator()
	mainAcc := newAccumulator()
	var total core.Money

	for _, tx := range txs {
		if tx.Type != core.Expense {
			continue
		}
		total = total.Add(tx.Amount)

		label, id := leafOf(tx, idx)
		leafAcc.add(label, id, tx.Amount)

		if root := mainOf(tx, idx); root != nil {
			mainAcc.add(root.Name, root.ID, tx.Amount)
		} else {
			mainAcc.add(Uncategorized, "", tx.Amount)
		}
	}
	return leafAcc.summaries(total), mainAcc.summaries(total)
}

func leafOf(tx core.Transaction, idx *category.Index) (string, string) {
	if path, ok := idx.Path(tx.CategoryID); ok {
		return path, tx.CategoryID
	}
	if tx.Category == "" {
		return Uncategorized, ""
	}
	return tx.Category, ""
}

// mainOf folds a transaction up to its root category: by id, then by display path,
// then by a node whose name equals the last path segment.
func mainOf(tx core.Transaction, idx *category.Index) *core.CategoryNode {
	if root := idx.RootOf(tx.CategoryID); root != nil {
		return root
	}
	if n := idx.ResolvePath(tx.Category); n != nil {
		return idx.RootOf(n.ID)
	}
	segs := category.SplitPath(tx.Category)
	if len(segs) == 0 {
		return nil
	}
	leaf := segs[len(segs)-1]
	for _, id := range idx.IDs() {
		if n := idx.Node(id); n.Name == leaf {
			return idx.RootOf(id)
		}
	}
	return nil
}

type accumulator struct {
	order []string
	sums  map[string]*CategorySummary
}

func newAccumulator() *accumulator {
	return &accumulator{sums: map[string]*CategorySummary{}}
}

func (a *accumulator) add(name, id string, amount core.Money) {
	s, ok := a.sums[name]
	if !ok {
		s = &CategorySummary{Name: name, CategoryID: id}
		a.sums[name] = s
		a.order = append(a.order, name)
	}
	s.Total = s.Total.Add(amount)
	s.Count++
}

// summaries sorts by total descending, then by name.
func (a *accumulator) summaries(total core.Money) []CategorySummary {
	out := make([]CategorySummary, 0, len(a.order))
	for _, name := range a.order {
		s := *a.sums[name]
		s.Percentage = percent(s.Total.Cents, total.Cents)
		out = append(out, s)
	}
	slices.SortFunc(out, func(x, y CategorySummary) int {
		return cmp.Or(cmp.Compare(y.Total.Cents, x.Total.Cents), cmp.Compare(x.Name, y.Name))
	})
	return out
}

func percent(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

type BudgetComparisonRow struct {
	BudgetID   string            `json:"budgetId"`
	Name       string            `json:"name"`
	CategoryID string            `json:"categoryId"`
	Period     core.BudgetPeriod `json:"period"`
	Budgeted   core.Money        `json:"budgeted"`
	Actual     core.Money        `json:"actual"`
	Variance   core.Money        `json:"variance"` // budgeted - actual
	Progress   float64           `json:"progress"`
}

type GoalProgressRow struct {
	GoalID      string     `json:"goalId"`
	Name        string     `json:"name"`
	Target      core.Money `json:"target"`
	Saved       core.Money `json:"saved"`
	Progress    float64    `json:"progress"`
	Completed   bool       `json:"completed"`
	AutoTracked bool       `json:"autoTracked"`
}

type QuarterlyKPIs struct {
	Income          core.Money `json:"income"`
	Expenses        core.Money `json:"expenses"`
	Net             core.Money `json:"net"`
	ProfitMargin    float64    `json:"profitMargin"`    // net / income, percent
	ExpenseToIncome float64    `json:"expenseToIncome"` // expenses / income, percent
}

type QuarterlyReport struct {
	Year             int                   `json:"year"`
	Quarter          int                   `json:"quarter"`
	From             core.Date             `json:"from"`
	To               core.Date             `json:"to"`
	Monthly          []MonthlyPoint        `json:"monthly"`
	Categories       []CategorySummary     `json:"categories"`
	MainCategories   []CategorySummary     `json:"mainCategories"`
	BudgetComparison []BudgetComparisonRow `json:"budgetComparison"`
	Goals            []GoalProgressRow     `json:"goals"`
	KPIs             QuarterlyKPIs         `json:"kpis"`
}

// ErrInvalidQuarter reports a quarter outside 1..4.
var ErrInvalidQuarter = core.NewValidationError("quarter must be between 1 and 4")

// QuarterBounds returns the first and last day of quarter q of year.
func QuarterBounds(year, q int) (core.Date, core.Date, error) {
	if q < 1 || q > 4 {
		return core.Date{}, core.Date{}, ErrInvalidQuarter
	}
	from := core.NewDate(year, 3*(q-1)+1, 1)
	return from, core.DateOf(from.AddDate(0, 3, -1)), nil
}

// ComputeQuarterlyReport narrows the yearly rollup to one quarter and compares it
// with budgets (monthly x3, yearly /4, fixed as is) and goals.
func ComputeQuarterlyReport(year, quarter int, txs []core.Transaction, forest []core.CategoryNode, budgets []core.Budget, goals []core.Goal) (QuarterlyReport, error) {
	from, to, err := QuarterBounds(year, quarter)
	if err != nil {
		return QuarterlyReport{}, err
	}
	eoy := ComputeEOYReport(year, filter(txs, from, to), forest)

	r := QuarterlyReport{
		Year:           year,
		Quarter:        quarter,
		From:           from,
		To:             to,
		Monthly:        slices.Clone(eoy.Monthly[3*(quarter-1) : 3*quarter]),
		Categories:     eoy.Categories,
		MainCategories: eoy.MainCategories,
	}
	r.KPIs = QuarterlyKPIs{
		Income:          eoy.TotalIncome,
		Expenses:        eoy.TotalExpenses,
		Net:             eoy.Net,
		ProfitMargin:    percent(eoy.Net.Cents, eoy.TotalIncome.Cents),
		ExpenseToIncome: percent(eoy.TotalExpenses.Cents, eoy.TotalIncome.Cents),
	}

	idx := category.NewIndex(forest)
	for _, b := range budgets {
		row := BudgetComparisonRow{BudgetID: b.ID, Name: b.Name, CategoryID: b.CategoryID, Period: b.Period}
		row.Budgeted = quarterBudget(b)
		if st, ok := idx.Subtree(b.CategoryID); ok {
			ids := st.IDSet()
			for _, tx := range txs {
				if tx.Type != core.Expense || !tx.Date.Between(from, to) {
					continue
				}
				if _, in := ids[tx.CategoryID]; in {
					row.Actual = row.Actual.Add(tx.Amount)
				}
			}
		}
		row.Variance = row.Budgeted.Sub(row.Actual)
		row.Progress = percent(row.Actual.Cents, row.Budgeted.Cents)
		r.BudgetComparison = append(r.BudgetComparison, row)
	}

	// Goal progress is cumulative up to the quarter end.
	untilEnd := slices.DeleteFunc(slices.Clone(txs), func(tx core.Transaction) bool { return tx.Date.After(to) })
	for _, g := range services.ProcessGoals(goals, forest, untilEnd) {
		r.Goals = append(r.Goals, GoalProgressRow{
			GoalID:      g.ID,
			Name:        g.Name,
			Target:      g.TargetAmount,
			Saved:       g.SavedAmount,
			Progress:    g.Progress,
			Completed:   g.Completed,
			AutoTracked: g.AutoTrackingActive,
		})
	}
	return r, nil
}

func quarterBudget(b core.Budget) core.Money {
	switch b.Period {
	case core.PeriodMonthly:
		return core.Cents(b.Amount.Cents * 3)
	case core.PeriodYearly:
		return core.Cents(b.Amount.Cents / 4)
	default:
		return b.Amount
	}
}
