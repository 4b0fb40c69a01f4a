package report

import (
	"fmt"
	"slices"

	"conti/internal/category"
	"conti/internal/core"
	"conti/internal/formula"
	"conti/internal/log"
	"conti/internal/services"
)

type WidgetKind string

const (
	WidgetKPI               WidgetKind = "kpi"
	WidgetMonthlyTrend      WidgetKind = "monthly-trend"
	WidgetCategoryBreakdown WidgetKind = "category-breakdown"
	WidgetBudgetStatus      WidgetKind = "budget-status"
	WidgetGoalProgress      WidgetKind = "goal-progress"
	WidgetFormula           WidgetKind = "formula"
)

// KPI names exposed to widgets and formulas.
const (
	KPITotalIncome      = "totalIncome"
	KPITotalExpenses    = "totalExpenses"
	KPINetBalance       = "netBalance"
	KPISavingsRate      = "savingsRate"
	KPITransactionCount = "transactionCount"
)

var ErrUnknownWidget = core.NewValidationError("unknown widget kind")

// WidgetSpec describes one dashboard widget. Year defaults to the snapshot's year.
type WidgetSpec struct {
	Kind  WidgetKind `json:"kind"`
	Year  int        `json:"year,omitempty"`
	Limit int        `json:"limit,omitempty"`
	// Main groups the category breakdown by root category.
	Main bool `json:"main,omitempty"`
	// Expression is evaluated by formula widgets; without it the stored formulas
	// (optionally narrowed to FormulaIDs) are.
	Expression string   `json:"expression,omitempty"`
	FormulaIDs []string `json:"formulaIds,omitempty"`
}

type WidgetData struct {
	KPIs     map[string]float64 `json:"kpis"`
	Data     []map[string]any   `json:"data"`
	DataKeys []string           `json:"dataKeys"`
}

// KPIs computes the headline figures of an EOY report.
func KPIs(r EOYReport) map[string]float64 {
	return map[string]float64{
		KPITotalIncome:      r.TotalIncome.Float(),
		KPITotalExpenses:    r.TotalExpenses.Float(),
		KPINetBalance:       r.Net.Float(),
		KPISavingsRate:      percent(r.Net.Cents, r.TotalIncome.Cents),
		KPITransactionCount: float64(r.TransactionCount),
	}
}

// Namespace builds the formula namespace for snap in year: the KPIs, the expense
// total of every category path (a node's total includes its descendants) and the
// figures of every budget at the snapshot date.
func Namespace(snap *services.Snapshot, year int) *formula.Namespace {
	r := ComputeEOYReport(year, snap.Transactions, snap.Categories)

	idx := category.NewIndex(snap.Categories)
	cats := map[string]float64{}
	for _, id := range idx.IDs() {
		if p, _ := idx.Path(id); p != "" {
			cats[p] = 0
		}
	}
	for _, tx := range filter(snap.Transactions, core.NewDate(year, 1, 1), core.NewDate(year, 12, 31)) {
		if tx.Type != core.Expense {
			continue
		}
		if !idx.Has(tx.CategoryID) {
			label, _ := leafOf(tx, idx)
			cats[label] += tx.Amount.Float()
			continue
		}
		for id := tx.CategoryID; id != ""; {
			p, _ := idx.Path(id)
			cats[p] += tx.Amount.Float()
			id, _ = idx.Parent(id)
		}
	}

	var budgets []formula.BudgetFigures
	for _, b := range snap.BudgetDetails() {
		budgets = append(budgets, formula.BudgetFigures{
			Name:      b.Name,
			Amount:    b.Amount.Float(),
			Spent:     b.Spent.Float(),
			Remaining: b.Remaining.Float(),
		})
	}

	return formula.BuildNamespace(formula.NamespaceInput{KPIs: KPIs(r), Categories: cats, Budgets: budgets})
}

// GetWidgetData computes one widget over snap.
func GetWidgetData(spec WidgetSpec, snap *services.Snapshot, logger *log.Logger) (WidgetData, error) {
	year := spec.Year
	if year == 0 {
		year = snap.At.Year()
	}
	eoy := ComputeEOYReport(year, snap.Transactions, snap.Categories)
	out := WidgetData{KPIs: KPIs(eoy)}

	switch spec.Kind {
	case WidgetKPI:
		out.DataKeys = []string{KPITotalIncome, KPITotalExpenses, KPINetBalance, KPISavingsRate, KPITransactionCount}

	case WidgetMonthlyTrend:
		for _, p := range eoy.Monthly {
			out.Data = append(out.Data, map[string]any{
				"month":    p.Label,
				"income":   p.Income.Float(),
				"expenses": p.Expenses.Float(),
				"net":      p.Net.Float(),
			})
		}
		out.DataKeys = []string{"income", "expenses", "net"}

	case WidgetCategoryBreakdown:
		rows := eoy.Categories
		if spec.Main {
			rows = eoy.MainCategories
		}
		if spec.Limit > 0 && len(rows) > spec.Limit {
			rows = rows[:spec.Limit]
		}
		for _, c := range rows {
			out.Data = append(out.Data, map[string]any{
				"name":       c.Name,
				"value":      c.Total.Float(),
				"percentage": c.Percentage,
			})
		}
		out.DataKeys = []string{"value"}

	case WidgetBudgetStatus:
		for _, b := range snap.BudgetDetails() {
			out.Data = append(out.Data, map[string]any{
				"name":      b.Name,
				"amount":    b.Amount.Float(),
				"spent":     b.Spent.Float(),
				"remaining": b.Remaining.Float(),
				"progress":  b.Progress,
			})
		}
		out.DataKeys = []string{"spent", "remaining"}

	case WidgetGoalProgress:
		for _, g := range snap.ProcessedGoals() {
			out.Data = append(out.Data, map[string]any{
				"name":        g.Name,
				"target":      g.TargetAmount.Float(),
				"saved":       g.SavedAmount.Float(),
				"progress":    g.Progress,
				"completed":   g.Completed,
				"autoTracked": g.AutoTrackingActive,
			})
		}
		out.DataKeys = []string{"saved", "target"}

	case WidgetFormula:
		ns := Namespace(snap, year)
		formulas := snap.Formulas
		if spec.Expression != "" {
			formulas = []core.Formula{{Name: spec.Expression, Expression: spec.Expression}}
		} else if len(spec.FormulaIDs) > 0 {
			formulas = slices.DeleteFunc(slices.Clone(formulas), func(f core.Formula) bool {
				return !slices.Contains(spec.FormulaIDs, f.ID)
			})
		}
		for _, ev := range formula.EvaluateAll(formulas, ns, logger) {
			row := map[string]any{"name": ev.Formula.Name, "value": ev.Value}
			if ev.Err != nil {
				row["error"] = ev.Error
			}
			if len(ev.Warnings) > 0 {
				row["warnings"] = ev.Warnings
			}
			out.Data = append(out.Data, row)
		}
		out.DataKeys = []string{"value"}

	default:
		return WidgetData{}, fmt.Errorf("%w: %q", ErrUnknownWidget, spec.Kind)
	}

	if out.Data == nil {
		out.Data = []map[string]any{}
	}
	return out, nil
}
