package ai

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"conti/internal/category"
	"conti/internal/core"
	"conti/internal/services"
)

// SummaryMonths is how far back the projection summary looks.
const SummaryMonths = 12

// BuildSummary renders the last SummaryMonths months of snap as plain text, oldest
// month first, followed by top expense categories, budgets and goals.
func BuildSummary(snap *services.Snapshot) string {
	type month struct {
		income, expenses core.Money
	}
	first := core.NewDate(snap.At.Year(), snap.At.Month(), 1).AddDate(0, -(SummaryMonths - 1), 0)
	from := core.DateOf(first)

	months := make([]month, SummaryMonths)
	idx := category.NewIndex(snap.Categories)
	byRoot := map[string]core.Money{}

	for _, tx := range snap.Transactions {
		if !tx.Date.Between(from, snap.At) {
			continue
		}
		i := (tx.Date.Year()-from.Year())*12 + tx.Date.Month() - from.Month()
		switch tx.Type {
		case core.Income:
			months[i].income = months[i].income.Add(tx.Amount)
		case core.Expense:
			months[i].expenses = months[i].expenses.Add(tx.Amount)
			name := tx.Category
			if root := idx.RootOf(tx.CategoryID); root != nil {
				name = root.Name
			}
			if name == "" {
				name = "Uncategorized"
			}
			byRoot[name] = byRoot[name].Add(tx.Amount)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Financial summary as of %s\n\n", snap.At)
	fmt.Fprintf(&b, "Monthly totals (last %d months):\n", SummaryMonths)
	for i, m := range months {
		d := from.AddDate(0, i, 0)
		fmt.Fprintf(&b, "%s: income %s, expenses %s, net %s\n",
			d.Format("2006-01"), m.income, m.expenses, m.income.Sub(m.expenses))
	}

	names := make([]string, 0, len(byRoot))
	for name := range byRoot {
		names = append(names, name)
	}
	slices.SortFunc(names, func(x, y string) int {
		return cmp.Or(cmp.Compare(byRoot[y].Cents, byRoot[x].Cents), cmp.Compare(x, y))
	})
	if len(names) > 0 {
		b.WriteString("\nTop expense categories:\n")
		for _, name := range names[:min(len(names), 10)] {
			fmt.Fprintf(&b, "- %s: %s\n", name, byRoot[name])
		}
	}

	if budgets := snap.BudgetDetails(); len(budgets) > 0 {
		b.WriteString("\nBudgets:\n")
		for _, d := range budgets {
			fmt.Fprintf(&b, "- %s (%s): spent %s of %s\n", d.Name, d.Period, d.Spent, d.Amount)
		}
	}
	if goals := snap.ProcessedGoals(); len(goals) > 0 {
		b.WriteString("\nGoals:\n")
		for _, g := range goals {
			fmt.Fprintf(&b, "- %s: %s of %s (%.0f%%)\n", g.Name, g.SavedAmount, g.TargetAmount, g.Progress)
		}
	}
	return b.String()
}
