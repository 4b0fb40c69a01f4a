package services

import (
	"strings"
	"time"

	"conti/internal/category"
	"conti/internal/core"
)

// BudgetDetail is a budget with its spend derived from current transactions.
type BudgetDetail struct {
	core.Budget
	Spent     core.Money `json:"spent"`
	Remaining core.Money `json:"remaining"`
	Progress  float64    `json:"progress"` // percent, not clamped
	From      core.Date  `json:"from,omitzero"`
	To        core.Date  `json:"to,omitzero"`
}

// BudgetWindow returns the inclusive date window a budget covers when viewed at at.
// A zero bound is open.
func BudgetWindow(b core.Budget, at core.Date) (core.Date, core.Date) {
	switch b.Period {
	case core.PeriodMonthly:
		first := core.NewDate(at.Year(), at.Month(), 1)
		return first, core.DateOf(first.AddDate(0, 1, -1))
	case core.PeriodYearly:
		return core.NewDate(at.Year(), 1, 1), core.NewDate(at.Year(), 12, 31)
	default:
		return b.StartDate, b.EndDate
	}
}

// BudgetDetails computes spent, remaining and progress for every budget at date at.
// Only expense transactions linked by categoryId to the budget's subtree count;
// transactions still waiting for migration are excluded.
func BudgetDetails(budgets []core.Budget, forest []core.CategoryNode, txs []core.Transaction, at core.Date) []BudgetDetail {
	idx := category.NewIndex(forest)
	out := make([]BudgetDetail, 0, len(budgets))
	for _, b := range budgets {
		from, to := BudgetWindow(b, at)
		d := BudgetDetail{Budget: b, From: from, To: to}

		if st, ok := idx.Subtree(b.CategoryID); ok {
			ids := st.IDSet()
			for _, tx := range txs {
				if tx.Type != core.Expense || tx.CategoryID == "" {
					continue
				}
				if _, in := ids[tx.CategoryID]; !in {
					continue
				}
				if tx.Date.Between(from, to) {
					d.Spent = d.Spent.Add(tx.Amount)
				}
			}
		}

		d.Remaining = b.Amount.Sub(d.Spent)
		if b.Amount.Cents > 0 {
			d.Progress = float64(d.Spent.Cents) / float64(b.Amount.Cents) * 100
		}
		out = append(out, d)
	}
	return out
}

// ProcessedGoal is a goal as presented: auto-tracked goals carry the recomputed
// saved amount and the transactions that make it up.
type ProcessedGoal struct {
	core.Goal
	AutoTrackingActive bool               `json:"autoTrackingActive"`
	Contributions      []core.Transaction `json:"contributions,omitempty"`
	Completed          bool               `json:"completed"`
	Progress           float64            `json:"progress"`
}

var epoch = core.DateOf(time.Unix(0, 0).UTC())

// ProcessGoals recomputes auto-tracked goals from txs. A persisted savedAmount is
// trusted only for manual goals and for goals whose linked category no longer exists.
func ProcessGoals(goals []core.Goal, forest []core.CategoryNode, txs []core.Transaction) []ProcessedGoal {
	idx := category.NewIndex(forest)
	out := make([]ProcessedGoal, 0, len(goals))
	for _, g := range goals {
		pg := ProcessedGoal{Goal: g}

		if st, ok := idx.Subtree(g.LinkedCategoryID); g.AutoTracked() && ok {
			since := g.ContributionStartDate
			if since.IsZero() {
				since = epoch
			}
			var saved core.Money
			for _, tx := range txs {
				if tx.Type != core.Expense || tx.Date.Before(since) {
					continue
				}
				if !contributesTo(tx, st) {
					continue
				}
				saved = saved.Add(tx.Amount)
				pg.Contributions = append(pg.Contributions, tx)
			}
			pg.SavedAmount = saved
			pg.AutoTrackingActive = true
		}

		pg.Completed = pg.SavedAmount.Cents >= pg.TargetAmount.Cents
		if pg.TargetAmount.Cents > 0 {
			pg.Progress = float64(pg.SavedAmount.Cents) / float64(pg.TargetAmount.Cents) * 100
		}
		out = append(out, pg)
	}
	return out
}

// contributesTo matches by categoryId when the transaction has one. Unmigrated
// transactions fall back to an exact name match, then to a path suffix match.
// When two subtrees share a leaf name the fallback cannot tell them apart.
func contributesTo(tx core.Transaction, st category.Subtree) bool {
	if tx.CategoryID != "" {
		return st.HasID(tx.CategoryID)
	}
	label := strings.TrimSpace(tx.Category)
	if label == "" {
		return false
	}
	for _, name := range st.Names {
		if label == name {
			return true
		}
	}
	for _, name := range st.Names {
		if strings.HasSuffix(label, category.PathSeparator+" "+name) || strings.HasSuffix(label, category.PathSeparator+name) {
			return true
		}
	}
	return false
}
