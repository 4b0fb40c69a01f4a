// Package sheets exports reports to spreadsheets.
package sheets

import (
	"context"
	"fmt"

	"conti/internal/report"
)

// ReportExporter writes a user's year-end report somewhere a human can open it.
// It returns a reference to what was written (a range, a path).
type ReportExporter interface {
	ExportReport(ctx context.Context, userID string, r report.EOYReport) (ref string, err error)
}

// ReportRows lays r out as a table: the monthly series, a blank row, then the
// main and leaf category totals. Amounts are currency units.
func ReportRows(r report.EOYReport) [][]any {
	rows := [][]any{
		{fmt.Sprintf("Report %d", r.Year)},
		{"Month", "Income", "Expenses", "Net"},
	}
	for _, p := range r.Monthly {
		rows = append(rows, []any{p.Label, p.Income.Float(), p.Expenses.Float(), p.Net.Float()})
	}
	rows = append(rows,
		[]any{"Total", r.TotalIncome.Float(), r.TotalExpenses.Float(), r.Net.Float()},
		[]any{},
		[]any{"Main category", "Total", "Percentage", "Transactions"},
	)
	for _, c := range r.MainCategories {
		rows = append(rows, []any{c.Name, c.Total.Float(), round2(c.Percentage), c.Count})
	}
	rows = append(rows, []any{}, []any{"Category", "Total", "Percentage", "Transactions"})
	for _, c := range r.Categories {
		rows = append(rows, []any{c.Name, c.Total.Float(), round2(c.Percentage), c.Count})
	}
	return rows
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
