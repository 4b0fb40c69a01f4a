// Package memory keeps exported reports in process, for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"conti/internal/report"
	ports "conti/internal/sheets"
)

type Export struct {
	UserID string
	Year   int
	Rows   [][]any
}

type Exporter struct {
	mu      sync.Mutex
	exports []Export
}

var _ ports.ReportExporter = (*Exporter)(nil)

func New() *Exporter { return &Exporter{} }

// ExportReport stores the rendered rows and returns a synthetic reference.
func (e *Exporter) ExportReport(_ context.Context, userID string, r report.EOYReport) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exports = append(e.exports, Export{UserID: userID, Year: r.Year, Rows: ports.ReportRows(r)})
	return fmt.Sprintf("memory:%s/%d#%d", userID, r.Year, len(e.exports)), nil
}

// Exports returns a copy of everything exported so far.
func (e *Exporter) Exports() []Export {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Export(nil), e.exports...)
}
