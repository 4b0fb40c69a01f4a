// Package services holds the bookkeeping use cases: recurrence, aggregation,
// category migration and the ledger CRUD service.
//
// This file implements one period strategy per frequency. Occurrences are always
// derived from the start date (start + n periods), never by stepping from the previous
// occurrence, so a start on the 31st keeps landing on month end without drifting.
package services

import (
	"fmt"
	"sync"
	"time"

	"conti/internal/core"
)

// PeriodStepper computes the occurrence dates of one frequency.
type PeriodStepper interface {
	// Occurrence returns the n-th occurrence (n >= 0) of a schedule starting at start.
	Occurrence(start core.Date, n int) core.Date
	// Elapsed is a lower bound on the number of whole periods between start and d.
	Elapsed(start, d core.Date) int
}

type DailyStepper struct{}

func (DailyStepper) Occurrence(start core.Date, n int) core.Date {
	return core.DateOf(start.AddDate(0, 0, n))
}

func (DailyStepper) Elapsed(start, d core.Date) int {
	return daysBetween(start, d)
}

type WeeklyStepper struct{}

func (WeeklyStepper) Occurrence(start core.Date, n int) core.Date {
	return core.DateOf(start.AddDate(0, 0, 7*n))
}

func (WeeklyStepper) Elapsed(start, d core.Date) int {
	return daysBetween(start, d) / 7
}

// MonthlyStepper keeps the start day, clamped to the length of each month.
type MonthlyStepper struct{}

func (MonthlyStepper) Occurrence(start core.Date, n int) core.Date {
	return addMonthsClamped(start, n)
}

func (MonthlyStepper) Elapsed(start, d core.Date) int {
	return monthsBetween(start, d) - 1
}

// YearlyStepper keeps month and day; Feb 29 falls back to Feb 28 in common years.
type YearlyStepper struct{}

func (YearlyStepper) Occurrence(start core.Date, n int) core.Date {
	return addMonthsClamped(start, 12*n)
}

func (YearlyStepper) Elapsed(start, d core.Date) int {
	return d.Year() - start.Year() - 1
}

func addMonthsClamped(start core.Date, months int) core.Date {
	first := time.Date(start.Year(), time.Month(start.Month()+months), 1, 0, 0, 0, 0, time.UTC)
	day := min(start.Day(), daysIn(first.Year(), first.Month()))
	return core.NewDate(first.Year(), int(first.Month()), day)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func daysBetween(a, b core.Date) int {
	return int(b.Sub(a.Time).Hours() / 24)
}

func monthsBetween(a, b core.Date) int {
	return (b.Year()-a.Year())*12 + b.Month() - a.Month()
}

var (
	steppersMu sync.RWMutex
	steppers   = map[core.Frequency]PeriodStepper{
		core.Daily:   DailyStepper{},
		core.Weekly:  WeeklyStepper{},
		core.Monthly: MonthlyStepper{},
		core.Yearly:  YearlyStepper{},
	}
)

// GetPeriodStepper returns the strategy registered for frequency.
func GetPeriodStepper(frequency core.Frequency) (PeriodStepper, error) {
	steppersMu.RLock()
	defer steppersMu.RUnlock()
	s, ok := steppers[frequency]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidFrequency, frequency)
	}
	return s, nil
}

// RegisterPeriodStepper adds or replaces the strategy for a frequency.
func RegisterPeriodStepper(frequency core.Frequency, s PeriodStepper) {
	steppersMu.Lock()
	defer steppersMu.Unlock()
	steppers[frequency] = s
}
