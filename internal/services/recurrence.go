package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"conti/internal/core"
)

// RecurringPrefix marks materialized occurrences in their description.
const RecurringPrefix = "[Recurring] "

// ErrMalformedStart reports a recurring definition whose start date is missing or unparsable.
var ErrMalformedStart = errors.New("recurring definition has no valid start date")

// occurrenceNamespace seeds the deterministic ids of materialized occurrences.
var occurrenceNamespace = uuid.MustParse("6f1c3c1e-55a4-4d57-9a43-2f0f5f8f6a10")

// DueOccurrences lists the occurrence dates of def that are after its watermark
// and on or before today (and on or before the end date when one is set), in order.
// At most limit dates are returned; limit <= 0 means no cap.
//
// Occurrences follow the start date schedule while the watermark is one of its
// dates. A watermark off that schedule (start date edited, watermark set by hand)
// becomes the anchor instead, so each period still gets exactly one occurrence.
//
// The result depends only on def and today: with the watermark unchanged, calling
// it again yields the same dates, and after the watermark moves to the last date
// returned it yields none until today advances.
func DueOccurrences(def core.RecurringTransaction, today core.Date, limit int) ([]core.Date, error) {
	if def.StartDate.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrMalformedStart, def.ID)
	}
	stepper, err := GetPeriodStepper(def.Frequency)
	if err != nil {
		return nil, err
	}

	horizon := today
	if !def.EndDate.IsZero() && def.EndDate.Before(horizon) {
		horizon = def.EndDate
	}
	if def.StartDate.After(horizon) {
		return nil, nil
	}

	anchor, n := scheduleAfter(stepper, def.StartDate, def.LastAddedDate)

	var out []core.Date
	for {
		if limit > 0 && len(out) >= limit {
			break
		}
		occ := stepper.Occurrence(anchor, n)
		if occ.After(horizon) {
			break
		}
		out = append(out, occ)
		n++
	}
	return out, nil
}

// firstAfter returns the index of the first occurrence strictly after watermark.
// An unset watermark means nothing has been materialized yet.
func firstAfter(s PeriodStepper, start, watermark core.Date) int {
	if watermark.IsZero() || watermark.Before(start) {
		return 0
	}
	n := max(s.Elapsed(start, watermark)-1, 0)
	for n > 0 && s.Occurrence(start, n).After(watermark) {
		n--
	}
	for !s.Occurrence(start, n).After(watermark) {
		n++
	}
	return n
}

// scheduleAfter returns the schedule anchor and the index of its first
// occurrence after watermark.
func scheduleAfter(s PeriodStepper, start, watermark core.Date) (core.Date, int) {
	if watermark.IsZero() || watermark.Before(start) {
		return start, 0
	}
	// n >= 1 here: occurrence 0 is start, which is not after watermark.
	n := firstAfter(s, start, watermark)
	if s.Occurrence(start, n-1).Equal(watermark) {
		return start, n
	}
	return watermark, 1
}

// NextOccurrence returns the first occurrence after the watermark, if any remains
// within the definition's end date.
func NextOccurrence(def core.RecurringTransaction) (core.Date, bool) {
	if def.StartDate.IsZero() {
		return core.Date{}, false
	}
	stepper, err := GetPeriodStepper(def.Frequency)
	if err != nil {
		return core.Date{}, false
	}
	next := stepper.Occurrence(scheduleAfter(stepper, def.StartDate, def.LastAddedDate))
	if !def.EndDate.IsZero() && next.After(def.EndDate) {
		return core.Date{}, false
	}
	return next, true
}

// OccurrenceID is the stable id of def's occurrence on date. Re-materializing the
// same occurrence overwrites the same record instead of duplicating it.
func OccurrenceID(recurringID string, date core.Date) string {
	return uuid.NewSHA1(occurrenceNamespace, []byte(recurringID+"|"+date.String())).String()
}

// Materialize builds the transaction for one occurrence of def.
func Materialize(def core.RecurringTransaction, date core.Date) core.Transaction {
	return core.Transaction{
		ID:          OccurrenceID(def.ID, date),
		Date:        date,
		Description: RecurringPrefix + def.Description,
		Amount:      def.Amount,
		Type:        def.Type,
		Category:    def.Category,
		CategoryID:  def.CategoryID,
		RecurringID: def.ID,
	}
}
