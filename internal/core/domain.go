package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

const (
	PeriodMonthly BudgetPeriod = "monthly"
	PeriodYearly  BudgetPeriod = "yearly"
	PeriodFixed   BudgetPeriod = "fixed"
)

const dateLayout = "2006-01-02"

type (
	Frequency       string
	TransactionType string
	BudgetPeriod    string

	// Date is a calendar date stored at UTC midnight.
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// CategoryNode is one node of a user's category forest. Only roots carry Type;
	// descendants inherit it from their root.
	CategoryNode struct {
		ID            string          `json:"id"`
		Name          string          `json:"name"`
		Type          TransactionType `json:"type,omitempty"`
		SubCategories []CategoryNode  `json:"subCategories,omitempty"`
	}

	Transaction struct {
		ID          string          `json:"id"`
		Date        Date            `json:"date"`
		Description string          `json:"description"`
		Amount      Money           `json:"amount"`
		Type        TransactionType `json:"type"`
		Category    string          `json:"category"`             // denormalized display path
		CategoryID  string          `json:"categoryId,omitempty"` // authoritative link once migrated
		RecurringID string          `json:"recurringId,omitempty"`
	}

	RecurringTransaction struct {
		ID            string          `json:"id"`
		Description   string          `json:"description"`
		Amount        Money           `json:"amount"`
		Type          TransactionType `json:"type"`
		Category      string          `json:"category"`
		CategoryID    string          `json:"categoryId,omitempty"`
		Frequency     Frequency       `json:"frequency"`
		StartDate     Date            `json:"startDate"`
		EndDate       Date            `json:"endDate,omitzero"`
		LastAddedDate Date            `json:"lastAddedDate,omitzero"` // watermark
	}

	Budget struct {
		ID         string       `json:"id"`
		Name       string       `json:"name"`
		CategoryID string       `json:"categoryId"`
		Amount     Money        `json:"amount"`
		Period     BudgetPeriod `json:"period"`
		StartDate  Date         `json:"startDate"`
		EndDate    Date         `json:"endDate,omitzero"`
	}

	Goal struct {
		ID                    string `json:"id"`
		Name                  string `json:"name"`
		TargetAmount          Money  `json:"targetAmount"`
		SavedAmount           Money  `json:"savedAmount"`
		TargetDate            Date   `json:"targetDate,omitzero"`
		LinkedCategoryID      string `json:"linkedCategoryId,omitempty"`
		ContributionStartDate Date   `json:"contributionStartDate,omitzero"`
	}

	Formula struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Expression string `json:"expression"`
	}
)

// ValidationError marks input rejected by domain validation.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func newValidationError(msg string) error { return &ValidationError{msg: msg} }

// NewValidationError builds a ValidationError for input rejected outside this package.
func NewValidationError(msg string) error { return newValidationError(msg) }

// IsValidation reports whether err (or anything it wraps) is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

var (
	ErrInvalidDate       = newValidationError("invalid date")
	ErrInvalidAmount     = newValidationError("invalid amount")
	ErrEmptyDescription  = newValidationError("empty description")
	ErrEmptyName         = newValidationError("empty name")
	ErrInvalidType       = newValidationError("invalid transaction type")
	ErrInvalidFrequency  = newValidationError("invalid repetition type")
	ErrInvalidPeriod     = newValidationError("invalid budget period")
	ErrMissingCategoryID = newValidationError("missing category id")
	ErrEmptyExpression   = newValidationError("empty expression")
	ErrUnknownCategory   = newValidationError("unknown category")
	ErrDuplicateID       = newValidationError("duplicate id")

	ErrNotFound        = errors.New("not found")
	ErrGoalAutoTracked = errors.New("goal is auto-tracked from a linked category")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate accepts YYYY-MM-DD or a full RFC 3339 timestamp.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return DateOf(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("%w: date cannot be zero", ErrInvalidDate)
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// IsEmpty returns true if the date is zero (optional dates)
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// Before reports whether d is strictly before o.
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }

// After reports whether d is strictly after o.
func (d Date) After(o Date) bool { return d.Time.After(o.Time) }

// Equal reports whether d and o are the same calendar date.
func (d Date) Equal(o Date) bool { return d.Time.Equal(o.Time) }

// Between reports whether from <= d <= to. A zero bound is open.
func (d Date) Between(from, to Date) bool {
	if !from.IsZero() && d.Before(from) {
		return false
	}
	if !to.IsZero() && d.After(to) {
		return false
	}
	return true
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDate, string(b))
	}
	if strings.TrimSpace(s) == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (t TransactionType) IsValid() bool {
	return t == Income || t == Expense
}

func (f Frequency) IsValid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

func (p BudgetPeriod) IsValid() bool {
	switch p {
	case PeriodMonthly, PeriodYearly, PeriodFixed:
		return true
	}
	return false
}

func validateDescription(desc string) error {
	if len(strings.TrimSpace(desc)) == 0 {
		return ErrEmptyDescription
	}
	if len(desc) > 200 {
		return newValidationError("description too long (max 200 characters)")
	}
	return nil
}

func (t Transaction) Validate() error {
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if err := validateDescription(t.Description); err != nil {
		return err
	}
	if t.Amount.Cents < 0 {
		return ErrInvalidAmount
	}
	if !t.Type.IsValid() {
		return ErrInvalidType
	}
	return nil
}

func (re RecurringTransaction) Validate() error {
	if err := re.StartDate.Validate(); err != nil {
		return fmt.Errorf("invalid start date: %w", err)
	}

	if !re.EndDate.IsZero() && re.EndDate.Before(re.StartDate) {
		return newValidationError("end date must be after start date")
	}
	if !re.LastAddedDate.IsZero() && re.LastAddedDate.Before(re.StartDate) {
		return newValidationError("last added date must not precede start date")
	}

	if !re.Frequency.IsValid() {
		return ErrInvalidFrequency
	}
	if err := validateDescription(re.Description); err != nil {
		return err
	}
	if err := re.Amount.Validate(); err != nil {
		return err
	}
	if !re.Type.IsValid() {
		return ErrInvalidType
	}
	return nil
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return ErrEmptyName
	}
	if strings.TrimSpace(b.CategoryID) == "" {
		return ErrMissingCategoryID
	}
	if b.Amount.Cents < 0 {
		return ErrInvalidAmount
	}
	if !b.Period.IsValid() {
		return ErrInvalidPeriod
	}
	if b.Period == PeriodFixed {
		if err := b.StartDate.Validate(); err != nil {
			return fmt.Errorf("invalid start date: %w", err)
		}
		if !b.EndDate.IsZero() && b.EndDate.Before(b.StartDate) {
			return newValidationError("end date must be after start date")
		}
	}
	return nil
}

func (g Goal) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return ErrEmptyName
	}
	if err := g.TargetAmount.Validate(); err != nil {
		return err
	}
	if g.SavedAmount.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// AutoTracked reports whether the goal derives its saved amount from a linked category.
func (g Goal) AutoTracked() bool {
	return strings.TrimSpace(g.LinkedCategoryID) != ""
}

func (f Formula) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return ErrEmptyName
	}
	if strings.TrimSpace(f.Expression) == "" {
		return ErrEmptyExpression
	}
	return nil
}

func (n CategoryNode) Validate(root bool) error {
	if strings.TrimSpace(n.ID) == "" {
		return newValidationError("category id cannot be empty")
	}
	if strings.TrimSpace(n.Name) == "" {
		return ErrEmptyName
	}
	if strings.Contains(n.Name, ">") {
		return newValidationError("category name cannot contain '>'")
	}
	if root && !n.Type.IsValid() {
		return ErrInvalidType
	}
	if !root && n.Type != "" {
		return newValidationError("only root categories carry a type")
	}
	return nil
}
