package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestParseDate(t *testing.T) {
	cases := []struct {
		in   string
		want Date
		ok   bool
	}{
		{"2024-03-01", NewDate(2024, 3, 1), true},
		{"2024-03-01T23:10:00Z", NewDate(2024, 3, 1), true},
		{" 2024-12-31 ", NewDate(2024, 12, 31), true},
		{"2024-02-30", Date{}, false},
		{"01/03/2024", Date{}, false},
		{"", Date{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseDate(tc.in)
			if !tc.ok {
				if err == nil {
					t.Fatalf("expected error")
				}
				if !errors.Is(err, ErrInvalidDate) {
					t.Fatalf("expected ErrInvalidDate, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestDateJSON(t *testing.T) {
	type wrapper struct {
		D Date `json:"d"`
		E Date `json:"e,omitzero"`
	}
	b, err := json.Marshal(wrapper{D: NewDate(2024, 1, 5)})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"d":"2024-01-05"}` {
		t.Fatalf("unexpected json %s", b)
	}

	var w wrapper
	if err := json.Unmarshal([]byte(`{"d":"2024-07-09","e":""}`), &w); err != nil {
		t.Fatal(err)
	}
	if !w.D.Equal(NewDate(2024, 7, 9)) || !w.E.IsEmpty() {
		t.Fatalf("unexpected decode %+v", w)
	}
}

func TestDateBetween(t *testing.T) {
	d := NewDate(2024, 5, 10)
	if !d.Between(NewDate(2024, 5, 10), NewDate(2024, 5, 10)) {
		t.Fatalf("bounds are inclusive")
	}
	if !d.Between(Date{}, Date{}) {
		t.Fatalf("zero bounds are open")
	}
	if d.Between(NewDate(2024, 5, 11), Date{}) {
		t.Fatalf("expected before lower bound")
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
}

func TestTransactionValidate(t *testing.T) {
	good := Transaction{
		Date:        NewDate(2025, 1, 1),
		Description: "ok",
		Amount:      Money{Cents: 0},
		Type:        Expense,
		Category:    "Food > Groceries",
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Transaction{
		{Date: Date{}, Description: "a", Amount: Money{Cents: 1}, Type: Expense},
		{Date: NewDate(2025, 1, 1), Description: "  ", Amount: Money{Cents: 1}, Type: Expense},
		{Date: NewDate(2025, 1, 1), Description: "a", Amount: Money{Cents: -1}, Type: Expense},
		{Date: NewDate(2025, 1, 1), Description: "a", Amount: Money{Cents: 1}, Type: "transfer"},
	}
	for i, tx := range bads {
		err := tx.Validate()
		if err == nil {
			t.Fatalf("case %d expected error", i)
		}
		if !IsValidation(err) {
			t.Fatalf("case %d expected validation error, got %v", i, err)
		}
	}
}

func TestRecurringValidate(t *testing.T) {
	base := RecurringTransaction{
		Description: "Rent",
		Amount:      Money{Cents: 80000},
		Type:        Expense,
		Frequency:   Monthly,
		StartDate:   NewDate(2024, 1, 1),
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*RecurringTransaction)
		want   error
	}{
		{"bad frequency", func(r *RecurringTransaction) { r.Frequency = "hourly" }, ErrInvalidFrequency},
		{"zero start", func(r *RecurringTransaction) { r.StartDate = Date{} }, ErrInvalidDate},
		{"zero amount", func(r *RecurringTransaction) { r.Amount = Money{} }, ErrInvalidAmount},
		{"end before start", func(r *RecurringTransaction) { r.EndDate = NewDate(2023, 12, 1) }, nil},
		{"watermark before start", func(r *RecurringTransaction) { r.LastAddedDate = NewDate(2023, 12, 1) }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base
			tt.mutate(&r)
			err := r.Validate()
			if err == nil {
				t.Fatalf("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestBudgetValidate(t *testing.T) {
	b := Budget{Name: "Food", CategoryID: "food", Amount: Money{Cents: 40000}, Period: PeriodMonthly}
	if err := b.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	fixed := b
	fixed.Period = PeriodFixed
	if err := fixed.Validate(); err == nil {
		t.Fatalf("fixed budget requires a start date")
	}
	noCat := b
	noCat.CategoryID = ""
	if err := noCat.Validate(); !errors.Is(err, ErrMissingCategoryID) {
		t.Fatalf("expected ErrMissingCategoryID, got %v", err)
	}
}

func TestCategoryNodeValidate(t *testing.T) {
	if err := (CategoryNode{ID: "a", Name: "Food", Type: Expense}).Validate(true); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (CategoryNode{ID: "a", Name: "Food"}).Validate(true); err == nil {
		t.Fatalf("root without type must fail")
	}
	if err := (CategoryNode{ID: "b", Name: "Groceries", Type: Expense}).Validate(false); err == nil {
		t.Fatalf("child with type must fail")
	}
	if err := (CategoryNode{ID: "c", Name: "A > B"}).Validate(false); err == nil {
		t.Fatalf("delimiter in name must fail")
	}
}
