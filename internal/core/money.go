// Package core provides the bookkeeping domain types and money handling.
package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const maxCents = int64(1<<63-1) / 100

// ParseDecimalToCents converts a decimal string to cents with half-up rounding.
//
// Both dot (12.34) and comma (12,34) separators are accepted. Signs, exponents and
// grouping are rejected; zero is allowed since amounts are non-negative.
//
//	ParseDecimalToCents("12.34")  -> 1234
//	ParseDecimalToCents("12,345") -> 1235
//	ParseDecimalToCents("0.004")  -> 0
func ParseDecimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return 0, ErrInvalidAmount
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return decimalToCents(d)
}

func decimalToCents(d decimal.Decimal) (int64, error) {
	if d.IsNegative() {
		return 0, ErrInvalidAmount
	}
	cents := d.Round(2).Shift(2)
	if cents.GreaterThan(decimal.NewFromInt(maxCents)) {
		return 0, ErrInvalidAmount
	}
	return cents.IntPart(), nil
}

// MoneyFromDecimal converts a non-negative decimal amount to Money.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	cents, err := decimalToCents(d)
	if err != nil {
		return Money{}, err
	}
	return Money{Cents: cents}, nil
}

// Cents builds Money from an integer cent count.
func Cents(c int64) Money { return Money{Cents: c} }

// Decimal returns the amount in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// Float returns the amount as a float64 for ratios and formula namespaces.
// Sums stay in cents.
func (m Money) Float() float64 {
	return m.Decimal().InexactFloat64()
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }

func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }

func (m Money) String() string { return m.Decimal().StringFixed(2) }

// Validate requires a strictly positive amount.
func (m Money) Validate() error {
	if m.Cents <= 0 {
		return fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	return nil
}

// MarshalJSON writes the amount as a JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string ("12,50" included).
func (m *Money) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*m = Money{}
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return ErrInvalidAmount
		}
		cents, err := ParseDecimalToCents(s)
		if err != nil {
			return err
		}
		m.Cents = cents
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return ErrInvalidAmount
	}
	cents, err := decimalToCents(d)
	if err != nil {
		return err
	}
	m.Cents = cents
	return nil
}
