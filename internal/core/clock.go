package core

import "time"

// Clock supplies "now" so date-driven logic can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// Today returns the clock's current calendar date.
func Today(c Clock) Date {
	return DateOf(c.Now())
}
