package core

import (
	"encoding/json"
	"testing"
)

func TestParseDecimalToCents(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{"12.344", 1234, true},
		{" 2.50 ", 250, true},
		{"0", 0, true},
		{"-1", 0, false},
		{"+1", 0, false},
		{"1e3", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDecimalToCents(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestMoneyJSON(t *testing.T) {
	b, err := json.Marshal(Money{Cents: 1050})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "10.50" {
		t.Fatalf("expected 10.50, got %s", b)
	}

	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{`12.5`, 1250, true},
		{`"12,50"`, 1250, true},
		{`0`, 0, true},
		{`null`, 0, true},
		{`-3`, 0, false},
		{`"x"`, 0, false},
	}
	for _, tc := range cases {
		var m Money
		err := json.Unmarshal([]byte(tc.in), &m)
		if tc.ok && (err != nil || m.Cents != tc.want) {
			t.Fatalf("%s expected %d, got %d (err=%v)", tc.in, tc.want, m.Cents, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s expected error", tc.in)
		}
	}
}

func TestMoneyArithmetic(t *testing.T) {
	a := Cents(1000)
	b := Cents(250)
	if got := a.Sub(b); got.Cents != 750 {
		t.Fatalf("expected 750, got %d", got.Cents)
	}
	if got := a.Add(b).Float(); got != 12.5 {
		t.Fatalf("expected 12.5, got %v", got)
	}
}
