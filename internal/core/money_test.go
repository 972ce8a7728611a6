package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		err error
	}{
		{"1", "1", nil},
		{"1.0", "1", nil},
		{"1.23", "1.23", nil},
		{"1,234.56", "1234.56", nil},
		{" 2.50 ", "2.5", nil},
		{"-50", "-50", nil},
		{"-1,000.005", "-1000.01", nil}, // half-up on the third decimal
		{"1.005", "1.01", nil},
		{"0.004", "", ErrZeroAmount}, // rounds to 0.00
		{"0", "", ErrZeroAmount},
		{"0.00", "", ErrZeroAmount},
		{"", "", ErrNotANumber},
		{"abc", "", ErrNotANumber},
		{"1.2.3", "", ErrNotANumber},
		{".5", "", ErrNotANumber},
		{"5.", "", ErrNotANumber},
		{"1e5", "", ErrNotANumber},
		{"+5", "", ErrNotANumber},
		{"--5", "", ErrNotANumber},
		{"12 34", "", ErrNotANumber},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Fatalf("%q: expected %v, got %v", tc.in, tc.err, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tc.in, err)
		}
		want, _ := decimal.NewFromString(tc.out)
		if !got.Equal(want) {
			t.Fatalf("%q: expected %s, got %s", tc.in, want, got)
		}
	}
}

func TestMoneyCentsRoundTrip(t *testing.T) {
	m := MoneyFromCents(-6650, "SGD")
	if m.String() != "-66.50 SGD" {
		t.Fatalf("unexpected string: %s", m.String())
	}
	if m.Cents() != -6650 {
		t.Fatalf("expected -6650 cents, got %d", m.Cents())
	}
}

func TestSigned(t *testing.T) {
	five := decimal.NewFromInt(5)
	if got := Expense.Signed(five); !got.Equal(decimal.NewFromInt(-5)) {
		t.Fatalf("expense sign: got %s", got)
	}
	if got := Expense.Signed(five.Neg()); !got.Equal(decimal.NewFromInt(-5)) {
		t.Fatalf("expense sign of negative: got %s", got)
	}
	if got := Income.Signed(five.Neg()); !got.Equal(five) {
		t.Fatalf("income sign: got %s", got)
	}
}
