// Package core holds the domain types of the ledger: accounts, transactions,
// categories and exchange rates, plus the amount grammar accepted from
// callers.
//
// All monetary values are decimals with two fractional digits. Rounding is
// half-up and is applied once per operation, never accumulated.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money pairs a 2-decimal amount with its currency code.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney rounds amount half-up to 2 decimal places.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount.Round(2), Currency: currency}
}

// MoneyFromCents builds a Money from an integer number of minor units, the
// representation used by the storage layer.
func MoneyFromCents(cents int64, currency string) Money {
	return Money{Amount: decimal.New(cents, -2), Currency: currency}
}

// Cents returns the amount as minor units.
func (m Money) Cents() int64 {
	return m.Amount.Round(2).Shift(2).IntPart()
}

func (m Money) IsZero() bool     { return m.Amount.IsZero() }
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

func (m Money) Equal(n Money) bool {
	return m.Currency == n.Currency && m.Amount.Equal(n.Amount)
}

// String renders as "1234.50 EUR".
func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.Currency
}

// ParseAmount parses user-entered amount text into a signed decimal, rounded
// half-up to 2 decimal places. Surrounding whitespace and thousands
// separators (",") are stripped first. The accepted grammar is: optional
// leading "-", digits, optionally a single "." followed by digits.
//
// Returns ErrNotANumber when the text does not match the grammar and
// ErrZeroAmount when the parsed value rounds to exactly 0.00.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return decimal.Decimal{}, ErrNotANumber
	}

	body := strings.TrimPrefix(s, "-")
	intPart, fracPart, hasDot := strings.Cut(body, ".")
	if intPart == "" {
		return decimal.Decimal{}, ErrNotANumber
	}
	if hasDot && fracPart == "" {
		return decimal.Decimal{}, ErrNotANumber
	}
	if !allDigits(intPart) || !allDigits(fracPart) {
		return decimal.Decimal{}, ErrNotANumber
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, ErrNotANumber
	}
	d = d.Round(2)
	if d.IsZero() {
		return decimal.Decimal{}, ErrZeroAmount
	}
	return d, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
