// Package fx converts amounts between currencies using an operator-maintained
// table of directed rates.
package fx

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
)

// RateSource is a read-only view of the rate table. The ledger store's
// transaction handle satisfies it, so conversions inside a scoped store
// transaction see a consistent snapshot.
type RateSource interface {
	// LookupRate returns the stored rate record for the ordered pair
	// (from, to). ok is false when no such record exists; that is not an
	// error.
	LookupRate(ctx context.Context, from, to string) (rate core.ExchangeRate, ok bool, err error)
}

// NoRateError reports that neither a direct nor an inverse rate record exists
// for a currency pair. Conversion always fails on a missing rate; amounts are
// never passed through unconverted.
type NoRateError struct {
	From string
	To   string
}

func (e *NoRateError) Error() string {
	return fmt.Sprintf("no exchange rate for %s->%s", e.From, e.To)
}

// Converter resolves amounts from one currency to another.
type Converter struct {
	rates RateSource
}

func New(rates RateSource) *Converter {
	return &Converter{rates: rates}
}

// Convert returns amount expressed in the "to" currency, rounded half-up to
// 2 decimal places. The direct (from, to) record is preferred; when it is
// absent the inverse (to, from) record is used with on-the-fly inversion.
// Rounding happens exactly once, at the end; no transitive conversion
// through a third currency is attempted.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if from == to {
		return amount.Round(2), nil
	}

	direct, ok, err := c.rates.LookupRate(ctx, from, to)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("lookup rate %s->%s: %w", from, to, err)
	}
	if ok {
		return amount.Mul(direct.Rate).Round(2), nil
	}

	inverse, ok, err := c.rates.LookupRate(ctx, to, from)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("lookup rate %s->%s: %w", to, from, err)
	}
	if ok {
		return amount.Div(inverse.Rate).Round(2), nil
	}

	return decimal.Decimal{}, &NoRateError{From: from, To: to}
}

// ConvertMoney is Convert for a Money value.
func (c *Converter) ConvertMoney(ctx context.Context, m core.Money, to string) (core.Money, error) {
	amount, err := c.Convert(ctx, m.Amount, m.Currency, to)
	if err != nil {
		return core.Money{}, err
	}
	return core.Money{Amount: amount, Currency: to}, nil
}
