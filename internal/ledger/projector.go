package ledger

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
	"moneta/internal/fx"
)

// Entry is one step of a running-balance projection.
type Entry struct {
	Transaction core.Transaction
	Running     core.Money
}

// Project replays txs into a lazy sequence of (transaction, running balance)
// pairs in the display currency. The running balance before the first
// transaction is 0.00; each step adds the converted amount of one
// transaction, rounded once per conversion.
//
// The projection is a pure function of the transaction list and the rate
// table: it never reads an account's stored balance, so it can be recomputed
// at any time and used to detect drift in that cached value. Transactions are
// replayed ordered by date, ties broken by id. A conversion failure ends the
// sequence with the error.
func Project(ctx context.Context, rates fx.RateSource, display string, txs []core.Transaction) iter.Seq2[Entry, error] {
	ordered := slices.Clone(txs)
	slices.SortStableFunc(ordered, func(a, b core.Transaction) int {
		if a.Date.Before(b.Date) {
			return -1
		}
		if a.Date.After(b.Date) {
			return 1
		}
		return cmp.Compare(a.ID, b.ID)
	})
	conv := fx.New(rates)

	return func(yield func(Entry, error) bool) {
		running := decimal.Zero
		for _, t := range ordered {
			amount, err := conv.Convert(ctx, t.Amount, t.Currency, display)
			if err != nil {
				yield(Entry{Transaction: t}, fmt.Errorf("project transaction %d: %w", t.ID, err))
				return
			}
			running = running.Add(amount)
			entry := Entry{
				Transaction: t,
				Running:     core.Money{Amount: running, Currency: display},
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

// ProjectAll collects the full projection into a slice.
func ProjectAll(ctx context.Context, rates fx.RateSource, display string, txs []core.Transaction) ([]Entry, error) {
	entries := make([]Entry, 0, len(txs))
	for entry, err := range Project(ctx, rates, display, txs) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// FinalBalance returns the running balance after the last transaction, or
// 0.00 for an empty list.
func FinalBalance(ctx context.Context, rates fx.RateSource, display string, txs []core.Transaction) (core.Money, error) {
	final := core.Money{Amount: decimal.Zero, Currency: display}
	for entry, err := range Project(ctx, rates, display, txs) {
		if err != nil {
			return core.Money{}, err
		}
		final = entry.Running
	}
	return final, nil
}

// Drift compares the account's cached balance against a fresh replay of its
// transactions and returns stored minus projected, in the account currency.
// A non-zero result means the cached balance has diverged from the log.
func Drift(ctx context.Context, rates fx.RateSource, account core.Account, txs []core.Transaction) (decimal.Decimal, error) {
	projected, err := FinalBalance(ctx, rates, account.Currency, txs)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return account.Balance.Sub(projected.Amount), nil
}
