package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
	"moneta/internal/fx"
)

type mapRates map[string]decimal.Decimal

func (m mapRates) LookupRate(_ context.Context, from, to string) (core.ExchangeRate, bool, error) {
	rate, ok := m[from+"->"+to]
	if !ok {
		return core.ExchangeRate{}, false, nil
	}
	return core.ExchangeRate{FromCurrency: from, ToCurrency: to, Rate: rate}, true, nil
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func projTx(id int64, d int, amount, currency string) core.Transaction {
	return core.Transaction{
		ID:       id,
		Date:     day(d),
		Type:     core.Income,
		Amount:   dec(amount),
		Currency: currency,
	}
}

// Same-date ties must order by id even when ids are far enough apart that a
// difference-based comparator would truncate on 32-bit platforms.
func TestProjectTieBreakWithWideIDs(t *testing.T) {
	ctx := context.Background()

	lo, hi := int64(1), int64(1)+(1<<32)
	txs := []core.Transaction{
		projTx(hi, 1, "200", "SGD"),
		projTx(lo, 1, "1000", "SGD"),
	}

	entries, err := ProjectAll(ctx, mapRates{}, "SGD", txs)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Transaction.ID != lo || entries[1].Transaction.ID != hi {
		t.Fatalf("expected id order [%d %d], got [%d %d]",
			lo, hi, entries[0].Transaction.ID, entries[1].Transaction.ID)
	}
	if !entries[1].Running.Amount.Equal(dec("1200")) {
		t.Fatalf("expected final running 1200, got %s", entries[1].Running.Amount)
	}
}

func TestProjectRunningBalances(t *testing.T) {
	ctx := context.Background()
	rates := mapRates{"USD->SGD": dec("1.33")}

	// Deliberately out of order: id 3 predates the others, ids 1 and 2 share
	// a date and must replay in id order.
	txs := []core.Transaction{
		projTx(2, 5, "-50", "USD"),
		projTx(3, 1, "1000", "SGD"),
		projTx(1, 5, "200", "SGD"),
	}

	entries, err := ProjectAll(ctx, rates, "SGD", txs)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	wantOrder := []int64{3, 1, 2}
	wantRunning := []string{"1000", "1200", "1133.50"}
	for i, entry := range entries {
		if entry.Transaction.ID != wantOrder[i] {
			t.Fatalf("entry %d: expected id %d, got %d", i, wantOrder[i], entry.Transaction.ID)
		}
		if !entry.Running.Amount.Equal(dec(wantRunning[i])) {
			t.Fatalf("entry %d: expected running %s, got %s", i, wantRunning[i], entry.Running.Amount)
		}
		if entry.Running.Currency != "SGD" {
			t.Fatalf("entry %d: expected SGD, got %s", i, entry.Running.Currency)
		}
	}

	// Input order is irrelevant: the caller's slice is not mutated and a
	// shuffled replay lands on the same result.
	if txs[0].ID != 2 {
		t.Fatalf("input slice was reordered")
	}
	again, err := ProjectAll(ctx, rates, "SGD", []core.Transaction{txs[1], txs[2], txs[0]})
	if err != nil {
		t.Fatalf("reproject: %v", err)
	}
	for i := range entries {
		if !again[i].Running.Amount.Equal(entries[i].Running.Amount) {
			t.Fatalf("projection not deterministic at entry %d", i)
		}
	}
}

func TestProjectStopsOnMissingRate(t *testing.T) {
	ctx := context.Background()
	txs := []core.Transaction{
		projTx(1, 1, "100", "SGD"),
		projTx(2, 2, "100", "GBP"),
		projTx(3, 3, "100", "SGD"),
	}

	var seen int
	var projErr error
	for entry, err := range Project(ctx, mapRates{}, "SGD", txs) {
		if err != nil {
			projErr = err
			continue
		}
		seen = int(entry.Transaction.ID)
	}
	var noRate *fx.NoRateError
	if !errors.As(projErr, &noRate) {
		t.Fatalf("expected NoRateError, got %v", projErr)
	}
	if noRate.From != "GBP" || noRate.To != "SGD" {
		t.Fatalf("unexpected pair in error: %s->%s", noRate.From, noRate.To)
	}
	// The sequence ends at the failing transaction; id 3 is never yielded.
	if seen != 1 {
		t.Fatalf("expected to stop after id 1, last seen %d", seen)
	}
}

func TestProjectEarlyBreak(t *testing.T) {
	ctx := context.Background()
	txs := []core.Transaction{
		projTx(1, 1, "100", "SGD"),
		projTx(2, 2, "100", "SGD"),
	}

	// The sequence is lazy: breaking after the first entry must not panic or
	// keep yielding.
	for entry, err := range Project(ctx, mapRates{}, "SGD", txs) {
		if err != nil {
			t.Fatalf("project: %v", err)
		}
		if !entry.Running.Amount.Equal(dec("100")) {
			t.Fatalf("expected 100, got %s", entry.Running.Amount)
		}
		break
	}
}

func TestFinalBalanceEmpty(t *testing.T) {
	final, err := FinalBalance(context.Background(), mapRates{}, "EUR", nil)
	if err != nil {
		t.Fatalf("final balance: %v", err)
	}
	if !final.Amount.IsZero() || final.Currency != "EUR" {
		t.Fatalf("expected 0.00 EUR, got %s", final)
	}
}

func TestDrift(t *testing.T) {
	ctx := context.Background()
	txs := []core.Transaction{
		projTx(1, 1, "100", "SGD"),
		projTx(2, 2, "-30", "SGD"),
	}
	account := core.Account{ID: 1, Currency: "SGD", Balance: dec("70")}

	drift, err := Drift(ctx, mapRates{}, account, txs)
	if err != nil {
		t.Fatalf("drift: %v", err)
	}
	if !drift.IsZero() {
		t.Fatalf("expected zero drift, got %s", drift)
	}

	// A tampered cached balance shows up as stored minus projected.
	account.Balance = dec("75")
	drift, err = Drift(ctx, mapRates{}, account, txs)
	if err != nil {
		t.Fatalf("drift: %v", err)
	}
	if !drift.Equal(dec("5")) {
		t.Fatalf("expected drift 5.00, got %s", drift)
	}
}
