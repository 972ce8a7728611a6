package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
	"moneta/internal/events"
	"moneta/internal/fx"
	"moneta/internal/store"
	"moneta/internal/store/memory"
)

// Category IDs from the memory store's default seed.
const (
	catSalary = 1
	catFood   = 3
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type capturedEvents struct {
	events []events.Event
}

func (c *capturedEvents) PublishLedgerEvent(_ context.Context, ev events.Event) error {
	c.events = append(c.events, ev)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *memory.Store, core.Account, *capturedEvents) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	captured := &capturedEvents{}
	engine := NewEngine(st, captured)

	user, err := engine.CreateUser(ctx, "alice", "alice@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	account, err := engine.CreateAccount(ctx, user.ID, "Main", "SGD")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if !account.Balance.IsZero() {
		t.Fatalf("new account must start at 0.00, got %s", account.Balance)
	}
	return engine, st, account, captured
}

func TestAddTransactionSameCurrency(t *testing.T) {
	ctx := context.Background()
	engine, st, account, _ := newTestEngine(t)

	created, balance, err := engine.AddTransaction(ctx, TransactionInput{
		AccountID:  account.ID,
		UserID:     account.UserID,
		Type:       core.Income,
		CategoryID: catSalary,
		AmountText: "1,000.00",
		Currency:   "SGD",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !created.Amount.Equal(dec("1000")) {
		t.Fatalf("expected amount 1000.00, got %s", created.Amount)
	}
	// Same currency: exact addition, no conversion involved.
	if !balance.Equal(core.Money{Amount: dec("1000"), Currency: "SGD"}) {
		t.Fatalf("expected balance 1000.00 SGD, got %s", balance)
	}

	stored, err := st.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !stored.Balance.Equal(dec("1000")) {
		t.Fatalf("stored balance mismatch: %s", stored.Balance)
	}
}

func TestExpenseSignForced(t *testing.T) {
	ctx := context.Background()
	engine, _, account, _ := newTestEngine(t)

	// The engine never trusts caller-supplied sign: a positive amount text
	// for an expense is negated.
	created, balance, err := engine.AddTransaction(ctx, TransactionInput{
		AccountID:  account.ID,
		UserID:     account.UserID,
		Type:       core.Expense,
		CategoryID: catFood,
		AmountText: "50.00",
		Currency:   "SGD",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !created.Amount.Equal(dec("-50")) {
		t.Fatalf("expected -50.00, got %s", created.Amount)
	}
	if !balance.Amount.Equal(dec("-50")) {
		t.Fatalf("expected balance -50.00, got %s", balance.Amount)
	}

	// A caller-negated income is folded back to positive.
	created, _, err = engine.AddTransaction(ctx, TransactionInput{
		AccountID:  account.ID,
		UserID:     account.UserID,
		Type:       core.Income,
		CategoryID: catSalary,
		AmountText: "-30",
		Currency:   "SGD",
	})
	if err != nil {
		t.Fatalf("add income: %v", err)
	}
	if !created.Amount.Equal(dec("30")) {
		t.Fatalf("expected 30.00, got %s", created.Amount)
	}
}

func TestEndToEndCrossCurrency(t *testing.T) {
	ctx := context.Background()
	engine, _, account, _ := newTestEngine(t)

	if _, _, err := engine.AddTransaction(ctx, TransactionInput{
		AccountID:  account.ID,
		UserID:     account.UserID,
		Type:       core.Income,
		CategoryID: catSalary,
		AmountText: "1000.00",
		Currency:   "SGD",
	}); err != nil {
		t.Fatalf("add income: %v", err)
	}

	if _, err := engine.UpsertRate(ctx, "USD", "SGD", dec("1.33")); err != nil {
		t.Fatalf("upsert rate: %v", err)
	}

	food, balance, err := engine.AddTransaction(ctx, TransactionInput{
		AccountID:  account.ID,
		UserID:     account.UserID,
		Type:       core.Expense,
		CategoryID: catFood,
		AmountText: "50.00",
		Currency:   "USD",
	})
	if err != nil {
		t.Fatalf("add expense: %v", err)
	}
	// -50 USD at 1.33 = -66.50 SGD contribution.
	if !balance.Equal(core.Money{Amount: dec("933.50"), Currency: "SGD"}) {
		t.Fatalf("expected 933.50 SGD, got %s", balance)
	}
	// The stored transaction keeps its own currency and sign.
	if food.Currency != "USD" || !food.Amount.Equal(dec("-50")) {
		t.Fatalf("unexpected stored transaction: %s %s", food.Amount, food.Currency)
	}

	// Deleting restores the pre-add balance exactly (inverse law).
	_, balance, err = engine.DeleteTransaction(ctx, food.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !balance.Amount.Equal(dec("1000")) {
		t.Fatalf("expected 1000.00 after delete, got %s", balance.Amount)
	}
}

func TestAddRollsBackOnMissingRate(t *testing.T) {
	ctx := context.Background()
	engine, st, account, _ := newTestEngine(t)

	_, _, err := engine.AddTransaction(ctx, TransactionInput{
		AccountID:  account.ID,
		UserID:     account.UserID,
		Type:       core.Expense,
		CategoryID: catFood,
		AmountText: "10.00",
		Currency:   "GBP", // no GBP rate stored in either direction
	})
	var noRate *fx.NoRateError
	if !errors.As(err, &noRate) {
		t.Fatalf("expected NoRateError, got %v", err)
	}

	// The persist-then-adjust pair is atomic: no transaction row may survive
	// the failed conversion.
	txs, err := st.ListTransactionsByAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("expected rollback, found %d transactions", len(txs))
	}
	stored, _ := st.GetAccount(ctx, account.ID)
	if !stored.Balance.IsZero() {
		t.Fatalf("expected untouched balance, got %s", stored.Balance)
	}
}

func TestEditWithoutDateKeepsOriginalDate(t *testing.T) {
	ctx := context.Background()
	engine, _, account, _ := newTestEngine(t)

	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	created, _, err := engine.AddTransaction(ctx, TransactionInput{
		AccountID:  account.ID,
		UserID:     account.UserID,
		Date:       date,
		Type:       core.Income,
		CategoryID: catSalary,
		AmountText: "100.00",
		Currency:   "SGD",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// Editing only the amount must not move the transaction in time.
	updated, _, err := engine.EditTransaction(ctx, created.ID, TransactionInput{
		Type:       core.Income,
		CategoryID: catSalary,
		AmountText: "250.00",
		Currency:   "SGD",
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !updated.Date.Equal(date) {
		t.Fatalf("edit re-dated the transaction: was %s, now %s", date, updated.Date)
	}

	// An explicit date still moves it.
	moved := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	updated, _, err = engine.EditTransaction(ctx, created.ID, TransactionInput{
		Date:       moved,
		Type:       core.Income,
		CategoryID: catSalary,
		AmountText: "250.00",
		Currency:   "SGD",
	})
	if err != nil {
		t.Fatalf("edit with date: %v", err)
	}
	if !updated.Date.Equal(moved) {
		t.Fatalf("expected date %s, got %s", moved, updated.Date)
	}
}

func TestEditReconcilesBalance(t *testing.T) {
	ctx := context.Background()
	engine, _, account, _ := newTestEngine(t)

	created, _, err := engine.AddTransaction(ctx, TransactionInput{
		AccountID:  account.ID,
		UserID:     account.UserID,
		Type:       core.Income,
		CategoryID: catSalary,
		AmountText: "100.00",
		Currency:   "SGD",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// Shrinking the amount must reverse the old contribution and apply the
	// new one, not just overwrite the row.
	updated, balance, err := engine.EditTransaction(ctx, created.ID, TransactionInput{
		Type:       core.Income,
		CategoryID: catSalary,
		AmountText: "40.00",
		Currency:   "SGD",
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !updated.Amount.Equal(dec("40")) {
		t.Fatalf("expected 40.00, got %s", updated.Amount)
	}
	if !balance.Amount.Equal(dec("40")) {
		t.Fatalf("expected balance 40.00, got %s", balance.Amount)
	}

	// Flipping the type re-signs and reconciles again: 40 -> -25.
	_, balance, err = engine.EditTransaction(ctx, created.ID, TransactionInput{
		Type:       core.Expense,
		CategoryID: catFood,
		AmountText: "25.00",
		Currency:   "SGD",
	})
	if err != nil {
		t.Fatalf("edit type flip: %v", err)
	}
	if !balance.Amount.Equal(dec("-25")) {
		t.Fatalf("expected balance -25.00, got %s", balance.Amount)
	}
}

func TestValidationRejections(t *testing.T) {
	ctx := context.Background()
	engine, st, account, _ := newTestEngine(t)

	cases := []struct {
		name string
		in   TransactionInput
		err  error
	}{
		{
			"zero amount",
			TransactionInput{AccountID: account.ID, UserID: account.UserID, Type: core.Income, CategoryID: catSalary, AmountText: "0.00", Currency: "SGD"},
			core.ErrZeroAmount,
		},
		{
			"not a number",
			TransactionInput{AccountID: account.ID, UserID: account.UserID, Type: core.Income, CategoryID: catSalary, AmountText: "12x", Currency: "SGD"},
			core.ErrNotANumber,
		},
		{
			"missing category",
			TransactionInput{AccountID: account.ID, UserID: account.UserID, Type: core.Income, AmountText: "5", Currency: "SGD"},
			core.ErrMissingCategory,
		},
		{
			"unknown category",
			TransactionInput{AccountID: account.ID, UserID: account.UserID, Type: core.Income, CategoryID: 999, AmountText: "5", Currency: "SGD"},
			store.ErrNotFound,
		},
		{
			"category type mismatch",
			TransactionInput{AccountID: account.ID, UserID: account.UserID, Type: core.Income, CategoryID: catFood, AmountText: "5", Currency: "SGD"},
			core.ErrCategoryMismatch,
		},
		{
			"bad currency",
			TransactionInput{AccountID: account.ID, UserID: account.UserID, Type: core.Income, CategoryID: catSalary, AmountText: "5", Currency: "DOLLARS"},
			core.ErrInvalidCurrency,
		},
		{
			"unknown account",
			TransactionInput{AccountID: 999, UserID: account.UserID, Type: core.Income, CategoryID: catSalary, AmountText: "5", Currency: "SGD"},
			store.ErrNotFound,
		},
	}
	for _, tc := range cases {
		if _, _, err := engine.AddTransaction(ctx, tc.in); !errors.Is(err, tc.err) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.err, err)
		}
	}

	// None of the rejections may leave side effects behind.
	txs, _ := st.ListTransactionsByAccount(ctx, account.ID)
	if len(txs) != 0 {
		t.Fatalf("expected no persisted transactions, got %d", len(txs))
	}
}

func TestGetBalanceDisplayCurrency(t *testing.T) {
	ctx := context.Background()
	engine, _, account, _ := newTestEngine(t)

	if _, _, err := engine.AddTransaction(ctx, TransactionInput{
		AccountID:  account.ID,
		UserID:     account.UserID,
		Type:       core.Income,
		CategoryID: catSalary,
		AmountText: "100",
		Currency:   "SGD",
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Only EUR->SGD is stored; SGD->EUR resolves via inverse fallback.
	if _, err := engine.UpsertRate(ctx, "EUR", "SGD", dec("1.44")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := engine.GetBalance(ctx, account.ID, "EUR")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !got.Equal(core.Money{Amount: dec("69.44"), Currency: "EUR"}) {
		t.Fatalf("expected 69.44 EUR, got %s", got)
	}

	// Empty display currency means the account's own.
	got, err = engine.GetBalance(ctx, account.ID, "")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !got.Equal(core.Money{Amount: dec("100"), Currency: "SGD"}) {
		t.Fatalf("expected 100.00 SGD, got %s", got)
	}
}

func TestUpsertRate(t *testing.T) {
	ctx := context.Background()
	engine, st, _, _ := newTestEngine(t)

	if _, err := engine.UpsertRate(ctx, "usd", "sgd", dec("1.30")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Second upsert on the same ordered pair overwrites, never duplicates.
	if _, err := engine.UpsertRate(ctx, "USD", "SGD", dec("1.33")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	rates, err := st.ListRates(ctx)
	if err != nil {
		t.Fatalf("list rates: %v", err)
	}
	if len(rates) != 1 {
		t.Fatalf("expected 1 rate record, got %d", len(rates))
	}
	if !rates[0].Rate.Equal(dec("1.33")) {
		t.Fatalf("expected overwritten rate 1.33, got %s", rates[0].Rate)
	}
	if rates[0].UpdatedAt.IsZero() {
		t.Fatalf("expected updated_at stamp")
	}

	if _, err := engine.UpsertRate(ctx, "USD", "SGD", dec("0")); !errors.Is(err, core.ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate for zero, got %v", err)
	}
	if _, err := engine.UpsertRate(ctx, "USD", "SGD", dec("-2")); !errors.Is(err, core.ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate for negative, got %v", err)
	}
	if _, err := engine.UpsertRate(ctx, "USD", "USD", dec("1")); !errors.Is(err, core.ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate for same pair, got %v", err)
	}
}

func TestRedenominateAccount(t *testing.T) {
	ctx := context.Background()
	engine, st, account, _ := newTestEngine(t)

	if _, _, err := engine.AddTransaction(ctx, TransactionInput{
		AccountID:  account.ID,
		UserID:     account.UserID,
		Type:       core.Income,
		CategoryID: catSalary,
		AmountText: "1000",
		Currency:   "SGD",
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := engine.UpsertRate(ctx, "USD", "SGD", dec("1.33")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	redenominated, err := engine.RedenominateAccount(ctx, account.ID, "USD")
	if err != nil {
		t.Fatalf("redenominate: %v", err)
	}
	if redenominated.Currency != "USD" {
		t.Fatalf("expected USD, got %s", redenominated.Currency)
	}
	// 1000 SGD -> USD via inverse of USD->SGD 1.33.
	if !redenominated.Balance.Equal(dec("751.88")) {
		t.Fatalf("expected 751.88, got %s", redenominated.Balance)
	}

	// Historical transaction amounts are reinterpreted, never rewritten.
	txs, _ := st.ListTransactionsByAccount(ctx, account.ID)
	if txs[0].Currency != "SGD" || !txs[0].Amount.Equal(dec("1000")) {
		t.Fatalf("transaction was mutated: %s %s", txs[0].Amount, txs[0].Currency)
	}
}

func TestEventsPublished(t *testing.T) {
	ctx := context.Background()
	engine, _, account, captured := newTestEngine(t)

	created, _, err := engine.AddTransaction(ctx, TransactionInput{
		AccountID:  account.ID,
		UserID:     account.UserID,
		Type:       core.Income,
		CategoryID: catSalary,
		AmountText: "10",
		Currency:   "SGD",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, _, err := engine.DeleteTransaction(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var kinds []events.Kind
	for _, ev := range captured.events {
		kinds = append(kinds, ev.Kind)
		if ev.EventID == "" {
			t.Fatalf("event without id: %+v", ev)
		}
	}
	want := []events.Kind{events.TransactionCreated, events.TransactionDeleted}
	if len(kinds) != len(want) || kinds[0] != want[0] || kinds[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
}
