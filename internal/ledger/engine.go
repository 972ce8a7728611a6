// Package ledger implements the transaction engine and the balance
// projector. The engine is the only code that mutates account balances; every
// mutation runs as a scoped store transaction so a transaction row and its
// balance adjustment commit or roll back together.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
	"moneta/internal/events"
	"moneta/internal/fx"
	"moneta/internal/store"
)

// Notifier receives events after a mutation has committed. Publishing is
// best-effort: a failed publish is logged, never surfaced to the caller.
type Notifier interface {
	PublishLedgerEvent(ctx context.Context, ev events.Event) error
}

// Engine validates transaction input, applies the sign convention and keeps
// every account's stored balance consistent with its transaction history.
type Engine struct {
	store  store.Store
	notify Notifier
}

// NewEngine wires the engine to its store. notify may be nil when no event
// bus is configured.
func NewEngine(st store.Store, notify Notifier) *Engine {
	return &Engine{store: st, notify: notify}
}

// TransactionInput is the caller-facing shape of an add or edit request. The
// amount arrives as text exactly as entered; the engine owns parsing and
// signing.
type TransactionInput struct {
	AccountID   int64
	UserID      int64
	Date        time.Time
	Type        core.TransactionType
	CategoryID  int64
	AmountText  string
	Currency    string
	Description string
}

// ValidateAmount parses amount text into a signed decimal rounded half-up to
// 2 decimal places. See core.ParseAmount for the accepted grammar.
func (e *Engine) ValidateAmount(text string) (decimal.Decimal, error) {
	return core.ParseAmount(text)
}

// AddTransaction validates in, persists the transaction and adds its
// converted amount to the account balance, all within one scoped store
// transaction. It returns the created transaction and the new balance in the
// account's currency.
func (e *Engine) AddTransaction(ctx context.Context, in TransactionInput) (core.Transaction, core.Money, error) {
	var (
		created core.Transaction
		account core.Account
	)
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		account, err = tx.GetAccount(ctx, in.AccountID)
		if err != nil {
			return err
		}

		draft, err := buildTransaction(ctx, tx, in)
		if err != nil {
			return err
		}
		draft.AccountID = account.ID
		draft.UserID = in.UserID

		created, err = tx.CreateTransaction(ctx, draft)
		if err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}

		delta, err := fx.New(tx).Convert(ctx, created.Amount, created.Currency, account.Currency)
		if err != nil {
			return err
		}
		return applyDelta(ctx, tx, &account, delta)
	})
	if err != nil {
		return core.Transaction{}, core.Money{}, err
	}

	e.publish(ctx, events.NewEvent(events.TransactionCreated, account.ID, created.ID))
	slog.InfoContext(ctx, "Transaction added",
		"transaction_id", created.ID,
		"account_id", account.ID,
		"amount", created.Amount.StringFixed(2),
		"currency", created.Currency,
		"balance", account.Balance.StringFixed(2))
	return created, core.NewMoney(account.Balance, account.Currency), nil
}

// EditTransaction re-validates and re-signs the amount exactly as
// AddTransaction does, replaces the transaction's fields and reconciles the
// account balance: the old contribution is reversed and the new one applied
// in the same scoped transaction.
func (e *Engine) EditTransaction(ctx context.Context, id int64, in TransactionInput) (core.Transaction, core.Money, error) {
	var (
		updated core.Transaction
		account core.Account
	)
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		old, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		account, err = tx.GetAccount(ctx, old.AccountID)
		if err != nil {
			return err
		}

		conv := fx.New(tx)
		oldDelta, err := conv.Convert(ctx, old.Amount, old.Currency, account.Currency)
		if err != nil {
			return err
		}

		// An omitted date keeps the transaction where it is; only an explicit
		// date moves it in the replay order.
		if in.Date.IsZero() {
			in.Date = old.Date
		}
		draft, err := buildTransaction(ctx, tx, in)
		if err != nil {
			return err
		}
		updated = old
		updated.Date = draft.Date
		updated.Type = draft.Type
		updated.CategoryID = draft.CategoryID
		updated.Amount = draft.Amount
		updated.Currency = draft.Currency
		updated.Description = draft.Description
		if err := tx.UpdateTransaction(ctx, updated); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}

		newDelta, err := conv.Convert(ctx, updated.Amount, updated.Currency, account.Currency)
		if err != nil {
			return err
		}
		return applyDelta(ctx, tx, &account, newDelta.Sub(oldDelta))
	})
	if err != nil {
		return core.Transaction{}, core.Money{}, err
	}

	e.publish(ctx, events.NewEvent(events.TransactionUpdated, account.ID, updated.ID))
	slog.InfoContext(ctx, "Transaction edited",
		"transaction_id", updated.ID,
		"account_id", account.ID,
		"balance", account.Balance.StringFixed(2))
	return updated, core.NewMoney(account.Balance, account.Currency), nil
}

// DeleteTransaction removes the transaction and subtracts its converted
// amount from the account balance, atomically with the deletion. The removed
// transaction is returned.
func (e *Engine) DeleteTransaction(ctx context.Context, id int64) (core.Transaction, core.Money, error) {
	var (
		removed core.Transaction
		account core.Account
	)
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		removed, err = tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		account, err = tx.GetAccount(ctx, removed.AccountID)
		if err != nil {
			return err
		}

		delta, err := fx.New(tx).Convert(ctx, removed.Amount, removed.Currency, account.Currency)
		if err != nil {
			return err
		}
		if err := tx.DeleteTransaction(ctx, id); err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		return applyDelta(ctx, tx, &account, delta.Neg())
	})
	if err != nil {
		return core.Transaction{}, core.Money{}, err
	}

	e.publish(ctx, events.NewEvent(events.TransactionDeleted, account.ID, removed.ID))
	slog.InfoContext(ctx, "Transaction deleted",
		"transaction_id", removed.ID,
		"account_id", account.ID,
		"balance", account.Balance.StringFixed(2))
	return removed, core.NewMoney(account.Balance, account.Currency), nil
}

// GetBalance returns the account's stored balance converted into
// displayCurrency. An empty displayCurrency means the account's own currency.
func (e *Engine) GetBalance(ctx context.Context, accountID int64, displayCurrency string) (core.Money, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return core.Money{}, err
	}
	display := normalizeCurrency(displayCurrency)
	if display == "" {
		display = account.Currency
	}
	if !core.ValidCurrency(display) {
		return core.Money{}, core.ErrInvalidCurrency
	}
	amount, err := fx.New(e.store).Convert(ctx, account.Balance, account.Currency, display)
	if err != nil {
		return core.Money{}, err
	}
	return core.Money{Amount: amount, Currency: display}, nil
}

// UpsertRate inserts or overwrites the directed (from, to) rate record and
// stamps it. The inverse record is never touched.
func (e *Engine) UpsertRate(ctx context.Context, from, to string, rate decimal.Decimal) (core.ExchangeRate, error) {
	rec := core.ExchangeRate{
		FromCurrency: normalizeCurrency(from),
		ToCurrency:   normalizeCurrency(to),
		Rate:         rate,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := rec.Validate(); err != nil {
		return core.ExchangeRate{}, err
	}
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		return tx.UpsertRate(ctx, rec)
	})
	if err != nil {
		return core.ExchangeRate{}, fmt.Errorf("upsert rate: %w", err)
	}

	e.publish(ctx, events.NewEvent(events.RateUpserted, 0, 0))
	slog.InfoContext(ctx, "Exchange rate upserted",
		"from", rec.FromCurrency,
		"to", rec.ToCurrency,
		"rate", rec.Rate.String())
	return rec, nil
}

// RedenominateAccount changes the account's display currency. Historical
// transaction amounts are never rewritten; the stored balance is recomputed
// by replaying the transaction log into the new currency.
func (e *Engine) RedenominateAccount(ctx context.Context, accountID int64, newCurrency string) (core.Account, error) {
	currency := normalizeCurrency(newCurrency)
	if !core.ValidCurrency(currency) {
		return core.Account{}, core.ErrInvalidCurrency
	}

	var account core.Account
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		account, err = tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if account.Currency == currency {
			return nil
		}

		txs, err := tx.ListTransactionsByAccount(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}
		final, err := FinalBalance(ctx, tx, currency, txs)
		if err != nil {
			return err
		}

		account.Currency = currency
		account.Balance = final.Amount
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Account{}, err
	}

	e.publish(ctx, events.NewEvent(events.AccountRedenominated, account.ID, 0))
	slog.InfoContext(ctx, "Account redenominated",
		"account_id", account.ID,
		"currency", account.Currency,
		"balance", account.Balance.StringFixed(2))
	return account, nil
}

// CreateAccount opens a new account with a zero balance.
func (e *Engine) CreateAccount(ctx context.Context, userID int64, name, currency string) (core.Account, error) {
	account := core.Account{
		UserID:   userID,
		Name:     strings.TrimSpace(name),
		Currency: normalizeCurrency(currency),
		Balance:  decimal.Zero,
	}
	if err := account.Validate(); err != nil {
		return core.Account{}, err
	}
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		var err error
		account, err = tx.CreateAccount(ctx, account)
		return err
	})
	if err != nil {
		return core.Account{}, err
	}
	return account, nil
}

// CreateCategory registers a named classification for grouping transactions.
func (e *Engine) CreateCategory(ctx context.Context, name string, typ core.TransactionType) (core.Category, error) {
	category := core.Category{Name: strings.TrimSpace(name), Type: typ}
	if err := category.Validate(); err != nil {
		return core.Category{}, err
	}
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		category, err = tx.CreateCategory(ctx, category)
		return err
	})
	if err != nil {
		return core.Category{}, err
	}
	return category, nil
}

// CreateUser registers a user. Authentication lives outside the engine.
func (e *Engine) CreateUser(ctx context.Context, username, email string) (core.User, error) {
	if strings.TrimSpace(username) == "" {
		return core.User{}, core.ErrEmptyName
	}
	user := core.User{Username: strings.TrimSpace(username), Email: strings.TrimSpace(email)}
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		user, err = tx.CreateUser(ctx, user)
		return err
	})
	if err != nil {
		return core.User{}, err
	}
	return user, nil
}

// buildTransaction turns caller input into a validated, signed transaction
// draft. The amount sign is always forced by the type; the category must
// exist and its type must match the transaction type.
func buildTransaction(ctx context.Context, tx store.Tx, in TransactionInput) (core.Transaction, error) {
	amount, err := core.ParseAmount(in.AmountText)
	if err != nil {
		return core.Transaction{}, err
	}
	if !in.Type.Valid() {
		return core.Transaction{}, core.ErrInvalidType
	}
	if in.CategoryID == 0 {
		return core.Transaction{}, core.ErrMissingCategory
	}
	category, err := tx.GetCategory(ctx, in.CategoryID)
	if err != nil {
		return core.Transaction{}, err
	}
	if category.Type != in.Type {
		return core.Transaction{}, core.ErrCategoryMismatch
	}

	date := in.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	draft := core.Transaction{
		AccountID:   in.AccountID,
		UserID:      in.UserID,
		Date:        date,
		Type:        in.Type,
		CategoryID:  category.ID,
		Amount:      in.Type.Signed(amount),
		Currency:    normalizeCurrency(in.Currency),
		Description: strings.TrimSpace(in.Description),
	}
	if err := draft.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return draft, nil
}

// applyDelta is the single write path for Account.Balance.
func applyDelta(ctx context.Context, tx store.Tx, account *core.Account, delta decimal.Decimal) error {
	account.Balance = account.Balance.Add(delta).Round(2)
	if err := tx.UpdateAccount(ctx, *account); err != nil {
		return fmt.Errorf("update account balance: %w", err)
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if e.notify == nil {
		return
	}
	if err := e.notify.PublishLedgerEvent(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"event_id", ev.EventID,
			"kind", ev.Kind,
			"error", err)
	}
}

func normalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
