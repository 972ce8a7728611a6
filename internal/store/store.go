// Package store defines the persistence boundary of the ledger. A Store
// holds users, accounts, transactions, categories and exchange rates; the
// engine mutates it only through scoped transactions.
package store

import (
	"context"
	"errors"

	"moneta/internal/core"
)

// ErrNotFound is returned for unknown identifiers. Implementations wrap it so
// callers can classify with errors.Is.
var ErrNotFound = errors.New("not found")

// Reader is the query surface shared by the store and its transactions.
type Reader interface {
	GetUser(ctx context.Context, id int64) (core.User, error)
	GetAccount(ctx context.Context, id int64) (core.Account, error)
	ListAccounts(ctx context.Context) ([]core.Account, error)
	ListAccountsByUser(ctx context.Context, userID int64) ([]core.Account, error)

	GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
	// ListTransactionsByAccount returns the account's transactions ordered by
	// date ascending, ties broken by id ascending. This is the replay order
	// used by the balance projector.
	ListTransactionsByAccount(ctx context.Context, accountID int64) ([]core.Transaction, error)
	ListTransactionsByUser(ctx context.Context, userID int64) ([]core.Transaction, error)

	GetCategory(ctx context.Context, id int64) (core.Category, error)
	ListCategories(ctx context.Context) ([]core.Category, error)

	// LookupRate returns the rate record for the ordered pair (from, to).
	// The absent inverse record is expected and reported via ok=false.
	LookupRate(ctx context.Context, from, to string) (rate core.ExchangeRate, ok bool, err error)
	ListRates(ctx context.Context) ([]core.ExchangeRate, error)
}

// Writer is the mutation surface, only reachable through WithinTx.
type Writer interface {
	CreateUser(ctx context.Context, u core.User) (core.User, error)
	CreateAccount(ctx context.Context, a core.Account) (core.Account, error)
	UpdateAccount(ctx context.Context, a core.Account) error
	// DeleteAccount removes the account and cascades to its transactions.
	DeleteAccount(ctx context.Context, id int64) error

	CreateCategory(ctx context.Context, c core.Category) (core.Category, error)

	CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, t core.Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error

	// UpsertRate inserts or overwrites the unique (from, to) record.
	UpsertRate(ctx context.Context, r core.ExchangeRate) error
}

// Tx is the handle passed to a scoped transaction body.
type Tx interface {
	Reader
	Writer
}

// Store is a ledger store handle. Direct reads see the last committed state;
// all writes go through WithinTx.
type Store interface {
	Reader

	// WithinTx runs fn as a scoped transaction: every write fn performs is
	// committed atomically when fn returns nil, and rolled back entirely when
	// fn returns an error. Callers never observe a partially applied fn.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}
