// Package memory provides an in-process ledger store, used as the default
// backend and as the test double for the engine.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"moneta/internal/core"
	"moneta/internal/store"
)

// Store keeps the whole ledger in maps guarded by one mutex. WithinTx holds
// the lock for the duration of the scoped transaction and restores a snapshot
// when the body fails, so rollback semantics match the SQLite backend.
type Store struct {
	mu   sync.Mutex
	data *data
}

type data struct {
	users        map[int64]core.User
	accounts     map[int64]core.Account
	categories   map[int64]core.Category
	transactions map[int64]core.Transaction
	rates        map[string]core.ExchangeRate // keyed FROM->TO

	nextUser        int64
	nextAccount     int64
	nextCategory    int64
	nextTransaction int64
}

// DefaultCategories is the seed set created on a fresh store, mirroring the
// SQLite seed migration.
var DefaultCategories = []core.Category{
	{Name: "Salary", Type: core.Income},
	{Name: "Investment", Type: core.Income},
	{Name: "Food", Type: core.Expense},
	{Name: "Transport", Type: core.Expense},
	{Name: "Utilities", Type: core.Expense},
	{Name: "Entertainment", Type: core.Expense},
	{Name: "Other Income", Type: core.Income},
	{Name: "Other Expense", Type: core.Expense},
}

// New returns an empty store pre-seeded with the default categories.
func New() *Store {
	d := &data{
		users:        map[int64]core.User{},
		accounts:     map[int64]core.Account{},
		categories:   map[int64]core.Category{},
		transactions: map[int64]core.Transaction{},
		rates:        map[string]core.ExchangeRate{},
	}
	for _, c := range DefaultCategories {
		d.nextCategory++
		c.ID = d.nextCategory
		c.CreatedAt = time.Now().UTC()
		d.categories[c.ID] = c
	}
	return &Store{data: d}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Close() error { return nil }

// WithinTx runs fn while holding the store lock. The pre-image is kept as a
// deep copy and restored when fn fails.
func (s *Store) WithinTx(_ context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&memTx{d: s.data}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (d *data) clone() *data {
	c := &data{
		users:           make(map[int64]core.User, len(d.users)),
		accounts:        make(map[int64]core.Account, len(d.accounts)),
		categories:      make(map[int64]core.Category, len(d.categories)),
		transactions:    make(map[int64]core.Transaction, len(d.transactions)),
		rates:           make(map[string]core.ExchangeRate, len(d.rates)),
		nextUser:        d.nextUser,
		nextAccount:     d.nextAccount,
		nextCategory:    d.nextCategory,
		nextTransaction: d.nextTransaction,
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.categories {
		c.categories[k] = v
	}
	for k, v := range d.transactions {
		c.transactions[k] = v
	}
	for k, v := range d.rates {
		c.rates[k] = v
	}
	return c
}

// Reader methods on Store take the lock and delegate to the shared views.

func (s *Store) GetUser(ctx context.Context, id int64) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{d: s.data}).GetUser(ctx, id)
}

func (s *Store) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{d: s.data}).GetAccount(ctx, id)
}

func (s *Store) ListAccounts(ctx context.Context) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{d: s.data}).ListAccounts(ctx)
}

func (s *Store) ListAccountsByUser(ctx context.Context, userID int64) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{d: s.data}).ListAccountsByUser(ctx, userID)
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{d: s.data}).GetTransaction(ctx, id)
}

func (s *Store) ListTransactionsByAccount(ctx context.Context, accountID int64) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{d: s.data}).ListTransactionsByAccount(ctx, accountID)
}

func (s *Store) ListTransactionsByUser(ctx context.Context, userID int64) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{d: s.data}).ListTransactionsByUser(ctx, userID)
}

func (s *Store) GetCategory(ctx context.Context, id int64) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{d: s.data}).GetCategory(ctx, id)
}

func (s *Store) ListCategories(ctx context.Context) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{d: s.data}).ListCategories(ctx)
}

func (s *Store) LookupRate(ctx context.Context, from, to string) (core.ExchangeRate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{d: s.data}).LookupRate(ctx, from, to)
}

func (s *Store) ListRates(ctx context.Context) ([]core.ExchangeRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{d: s.data}).ListRates(ctx)
}

// memTx operates on the live data while the store lock is held.
type memTx struct {
	d *data
}

var _ store.Tx = (*memTx)(nil)

func rateKey(from, to string) string { return from + "->" + to }

func (t *memTx) GetUser(_ context.Context, id int64) (core.User, error) {
	u, ok := t.d.users[id]
	if !ok {
		return core.User{}, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
	}
	return u, nil
}

func (t *memTx) GetAccount(_ context.Context, id int64) (core.Account, error) {
	a, ok := t.d.accounts[id]
	if !ok {
		return core.Account{}, fmt.Errorf("account %d: %w", id, store.ErrNotFound)
	}
	return a, nil
}

func (t *memTx) ListAccounts(_ context.Context) ([]core.Account, error) {
	out := make([]core.Account, 0, len(t.d.accounts))
	for _, a := range t.d.accounts {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b core.Account) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *memTx) ListAccountsByUser(_ context.Context, userID int64) ([]core.Account, error) {
	var out []core.Account
	for _, a := range t.d.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b core.Account) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *memTx) GetTransaction(_ context.Context, id int64) (core.Transaction, error) {
	tx, ok := t.d.transactions[id]
	if !ok {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, store.ErrNotFound)
	}
	return tx, nil
}

func sortReplayOrder(txs []core.Transaction) {
	slices.SortStableFunc(txs, func(a, b core.Transaction) int {
		if a.Date.Before(b.Date) {
			return -1
		}
		if a.Date.After(b.Date) {
			return 1
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func (t *memTx) ListTransactionsByAccount(_ context.Context, accountID int64) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, tx := range t.d.transactions {
		if tx.AccountID == accountID {
			out = append(out, tx)
		}
	}
	sortReplayOrder(out)
	return out, nil
}

func (t *memTx) ListTransactionsByUser(_ context.Context, userID int64) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, tx := range t.d.transactions {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	sortReplayOrder(out)
	return out, nil
}

func (t *memTx) GetCategory(_ context.Context, id int64) (core.Category, error) {
	c, ok := t.d.categories[id]
	if !ok {
		return core.Category{}, fmt.Errorf("category %d: %w", id, store.ErrNotFound)
	}
	return c, nil
}

func (t *memTx) ListCategories(_ context.Context) ([]core.Category, error) {
	out := make([]core.Category, 0, len(t.d.categories))
	for _, c := range t.d.categories {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b core.Category) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *memTx) LookupRate(_ context.Context, from, to string) (core.ExchangeRate, bool, error) {
	r, ok := t.d.rates[rateKey(from, to)]
	return r, ok, nil
}

func (t *memTx) ListRates(_ context.Context) ([]core.ExchangeRate, error) {
	out := make([]core.ExchangeRate, 0, len(t.d.rates))
	for _, r := range t.d.rates {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b core.ExchangeRate) int {
		if c := cmpString(a.FromCurrency, b.FromCurrency); c != 0 {
			return c
		}
		return cmpString(a.ToCurrency, b.ToCurrency)
	})
	return out, nil
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (t *memTx) CreateUser(_ context.Context, u core.User) (core.User, error) {
	t.d.nextUser++
	u.ID = t.d.nextUser
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	t.d.users[u.ID] = u
	return u, nil
}

func (t *memTx) CreateAccount(_ context.Context, a core.Account) (core.Account, error) {
	t.d.nextAccount++
	a.ID = t.d.nextAccount
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	t.d.accounts[a.ID] = a
	return a, nil
}

func (t *memTx) UpdateAccount(_ context.Context, a core.Account) error {
	if _, ok := t.d.accounts[a.ID]; !ok {
		return fmt.Errorf("account %d: %w", a.ID, store.ErrNotFound)
	}
	t.d.accounts[a.ID] = a
	return nil
}

func (t *memTx) DeleteAccount(_ context.Context, id int64) error {
	if _, ok := t.d.accounts[id]; !ok {
		return fmt.Errorf("account %d: %w", id, store.ErrNotFound)
	}
	delete(t.d.accounts, id)
	for txID, tx := range t.d.transactions {
		if tx.AccountID == id {
			delete(t.d.transactions, txID)
		}
	}
	return nil
}

func (t *memTx) CreateCategory(_ context.Context, c core.Category) (core.Category, error) {
	t.d.nextCategory++
	c.ID = t.d.nextCategory
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	t.d.categories[c.ID] = c
	return c, nil
}

func (t *memTx) CreateTransaction(_ context.Context, tx core.Transaction) (core.Transaction, error) {
	t.d.nextTransaction++
	tx.ID = t.d.nextTransaction
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	t.d.transactions[tx.ID] = tx
	return tx, nil
}

func (t *memTx) UpdateTransaction(_ context.Context, tx core.Transaction) error {
	if _, ok := t.d.transactions[tx.ID]; !ok {
		return fmt.Errorf("transaction %d: %w", tx.ID, store.ErrNotFound)
	}
	t.d.transactions[tx.ID] = tx
	return nil
}

func (t *memTx) DeleteTransaction(_ context.Context, id int64) error {
	if _, ok := t.d.transactions[id]; !ok {
		return fmt.Errorf("transaction %d: %w", id, store.ErrNotFound)
	}
	delete(t.d.transactions, id)
	return nil
}

func (t *memTx) UpsertRate(_ context.Context, r core.ExchangeRate) error {
	t.d.rates[rateKey(r.FromCurrency, r.ToCurrency)] = r
	return nil
}
