// Package storage implements the ledger store on SQLite. Monetary amounts
// are persisted as integer cents; exchange rates are persisted as decimal
// text so no precision is lost round-tripping through the database.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
	"moneta/internal/store"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements store.Store on a single database file.
type SQLiteStore struct {
	db *sql.DB
	queries
}

var _ store.Store = (*SQLiteStore)(nil)

// New opens (creating if needed) the database at dbPath and runs migrations.
func New(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, queries: queries{db: db}}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// WithinTx runs fn inside a database transaction. Any error from fn rolls
// the whole transaction back.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&sqliteTx{queries{db: dbTx}}); err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type sqliteTx struct {
	queries
}

var _ store.Tx = (*sqliteTx)(nil)

// dbtx is the subset of *sql.DB and *sql.Tx the queries need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

// cents converts a 2-decimal amount to integer cents for storage.
func cents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func notFound(entity string, id int64) error {
	return fmt.Errorf("%s %d: %w", entity, id, store.ErrNotFound)
}

func (q queries) GetUser(ctx context.Context, id int64) (core.User, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, username, email, created_at FROM users WHERE id = ?`, id)
	var u core.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.User{}, notFound("user", id)
		}
		return core.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (q queries) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	now := time.Now().UTC()
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO users (username, email, created_at) VALUES (?, ?, ?)`,
		u.Username, u.Email, now)
	if err != nil {
		return core.User{}, fmt.Errorf("insert user: %w", err)
	}
	u.ID, err = res.LastInsertId()
	if err != nil {
		return core.User{}, fmt.Errorf("user id: %w", err)
	}
	u.CreatedAt = now
	return u, nil
}

const accountColumns = `id, user_id, name, currency, balance_cents, created_at`

func scanAccount(row interface{ Scan(...any) error }) (core.Account, error) {
	var (
		a            core.Account
		balanceCents int64
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Currency, &balanceCents, &a.CreatedAt); err != nil {
		return core.Account{}, err
	}
	a.Balance = fromCents(balanceCents)
	return a, nil
}

func (q queries) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Account{}, notFound("account", id)
		}
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (q queries) listAccounts(ctx context.Context, query string, args ...any) ([]core.Account, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (q queries) ListAccounts(ctx context.Context) ([]core.Account, error) {
	return q.listAccounts(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
}

func (q queries) ListAccountsByUser(ctx context.Context, userID int64) ([]core.Account, error) {
	return q.listAccounts(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? ORDER BY id`, userID)
}

func (q queries) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	now := time.Now().UTC()
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, name, currency, balance_cents, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		a.UserID, a.Name, a.Currency, cents(a.Balance), now)
	if err != nil {
		return core.Account{}, fmt.Errorf("insert account: %w", err)
	}
	a.ID, err = res.LastInsertId()
	if err != nil {
		return core.Account{}, fmt.Errorf("account id: %w", err)
	}
	a.CreatedAt = now
	return a, nil
}

func (q queries) UpdateAccount(ctx context.Context, a core.Account) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET name = ?, currency = ?, balance_cents = ? WHERE id = ?`,
		a.Name, a.Currency, cents(a.Balance), a.ID)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return requireRow(res, "account", a.ID)
}

func (q queries) DeleteAccount(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE account_id = ?`, id); err != nil {
		return fmt.Errorf("delete account transactions: %w", err)
	}
	res, err := q.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return requireRow(res, "account", id)
}

func (q queries) GetCategory(ctx context.Context, id int64) (core.Category, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, name, type, created_at FROM categories WHERE id = ?`, id)
	var c core.Category
	if err := row.Scan(&c.ID, &c.Name, &c.Type, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Category{}, notFound("category", id)
		}
		return core.Category{}, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

func (q queries) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, name, type, created_at FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (q queries) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	now := time.Now().UTC()
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO categories (name, type, created_at) VALUES (?, ?, ?)`,
		c.Name, c.Type, now)
	if err != nil {
		return core.Category{}, fmt.Errorf("insert category: %w", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return core.Category{}, fmt.Errorf("category id: %w", err)
	}
	c.CreatedAt = now
	return c, nil
}

const transactionColumns = `id, account_id, user_id, date, type, category_id, amount_cents, currency, description, created_at`

func scanTransaction(row interface{ Scan(...any) error }) (core.Transaction, error) {
	var (
		t           core.Transaction
		amountCents int64
	)
	err := row.Scan(&t.ID, &t.AccountID, &t.UserID, &t.Date, &t.Type,
		&t.CategoryID, &amountCents, &t.Currency, &t.Description, &t.CreatedAt)
	if err != nil {
		return core.Transaction{}, err
	}
	t.Amount = fromCents(amountCents)
	return t, nil
}

func (q queries) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Transaction{}, notFound("transaction", id)
		}
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (q queries) listTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (q queries) ListTransactionsByAccount(ctx context.Context, accountID int64) ([]core.Transaction, error) {
	// date then id is the projector's replay order.
	return q.listTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE account_id = ? ORDER BY date, id`, accountID)
}

func (q queries) ListTransactionsByUser(ctx context.Context, userID int64) ([]core.Transaction, error) {
	return q.listTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE user_id = ? ORDER BY date, id`, userID)
}

func (q queries) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	now := time.Now().UTC()
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO transactions (account_id, user_id, date, type, category_id, amount_cents, currency, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.AccountID, t.UserID, t.Date.UTC(), t.Type, t.CategoryID,
		cents(t.Amount), t.Currency, t.Description, now)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction id: %w", err)
	}
	t.CreatedAt = now
	return t, nil
}

func (q queries) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE transactions
		 SET date = ?, type = ?, category_id = ?, amount_cents = ?, currency = ?, description = ?
		 WHERE id = ?`,
		t.Date.UTC(), t.Type, t.CategoryID, cents(t.Amount), t.Currency, t.Description, t.ID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return requireRow(res, "transaction", t.ID)
}

func (q queries) DeleteTransaction(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return requireRow(res, "transaction", id)
}

func (q queries) LookupRate(ctx context.Context, from, to string) (core.ExchangeRate, bool, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT from_currency, to_currency, rate, updated_at
		 FROM exchange_rates WHERE from_currency = ? AND to_currency = ?`, from, to)
	r, err := scanRate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ExchangeRate{}, false, nil
		}
		return core.ExchangeRate{}, false, fmt.Errorf("lookup rate: %w", err)
	}
	return r, true, nil
}

func scanRate(row interface{ Scan(...any) error }) (core.ExchangeRate, error) {
	var (
		r    core.ExchangeRate
		text string
	)
	if err := row.Scan(&r.FromCurrency, &r.ToCurrency, &text, &r.UpdatedAt); err != nil {
		return core.ExchangeRate{}, err
	}
	rate, err := decimal.NewFromString(text)
	if err != nil {
		return core.ExchangeRate{}, fmt.Errorf("parse stored rate %q: %w", text, err)
	}
	r.Rate = rate
	return r, nil
}

func (q queries) ListRates(ctx context.Context) ([]core.ExchangeRate, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT from_currency, to_currency, rate, updated_at
		 FROM exchange_rates ORDER BY from_currency, to_currency`)
	if err != nil {
		return nil, fmt.Errorf("list rates: %w", err)
	}
	defer rows.Close()

	var rates []core.ExchangeRate
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rate: %w", err)
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

func (q queries) UpsertRate(ctx context.Context, r core.ExchangeRate) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO exchange_rates (from_currency, to_currency, rate, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (from_currency, to_currency)
		 DO UPDATE SET rate = excluded.rate, updated_at = excluded.updated_at`,
		r.FromCurrency, r.ToCurrency, r.Rate.String(), r.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert rate: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}
