package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  TransactionType = "INCOME"
	Expense TransactionType = "EXPENSE"
)

type (
	// TransactionType discriminates the two kinds of monetary events.
	TransactionType string

	User struct {
		ID        int64
		Username  string
		Email     string
		CreatedAt time.Time
	}

	// Account is a holding of funds in a single display currency. Balance is
	// the cached sum, converted into Currency, of all non-deleted transactions
	// of the account. It is only ever written by the ledger engine.
	Account struct {
		ID        int64
		UserID    int64
		Name      string
		Currency  string
		Balance   decimal.Decimal
		CreatedAt time.Time
	}

	// Transaction is a single signed monetary event. Amount carries the sign
	// convention: always <= 0 for Expense, >= 0 for Income, in Currency
	// (which may differ from the owning account's currency).
	Transaction struct {
		ID          int64
		AccountID   int64
		UserID      int64
		Date        time.Time
		Type        TransactionType
		CategoryID  int64
		Amount      decimal.Decimal
		Currency    string
		Description string
		CreatedAt   time.Time
	}

	Category struct {
		ID        int64
		Name      string
		Type      TransactionType
		CreatedAt time.Time
	}

	// ExchangeRate is a directed conversion factor: 1 unit of FromCurrency
	// equals Rate units of ToCurrency. At most one record exists per ordered
	// pair; the inverse pair is an independent record and is usually absent.
	ExchangeRate struct {
		FromCurrency string
		ToCurrency   string
		Rate         decimal.Decimal
		UpdatedAt    time.Time
	}
)

var (
	ErrNotANumber       = errors.New("amount is not a number")
	ErrZeroAmount       = errors.New("amount rounds to zero")
	ErrInvalidRate      = errors.New("invalid exchange rate")
	ErrInvalidCurrency  = errors.New("invalid currency code")
	ErrInvalidType      = errors.New("invalid transaction type")
	ErrMissingCategory  = errors.New("missing category")
	ErrCategoryMismatch = errors.New("category type does not match transaction type")
	ErrSignMismatch     = errors.New("amount sign does not match transaction type")
	ErrEmptyName        = errors.New("empty name")
	ErrZeroDate         = errors.New("date cannot be zero")
	ErrLongDescription  = errors.New("description too long (max 200 characters)")
)

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

// Signed forces the sign convention of the type onto amount: absolute value
// for Income, negated absolute value for Expense. Caller-supplied signs are
// never trusted.
func (t TransactionType) Signed(amount decimal.Decimal) decimal.Decimal {
	if t == Expense {
		return amount.Abs().Neg()
	}
	return amount.Abs()
}

// ValidCurrency reports whether code is a 3-letter uppercase currency code.
// Codes are not checked against ISO 4217.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func (a Account) Validate() error {
	if len(strings.TrimSpace(a.Name)) == 0 {
		return ErrEmptyName
	}
	if !ValidCurrency(a.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

func (tx Transaction) Validate() error {
	if !tx.Type.Valid() {
		return ErrInvalidType
	}
	if !ValidCurrency(tx.Currency) {
		return ErrInvalidCurrency
	}
	if tx.CategoryID == 0 {
		return ErrMissingCategory
	}
	if tx.Date.IsZero() {
		return ErrZeroDate
	}
	if tx.Type == Expense && tx.Amount.IsPositive() {
		return ErrSignMismatch
	}
	if tx.Type == Income && tx.Amount.IsNegative() {
		return ErrSignMismatch
	}
	if len(tx.Description) > 200 {
		return ErrLongDescription
	}
	return nil
}

func (c Category) Validate() error {
	if len(strings.TrimSpace(c.Name)) == 0 {
		return ErrEmptyName
	}
	if !c.Type.Valid() {
		return ErrInvalidType
	}
	return nil
}

func (r ExchangeRate) Validate() error {
	if !ValidCurrency(r.FromCurrency) || !ValidCurrency(r.ToCurrency) {
		return ErrInvalidCurrency
	}
	if r.FromCurrency == r.ToCurrency {
		return ErrInvalidRate
	}
	if !r.Rate.IsPositive() {
		return ErrInvalidRate
	}
	return nil
}
