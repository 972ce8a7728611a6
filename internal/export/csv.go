// Package export renders account statements as CSV files. A statement row
// pairs each transaction with the running balance after it, in the account's
// display currency.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"moneta/internal/ledger"
)

var header = []string{"Date", "Type", "Category", "Amount", "Balance"}

// CategoryNamer resolves a category ID to its display name. Unknown IDs
// return an empty string.
type CategoryNamer func(id int64) string

// WriteStatement writes the projected entries to w as CSV. Amounts are
// formatted in the transaction's own currency, running balances in the
// projection's display currency.
func WriteStatement(w io.Writer, entries []ledger.Entry, categoryName CategoryNamer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, entry := range entries {
		t := entry.Transaction
		row := []string{
			t.Date.Format("2006-01-02"),
			string(t.Type),
			categoryName(t.CategoryID),
			formatAmount(t.Amount, t.Currency),
			formatAmount(entry.Running.Amount, entry.Running.Currency),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush statement: %w", err)
	}
	return nil
}

// WriteStatementFile writes the statement to path atomically: readers of a
// previously exported file never observe a partial rewrite.
func WriteStatementFile(path string, entries []ledger.Entry, categoryName CategoryNamer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp statement: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteStatement(tmp, entries, categoryName); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp statement: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace statement: %w", err)
	}
	return nil
}

// formatAmount renders a 2-decimal amount with its currency's symbol and
// separators, for example "-$66.50". Unknown currency codes fall back to the
// code itself.
func formatAmount(d decimal.Decimal, currency string) string {
	return money.New(centsOf(d), currency).Display()
}

func centsOf(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}
