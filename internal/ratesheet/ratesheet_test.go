package ratesheet

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseRow(t *testing.T) {
	row, err := parseRow([]any{" usd ", "sgd", "1.33"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if row.From != "USD" || row.To != "SGD" || !row.Rate.Equal(decimal.RequireFromString("1.33")) {
		t.Fatalf("unexpected row: %+v", row)
	}

	// Numeric cells arrive as float64 from the Sheets API.
	row, err = parseRow([]any{"EUR", "SGD", 1.44})
	if err != nil {
		t.Fatalf("parse numeric cell: %v", err)
	}
	if !row.Rate.Equal(decimal.RequireFromString("1.44")) {
		t.Fatalf("unexpected rate: %s", row.Rate)
	}

	if _, err := parseRow([]any{"From", "To", "Rate"}); err == nil {
		t.Fatalf("expected header row to fail parsing")
	}
	if _, err := parseRow([]any{"USD"}); err == nil {
		t.Fatalf("expected short row to fail parsing")
	}
}
