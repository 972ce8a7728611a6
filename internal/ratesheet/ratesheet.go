// Package ratesheet reads exchange rates from an operator-maintained Google
// Sheet. Each row of the rates sheet holds a directed pair and its factor:
// from, to, rate. The rate-import command feeds the rows into the ledger's
// rate table.
package ratesheet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Row is one parsed rate line from the sheet.
type Row struct {
	From string
	To   string
	Rate decimal.Decimal
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

// NewFromEnv creates a client using environment variables.
// Required: GOOGLE_SPREADSHEET_ID plus service account credentials in
// GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or
// GOOGLE_APPLICATION_CREDENTIALS.
// Optional: GOOGLE_RATES_SHEET_NAME (default "Rates").
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	sheetName := strings.TrimSpace(os.Getenv("GOOGLE_RATES_SHEET_NAME"))
	if sheetName == "" {
		sheetName = "Rates"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName}, nil
}

// newSheetsService initializes a Sheets Service using Service Account
// credentials.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsReadonlyScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// Fetch reads and parses every rate row. The first row is treated as a
// header when its rate column is not numeric; malformed rows are skipped
// with a warning rather than failing the whole import.
func (c *Client) Fetch(ctx context.Context) ([]Row, error) {
	rng := fmt.Sprintf("%s!A:C", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get rates range %s: %w", rng, err)
	}

	var rows []Row
	for i, raw := range resp.Values {
		row, err := parseRow(raw)
		if err != nil {
			if i == 0 {
				continue // header
			}
			slog.WarnContext(ctx, "Skipping malformed rate row",
				"row", i+1, "error", err)
			continue
		}
		rows = append(rows, row)
	}

	slog.InfoContext(ctx, "Fetched rate sheet",
		"sheet", c.sheetName,
		"rows", len(rows))
	return rows, nil
}

func parseRow(raw []any) (Row, error) {
	if len(raw) < 3 {
		return Row{}, fmt.Errorf("expected 3 cells, got %d", len(raw))
	}
	from := strings.ToUpper(strings.TrimSpace(fmt.Sprint(raw[0])))
	to := strings.ToUpper(strings.TrimSpace(fmt.Sprint(raw[1])))
	rate, err := decimal.NewFromString(strings.TrimSpace(fmt.Sprint(raw[2])))
	if err != nil {
		return Row{}, fmt.Errorf("parse rate %q: %w", raw[2], err)
	}
	return Row{From: from, To: to, Rate: rate}, nil
}
