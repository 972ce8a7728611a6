package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"moneta/internal/ledger"
	"moneta/internal/log"
	"moneta/internal/store/memory"
)

// Category IDs follow the seed order of the memory store.
const (
	catSalary = 1
	catFood   = 3
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := memory.New()
	engine := ledger.NewEngine(st, nil)
	logger := log.New(log.Config{
		Component: log.ComponentHTTP,
		Handler:   slog.NewTextHandler(io.Discard, nil),
	})

	srv := NewServer("127.0.0.1:0", engine, st, logger)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown(context.Background())
	})
	return ts
}

func doJSON(t *testing.T, method, url string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return resp.StatusCode, raw
}

func mustUnmarshal(t *testing.T, raw []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		status, _ := doJSON(t, http.MethodGet, ts.URL+path, nil)
		if status != http.StatusOK {
			t.Fatalf("GET %s: status = %d, want %d", path, status, http.StatusOK)
		}
	}
}

func TestLedgerAPIFlow(t *testing.T) {
	ts := newTestServer(t)

	status, raw := doJSON(t, http.MethodPost, ts.URL+"/api/users",
		map[string]string{"username": "alice", "email": "alice@example.com"})
	if status != http.StatusCreated {
		t.Fatalf("create user: status = %d, body %s", status, raw)
	}

	status, raw = doJSON(t, http.MethodPost, ts.URL+"/api/accounts",
		map[string]any{"user_id": 1, "name": "Main", "currency": "sgd"})
	if status != http.StatusCreated {
		t.Fatalf("create account: status = %d, body %s", status, raw)
	}
	var account accountJSON
	mustUnmarshal(t, raw, &account)
	if account.Currency != "SGD" || account.Balance != "0.00" {
		t.Fatalf("new account = %+v, want SGD with zero balance", account)
	}

	status, raw = doJSON(t, http.MethodPut, ts.URL+"/api/rates",
		map[string]string{"from": "USD", "to": "SGD", "rate": "1.33"})
	if status != http.StatusOK {
		t.Fatalf("upsert rate: status = %d, body %s", status, raw)
	}

	status, raw = doJSON(t, http.MethodPost, ts.URL+"/api/transactions", transactionRequest{
		AccountID:  account.ID,
		UserID:     1,
		Date:       "2024-03-01",
		Type:       "INCOME",
		CategoryID: catSalary,
		Amount:     "1,000.00",
		Currency:   "SGD",
	})
	if status != http.StatusCreated {
		t.Fatalf("add income: status = %d, body %s", status, raw)
	}
	var mut mutationResponse
	mustUnmarshal(t, raw, &mut)
	if mut.Balance.Amount != "1000.00" {
		t.Fatalf("balance after income = %s, want 1000.00", mut.Balance.Amount)
	}

	status, raw = doJSON(t, http.MethodPost, ts.URL+"/api/transactions", transactionRequest{
		AccountID:  account.ID,
		UserID:     1,
		Date:       "2024-03-05",
		Type:       "EXPENSE",
		CategoryID: catFood,
		Amount:     "50",
		Currency:   "USD",
	})
	if status != http.StatusCreated {
		t.Fatalf("add expense: status = %d, body %s", status, raw)
	}
	mustUnmarshal(t, raw, &mut)
	if mut.Transaction.Amount != "-50.00" {
		t.Fatalf("expense amount = %s, want -50.00", mut.Transaction.Amount)
	}
	if mut.Balance.Amount != "933.50" {
		t.Fatalf("balance after expense = %s, want 933.50", mut.Balance.Amount)
	}
	expenseID := mut.Transaction.ID

	balanceURL := fmt.Sprintf("%s/api/accounts/%d/balance?currency=USD", ts.URL, account.ID)
	status, raw = doJSON(t, http.MethodGet, balanceURL, nil)
	if status != http.StatusOK {
		t.Fatalf("get balance: status = %d, body %s", status, raw)
	}
	var balance moneyJSON
	mustUnmarshal(t, raw, &balance)
	if balance.Amount != "701.88" || balance.Currency != "USD" {
		t.Fatalf("USD balance = %+v, want 701.88 USD", balance)
	}

	status, raw = doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/api/accounts/%d/statement", ts.URL, account.ID), nil)
	if status != http.StatusOK {
		t.Fatalf("statement: status = %d", status)
	}
	csv := string(raw)
	if !strings.HasPrefix(csv, "Date,Type,Category,Amount,Balance") {
		t.Fatalf("statement header = %q", strings.SplitN(csv, "\n", 2)[0])
	}
	if !strings.Contains(csv, "933.50") {
		t.Fatalf("statement missing final running balance:\n%s", csv)
	}

	status, raw = doJSON(t, http.MethodDelete,
		fmt.Sprintf("%s/api/transactions/%d", ts.URL, expenseID), nil)
	if status != http.StatusOK {
		t.Fatalf("delete transaction: status = %d, body %s", status, raw)
	}
	mustUnmarshal(t, raw, &mut)
	if mut.Balance.Amount != "1000.00" {
		t.Fatalf("balance after delete = %s, want 1000.00", mut.Balance.Amount)
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	doJSON(t, http.MethodPost, ts.URL+"/api/users",
		map[string]string{"username": "bob"})
	_, raw := doJSON(t, http.MethodPost, ts.URL+"/api/accounts",
		map[string]any{"user_id": 1, "name": "Main", "currency": "SGD"})
	var account accountJSON
	mustUnmarshal(t, raw, &account)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{
			name:   "unknown account",
			method: http.MethodGet,
			path:   "/api/accounts/999/balance",
			want:   http.StatusNotFound,
		},
		{
			name:   "malformed id",
			method: http.MethodGet,
			path:   "/api/accounts/abc/balance",
			want:   http.StatusBadRequest,
		},
		{
			name:   "zero amount",
			method: http.MethodPost,
			path:   "/api/transactions",
			body: transactionRequest{
				AccountID: account.ID, UserID: 1, Type: "INCOME",
				CategoryID: catSalary, Amount: "0", Currency: "SGD",
			},
			want: http.StatusBadRequest,
		},
		{
			name:   "category type mismatch",
			method: http.MethodPost,
			path:   "/api/transactions",
			body: transactionRequest{
				AccountID: account.ID, UserID: 1, Type: "EXPENSE",
				CategoryID: catSalary, Amount: "10", Currency: "SGD",
			},
			want: http.StatusBadRequest,
		},
		{
			name:   "description too long",
			method: http.MethodPost,
			path:   "/api/transactions",
			body: transactionRequest{
				AccountID: account.ID, UserID: 1, Type: "INCOME",
				CategoryID: catSalary, Amount: "10", Currency: "SGD",
				Description: strings.Repeat("x", 201),
			},
			want: http.StatusBadRequest,
		},
		{
			name:   "missing rate",
			method: http.MethodPost,
			path:   "/api/transactions",
			body: transactionRequest{
				AccountID: account.ID, UserID: 1, Type: "INCOME",
				CategoryID: catSalary, Amount: "10", Currency: "GBP",
			},
			want: http.StatusUnprocessableEntity,
		},
		{
			name:   "invalid rate value",
			method: http.MethodPut,
			path:   "/api/rates",
			body:   map[string]string{"from": "USD", "to": "USD", "rate": "1.0"},
			want:   http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, raw := doJSON(t, tt.method, ts.URL+tt.path, tt.body)
			if status != tt.want {
				t.Fatalf("status = %d, want %d, body %s", status, tt.want, raw)
			}
		})
	}
}

func TestStatementCacheInvalidation(t *testing.T) {
	ts := newTestServer(t)

	doJSON(t, http.MethodPost, ts.URL+"/api/users",
		map[string]string{"username": "carol"})
	_, raw := doJSON(t, http.MethodPost, ts.URL+"/api/accounts",
		map[string]any{"user_id": 1, "name": "Main", "currency": "EUR"})
	var account accountJSON
	mustUnmarshal(t, raw, &account)

	addTx := func(amount string) {
		status, raw := doJSON(t, http.MethodPost, ts.URL+"/api/transactions", transactionRequest{
			AccountID: account.ID, UserID: 1, Date: "2024-01-10",
			Type: "INCOME", CategoryID: catSalary, Amount: amount, Currency: "EUR",
		})
		if status != http.StatusCreated {
			t.Fatalf("add transaction: status = %d, body %s", status, raw)
		}
	}
	statement := func() string {
		status, raw := doJSON(t, http.MethodGet,
			fmt.Sprintf("%s/api/accounts/%d/statement", ts.URL, account.ID), nil)
		if status != http.StatusOK {
			t.Fatalf("statement: status = %d", status)
		}
		return string(raw)
	}

	addTx("100")
	first := statement()
	if second := statement(); second != first {
		t.Fatalf("repeated statement differs:\n%s\nvs\n%s", first, second)
	}

	addTx("50")
	third := statement()
	if third == first {
		t.Fatal("statement unchanged after new transaction, cache not invalidated")
	}
	if !strings.Contains(third, "150.00") {
		t.Fatalf("statement missing updated running balance:\n%s", third)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	ts := newTestServer(t)

	doJSON(t, http.MethodPost, ts.URL+"/api/users",
		map[string]string{"username": "dave"})
	_, raw := doJSON(t, http.MethodPost, ts.URL+"/api/accounts",
		map[string]any{"user_id": 1, "name": "Main", "currency": "SGD"})
	var account accountJSON
	mustUnmarshal(t, raw, &account)

	for _, tx := range []transactionRequest{
		{AccountID: account.ID, UserID: 1, Date: "2024-02-01", Type: "INCOME", CategoryID: catSalary, Amount: "1000", Currency: "SGD"},
		{AccountID: account.ID, UserID: 1, Date: "2024-02-02", Type: "EXPENSE", CategoryID: catFood, Amount: "96.50", Currency: "SGD"},
	} {
		status, raw := doJSON(t, http.MethodPost, ts.URL+"/api/transactions", tx)
		if status != http.StatusCreated {
			t.Fatalf("add transaction: status = %d, body %s", status, raw)
		}
	}

	status, raw := doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/api/accounts/%d/summary", ts.URL, account.ID), nil)
	if status != http.StatusOK {
		t.Fatalf("summary: status = %d, body %s", status, raw)
	}
	var summary summaryJSON
	mustUnmarshal(t, raw, &summary)
	if summary.Currency != "SGD" {
		t.Fatalf("summary currency = %q, want SGD", summary.Currency)
	}
	if summary.Income != "1000.00" || summary.Expenses != "-96.50" || summary.Net != "903.50" {
		t.Fatalf("summary totals = %s / %s / %s", summary.Income, summary.Expenses, summary.Net)
	}
	if len(summary.ByCategory) != 2 || summary.ByCategory[0].Category != "Salary" {
		t.Fatalf("by_category = %+v", summary.ByCategory)
	}
}
