package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
	"moneta/internal/export"
	"moneta/internal/ledger"
	"moneta/internal/report"
	"moneta/internal/store"
)

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func toMoneyJSON(m core.Money) moneyJSON {
	return moneyJSON{Amount: m.Amount.StringFixed(2), Currency: m.Currency}
}

type accountJSON struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Name      string `json:"name"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	CreatedAt string `json:"created_at,omitempty"`
}

func toAccountJSON(a core.Account) accountJSON {
	out := accountJSON{
		ID:       a.ID,
		UserID:   a.UserID,
		Name:     a.Name,
		Currency: a.Currency,
		Balance:  a.Balance.StringFixed(2),
	}
	if !a.CreatedAt.IsZero() {
		out.CreatedAt = a.CreatedAt.Format(time.RFC3339)
	}
	return out
}

type transactionJSON struct {
	ID          int64  `json:"id"`
	AccountID   int64  `json:"account_id"`
	UserID      int64  `json:"user_id"`
	Date        string `json:"date"`
	Type        string `json:"type"`
	CategoryID  int64  `json:"category_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
}

func toTransactionJSON(t core.Transaction) transactionJSON {
	return transactionJSON{
		ID:          t.ID,
		AccountID:   t.AccountID,
		UserID:      t.UserID,
		Date:        t.Date.Format("2006-01-02"),
		Type:        string(t.Type),
		CategoryID:  t.CategoryID,
		Amount:      t.Amount.StringFixed(2),
		Currency:    t.Currency,
		Description: t.Description,
	}
}

type categoryJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type rateJSON struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Rate      string `json:"rate"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func toRateJSON(r core.ExchangeRate) rateJSON {
	out := rateJSON{From: r.FromCurrency, To: r.ToCurrency, Rate: r.Rate.String()}
	if !r.UpdatedAt.IsZero() {
		out.UpdatedAt = r.UpdatedAt.Format(time.RFC3339)
	}
	return out
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// parseDate accepts a bare date or a full RFC 3339 timestamp. An empty value
// means "now" and is left to the engine.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return d, nil
	}
	return time.Parse(time.RFC3339, s)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := s.engine.CreateUser(r.Context(), req.Username, req.Email)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userJSON{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
	})
}

type userJSON struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	var (
		accounts []core.Account
		err      error
	)
	if userParam := r.URL.Query().Get("user_id"); userParam != "" {
		userID, parseErr := strconv.ParseInt(userParam, 10, 64)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		accounts, err = s.store.ListAccountsByUser(r.Context(), userID)
	} else {
		accounts, err = s.store.ListAccounts(r.Context())
	}
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}

	out := make([]accountJSON, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountJSON(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   int64  `json:"user_id"`
		Name     string `json:"name"`
		Currency string `json:"currency"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := s.engine.CreateAccount(r.Context(), req.UserID, req.Name, req.Currency)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountJSON(account))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountJSON(account))
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = s.store.WithinTx(r.Context(), func(tx store.Tx) error {
		return tx.DeleteAccount(r.Context(), id)
	})
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.invalidateAccount(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	balance, err := s.engine.GetBalance(r.Context(), id, r.URL.Query().Get("currency"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMoneyJSON(balance))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.store.GetAccount(r.Context(), id); err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	txs, err := s.store.ListTransactionsByAccount(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	out := make([]transactionJSON, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleStatement renders the account's running-balance statement as CSV.
// Rendered statements are cached per account and display currency.
func (s *Server) handleStatement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	display, ok := displayCurrency(r, account)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid currency")
		return
	}

	key := fmt.Sprintf("statement:%d:%s", id, display)
	body, ok := s.viewCache.Get(key)
	if !ok {
		txs, err := s.store.ListTransactionsByAccount(r.Context(), id)
		if err != nil {
			s.writeLedgerError(w, r, err)
			return
		}
		entries, err := ledger.ProjectAll(r.Context(), s.store, display, txs)
		if err != nil {
			s.writeLedgerError(w, r, err)
			return
		}
		namer, err := s.categoryNamer(r)
		if err != nil {
			s.writeLedgerError(w, r, err)
			return
		}

		var buf bytes.Buffer
		if err := export.WriteStatement(&buf, entries, namer); err != nil {
			s.writeLedgerError(w, r, err)
			return
		}
		body = buf.Bytes()
		s.viewCache.Set(key, body)
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("account-%d.csv", id)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// handleSummary renders income, expense and per-category totals in the
// display currency.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	display, ok := displayCurrency(r, account)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid currency")
		return
	}

	key := fmt.Sprintf("summary:%d:%s", id, display)
	body, cached := s.viewCache.Get(key)
	if !cached {
		txs, err := s.store.ListTransactionsByAccount(r.Context(), id)
		if err != nil {
			s.writeLedgerError(w, r, err)
			return
		}
		categories, err := s.store.ListCategories(r.Context())
		if err != nil {
			s.writeLedgerError(w, r, err)
			return
		}
		summary, err := report.Build(r.Context(), s.store, display, categories, txs)
		if err != nil {
			s.writeLedgerError(w, r, err)
			return
		}

		body, err = json.Marshal(toSummaryJSON(summary))
		if err != nil {
			s.writeLedgerError(w, r, err)
			return
		}
		s.viewCache.Set(key, body)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

type summaryJSON struct {
	Currency   string              `json:"currency"`
	Income     string              `json:"income"`
	Expenses   string              `json:"expenses"`
	Net        string              `json:"net"`
	ByCategory []categoryTotalJSON `json:"by_category"`
}

type categoryTotalJSON struct {
	Category string `json:"category"`
	Type     string `json:"type"`
	Total    string `json:"total"`
}

func toSummaryJSON(s report.Summary) summaryJSON {
	out := summaryJSON{
		Currency:   s.Currency,
		Income:     s.Income.Amount.StringFixed(2),
		Expenses:   s.Expenses.Amount.StringFixed(2),
		Net:        s.Net.Amount.StringFixed(2),
		ByCategory: make([]categoryTotalJSON, 0, len(s.ByCategory)),
	}
	for _, ct := range s.ByCategory {
		out.ByCategory = append(out.ByCategory, categoryTotalJSON{
			Category: ct.Category.Name,
			Type:     string(ct.Category.Type),
			Total:    ct.Total.Amount.StringFixed(2),
		})
	}
	return out
}

func (s *Server) handleRedenominate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Currency string `json:"currency"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := s.engine.RedenominateAccount(r.Context(), id, req.Currency)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.invalidateAccount(id)
	writeJSON(w, http.StatusOK, toAccountJSON(account))
}

type transactionRequest struct {
	AccountID   int64  `json:"account_id,omitempty"`
	UserID      int64  `json:"user_id,omitempty"`
	Date        string `json:"date,omitempty"`
	Type        string `json:"type"`
	CategoryID  int64  `json:"category_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
}

func (req transactionRequest) toInput() (ledger.TransactionInput, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return ledger.TransactionInput{}, fmt.Errorf("invalid date %q", req.Date)
	}
	return ledger.TransactionInput{
		AccountID:   req.AccountID,
		UserID:      req.UserID,
		Date:        date,
		Type:        core.TransactionType(strings.ToUpper(strings.TrimSpace(req.Type))),
		CategoryID:  req.CategoryID,
		AmountText:  req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
	}, nil
}

type mutationResponse struct {
	Transaction transactionJSON `json:"transaction"`
	Balance     moneyJSON       `json:"balance"`
}

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, balance, err := s.engine.AddTransaction(r.Context(), in)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.invalidateAccount(created.AccountID)
	writeJSON(w, http.StatusCreated, mutationResponse{
		Transaction: toTransactionJSON(created),
		Balance:     toMoneyJSON(balance),
	})
}

func (s *Server) handleEditTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req transactionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, balance, err := s.engine.EditTransaction(r.Context(), id, in)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.invalidateAccount(updated.AccountID)
	writeJSON(w, http.StatusOK, mutationResponse{
		Transaction: toTransactionJSON(updated),
		Balance:     toMoneyJSON(balance),
	})
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	removed, balance, err := s.engine.DeleteTransaction(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.invalidateAccount(removed.AccountID)
	writeJSON(w, http.StatusOK, mutationResponse{
		Transaction: toTransactionJSON(removed),
		Balance:     toMoneyJSON(balance),
	})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.ListCategories(r.Context())
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	out := make([]categoryJSON, 0, len(categories))
	for _, c := range categories {
		out = append(out, categoryJSON{ID: c.ID, Name: c.Name, Type: string(c.Type)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	typ := core.TransactionType(strings.ToUpper(strings.TrimSpace(req.Type)))
	category, err := s.engine.CreateCategory(r.Context(), req.Name, typ)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, categoryJSON{ID: category.ID, Name: category.Name, Type: string(category.Type)})
}

func (s *Server) handleListRates(w http.ResponseWriter, r *http.Request) {
	rates, err := s.store.ListRates(r.Context())
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	out := make([]rateJSON, 0, len(rates))
	for _, rate := range rates {
		out = append(out, toRateJSON(rate))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpsertRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
		Rate string `json:"rate"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(req.Rate))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid rate %q", req.Rate))
		return
	}
	rec, err := s.engine.UpsertRate(r.Context(), req.From, req.To, rate)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	// Converted views everywhere may now be stale.
	s.viewCache.DeletePrefix("statement:")
	s.viewCache.DeletePrefix("summary:")
	writeJSON(w, http.StatusOK, toRateJSON(rec))
}

// invalidateAccount drops every cached view of the account.
func (s *Server) invalidateAccount(accountID int64) {
	s.viewCache.DeletePrefix(fmt.Sprintf("statement:%d:", accountID))
	s.viewCache.DeletePrefix(fmt.Sprintf("summary:%d:", accountID))
}

func displayCurrency(r *http.Request, account core.Account) (string, bool) {
	display := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("currency")))
	if display == "" {
		return account.Currency, true
	}
	if !core.ValidCurrency(display) {
		return "", false
	}
	return display, true
}

func (s *Server) categoryNamer(r *http.Request) (export.CategoryNamer, error) {
	categories, err := s.store.ListCategories(r.Context())
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}
	return func(id int64) string { return names[id] }, nil
}
