// Package worker contains the background side of the ledger: statement
// exports driven by ledger events and a periodic drift audit of cached
// balances.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"moneta/internal/events"
	"moneta/internal/export"
	"moneta/internal/ledger"
	"moneta/internal/store"
)

// EventSource delivers ledger events to a handler until the context ends.
type EventSource interface {
	ConsumeLedgerEvents(ctx context.Context, handler func(events.Event) error) error
}

// ExportWorker keeps one CSV statement per account current under exportDir
// and periodically audits stored balances against a replay of each account's
// transactions.
type ExportWorker struct {
	store     store.Store
	exportDir string
}

func NewExportWorker(st store.Store, exportDir string) *ExportWorker {
	return &ExportWorker{store: st, exportDir: exportDir}
}

// Run consumes events and runs the drift audit until ctx is cancelled.
func (w *ExportWorker) Run(ctx context.Context, source EventSource, auditInterval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return source.ConsumeLedgerEvents(ctx, func(ev events.Event) error {
			return w.HandleEvent(ctx, ev)
		})
	})
	g.Go(func() error {
		return w.RunDriftAudit(ctx, auditInterval)
	})
	return g.Wait()
}

// HandleEvent refreshes the statements an event invalidates. A rate change
// shifts converted running balances everywhere, so it refreshes every
// account.
func (w *ExportWorker) HandleEvent(ctx context.Context, ev events.Event) error {
	slog.InfoContext(ctx, "Processing ledger event",
		"event_id", ev.EventID,
		"kind", ev.Kind,
		"account_id", ev.AccountID)

	if ev.Kind == events.RateUpserted {
		return w.ExportAll(ctx)
	}
	if ev.AccountID == 0 {
		slog.WarnContext(ctx, "Event without account id, skipping",
			"event_id", ev.EventID, "kind", ev.Kind)
		return nil
	}
	return w.ExportAccount(ctx, ev.AccountID)
}

// ExportAccount rewrites the account's statement file. A deleted account's
// statement is removed instead.
func (w *ExportWorker) ExportAccount(ctx context.Context, accountID int64) error {
	path := w.statementPath(accountID)

	account, err := w.store.GetAccount(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("remove stale statement: %w", rmErr)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}

	txs, err := w.store.ListTransactionsByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}
	entries, err := ledger.ProjectAll(ctx, w.store, account.Currency, txs)
	if err != nil {
		return fmt.Errorf("project statement: %w", err)
	}

	namer, err := w.categoryNamer(ctx)
	if err != nil {
		return err
	}
	if err := export.WriteStatementFile(path, entries, namer); err != nil {
		return fmt.Errorf("write statement: %w", err)
	}

	slog.InfoContext(ctx, "Statement exported",
		"account_id", accountID,
		"path", path,
		"rows", len(entries))
	return nil
}

// ExportAll refreshes every account's statement.
func (w *ExportWorker) ExportAll(ctx context.Context) error {
	accounts, err := w.store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, account := range accounts {
		if err := w.ExportAccount(ctx, account.ID); err != nil {
			return err
		}
	}
	return nil
}

// RunDriftAudit replays every account on each tick and logs any divergence
// between the cached balance and the projection. The audit only observes; it
// never repairs.
func (w *ExportWorker) RunDriftAudit(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping drift audit", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			if err := w.AuditOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "Drift audit failed", "error", err)
			}
		}
	}
}

// AuditOnce checks every account and reports the number found drifting.
func (w *ExportWorker) AuditOnce(ctx context.Context) error {
	accounts, err := w.store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	drifting := 0
	for _, account := range accounts {
		txs, err := w.store.ListTransactionsByAccount(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}
		drift, err := ledger.Drift(ctx, w.store, account, txs)
		if err != nil {
			slog.ErrorContext(ctx, "Cannot audit account",
				"account_id", account.ID, "error", err)
			continue
		}
		if !drift.IsZero() {
			drifting++
			slog.WarnContext(ctx, "Balance drift detected",
				"account_id", account.ID,
				"currency", account.Currency,
				"stored", account.Balance.StringFixed(2),
				"drift", drift.StringFixed(2))
		}
	}

	slog.DebugContext(ctx, "Drift audit completed",
		"accounts", len(accounts),
		"drifting", drifting)
	return nil
}

func (w *ExportWorker) categoryNamer(ctx context.Context) (export.CategoryNamer, error) {
	categories, err := w.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	names := make(map[int64]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}
	return func(id int64) string { return names[id] }, nil
}

func (w *ExportWorker) statementPath(accountID int64) string {
	return filepath.Join(w.exportDir, fmt.Sprintf("account-%d.csv", accountID))
}
