// Package report aggregates transactions into income, expense and
// per-category totals, all converted into one display currency.
package report

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
	"moneta/internal/fx"
)

type CategoryTotal struct {
	Category core.Category
	Total    core.Money
}

// Summary is the aggregate view of a set of transactions. Income is the sum
// of all positive contributions, Expenses the sum of all negative ones
// (itself negative or zero), and Net their sum.
type Summary struct {
	Currency   string
	Income     core.Money
	Expenses   core.Money
	Net        core.Money
	ByCategory []CategoryTotal
}

// Build converts every transaction into the display currency and totals the
// results. Categories with no transactions are omitted. A missing rate fails
// the whole summary rather than silently skipping rows.
func Build(ctx context.Context, rates fx.RateSource, display string, categories []core.Category, txs []core.Transaction) (Summary, error) {
	byID := make(map[int64]core.Category, len(categories))
	for _, c := range categories {
		byID[c.ID] = c
	}

	conv := fx.New(rates)
	income := decimal.Zero
	expenses := decimal.Zero
	perCategory := map[int64]decimal.Decimal{}

	for _, t := range txs {
		amount, err := conv.Convert(ctx, t.Amount, t.Currency, display)
		if err != nil {
			return Summary{}, fmt.Errorf("summarize transaction %d: %w", t.ID, err)
		}
		if amount.IsNegative() {
			expenses = expenses.Add(amount)
		} else {
			income = income.Add(amount)
		}
		perCategory[t.CategoryID] = perCategory[t.CategoryID].Add(amount)
	}

	summary := Summary{
		Currency: display,
		Income:   core.Money{Amount: income, Currency: display},
		Expenses: core.Money{Amount: expenses, Currency: display},
		Net:      core.Money{Amount: income.Add(expenses), Currency: display},
	}
	for id, total := range perCategory {
		category, ok := byID[id]
		if !ok {
			category = core.Category{ID: id, Name: "Unknown"}
		}
		summary.ByCategory = append(summary.ByCategory, CategoryTotal{
			Category: category,
			Total:    core.Money{Amount: total, Currency: display},
		})
	}
	// Largest magnitude first; names break ties so the order is stable.
	slices.SortFunc(summary.ByCategory, func(a, b CategoryTotal) int {
		if c := b.Total.Amount.Abs().Cmp(a.Total.Amount.Abs()); c != 0 {
			return c
		}
		return strings.Compare(a.Category.Name, b.Category.Name)
	})

	return summary, nil
}
