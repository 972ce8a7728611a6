// Command rate-import pulls exchange rates from the configured Google Sheet
// and upserts them into the ledger. Intended to run from cron.
package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"

	"moneta/internal/config"
	"moneta/internal/ledger"
	"moneta/internal/log"
	"moneta/internal/ratesheet"
	"moneta/internal/storage"
)

func main() {
	_ = godotenv.Load()

	logger := log.New(log.DefaultConfig()).WithComponent(log.ComponentRateSheet)
	log.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	sheet, err := ratesheet.NewFromEnv(ctx)
	if err != nil {
		logger.Error("Failed to initialize rate sheet client", "error", err)
		os.Exit(1)
	}

	st, err := storage.New(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite store", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer st.Close()

	rows, err := sheet.Fetch(ctx)
	if err != nil {
		logger.Error("Failed to fetch rate sheet", "error", err)
		os.Exit(1)
	}

	engine := ledger.NewEngine(st, nil)
	imported := 0
	for _, row := range rows {
		if _, err := engine.UpsertRate(ctx, row.From, row.To, row.Rate); err != nil {
			logger.Error("Failed to upsert rate",
				"from", row.From,
				"to", row.To,
				"rate", row.Rate.String(),
				"error", err)
			continue
		}
		imported++
	}

	logger.Info("Rate import finished", "fetched", len(rows), "imported", imported)
	if imported == 0 && len(rows) > 0 {
		os.Exit(1)
	}
}
