package main

import (
	"context"
	"log"
	"time"

	"merchant-guard/config"
	"merchant-guard/core/jobs"
	"merchant-guard/core/store"
	"merchant-guard/core/utils"
)

// cleanup runs one retention pass and exits, for hosts that schedule it externally.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger := utils.NewLoggerWithLevel(cfg.LogLevel)
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		logger.Fatalf("db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := store.ApplyMigrations(ctx, db, store.Dialect(cfg), logger); err != nil {
		logger.Fatalf("migrations: %v", err)
	}
	retention := jobs.NewRetention(store.NewAccessAttemptsStore(db), store.NewTokensStore(db), cfg.Activity.RetentionDays, cfg.Activity.CleanupSchedule, logger)
	rep, err := retention.RunOnce(ctx)
	if err != nil {
		logger.Fatalf("cleanup: %v", err)
	}
	logger.Printf("cleanup done attempts=%d tokens=%d dur=%s", rep.AttemptsDeleted, rep.TokensPurged, rep.Duration)
}
