package main

import (
	"context"
	"flag"
	"log"
	"time"

	"merchant-guard/config"
	"merchant-guard/core/store"
	"merchant-guard/core/utils"
)

func main() {
	statusOnly := flag.Bool("status", false, "print the current schema version and exit")
	flag.Parse()

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

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	dialect := store.Dialect(cfg)
	if !*statusOnly {
		if err := store.ApplyMigrations(ctx, db, dialect, logger); err != nil {
			logger.Fatalf("migrations: %v", err)
		}
	}
	version, err := store.MigrationVersion(ctx, db, dialect)
	if err != nil {
		logger.Fatalf("migration version: %v", err)
	}
	logger.Printf("schema version %d (%s)", version, dialect)
}
