package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"merchant-guard/core/utils"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// goose keeps dialect and base FS in package globals.
var gooseMu sync.Mutex

func ApplyMigrations(ctx context.Context, db *sql.DB, dialect string, logger *utils.Logger) error {
	if db == nil {
		return fmt.Errorf("nil db")
	}
	gooseDialect, err := gooseDialectFor(dialect)
	if err != nil {
		return err
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(gooseDialect); err != nil {
		return err
	}
	logger.Printf("applying goose migrations (%s)", dialect)
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	logger.Printf("goose migrations applied")
	return nil
}

// MigrationVersion reports the current goose version of the database.
func MigrationVersion(ctx context.Context, db *sql.DB, dialect string) (int64, error) {
	gooseDialect, err := gooseDialectFor(dialect)
	if err != nil {
		return 0, err
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := goose.SetDialect(gooseDialect); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db)
}

func gooseDialectFor(dialect string) (string, error) {
	switch dialect {
	case DialectPostgres:
		return "postgres", nil
	case DialectSQLite:
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("unsupported migration dialect: %s", dialect)
	}
}
