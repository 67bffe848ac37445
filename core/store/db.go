package store

import (
	"database/sql"
	"errors"
	"flag"
	"strings"

	"merchant-guard/config"
	"merchant-guard/core/utils"

	_ "modernc.org/sqlite"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Dialect resolves the configured driver to one of the supported dialects.
func Dialect(cfg *config.AppConfig) string {
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	switch driver {
	case "sqlite":
		return DialectSQLite
	case "", "postgres", "pg":
		if driver == "" && strings.TrimSpace(cfg.DBURL) == "" && isTestRuntime() && strings.TrimSpace(cfg.DBPath) != "" {
			return DialectSQLite
		}
		return DialectPostgres
	default:
		return driver
	}
}

func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	switch dialect := Dialect(cfg); dialect {
	case DialectPostgres:
		if strings.TrimSpace(cfg.DBURL) == "" {
			return nil, errors.New("MGUARD_DB_URL is required for postgres")
		}
		db, err := sql.Open(postgresDriverName, cfg.DBURL)
		if err != nil {
			logger.Errorf("db open failed: %v", err)
			return nil, err
		}
		logger.Printf("db open postgres")
		return db, nil
	case DialectSQLite:
		if !isTestRuntime() {
			return nil, errors.New("sqlite driver is supported only in go test runtime")
		}
		if strings.TrimSpace(cfg.DBPath) == "" {
			return nil, errors.New("DBPath is required for sqlite")
		}
		db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
		if err != nil {
			logger.Errorf("db open failed: %v", err)
			return nil, err
		}
		// a single connection serializes writers the way postgres row locks would
		db.SetMaxOpenConns(1)
		logger.Printf("db open sqlite (test runtime)")
		return db, nil
	default:
		return nil, errors.New("unsupported db driver: " + dialect)
	}
}

func isTestRuntime() bool {
	return flag.Lookup("test.v") != nil
}
