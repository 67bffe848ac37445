package appbootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"

	"merchant-guard/api"
	"merchant-guard/config"
	"merchant-guard/core/bootstrap"
	"merchant-guard/core/store"
	"merchant-guard/core/utils"
)

// Runtime owns every long-lived component of the service process.
type Runtime struct {
	DB         *sql.DB
	Server     *api.Server
	background api.BackgroundController
	closers    []io.Closer

	mu       sync.Mutex
	bgCancel context.CancelFunc
}

func InitRuntime(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger) (*Runtime, error) {
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("db init: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, store.Dialect(cfg), logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	composition, err := composeRuntime(cfg, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("compose runtime: %w", err)
	}
	rt := &Runtime{DB: db, closers: composition.closers}
	if err := bootstrap.EnsureDefaultSuperadmin(ctx, composition.serverDeps.Accounts, cfg, logger); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("seed superadmin: %w", err)
	}
	srv, err := api.NewServer(cfg, logger, composition.serverDeps)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("api server: %w", err)
	}
	rt.Server = srv
	rt.background = api.BuildBackgroundController(logger, composition.workers, composition.flushers...)
	return rt, nil
}

func (r *Runtime) StartBackground(ctx context.Context) error {
	if r == nil || r.background == nil {
		return nil
	}
	r.mu.Lock()
	if r.bgCancel != nil {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.bgCancel = cancel
	r.mu.Unlock()
	return r.background.Start(runCtx)
}

// StopBackground stops the workers and drains the activity queue.
func (r *Runtime) StopBackground(ctx context.Context) error {
	if r == nil || r.background == nil {
		return nil
	}
	r.mu.Lock()
	cancel := r.bgCancel
	r.bgCancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return r.background.Stop(ctx)
}

func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.DB != nil {
		if err := r.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
