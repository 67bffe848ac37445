package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"merchant-guard/core/store"
	"merchant-guard/core/utils"
)

// TokenGrace is how long expired or revoked tokens are kept before purging.
const TokenGrace = 7 * 24 * time.Hour

type Report struct {
	AttemptsDeleted int64
	TokensPurged    int64
	Duration        time.Duration
}

// Retention prunes access attempts and dead tokens on a cron schedule.
type Retention struct {
	attempts      store.AccessAttemptsStore
	tokens        store.TokensStore
	retentionDays int
	schedule      string
	logger        *utils.Logger
	now           func() time.Time
	onRun         func(Report, error)

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewRetention(attempts store.AccessAttemptsStore, tokens store.TokensStore, retentionDays int, schedule string, logger *utils.Logger) *Retention {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	if schedule == "" {
		schedule = "0 3 * * *"
	}
	return &Retention{
		attempts:      attempts,
		tokens:        tokens,
		retentionDays: retentionDays,
		schedule:      schedule,
		logger:        logger,
		now:           time.Now,
	}
}

// OnRun registers a callback invoked after every run, scheduled or manual.
func (r *Retention) OnRun(fn func(Report, error)) {
	r.onRun = fn
}

func (r *Retention) RunOnce(ctx context.Context) (Report, error) {
	start := r.now()
	rep := Report{}
	var errs []error
	if r.attempts != nil {
		cutoff := start.Add(-time.Duration(r.retentionDays) * 24 * time.Hour)
		n, err := r.attempts.DeleteBefore(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete access attempts: %w", err))
		}
		rep.AttemptsDeleted = n
	}
	if r.tokens != nil {
		n, err := r.tokens.PurgeStale(ctx, start.Add(-TokenGrace))
		if err != nil {
			errs = append(errs, fmt.Errorf("purge tokens: %w", err))
		}
		rep.TokensPurged = n
	}
	rep.Duration = r.now().Sub(start)
	err := errors.Join(errs...)
	if r.onRun != nil {
		r.onRun(rep, err)
	}
	return rep, err
}

func (r *Retention) StartWithContext(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(r.schedule, func() {
		rep, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.Errorf("retention run failed: %v", err)
			return
		}
		r.logger.Printf("retention run attempts_deleted=%d tokens_purged=%d took=%s", rep.AttemptsDeleted, rep.TokensPurged, rep.Duration)
	})
	if err != nil {
		return fmt.Errorf("retention schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c
	r.running = true
	return nil
}

// StopWithContext stops scheduling and waits for a running job or ctx.
func (r *Retention) StopWithContext(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.running = false
	r.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
