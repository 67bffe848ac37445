package appbootstrap

import (
	"database/sql"
	"fmt"
	"io"
	"time"

	"merchant-guard/api"
	"merchant-guard/config"
	"merchant-guard/core/activity"
	"merchant-guard/core/decision"
	"merchant-guard/core/guard"
	"merchant-guard/core/jobs"
	"merchant-guard/core/netguard"
	"merchant-guard/core/ratelimit"
	"merchant-guard/core/rbac"
	"merchant-guard/core/store"
	"merchant-guard/core/tokens"
	"merchant-guard/core/utils"
)

const defaultActivityBuffer = 1024

type runtimeComposition struct {
	serverDeps api.ServerDeps
	workers    []api.BackgroundWorker
	flushers   []api.Flusher
	closers    []io.Closer
}

func composeRuntime(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) (*runtimeComposition, error) {
	registry, err := guard.NewRegistry(cfg.Guards)
	if err != nil {
		return nil, fmt.Errorf("guards: %w", err)
	}
	resolver, err := guard.NewResolver(registry)
	if err != nil {
		return nil, fmt.Errorf("guard resolver: %w", err)
	}
	whitelist, err := netguard.NewWhitelist(registry)
	if err != nil {
		return nil, fmt.Errorf("ip whitelist: %w", err)
	}
	out := &runtimeComposition{}
	limiter, err := buildLimiter(cfg, registry, logger, out)
	if err != nil {
		return nil, err
	}

	accounts := store.NewAccountsStore(db)
	attempts := store.NewAccessAttemptsStore(db)
	tokenStore := store.NewTokensStore(db)
	tm, err := tokens.NewManager(tokenStore, registry, tokens.Options{
		SigningKey:     cfg.Tokens.SigningKey,
		Issuer:         cfg.Tokens.Issuer,
		ReservationTTL: cfg.Tokens.ReservationTTL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	buffer := cfg.Activity.BufferSize
	if buffer <= 0 {
		buffer = defaultActivityBuffer
	}
	var sink activity.Recorder = activity.NewStoreRecorder(attempts)
	if cfg.Activity.LogDecisions {
		sink = activity.Multi{sink, activity.NewLogRecorder(logger)}
	}
	recorder := activity.NewAsyncRecorder(sink, buffer, cfg.Security.RecordTimeout, logger)

	metrics := api.NewAccessMetrics()
	engine, err := decision.NewEngine(decision.Deps{
		Resolver:  resolver,
		Limiter:   limiter,
		Quota:     tm,
		Whitelist: whitelist,
		Recorder:  recorder,
	}, decision.Options{
		LookupTimeout: cfg.Security.LookupTimeout,
		RecordTimeout: cfg.Security.RecordTimeout,
		Observer:      metrics,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("decision engine: %w", err)
	}

	retention := jobs.NewRetention(attempts, tokenStore, cfg.Activity.RetentionDays, cfg.Activity.CleanupSchedule, logger)
	retention.OnRun(metrics.ObserveRetention)

	out.serverDeps = api.ServerDeps{
		DB:       db,
		Accounts: accounts,
		Attempts: attempts,
		Policy:   rbac.NewPolicy(rbac.DefaultRoles()),
		Resolver: resolver,
		Engine:   engine,
		Tokens:   tm,
		Metrics:  metrics,
		Recorder: recorder,
	}
	out.workers = append(out.workers, retention)
	out.flushers = append(out.flushers, recorder)
	return out, nil
}

// buildLimiter returns the configured backend. The in-memory bucket TTL is
// stretched to cover the widest guard window.
func buildLimiter(cfg *config.AppConfig, registry *guard.Registry, logger *utils.Logger, out *runtimeComposition) (ratelimit.Limiter, error) {
	if cfg.RateLimit.Backend == "redis" {
		rc := cfg.RateLimit.Redis
		client, err := ratelimit.NewRedisClient(rc.URL, rc.Addr, rc.Password, rc.DB)
		if err != nil {
			return nil, fmt.Errorf("redis rate limiter: %w", err)
		}
		out.closers = append(out.closers, client)
		logger.Printf("rate limiter: redis prefix=%q", rc.KeyPrefix)
		return ratelimit.NewRedis(client, rc.KeyPrefix), nil
	}
	ttl := cfg.RateLimit.BucketTTL
	for _, d := range registry.All() {
		if d.RateLimit.Window > ttl {
			ttl = d.RateLimit.Window
		}
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	logger.Printf("rate limiter: memory max_buckets=%d ttl=%s", cfg.RateLimit.MaxBuckets, ttl)
	return ratelimit.NewMemory(cfg.RateLimit.MaxBuckets, ttl), nil
}
