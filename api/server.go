package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"merchant-guard/config"
	"merchant-guard/core/decision"
	"merchant-guard/core/guard"
	"merchant-guard/core/netguard"
	"merchant-guard/core/rbac"
	"merchant-guard/core/store"
	"merchant-guard/core/tokens"
	"merchant-guard/core/utils"
)

type Server struct {
	cfg        *config.AppConfig
	router     *chi.Mux
	httpServer *http.Server
	logger     *utils.Logger
	db         *sql.DB
	accounts   store.AccountsStore
	attempts   store.AccessAttemptsStore
	policy     *rbac.Policy
	resolver   *guard.Resolver
	engine     *decision.Engine
	tokens     *tokens.Manager
	trusted    netguard.PrefixList
	metrics    *AccessMetrics
	recorder   RecorderStats
}

func NewServer(cfg *config.AppConfig, logger *utils.Logger, deps ServerDeps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("api: config is required")
	}
	if deps.Engine == nil || deps.Resolver == nil || deps.Tokens == nil || deps.Accounts == nil {
		return nil, errors.New("api: engine, resolver, tokens and accounts are required")
	}
	trusted, err := netguard.ParsePrefixList(cfg.Security.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("security.trusted_proxies: %w", err)
	}
	policy := deps.Policy
	if policy == nil {
		policy = rbac.NewPolicy(rbac.DefaultRoles())
	}
	s := &Server{
		cfg:      cfg,
		router:   chi.NewRouter(),
		logger:   logger,
		db:       deps.DB,
		accounts: deps.Accounts,
		attempts: deps.Attempts,
		policy:   policy,
		resolver: deps.Resolver,
		engine:   deps.Engine,
		tokens:   deps.Tokens,
		trusted:  trusted,
		metrics:  deps.Metrics,
		recorder: deps.Recorder,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) Config() *config.AppConfig {
	return s.cfg
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	s.logger.Printf("listening on %s tls=%v guards=%v", s.cfg.ListenAddr, s.cfg.TLSEnabled, s.resolver.Registry().Names())
	var err error
	if s.cfg.TLSEnabled {
		err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) clientIP(r *http.Request) string {
	return netguard.ClientIP(r, s.trusted)
}
