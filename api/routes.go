package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"merchant-guard/api/handlers"
	"merchant-guard/config"
	"merchant-guard/core/guard"
	"merchant-guard/core/rbac"
)

func (s *Server) registerRoutes() {
	s.router.Use(s.recoverMiddleware)
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.securityHeadersMiddleware)

	s.registerObservabilityRoutes()

	authh := handlers.NewAuthHandler(s.cfg, s.accounts, s.policy, s.resolver.Registry(), s.engine, s.tokens, s.clientIP, s.logger)
	var logsh *handlers.AccessLogsHandler
	if s.attempts != nil {
		logsh = handlers.NewAccessLogsHandler(s.attempts, s.logger)
	}
	for _, def := range s.resolver.Registry().TokenGuards() {
		if def.RoutePrefix == "" {
			continue
		}
		s.router.Route(def.RoutePrefix, func(r chi.Router) {
			s.registerGuardRoutes(r, def, authh, logsh)
		})
	}
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	})
}

// registerGuardRoutes mounts the auth surface of one token guard under its prefix.
func (s *Server) registerGuardRoutes(r chi.Router, def guard.Definition, authh *handlers.AuthHandler, logsh *handlers.AccessLogsHandler) {
	r.Use(s.jsonMiddleware)
	r.With(s.withGuardName(def.Name)).Post("/login", authh.Login)

	r.Group(func(r chi.Router) {
		r.Use(s.requireGuard(def.Name))
		r.Get("/me", authh.Me)
		r.Post("/logout", authh.Logout)
		r.Get("/tokens", authh.ListTokens)
		r.Delete("/tokens/{id}", authh.RevokeToken)
		r.Post("/2fa/setup", authh.TwoFASetup)
		r.Post("/2fa/confirm", authh.TwoFAConfirm)

		if logsh != nil && (def.Class == config.ClassAdmin || def.Class == config.ClassSuperadmin) {
			r.With(s.requirePermission(rbac.PermAccessLogsView)).Get("/access-attempts", logsh.List)
			r.With(s.requirePermission(rbac.PermAccessLogsManage)).Delete("/access-attempts", logsh.Purge)
		}
	})
}
