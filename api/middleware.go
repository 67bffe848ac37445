package api

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"merchant-guard/api/handlers"
	"merchant-guard/core/auth"
	"merchant-guard/core/decision"
	"merchant-guard/core/rbac"
	"merchant-guard/core/store"
	"merchant-guard/core/tokens"
)

const requestIDHeader = "X-Request-ID"

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Errorf("PANIC %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware keeps a sane inbound X-Request-ID and mints one otherwise.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 128 || strings.ContainsAny(id, " \t\r\n") {
			generated, err := store.NewID()
			if err != nil {
				s.logger.Errorf("request id: %v", err)
			}
			id = generated
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(auth.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		if s.cfg.TLSEnabled {
			w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		s.logger.Debugf("REQ %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		line := &requestLine{user: "-"}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestLineKey{}, line)))
		s.logger.Printf("RESP %s %s user=%s guard=%s status=%d dur=%s bytes=%d req=%s", r.Method, r.URL.Path, line.user, line.guard, rec.status, time.Since(start), rec.size, auth.RequestIDFromContext(r.Context()))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

type requestLineKey struct{}

// requestLine is filled in by requireGuard so the RESP line names the caller.
type requestLine struct {
	user  string
	guard string
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// withGuardName pins the guard for public routes such as login.
func (s *Server) withGuardName(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithGuard(r.Context(), name)))
		})
	}
}

// requireGuard authenticates the bearer token and runs the decision engine
// for the route's guard. A token minted for another guard never authenticates.
func (s *Server) requireGuard(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			var (
				principal *auth.Principal
				tokenID   string
			)
			if bearer := handlers.BearerToken(r); bearer != "" {
				tok, err := s.tokens.Authenticate(ctx, bearer)
				switch {
				case err == nil && tok.Guard == name:
					acc, roles, lerr := s.accounts.Get(ctx, tok.AccountID)
					if lerr != nil {
						s.logger.Errorf("AUTH account load %s: %v", tok.AccountID, lerr)
						writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
						return
					}
					principal = auth.BuildPrincipal(acc, roles, s.policy)
					if principal != nil {
						tokenID = tok.ID
					}
				case err == nil:
					s.logger.Printf("AUTH fail (guard mismatch) token_guard=%s route_guard=%s", tok.Guard, name)
				case errors.Is(err, tokens.ErrInvalidToken), errors.Is(err, tokens.ErrTokenRevoked):
					s.logger.Debugf("AUTH fail (token) %s %s: %v", r.Method, r.URL.Path, err)
				default:
					s.logger.Warnf("AUTH token lookup %s %s: %v", r.Method, r.URL.Path, err)
				}
			}
			d, err := s.engine.Evaluate(ctx, principal, name, decision.Request{
				IP:        s.clientIP(r),
				RequestID: auth.RequestIDFromContext(ctx),
				Intent:    decision.IntentAccess,
			})
			if err != nil {
				return
			}
			if !d.Admit {
				handlers.WriteDecision(w, d)
				return
			}
			ctx = auth.WithPrincipal(ctx, principal)
			ctx = auth.WithGuard(ctx, d.Guard)
			ctx = auth.WithTokenID(ctx, tokenID)
			if line, ok := ctx.Value(requestLineKey{}).(*requestLine); ok {
				line.user = principal.Username
				line.guard = d.Guard
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) requirePermission(perm rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := auth.PrincipalFromContext(r.Context())
			if p == nil {
				s.logger.Printf("PERM fail (no principal) %s %s need=%s", r.Method, r.URL.Path, perm)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": string(decision.ReasonUnauthenticated)})
				return
			}
			if !p.HasPermission(perm) {
				s.logger.Printf("PERM fail %s %s user=%s roles=%v need=%s", r.Method, r.URL.Path, p.Username, p.Roles, perm)
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
