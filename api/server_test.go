package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"merchant-guard/config"
	"merchant-guard/core/activity"
	"merchant-guard/core/auth"
	"merchant-guard/core/decision"
	"merchant-guard/core/guard"
	"merchant-guard/core/netguard"
	"merchant-guard/core/ratelimit"
	"merchant-guard/core/rbac"
	"merchant-guard/core/store"
	"merchant-guard/core/tokens"
)

const testPepper = "test-pepper"

type harness struct {
	srv      *Server
	accounts store.AccountsStore
	attempts store.AccessAttemptsStore
	tokens   *tokens.Manager
}

func testGuards() map[string]config.GuardConfig {
	return map[string]config.GuardConfig{
		"api": {
			AccountClass: config.ClassUser, Driver: config.DriverToken, Lifetime: time.Hour,
			MaxTokens: 2, RateLimit: config.RateLimitRule{MaxAttempts: 100, Window: time.Minute},
			RoutePrefix: "/api/v1",
		},
		"api_tight": {
			AccountClass: config.ClassUser, Driver: config.DriverToken, Lifetime: time.Hour,
			MaxTokens: 5, RateLimit: config.RateLimitRule{MaxAttempts: 2, Window: time.Minute},
			RoutePrefix: "/api/tight",
		},
		"api_admin": {
			AccountClass: config.ClassAdmin, Driver: config.DriverToken, Lifetime: time.Hour,
			MaxTokens: 3, RequiresTwoFactor: true, RequiresIPWhitelist: true,
			IPWhitelist: []string{"127.0.0.1"}, RoutePrefix: "/api/admin",
		},
	}
}

func newHarness(t *testing.T, mutate func(cfg *config.AppConfig)) *harness {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver: "sqlite",
		DBPath:   filepath.Join(t.TempDir(), "api.db"),
		AppEnv:   "dev",
		Pepper:   testPepper,
		Security: config.SecurityConfig{LoginMaxFailures: 3, TOTPIssuer: "Merchant Guard"},
		Tokens:   config.TokensConfig{SigningKey: "api-test-signing-key-0123456789abcdef", Issuer: "merchant-guard"},
		Guards:   testGuards(),
	}
	if mutate != nil {
		mutate(cfg)
	}
	db, err := store.NewDB(cfg, nil)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := store.ApplyMigrations(ctx, db, store.Dialect(cfg), nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg, err := guard.NewRegistry(cfg.Guards)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	resolver, err := guard.NewResolver(reg)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	wl, err := netguard.NewWhitelist(reg)
	if err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	tm, err := tokens.NewManager(store.NewTokensStore(db), reg, tokens.Options{
		SigningKey: cfg.Tokens.SigningKey, Issuer: cfg.Tokens.Issuer, ReservationTTL: time.Minute,
	}, nil)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	accounts := store.NewAccountsStore(db)
	attempts := store.NewAccessAttemptsStore(db)
	metrics := NewAccessMetrics()
	engine, err := decision.NewEngine(decision.Deps{
		Resolver:  resolver,
		Limiter:   ratelimit.NewMemory(1000, time.Hour),
		Quota:     tm,
		Whitelist: wl,
		Recorder:  activity.NewStoreRecorder(attempts),
	}, decision.Options{Observer: metrics})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	srv, err := NewServer(cfg, nil, ServerDeps{
		DB:       db,
		Accounts: accounts,
		Attempts: attempts,
		Policy:   rbac.NewPolicy(rbac.DefaultRoles()),
		Resolver: resolver,
		Engine:   engine,
		Tokens:   tm,
		Metrics:  metrics,
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return &harness{srv: srv, accounts: accounts, attempts: attempts, tokens: tm}
}

func (h *harness) createAccount(t *testing.T, username, password string, roles ...string) string {
	t.Helper()
	ph := auth.MustHashPassword(password, testPepper)
	id, err := h.accounts.Create(context.Background(), &store.Account{
		Username:     username,
		PasswordHash: ph.Hash,
		Salt:         ph.Salt,
		Status:       store.AccountStatusActive,
		IsActive:     true,
	}, roles)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return id
}

func (h *harness) enableTOTP(t *testing.T, id string) string {
	t.Helper()
	enrollment, err := auth.DefaultTOTPConfig().NewEnrollment("", id)
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	secret := enrollment.Secret
	enc, err := auth.EncryptTOTPSecret(secret, testPepper)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	ctx := context.Background()
	if err := h.accounts.SetTOTPSecret(ctx, id, enc); err != nil {
		t.Fatalf("set secret: %v", err)
	}
	if err := h.accounts.ConfirmTOTP(ctx, id, time.Now().UTC()); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return secret
}

func (h *harness) do(method, path, bearer, remote string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if remote != "" {
		req.RemoteAddr = remote
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func (h *harness) login(t *testing.T, prefix, username, password, otp, remote string) *httptest.ResponseRecorder {
	t.Helper()
	return h.do(http.MethodPost, prefix+"/login", "", remote, map[string]any{
		"username": username, "password": password, "otp": otp,
	})
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return out
}

func tokenFrom(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 from login, got %d: %s", rr.Code, rr.Body.String())
	}
	tok, _ := decodeBody(t, rr)["token"].(string)
	if tok == "" {
		t.Fatalf("login returned no token: %s", rr.Body.String())
	}
	return tok
}

func TestLoginIssuesTokenForGuard(t *testing.T) {
	h := newHarness(t, nil)
	h.createAccount(t, "alice", "Secret#Pass1", rbac.RoleCustomer)

	tok := tokenFrom(t, h.login(t, "/api/v1", "alice", "Secret#Pass1", "", ""))
	rr := h.do(http.MethodGet, "/api/v1/me", tok, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from /me, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["guard"] != "api" || body["username"] != "alice" {
		t.Fatalf("unexpected /me body: %v", body)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestTokenDoesNotCrossGuards(t *testing.T) {
	h := newHarness(t, nil)
	h.createAccount(t, "alice", "Secret#Pass1")
	tok := tokenFrom(t, h.login(t, "/api/v1", "alice", "Secret#Pass1", "", ""))

	rr := h.do(http.MethodGet, "/api/tight/me", tok, "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign-guard token, got %d", rr.Code)
	}
	if decodeBody(t, rr)["error"] != string(decision.ReasonUnauthenticated) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestMissingTokenIsUnauthenticated(t *testing.T) {
	h := newHarness(t, nil)
	rr := h.do(http.MethodGet, "/api/v1/me", "", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	rr = h.do(http.MethodGet, "/api/v1/me", "not-a-jwt", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rr.Code)
	}
}

func TestRepeatedFailuresLockAccount(t *testing.T) {
	h := newHarness(t, nil)
	h.createAccount(t, "bob", "Secret#Pass1")
	for i := 0; i < 2; i++ {
		rr := h.login(t, "/api/v1", "bob", "wrong", "", "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, rr.Code)
		}
	}
	rr := h.login(t, "/api/v1", "bob", "wrong", "", "")
	if rr.Code != http.StatusLocked {
		t.Fatalf("expected 423 on the third failure, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["error"] != string(decision.ReasonAccountLocked) || body["locked_until"] == nil {
		t.Fatalf("expected lock payload, got %v", body)
	}
	rr = h.login(t, "/api/v1", "bob", "Secret#Pass1", "", "")
	if rr.Code != http.StatusLocked {
		t.Fatalf("correct password must not bypass the lock, got %d", rr.Code)
	}
}

func TestAdminGuardRequiresTwoFactorAndWhitelist(t *testing.T) {
	h := newHarness(t, nil)
	id := h.createAccount(t, "root", "Secret#Pass1", rbac.RoleAdmin)

	rr := h.login(t, "/api/admin", "root", "Secret#Pass1", "", "127.0.0.1:5000")
	if rr.Code != http.StatusForbidden || decodeBody(t, rr)["error"] != string(decision.ReasonTwoFactorRequired) {
		t.Fatalf("expected 2FA_REQUIRED, got %d: %s", rr.Code, rr.Body.String())
	}

	secret := h.enableTOTP(t, id)
	code, err := auth.ComputeTOTPCode(secret, time.Now(), auth.DefaultTOTPConfig())
	if err != nil {
		t.Fatalf("totp: %v", err)
	}
	rr = h.login(t, "/api/admin", "root", "Secret#Pass1", code, "203.0.113.9:5000")
	if rr.Code != http.StatusForbidden || decodeBody(t, rr)["error"] != string(decision.ReasonIPNotWhitelisted) {
		t.Fatalf("expected IP_NOT_WHITELISTED, got %d: %s", rr.Code, rr.Body.String())
	}
	tok := tokenFrom(t, h.login(t, "/api/admin", "root", "Secret#Pass1", code, "127.0.0.1:5000"))

	rr = h.do(http.MethodGet, "/api/admin/access-attempts?guard=api_admin", tok, "127.0.0.1:5000", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from access-attempts, got %d: %s", rr.Code, rr.Body.String())
	}
	items, _ := decodeBody(t, rr)["items"].([]any)
	if len(items) < 3 {
		t.Fatalf("expected recorded attempts, got %d", len(items))
	}
	rr = h.do(http.MethodDelete, "/api/admin/access-attempts?before="+time.Now().UTC().Format(time.RFC3339), tok, "127.0.0.1:5000", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("admin lacks access_logs.manage, expected 403, got %d", rr.Code)
	}
}

func TestUserCannotUseAdminGuard(t *testing.T) {
	h := newHarness(t, nil)
	h.createAccount(t, "alice", "Secret#Pass1")
	rr := h.login(t, "/api/admin", "alice", "Secret#Pass1", "", "127.0.0.1:5000")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != string(decision.ReasonGuardAccessDenied) {
		t.Fatalf("unexpected reason: %v", body)
	}
	eligible, _ := body["eligible_guards"].([]any)
	if len(eligible) != 2 {
		t.Fatalf("expected api and api_tight as eligible guards, got %v", eligible)
	}
}

func TestRateLimitSetsRetryAfter(t *testing.T) {
	h := newHarness(t, nil)
	h.createAccount(t, "carol", "Secret#Pass1")
	tok := tokenFrom(t, h.login(t, "/api/tight", "carol", "Secret#Pass1", "", ""))
	if rr := h.do(http.MethodGet, "/api/tight/me", tok, "", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected second request to pass, got %d", rr.Code)
	}
	rr := h.do(http.MethodGet, "/api/tight/me", tok, "", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestTokenQuotaPerGuard(t *testing.T) {
	h := newHarness(t, nil)
	id := h.createAccount(t, "dave", "Secret#Pass1")
	first := h.login(t, "/api/v1", "dave", "Secret#Pass1", "", "")
	firstID, _ := decodeBody(t, first)["token_id"].(string)
	second := tokenFrom(t, h.login(t, "/api/v1", "dave", "Secret#Pass1", "", ""))

	rr := h.login(t, "/api/v1", "dave", "Secret#Pass1", "", "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 at quota, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["error"] != string(decision.ReasonMaxTokens) || body["max_tokens"] != float64(2) {
		t.Fatalf("unexpected quota body: %v", body)
	}
	// holding exactly the quota also refuses requests on the guard
	rr = h.do(http.MethodGet, "/api/v1/me", second, "", nil)
	if rr.Code != http.StatusForbidden || decodeBody(t, rr)["error"] != string(decision.ReasonMaxTokens) {
		t.Fatalf("expected MAX_TOKENS_EXCEEDED at quota, got %d: %s", rr.Code, rr.Body.String())
	}
	// another guard has its own quota
	tokenFrom(t, h.login(t, "/api/tight", "dave", "Secret#Pass1", "", ""))

	if err := h.tokens.Revoke(context.Background(), id, "api", firstID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if rr := h.do(http.MethodGet, "/api/v1/me", second, "", nil); rr.Code != http.StatusOK {
		t.Fatalf("below quota the remaining token must work, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := h.do(http.MethodPost, "/api/v1/logout", second, "", nil); rr.Code != http.StatusOK {
		t.Fatalf("logout: %d %s", rr.Code, rr.Body.String())
	}
	if rr := h.do(http.MethodGet, "/api/v1/me", second, "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token must not authenticate, got %d", rr.Code)
	}
	tokenFrom(t, h.login(t, "/api/v1", "dave", "Secret#Pass1", "", ""))
}

func TestListAndRevokeTokens(t *testing.T) {
	h := newHarness(t, func(cfg *config.AppConfig) {
		g := cfg.Guards["api"]
		g.MaxTokens = 3
		cfg.Guards["api"] = g
	})
	h.createAccount(t, "erin", "Secret#Pass1")
	a := tokenFrom(t, h.login(t, "/api/v1", "erin", "Secret#Pass1", "", ""))
	second := h.login(t, "/api/v1", "erin", "Secret#Pass1", "", "")
	secondID, _ := decodeBody(t, second)["token_id"].(string)

	rr := h.do(http.MethodGet, "/api/v1/tokens", a, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: %d", rr.Code)
	}
	items, _ := decodeBody(t, rr)["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 live tokens, got %d", len(items))
	}
	if rr := h.do(http.MethodDelete, "/api/v1/tokens/"+secondID, a, "", nil); rr.Code != http.StatusOK {
		t.Fatalf("revoke: %d %s", rr.Code, rr.Body.String())
	}
	if rr := h.do(http.MethodDelete, "/api/v1/tokens/"+secondID, a, "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("second revoke should be 404, got %d", rr.Code)
	}
}

func TestTwoFactorEnrollment(t *testing.T) {
	h := newHarness(t, nil)
	h.createAccount(t, "frank", "Secret#Pass1")
	tok := tokenFrom(t, h.login(t, "/api/v1", "frank", "Secret#Pass1", "", ""))

	rr := h.do(http.MethodPost, "/api/v1/2fa/setup", tok, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("setup: %d %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	secret, _ := body["manual_secret"].(string)
	qr, _ := body["qr_png_base64"].(string)
	if secret == "" || !strings.HasPrefix(qr, "data:image/png;base64,") {
		t.Fatalf("unexpected setup body: %v", body)
	}
	if rr := h.do(http.MethodPost, "/api/v1/2fa/confirm", tok, "", map[string]string{"code": "000000"}); rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong code should be rejected, got %d", rr.Code)
	}
	code, _ := auth.ComputeTOTPCode(secret, time.Now(), auth.DefaultTOTPConfig())
	if rr := h.do(http.MethodPost, "/api/v1/2fa/confirm", tok, "", map[string]string{"code": code}); rr.Code != http.StatusOK {
		t.Fatalf("confirm: %d %s", rr.Code, rr.Body.String())
	}
	rr = h.login(t, "/api/v1", "frank", "Secret#Pass1", "", "")
	if rr.Code != http.StatusUnauthorized || decodeBody(t, rr)["error"] != "otp_required" {
		t.Fatalf("expected otp_required after enrollment, got %d: %s", rr.Code, rr.Body.String())
	}
	denied, err := h.attempts.List(context.Background(), store.AttemptFilter{Guard: "api", Outcome: "deny"})
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(denied) != 1 || denied[0].ReasonCode != string(decision.ReasonUnauthenticated) || denied[0].Status != http.StatusUnauthorized {
		t.Fatalf("otp_required refusal must be recorded once, got %+v", denied)
	}
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, nil)
	if rr := h.do(http.MethodGet, "/healthz", "", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rr.Code)
	}
	if rr := h.do(http.MethodGet, "/readyz", "", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("readyz: %d %s", rr.Code, rr.Body.String())
	}
}

func TestMetricsEndpointDisabledByDefault(t *testing.T) {
	h := newHarness(t, nil)
	if rr := h.do(http.MethodGet, "/metrics", "", "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestMetricsEndpointRequiresToken(t *testing.T) {
	h := newHarness(t, func(cfg *config.AppConfig) {
		cfg.Observability = config.ObservabilityConfig{MetricsEnabled: true, MetricsToken: "scrape"}
	})
	h.createAccount(t, "gina", "Secret#Pass1")
	tokenFrom(t, h.login(t, "/api/v1", "gina", "Secret#Pass1", "", ""))

	if rr := h.do(http.MethodGet, "/metrics", "", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	rr := h.do(http.MethodGet, "/metrics", "scrape", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `mguard_access_decisions_total{guard="api",outcome="admit",reason=""} 1`) {
		t.Fatalf("decision counter missing from scrape")
	}
}

func TestRequirePermissionDeniesMissingPermission(t *testing.T) {
	s := &Server{policy: rbac.NewPolicy(rbac.DefaultRoles())}
	handler := s.requirePermission(rbac.PermAccessLogsManage)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodDelete, "/api/admin/access-attempts", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{
		Username:    "manager",
		Roles:       []string{rbac.RoleAdmin},
		Permissions: []string{string(rbac.PermAccessLogsView)},
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %d", rr.Code)
	}
}

func TestLoginRejectsUnknownAbilities(t *testing.T) {
	h := newHarness(t, nil)
	h.createAccount(t, "hank", "Secret#Pass1")
	rr := h.do(http.MethodPost, "/api/v1/login", "", "", map[string]any{
		"username": "hank", "password": "Secret#Pass1", "abilities": []string{"bookings.view", "launch.missiles"},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	rr = h.do(http.MethodPost, "/api/v1/login", "", "", map[string]any{
		"username": "hank", "password": "Secret#Pass1", "abilities": []string{"Bookings.View"},
	})
	abilities, _ := decodeBody(t, rr)["abilities"].([]any)
	if rr.Code != http.StatusCreated || len(abilities) != 1 || abilities[0] != "bookings.view" {
		t.Fatalf("expected normalized ability, got %d: %s", rr.Code, rr.Body.String())
	}
}
