package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"merchant-guard/config"
	"merchant-guard/core/auth"
	"merchant-guard/core/decision"
	"merchant-guard/core/guard"
	"merchant-guard/core/rbac"
	"merchant-guard/core/store"
	"merchant-guard/core/tokens"
	"merchant-guard/core/utils"
)

type AuthHandler struct {
	cfg         *config.AppConfig
	credentials auth.CredentialPolicy
	accounts    store.AccountsStore
	policy      *rbac.Policy
	registry    *guard.Registry
	engine      *decision.Engine
	tokens      *tokens.Manager
	clientIP    func(*http.Request) string
	logger      *utils.Logger
	now         func() time.Time
}

func NewAuthHandler(cfg *config.AppConfig, accounts store.AccountsStore, policy *rbac.Policy, registry *guard.Registry, engine *decision.Engine, tm *tokens.Manager, clientIP func(*http.Request) string, logger *utils.Logger) *AuthHandler {
	return &AuthHandler{
		cfg:         cfg,
		credentials: auth.CredentialPolicy{MinPasswordLength: cfg.Security.PasswordMinLength},
		accounts:    accounts,
		policy:      policy,
		registry:    registry,
		engine:      engine,
		tokens:      tm,
		clientIP:    clientIP,
		logger:      logger,
		now:         time.Now,
	}
}

type credentials struct {
	Username  string   `json:"username"`
	Password  string   `json:"password"`
	OTP       string   `json:"otp"`
	TokenName string   `json:"token_name"`
	Abilities []string `json:"abilities"`
}

// Login verifies credentials for the route's guard and issues a bearer token.
// Lockout bookkeeping happens here; the decision engine only reads it.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	guardName := auth.GuardFromContext(ctx)
	var cred credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&cred); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	cred.Username = auth.NormalizeUsername(cred.Username)
	if err := h.credentials.CheckUsername(cred.Username); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_username")
		return
	}
	abilities, ok := normalizeAbilities(cred.Abilities)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_abilities")
		return
	}
	req := decision.Request{IP: h.clientIP(r), RequestID: auth.RequestIDFromContext(ctx), Intent: decision.IntentIssueToken}

	acc, roles, err := h.accounts.FindByUsername(ctx, cred.Username)
	if err != nil {
		h.logger.Errorf("AUTH login lookup %s: %v", cred.Username, err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if acc == nil {
		h.logger.Printf("AUTH fail (unknown user) guard=%s user=%s", guardName, cred.Username)
		h.writeDenial(w, r, nil, guardName, req)
		return
	}
	now := h.now().UTC()
	auth.ExpireLock(acc, now)
	principal := auth.BuildPrincipal(acc, roles, h.policy)
	if !principal.Usable(now) {
		h.writeDenial(w, r, principal, guardName, req)
		return
	}

	ph, _ := auth.ParsePasswordHash(acc.PasswordHash, acc.Salt)
	ok, err = auth.VerifyPassword(cred.Password, h.cfg.Pepper, ph)
	if err != nil {
		h.logger.Errorf("AUTH password verify %s: %v", cred.Username, err)
	}
	if ok && principal.TwoFactorEnabled {
		if strings.TrimSpace(cred.OTP) == "" {
			// recorded as an unauthenticated attempt; the body tells the client to prompt for a code
			if _, err := h.engine.Evaluate(ctx, nil, guardName, req); err != nil {
				return
			}
			h.logger.Printf("AUTH otp required guard=%s user=%s", guardName, cred.Username)
			writeError(w, http.StatusUnauthorized, "otp_required")
			return
		}
		ok = h.verifyOTP(acc, cred.OTP, now)
	}
	if !ok {
		locked := auth.RegisterLoginFailure(acc, now, h.cfg.Security.LoginMaxFailures)
		if err := h.accounts.UpdateLoginState(ctx, acc); err != nil {
			h.logger.Errorf("AUTH persist failure state %s: %v", cred.Username, err)
		}
		h.logger.Printf("AUTH fail (credentials) guard=%s user=%s stage=%d locked=%v", guardName, cred.Username, acc.LockStage, locked)
		if locked {
			h.writeDenial(w, r, auth.BuildPrincipal(acc, roles, h.policy), guardName, req)
			return
		}
		h.writeDenial(w, r, nil, guardName, req)
		return
	}

	auth.RegisterLoginSuccess(acc, now)
	if err := h.accounts.UpdateLoginState(ctx, acc); err != nil {
		h.logger.Errorf("AUTH persist success state %s: %v", cred.Username, err)
	}
	principal = auth.BuildPrincipal(acc, roles, h.policy)
	d, err := h.engine.Evaluate(ctx, principal, guardName, req)
	if err != nil {
		return
	}
	if !d.Admit {
		WriteDecision(w, d)
		return
	}
	name := strings.TrimSpace(cred.TokenName)
	if name == "" {
		name = "login"
	}
	issued, err := h.tokens.Issue(ctx, principal.ID, d.Guard, name, abilities)
	if err != nil {
		if errors.Is(err, tokens.ErrQuotaExceeded) {
			def, _ := h.registry.Lookup(d.Guard)
			WriteDecision(w, decision.Decision{
				Guard:   d.Guard,
				Reason:  decision.ReasonMaxTokens,
				Status:  decision.ReasonMaxTokens.Status(),
				Payload: decision.Payload{Guard: d.Guard, MaxTokens: def.MaxTokens},
			})
			return
		}
		h.logger.Errorf("AUTH issue token %s guard=%s: %v", cred.Username, d.Guard, err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	h.logger.Printf("AUTH login ok guard=%s user=%s token=%s", d.Guard, principal.Username, issued.Token.ID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      issued.Bearer,
		"token_id":   issued.Token.ID,
		"guard":      issued.Token.Guard,
		"abilities":  issued.Token.Abilities,
		"expires_at": issued.Token.ExpiresAt,
	})
}

// normalizeAbilities accepts "*" or known permission names.
func normalizeAbilities(in []string) ([]string, bool) {
	if len(in) == 0 {
		return nil, true
	}
	named := make([]string, 0, len(in))
	for _, a := range in {
		if strings.TrimSpace(a) == "*" {
			return []string{"*"}, true
		}
		named = append(named, a)
	}
	valid, invalid := rbac.NormalizePermissionNames(named)
	if len(invalid) > 0 {
		return nil, false
	}
	return valid, true
}

func (h *AuthHandler) verifyOTP(acc *store.Account, code string, now time.Time) bool {
	secret, err := auth.DecryptTOTPSecret(acc.TOTPSecret, h.cfg.Pepper)
	if err != nil || secret == "" {
		h.logger.Errorf("AUTH totp secret unreadable for %s: %v", acc.Username, err)
		return false
	}
	ok, err := auth.VerifyTOTP(secret, code, now, auth.DefaultTOTPConfig())
	return err == nil && ok
}

// writeDenial runs the engine so the refusal is recorded like any other decision.
func (h *AuthHandler) writeDenial(w http.ResponseWriter, r *http.Request, p *auth.Principal, guardName string, req decision.Request) {
	d, err := h.engine.Evaluate(r.Context(), p, guardName, req)
	if err != nil {
		return
	}
	if d.Admit {
		writeError(w, http.StatusUnauthorized, string(decision.ReasonUnauthenticated))
		return
	}
	WriteDecision(w, d)
}

type meResponse struct {
	*auth.Principal
	Guard   string `json:"guard"`
	TokenID string `json:"token_id,omitempty"`
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, http.StatusOK, meResponse{
		Principal: auth.PrincipalFromContext(ctx),
		Guard:     auth.GuardFromContext(ctx),
		TokenID:   auth.TokenIDFromContext(ctx),
	})
}

// Logout revokes the presented token, or every token of the guard with ?all=1.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := auth.PrincipalFromContext(ctx)
	guardName := auth.GuardFromContext(ctx)
	if all := r.URL.Query().Get("all"); all == "1" || strings.EqualFold(all, "true") {
		n, err := h.tokens.RevokeAllForGuard(ctx, p.ID, guardName)
		if err != nil {
			h.logger.Errorf("AUTH logout all %s: %v", p.Username, err)
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
		return
	}
	if err := h.tokens.Revoke(ctx, p.ID, guardName, auth.TokenIDFromContext(ctx)); err != nil {
		if errors.Is(err, tokens.ErrTokenNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		h.logger.Errorf("AUTH logout %s: %v", p.Username, err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": 1})
}
