package bootstrap

import (
	"context"
	"fmt"

	"merchant-guard/config"
	"merchant-guard/core/auth"
	"merchant-guard/core/rbac"
	"merchant-guard/core/store"
	"merchant-guard/core/utils"
)

// EnsureDefaultSuperadmin seeds the first superadmin account on an empty
// database. Existing installations are left untouched.
func EnsureDefaultSuperadmin(ctx context.Context, accounts store.AccountsStore, cfg *config.AppConfig, logger *utils.Logger) error {
	n, err := accounts.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	policy := auth.CredentialPolicy{MinPasswordLength: cfg.Security.PasswordMinLength}
	username := auth.NormalizeUsername(cfg.Bootstrap.SuperadminUsername)
	if err := policy.CheckUsername(username); err != nil {
		return fmt.Errorf("bootstrap username %q: %w", username, err)
	}
	password := cfg.Bootstrap.SuperadminPassword
	if password == "" {
		logger.Warnf("no accounts exist and bootstrap.superadmin_password is empty; skipping seed")
		return nil
	}
	if !cfg.IsDev() {
		if err := policy.CheckPassword(password, username); err != nil {
			return fmt.Errorf("bootstrap password: %w", err)
		}
	}
	ph, err := auth.HashPassword(password, cfg.Pepper)
	if err != nil {
		return err
	}
	acc := &store.Account{
		Username:     username,
		PasswordHash: ph.Hash,
		Salt:         ph.Salt,
		Status:       store.AccountStatusActive,
		IsActive:     true,
	}
	if _, err := accounts.Create(ctx, acc, []string{rbac.RoleSuperadmin}); err != nil {
		return err
	}
	logger.Printf("default superadmin %q created; enrol 2FA before using admin guards", acc.Username)
	return nil
}
