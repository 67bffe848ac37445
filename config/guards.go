package config

import "time"

const (
	ClassUser       = "user"
	ClassVendor     = "vendor"
	ClassAdmin      = "admin"
	ClassSuperadmin = "superadmin"

	DriverSession = "session"
	DriverToken   = "token"
)

var knownClasses = map[string]struct{}{
	ClassUser:       {},
	ClassVendor:     {},
	ClassAdmin:      {},
	ClassSuperadmin: {},
}

var localWhitelist = []string{"127.0.0.1", "::1"}

// DefaultGuards is the guard table used when the config file declares none.
func DefaultGuards() map[string]GuardConfig {
	return map[string]GuardConfig{
		"web": {
			AccountClass: ClassUser,
			Driver:       DriverSession,
			Lifetime:     2 * time.Hour,
			RateLimit:    RateLimitRule{MaxAttempts: 120, Window: time.Minute},
		},
		"api": {
			AccountClass: ClassUser,
			Driver:       DriverToken,
			Lifetime:     24 * time.Hour,
			MaxTokens:    5,
			RateLimit:    RateLimitRule{MaxAttempts: 60, Window: time.Minute},
			RoutePrefix:  "/api/v1",
		},
		"vendor": {
			AccountClass: ClassVendor,
			Driver:       DriverSession,
			Lifetime:     2 * time.Hour,
			RateLimit:    RateLimitRule{MaxAttempts: 120, Window: time.Minute},
		},
		"api_vendor": {
			AccountClass: ClassVendor,
			Driver:       DriverToken,
			Lifetime:     24 * time.Hour,
			MaxTokens:    10,
			RateLimit:    RateLimitRule{MaxAttempts: 100, Window: time.Minute},
			RoutePrefix:  "/api/vendor",
		},
		"admin": {
			AccountClass:        ClassAdmin,
			Driver:              DriverSession,
			Lifetime:            time.Hour,
			RequiresTwoFactor:   true,
			RequiresIPWhitelist: true,
			IPWhitelist:         append([]string(nil), localWhitelist...),
			RateLimit:           RateLimitRule{MaxAttempts: 60, Window: time.Minute},
		},
		"api_admin": {
			AccountClass:        ClassAdmin,
			Driver:              DriverToken,
			Lifetime:            8 * time.Hour,
			MaxTokens:           3,
			RequiresTwoFactor:   true,
			RequiresIPWhitelist: true,
			IPWhitelist:         append([]string(nil), localWhitelist...),
			RateLimit:           RateLimitRule{MaxAttempts: 60, Window: time.Minute},
			RoutePrefix:         "/api/admin",
		},
		"superadmin": {
			AccountClass:        ClassSuperadmin,
			Driver:              DriverSession,
			Lifetime:            30 * time.Minute,
			RequiresTwoFactor:   true,
			RequiresIPWhitelist: true,
			IPWhitelist:         append([]string(nil), localWhitelist...),
			RateLimit:           RateLimitRule{MaxAttempts: 30, Window: time.Minute},
		},
		"api_superadmin": {
			AccountClass:        ClassSuperadmin,
			Driver:              DriverToken,
			Lifetime:            time.Hour,
			MaxTokens:           2,
			RequiresTwoFactor:   true,
			RequiresIPWhitelist: true,
			IPWhitelist:         append([]string(nil), localWhitelist...),
			RateLimit:           RateLimitRule{MaxAttempts: 30, Window: time.Minute},
			RoutePrefix:         "/api/superadmin",
		},
	}
}

// IsStrict reports whether the guard must fail closed when a policy store is unavailable.
func (g GuardConfig) IsStrict() bool {
	return g.RequiresTwoFactor || g.RequiresIPWhitelist || g.AccountClass == ClassAdmin || g.AccountClass == ClassSuperadmin
}
