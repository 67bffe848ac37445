package config

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/robfig/cron/v3"
)

const (
	defaultPepper     = "kQ1y2m6GdP0pXk4n9Zs7rW3bT8vH5cJa"
	defaultSigningKey = "dev-signing-key-2b7c41e09fd34a8c9e6a51b0d7c2f3e8"
)

func Validate(cfg *AppConfig) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if driver == "" {
		driver = "postgres"
	}
	switch driver {
	case "postgres", "pg":
		if strings.TrimSpace(cfg.DBURL) == "" {
			return fmt.Errorf("db_url must be set for postgres driver")
		}
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return fmt.Errorf("db_path must be set for sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported db_driver: %s", cfg.DBDriver)
	}
	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level: %s", cfg.LogLevel)
	}
	switch cfg.RateLimit.Backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(cfg.RateLimit.Redis.URL) == "" && strings.TrimSpace(cfg.RateLimit.Redis.Addr) == "" {
			return fmt.Errorf("rate_limit.redis.url or rate_limit.redis.addr must be set for redis backend")
		}
	default:
		return fmt.Errorf("unsupported rate_limit.backend: %s", cfg.RateLimit.Backend)
	}
	if cfg.Activity.CleanupSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Activity.CleanupSchedule); err != nil {
			return fmt.Errorf("activity.cleanup_schedule: %w", err)
		}
	}
	if strings.TrimSpace(cfg.Tokens.SigningKey) == "" {
		return fmt.Errorf("tokens.signing_key must be set via env")
	}
	if strings.TrimSpace(cfg.Pepper) == "" {
		return fmt.Errorf("pepper must be set via env")
	}
	if n := cfg.Security.PasswordMinLength; n != 0 && (n < 8 || n > 128) {
		return fmt.Errorf("security.password_min_length must be between 8 and 128")
	}
	if err := ValidateGuards(cfg.Guards); err != nil {
		return err
	}
	if !cfg.IsDev() {
		if cfg.Tokens.SigningKey == defaultSigningKey || cfg.Pepper == defaultPepper {
			return fmt.Errorf("default secrets are not allowed outside APP_ENV=dev")
		}
		if len(cfg.Tokens.SigningKey) < 32 {
			return fmt.Errorf("tokens.signing_key must be at least 32 characters")
		}
		if !cfg.TLSEnabled {
			return fmt.Errorf("tls_enabled=false is only allowed in APP_ENV=dev")
		}
	}
	return nil
}

func ValidateGuards(guards map[string]GuardConfig) error {
	if len(guards) == 0 {
		return fmt.Errorf("at least one guard must be configured")
	}
	prefixes := map[string]string{}
	for name, g := range guards {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("guard name must not be empty")
		}
		if _, ok := knownClasses[g.AccountClass]; !ok {
			return fmt.Errorf("guard %s: unknown account_class %q", name, g.AccountClass)
		}
		if g.Driver != DriverSession && g.Driver != DriverToken {
			return fmt.Errorf("guard %s: unknown driver %q", name, g.Driver)
		}
		if g.Lifetime <= 0 {
			return fmt.Errorf("guard %s: lifetime must be positive", name)
		}
		if g.MaxTokens < 0 {
			return fmt.Errorf("guard %s: max_tokens must not be negative", name)
		}
		if g.RateLimit.MaxAttempts < 0 || g.RateLimit.Window < 0 {
			return fmt.Errorf("guard %s: rate_limit must not be negative", name)
		}
		if g.RateLimit.MaxAttempts > 0 && g.RateLimit.Window == 0 {
			return fmt.Errorf("guard %s: rate_limit.window must be set when max_attempts is set", name)
		}
		for _, entry := range g.IPWhitelist {
			if !validWhitelistEntry(entry) {
				return fmt.Errorf("guard %s: invalid ip_whitelist entry %q", name, entry)
			}
		}
		if g.FailOpen && g.IsStrict() {
			return fmt.Errorf("guard %s: fail_open is not allowed for guards requiring 2FA, IP whitelist or admin access", name)
		}
		if g.RoutePrefix != "" {
			if g.Driver != DriverToken {
				return fmt.Errorf("guard %s: route_prefix is only supported for token guards", name)
			}
			if !strings.HasPrefix(g.RoutePrefix, "/") {
				return fmt.Errorf("guard %s: route_prefix must start with /", name)
			}
			if other, ok := prefixes[g.RoutePrefix]; ok {
				return fmt.Errorf("guards %s and %s share route_prefix %s", other, name, g.RoutePrefix)
			}
			prefixes[g.RoutePrefix] = name
		}
	}
	return nil
}

func validWhitelistEntry(entry string) bool {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return false
		}
		// mapped ranges are matched after unmapping, which needs the full ::ffff:0:0/96 head
		return !p.Addr().Is4In6() || p.Bits() >= 96
	}
	_, err := netip.ParseAddr(entry)
	return err == nil
}
