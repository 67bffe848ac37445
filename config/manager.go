package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	defaultConfigPath = "config/app.yaml"
	envPrefix         = "MGUARD_"
)

func Load() (*AppConfig, error) {
	cfg := &AppConfig{}
	cfgPath := resolveConfigPath()
	if st, err := os.Stat(cfgPath); err == nil && !st.IsDir() {
		if err := cleanenv.ReadConfig(cfgPath, cfg); err != nil {
			return nil, err
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}
	applyEnvAliases(cfg)
	normalizeConfig(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvAliases(cfg *AppConfig) {
	if cfg == nil {
		return
	}
	if v := getEnv("DATABASE_URL"); v != "" {
		cfg.DBURL = strings.TrimSpace(v)
	}
	if v := getEnv("REDIS_URL"); v != "" {
		cfg.RateLimit.Redis.URL = strings.TrimSpace(v)
		if cfg.RateLimit.Backend == "" {
			cfg.RateLimit.Backend = "redis"
		}
	}
	if v := getEnv("TOKEN_SIGNING_KEY"); v != "" {
		cfg.Tokens.SigningKey = strings.TrimSpace(v)
	}
	if v := getEnv("PEPPER"); v != "" {
		cfg.Pepper = strings.TrimSpace(v)
	}
	if v := getEnv("ENV", "APP_ENV"); v != "" {
		cfg.AppEnv = strings.TrimSpace(v)
	}
	if v := getEnv("PORT", envPrefix+"PORT"); v != "" {
		cfg.ListenAddr = listenAddrWithPort(cfg.ListenAddr, v)
	}
	if v := getEnv("TRUSTED_PROXIES"); v != "" {
		cfg.Security.TrustedProxies = splitList(v)
	}
}

func normalizeConfig(cfg *AppConfig) {
	if cfg == nil {
		return
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.DBURL = strings.TrimSpace(cfg.DBURL)
	cfg.ListenAddr = strings.TrimSpace(cfg.ListenAddr)
	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Pepper = strings.TrimSpace(cfg.Pepper)
	cfg.Tokens.SigningKey = strings.TrimSpace(cfg.Tokens.SigningKey)
	cfg.RateLimit.Backend = strings.ToLower(strings.TrimSpace(cfg.RateLimit.Backend))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "memory"
	}
	if cfg.RateLimit.MaxBuckets <= 0 {
		cfg.RateLimit.MaxBuckets = 10000
	}
	if cfg.RateLimit.BucketTTL <= 0 {
		cfg.RateLimit.BucketTTL = 10 * time.Minute
	}
	if cfg.RateLimit.Redis.KeyPrefix == "" {
		cfg.RateLimit.Redis.KeyPrefix = "mguard:rl:"
	}
	if cfg.Security.LookupTimeout <= 0 {
		cfg.Security.LookupTimeout = 250 * time.Millisecond
	}
	if cfg.Security.RecordTimeout <= 0 {
		cfg.Security.RecordTimeout = 2 * time.Second
	}
	if cfg.Security.LoginMaxFailures <= 0 {
		cfg.Security.LoginMaxFailures = 5
	}
	if cfg.Security.PasswordMinLength <= 0 {
		cfg.Security.PasswordMinLength = 12
	}
	if strings.TrimSpace(cfg.Security.TOTPIssuer) == "" {
		cfg.Security.TOTPIssuer = "Merchant Guard"
	}
	if cfg.Tokens.Issuer == "" {
		cfg.Tokens.Issuer = "merchant-guard"
	}
	if cfg.Tokens.ReservationTTL <= 0 {
		cfg.Tokens.ReservationTTL = 30 * time.Second
	}
	if cfg.Activity.BufferSize <= 0 {
		cfg.Activity.BufferSize = 1024
	}
	if cfg.Activity.RetentionDays <= 0 {
		cfg.Activity.RetentionDays = 90
	}
	if strings.TrimSpace(cfg.Activity.CleanupSchedule) == "" {
		cfg.Activity.CleanupSchedule = "0 3 * * *"
	}
	if cfg.Bootstrap.SuperadminUsername == "" {
		cfg.Bootstrap.SuperadminUsername = "superadmin"
	}
	if cfg.IsDev() {
		if cfg.Pepper == "" {
			cfg.Pepper = defaultPepper
		}
		if cfg.Tokens.SigningKey == "" {
			cfg.Tokens.SigningKey = defaultSigningKey
		}
		if cfg.Bootstrap.SuperadminPassword == "" {
			cfg.Bootstrap.SuperadminPassword = "superadmin"
		}
	}
	if len(cfg.Guards) == 0 {
		cfg.Guards = DefaultGuards()
	}
	guards := make(map[string]GuardConfig, len(cfg.Guards))
	for name, g := range cfg.Guards {
		g.AccountClass = strings.ToLower(strings.TrimSpace(g.AccountClass))
		g.Driver = strings.ToLower(strings.TrimSpace(g.Driver))
		if g.Driver == "" {
			g.Driver = driverFromName(name)
		}
		g.RoutePrefix = strings.TrimRight(strings.TrimSpace(g.RoutePrefix), "/")
		list := make([]string, 0, len(g.IPWhitelist))
		for _, entry := range g.IPWhitelist {
			if v := strings.TrimSpace(entry); v != "" {
				list = append(list, v)
			}
		}
		g.IPWhitelist = list
		guards[strings.ToLower(strings.TrimSpace(name))] = g
	}
	cfg.Guards = guards
}

// driverFromName treats "api" and "api_*" guards as token-bearing.
func driverFromName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "api" || strings.HasPrefix(n, "api_") {
		return DriverToken
	}
	return DriverSession
}

func getEnv(keys ...string) string {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return ""
}

func resolveConfigPath() string {
	if v := getEnv("APP_CONFIG", envPrefix+"APP_CONFIG"); v != "" {
		return strings.TrimSpace(v)
	}
	return defaultConfigPath
}

func listenAddrWithPort(currentAddr, portRaw string) string {
	port := strings.TrimSpace(portRaw)
	if port == "" {
		return currentAddr
	}
	if _, err := strconv.Atoi(port); err != nil {
		return currentAddr
	}
	host := "0.0.0.0"
	parts := strings.Split(strings.TrimSpace(currentAddr), ":")
	if len(parts) > 1 {
		host = strings.Join(parts[:len(parts)-1], ":")
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return host + ":" + port
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
