package config

import "time"

type AppConfig struct {
	DBDriver      string                 `yaml:"db_driver" env:"MGUARD_DB_DRIVER"`
	DBURL         string                 `yaml:"db_url" env:"MGUARD_DB_URL"`
	DBPath        string                 `yaml:"db_path" env:"MGUARD_DB_PATH"`
	ListenAddr    string                 `yaml:"listen_addr" env:"MGUARD_LISTEN_ADDR" env-default:"0.0.0.0:8080"`
	AppEnv        string                 `yaml:"app_env" env:"MGUARD_APP_ENV" env-default:"prod"`
	LogLevel      string                 `yaml:"log_level" env:"MGUARD_LOG_LEVEL" env-default:"info"`
	Pepper        string                 `yaml:"pepper" env:"MGUARD_PEPPER"`
	TLSEnabled    bool                   `yaml:"tls_enabled" env:"MGUARD_TLS_ENABLED"`
	TLSCert       string                 `yaml:"tls_cert" env:"MGUARD_TLS_CERT"`
	TLSKey        string                 `yaml:"tls_key" env:"MGUARD_TLS_KEY"`
	Security      SecurityConfig         `yaml:"security"`
	RateLimit     RateLimitConfig        `yaml:"rate_limit"`
	Tokens        TokensConfig           `yaml:"tokens"`
	Activity      ActivityConfig         `yaml:"activity"`
	Observability ObservabilityConfig    `yaml:"observability"`
	Bootstrap     BootstrapConfig        `yaml:"bootstrap"`
	Guards        map[string]GuardConfig `yaml:"guards"`
}

func (c *AppConfig) IsDev() bool {
	if c == nil {
		return false
	}
	return c.AppEnv == "dev"
}

type SecurityConfig struct {
	TrustedProxies   []string      `yaml:"trusted_proxies"`
	LookupTimeout    time.Duration `yaml:"lookup_timeout" env:"MGUARD_LOOKUP_TIMEOUT"`
	RecordTimeout    time.Duration `yaml:"record_timeout"`
	LoginMaxFailures int           `yaml:"login_max_failures"`
	TOTPIssuer       string        `yaml:"totp_issuer"`
	// PasswordMinLength applies to seeded credentials outside dev.
	PasswordMinLength int `yaml:"password_min_length"`
}

type RateLimitConfig struct {
	Backend    string        `yaml:"backend" env:"MGUARD_RATE_LIMIT_BACKEND"`
	MaxBuckets int           `yaml:"max_buckets"`
	BucketTTL  time.Duration `yaml:"bucket_ttl"`
	Redis      RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	URL       string `yaml:"url" env:"MGUARD_REDIS_URL"`
	Addr      string `yaml:"addr" env:"MGUARD_REDIS_ADDR"`
	Password  string `yaml:"password" env:"MGUARD_REDIS_PASSWORD"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type TokensConfig struct {
	SigningKey     string        `yaml:"signing_key" env:"MGUARD_TOKEN_SIGNING_KEY"`
	Issuer         string        `yaml:"issuer"`
	ReservationTTL time.Duration `yaml:"reservation_ttl"`
}

type ActivityConfig struct {
	BufferSize      int    `yaml:"buffer_size"`
	RetentionDays   int    `yaml:"retention_days"`
	CleanupSchedule string `yaml:"cleanup_schedule"`
	LogDecisions    bool   `yaml:"log_decisions"`
}

type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled" env:"MGUARD_METRICS_ENABLED"`
	MetricsToken   string `yaml:"metrics_token" env:"MGUARD_METRICS_TOKEN"`
}

type BootstrapConfig struct {
	SuperadminUsername string `yaml:"superadmin_username"`
	SuperadminPassword string `yaml:"superadmin_password" env:"MGUARD_SUPERADMIN_PASSWORD"`
}

// GuardConfig is the on-disk form of a guard definition.
type GuardConfig struct {
	AccountClass        string        `yaml:"account_class"`
	Driver              string        `yaml:"driver"`
	Lifetime            time.Duration `yaml:"lifetime"`
	MaxTokens           int           `yaml:"max_tokens"`
	RequiresTwoFactor   bool          `yaml:"requires_two_factor"`
	RequiresIPWhitelist bool          `yaml:"requires_ip_whitelist"`
	IPWhitelist         []string      `yaml:"ip_whitelist"`
	RateLimit           RateLimitRule `yaml:"rate_limit"`
	FailOpen            bool          `yaml:"fail_open"`
	RoutePrefix         string        `yaml:"route_prefix"`
}

type RateLimitRule struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Window      time.Duration `yaml:"window"`
}
