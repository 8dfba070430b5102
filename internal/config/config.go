package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"cashflow-suite/settings/internal/constants"
)

// Config holds all application configuration
type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	Version  string `env:"APP_VERSION" envDefault:"dev"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Postgres PostgresConfig
	Redis    RedisConfig
	Settings SettingsConfig
	CORS     CORSConfig
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host         string        `env:"PG_HOST" envDefault:"localhost"`
	Port         int           `env:"PG_PORT" envDefault:"5432"`
	User         string        `env:"PG_USER" envDefault:"settings"`
	Password     string        `env:"PG_PASSWORD"`
	Database     string        `env:"PG_DB" envDefault:"settings"`
	SSLMode      string        `env:"PG_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"PG_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns int           `env:"PG_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"PG_MAX_IDLE_TIME" envDefault:"5m"`
	AutoMigrate  bool          `env:"PG_AUTO_MIGRATE" envDefault:"true"`
}

// DSN returns the PostgreSQL connection string
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(p.User), url.QueryEscape(p.Password), p.Host, p.Port, p.Database, p.SSLMode,
	)
}

// RedisConfig holds the optional Redis connection used for the shared status
// cache and cross-instance invalidation.
type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SettingsConfig holds the provider-settings specific knobs.
type SettingsConfig struct {
	EncryptionKey    string        `env:"SETTINGS_ENCRYPTION_KEY"`
	StateSigningKey  string        `env:"SETTINGS_STATE_SIGNING_KEY"`
	TestTimeout      time.Duration `env:"SETTINGS_TEST_TIMEOUT" envDefault:"15s"`
	StatusCacheTTL   time.Duration `env:"STATUS_CACHE_TTL" envDefault:"30s"`
	ReverifySchedule string        `env:"REVERIFY_SCHEDULE" envDefault:"@every 6h"`
	OAuthRedirectURL string        `env:"OAUTH_REDIRECT_URL" envDefault:"http://localhost:8080/api/v1/settings/oauth/callback"`
	CatalogPath      string        `env:"REGISTRY_CATALOG_PATH"`
	TestRatePerMin   int           `env:"SETTINGS_TEST_RATE_PER_MIN" envDefault:"12"`
	// TestRateWhitelist lists client IPs exempt from the test rate limit.
	TestRateWhitelist []string `env:"SETTINGS_TEST_RATE_WHITELIST" envSeparator:","`
	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP.
	// Disable when the service is reachable without a proxy in front.
	TrustProxyHeaders bool `env:"SETTINGS_TRUST_PROXY_HEADERS" envDefault:"true"`
}

// EffectiveTestTimeout clamps the configured timeout to the supported bounds.
func (s SettingsConfig) EffectiveTestTimeout() time.Duration {
	return ClampTestTimeout(s.TestTimeout)
}

// ClampTestTimeout bounds d to [MinTestTimeout, MaxTestTimeout]; zero means default.
func ClampTestTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return constants.DefaultTestTimeout
	case d < constants.MinTestTimeout:
		return constants.MinTestTimeout
	case d > constants.MaxTestTimeout:
		return constants.MaxTestTimeout
	}
	return d
}

// CORSConfig holds cross-origin settings for the settings UI.
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Load reads optional .env files and then parses the environment.
// Missing files are ignored.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	var errs []error

	if c.Settings.StatusCacheTTL <= 0 {
		errs = append(errs, errors.New("STATUS_CACHE_TTL must be positive"))
	}
	if c.Settings.ReverifySchedule != "" {
		if _, err := cron.ParseStandard(c.Settings.ReverifySchedule); err != nil {
			errs = append(errs, fmt.Errorf("REVERIFY_SCHEDULE: %w", err))
		}
	}
	if c.Settings.OAuthRedirectURL != "" {
		if _, err := url.ParseRequestURI(c.Settings.OAuthRedirectURL); err != nil {
			errs = append(errs, fmt.Errorf("OAUTH_REDIRECT_URL: %w", err))
		}
	}
	if c.IsProduction() {
		if c.Settings.EncryptionKey == "" {
			errs = append(errs, errors.New("SETTINGS_ENCRYPTION_KEY is required in production"))
		}
		if c.Settings.StateSigningKey == "" {
			errs = append(errs, errors.New("SETTINGS_STATE_SIGNING_KEY is required in production"))
		}
	}
	return errors.Join(errs...)
}
