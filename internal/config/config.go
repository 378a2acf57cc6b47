// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full service configuration. Every field can be set through
// the environment variable named in its envconfig tag.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Cron      CronConfig
	Jobs      JobsConfig
	Figma     FigmaConfig
	Secrets   SecretsConfig
	Log       LogConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port       int    `envconfig:"PORT" default:"8080"`
	CORSOrigin string `envconfig:"CORS_ORIGIN" default:"*"`
}

type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" default:""`
}

// AuthConfig configures verification of the bearer tokens issued by the
// identity provider. Tokens are HS256 JWTs whose subject is the user id.
type AuthConfig struct {
	JWTSecret string `envconfig:"AUTH_JWT_SECRET" default:""`
	Issuer    string `envconfig:"AUTH_JWT_ISSUER" default:""`
}

type CronConfig struct {
	Secret            string        `envconfig:"CRON_SECRET" default:""`
	PlatformHeader    string        `envconfig:"CRON_PLATFORM_HEADER" default:"X-Vercel-Cron"`
	DefaultLimit      int           `envconfig:"CRON_DEFAULT_LIMIT" default:"5"`
	MaxLimit          int           `envconfig:"CRON_MAX_LIMIT" default:"10"`
	SchedulerInterval time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"0s"`
}

// JobsConfig holds the lease and rate-limit wait bounds for background jobs.
type JobsConfig struct {
	Lease        time.Duration `envconfig:"JOB_LEASE" default:"300s"`
	RetryMin     time.Duration `envconfig:"JOB_RETRY_MIN" default:"30s"`
	RetryMax     time.Duration `envconfig:"JOB_RETRY_MAX" default:"600s"`
	RetryDefault time.Duration `envconfig:"JOB_RETRY_DEFAULT" default:"60s"`
}

type FigmaConfig struct {
	BaseURL         string        `envconfig:"FIGMA_API_BASE_URL" default:"https://api.figma.com"`
	CacheTTL        time.Duration `envconfig:"FIGMA_CACHE_TTL" default:"60s"`
	RedisURL        string        `envconfig:"REDIS_URL" default:""`
	MaxAttempts     int           `envconfig:"FETCH_MAX_ATTEMPTS" default:"4"`
	AttemptTimeout  time.Duration `envconfig:"FETCH_ATTEMPT_TIMEOUT" default:"20s"`
	InlineMaxWait   time.Duration `envconfig:"FETCH_INLINE_MAX_WAIT" default:"20s"`
	MaxReportedWait time.Duration `envconfig:"FETCH_MAX_REPORTED_WAIT" default:"600s"`
}

type SecretsConfig struct {
	EncryptionKey string `envconfig:"SECRETS_ENCRYPTION_KEY" default:""`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"console"`
}

// RateLimitConfig configures the inbound per-client limiter.
type RateLimitConfig struct {
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `envconfig:"RATE_LIMIT_RPM" default:"120"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"30"`
	GenerateRPM       int  `envconfig:"RATE_LIMIT_GENERATE_RPM" default:"20"`
	// Comma-separated client IPs that skip or always fail the limiter.
	Whitelist string `envconfig:"RATE_LIMIT_WHITELIST" default:""`
	Blacklist string `envconfig:"RATE_LIMIT_BLACKLIST" default:""`
}

// Load reads the configuration from the environment and normalizes it.
func Load() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize repairs out-of-range values and rejects unusable ones.
func (c *Config) normalize() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got: %d", c.Server.Port)
	}

	if c.Cron.MaxLimit < 1 {
		c.Cron.MaxLimit = 10
	}
	if c.Cron.DefaultLimit < 1 {
		c.Cron.DefaultLimit = 1
	}
	if c.Cron.DefaultLimit > c.Cron.MaxLimit {
		c.Cron.DefaultLimit = c.Cron.MaxLimit
	}
	if c.Cron.SchedulerInterval < 0 {
		c.Cron.SchedulerInterval = 0
	}

	if c.Jobs.Lease <= 0 {
		c.Jobs.Lease = 300 * time.Second
	}
	if c.Jobs.RetryMin <= 0 {
		c.Jobs.RetryMin = 30 * time.Second
	}
	if c.Jobs.RetryMax < c.Jobs.RetryMin {
		c.Jobs.RetryMax = c.Jobs.RetryMin
	}
	if c.Jobs.RetryDefault < c.Jobs.RetryMin || c.Jobs.RetryDefault > c.Jobs.RetryMax {
		c.Jobs.RetryDefault = c.Jobs.RetryMin
	}

	if c.Figma.MaxAttempts < 1 {
		c.Figma.MaxAttempts = 1
	}
	if c.Figma.AttemptTimeout <= 0 {
		c.Figma.AttemptTimeout = 20 * time.Second
	}
	if c.Figma.InlineMaxWait < 0 {
		c.Figma.InlineMaxWait = 0
	}
	if c.Figma.MaxReportedWait <= 0 {
		c.Figma.MaxReportedWait = 600 * time.Second
	}
	if c.Figma.CacheTTL < 0 {
		c.Figma.CacheTTL = 0
	}

	if c.RateLimit.RequestsPerMinute < 1 {
		c.RateLimit.RequestsPerMinute = 120
	}
	if c.RateLimit.Burst < 1 {
		c.RateLimit.Burst = 1
	}
	if c.RateLimit.GenerateRPM < 1 {
		c.RateLimit.GenerateRPM = c.RateLimit.RequestsPerMinute
	}
	return nil
}

// CronConfigured reports whether the shared cron secret is set. Without it
// only the platform scheduler can reach the cron endpoint.
func (c *Config) CronConfigured() bool {
	return c.Cron.Secret != ""
}

// Persistent reports whether a database is configured. Without one the
// server keeps everything in memory.
func (c *Config) Persistent() bool {
	return c.Database.URL != ""
}
