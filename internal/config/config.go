package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"

	"github.com/pmrelay/pmrelay/internal/model"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreTelegram = "telegram"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

// Config holds the relay configuration.
// Environment variables are parsed with the PMRELAY_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string      `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP
	HTTPPort      int    `envconfig:"HTTP_PORT" default:"8080"`
	WebhookPrefix string `envconfig:"WEBHOOK_PREFIX" default:"webhook"`
	SecretToken   string `envconfig:"SECRET_TOKEN" default:""`

	// Telegram Bot API
	TelegramAPIURL         string `envconfig:"TELEGRAM_API_URL" default:"https://api.telegram.org"`
	TelegramTimeoutSeconds int    `envconfig:"TELEGRAM_TIMEOUT_SECONDS" default:"30"`

	// Document store
	StoreDriver   string `envconfig:"STORE_DRIVER" default:"telegram"`
	SQLitePath    string `envconfig:"SQLITE_PATH" default:"./data/pmrelay.db"`
	PostgresDSN   string `envconfig:"POSTGRES_DSN" default:""`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Calendar day used by the verification challenge, and the zone used to print dates to users.
	VerifyTimeZone  string `envconfig:"VERIFY_TIME_ZONE" default:"UTC"`
	DisplayTimeZone string `envconfig:"DISPLAY_TIME_ZONE" default:"Asia/Shanghai"`

	// Update dispatch
	DispatchShards      int `envconfig:"DISPATCH_SHARDS" default:"8"`
	DispatchQueueSize   int `envconfig:"DISPATCH_QUEUE_SIZE" default:"128"`
	DispatchMaxAttempts int `envconfig:"DISPATCH_MAX_ATTEMPTS" default:"1"`

	// Pin renewal
	PinRenewEnabled    bool   `envconfig:"PIN_RENEW_ENABLED" default:"true"`
	PinRenewCron       string `envconfig:"PIN_RENEW_CRON" default:"0 */6 * * *"`
	PinRenewMaxAgeDays int    `envconfig:"PIN_RENEW_MAX_AGE_DAYS" default:"6"`

	// Comma separated <botToken>:<ownerUid> pairs whose documents are renewed on schedule.
	Bots []string `envconfig:"BOTS"`

	// Health
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"5"`
}

// ResolveDefaults validates the store driver and time zones.
func (c *Config) ResolveDefaults() error {
	switch c.StoreDriver {
	case StoreTelegram, StoreSQLite, StoreRedis, StoreMemory:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: STORE_DRIVER=postgres requires POSTGRES_DSN", model.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unsupported STORE_DRIVER: %s", model.ErrValidation, c.StoreDriver)
	}

	if _, err := time.LoadLocation(c.VerifyTimeZone); err != nil {
		return fmt.Errorf("%w: invalid VERIFY_TIME_ZONE %q: %w", model.ErrValidation, c.VerifyTimeZone, err)
	}
	if _, err := time.LoadLocation(c.DisplayTimeZone); err != nil {
		return fmt.Errorf("%w: invalid DISPLAY_TIME_ZONE %q: %w", model.ErrValidation, c.DisplayTimeZone, err)
	}

	if _, err := c.BotCredentials(); err != nil {
		return err
	}

	if c.WebhookPrefix == "" {
		c.WebhookPrefix = "webhook"
	}
	if c.PinRenewMaxAgeDays <= 0 {
		c.PinRenewMaxAgeDays = 6
	}
	if c.DispatchMaxAttempts <= 0 {
		c.DispatchMaxAttempts = 1
	}
	return nil
}

// New creates a new Config by parsing environment variables
// Example: PMRELAY_HTTP_PORT, PMRELAY_STORE_DRIVER
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("PMRELAY", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Int("port", cfg.HTTPPort).
		Str("store_driver", cfg.StoreDriver).
		Str("verify_tz", cfg.VerifyTimeZone).
		Str("display_tz", cfg.DisplayTimeZone).
		Bool("secret_token_present", cfg.SecretToken != "").
		Bool("pin_renew", cfg.PinRenewEnabled).
		Str("pin_renew_cron", cfg.PinRenewCron).
		Int("dispatch_shards", cfg.DispatchShards).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	return &Config{
		Environment:               EnvTesting,
		LogLevel:                  "debug",
		HTTPPort:                  8080,
		WebhookPrefix:             "webhook",
		TelegramAPIURL:            "http://127.0.0.1:0",
		TelegramTimeoutSeconds:    5,
		StoreDriver:               StoreMemory,
		VerifyTimeZone:            "UTC",
		DisplayTimeZone:           "UTC",
		DispatchShards:            2,
		DispatchQueueSize:         16,
		DispatchMaxAttempts:       1,
		PinRenewCron:              "0 */6 * * *",
		PinRenewMaxAgeDays:        6,
		HealthIntervalSeconds:     1,
		HealthProbeTimeoutSeconds: 1,
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// VerifyLocation returns the zone whose calendar day bounds verification attempts.
func (c *Config) VerifyLocation() *time.Location {
	return loadOrUTC(c.VerifyTimeZone)
}

// DisplayLocation returns the zone used when quoting message dates.
func (c *Config) DisplayLocation() *time.Location {
	return loadOrUTC(c.DisplayTimeZone)
}

// PinRenewMaxAge converts PIN_RENEW_MAX_AGE_DAYS to a duration.
func (c *Config) PinRenewMaxAge() time.Duration {
	return time.Duration(c.PinRenewMaxAgeDays) * 24 * time.Hour
}

// BotCredential is one configured bot and the user id of its owner.
type BotCredential struct {
	Token    string
	OwnerUID int64
}

// BotCredentials parses BOTS. Bot tokens contain a colon, so the owner id is
// taken after the last one.
func (c *Config) BotCredentials() ([]BotCredential, error) {
	out := make([]BotCredential, 0, len(c.Bots))
	for _, raw := range c.Bots {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		i := strings.LastIndex(raw, ":")
		if i <= 0 {
			return nil, fmt.Errorf("%w: invalid BOTS entry %q: want <token>:<ownerUid>", model.ErrValidation, raw)
		}
		owner, err := strconv.ParseInt(raw[i+1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid BOTS entry %q: %w", model.ErrValidation, raw, err)
		}
		out = append(out, BotCredential{Token: raw[:i], OwnerUID: owner})
	}
	return out, nil
}

func loadOrUTC(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
