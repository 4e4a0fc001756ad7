package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the SMS pipeline service.
// Environment variables are parsed from the TEXTMIT_ prefix,
// e.g. TEXTMIT_HTTP_PORT, TEXTMIT_TASK_API_BASE_URL.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP configuration (inbound webhook + health)
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Store configuration. "auto" selects postgres when a DSN is set,
	// sqlite otherwise.
	DBDriver    string `envconfig:"DB_DRIVER" default:"auto"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"textmit.db"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// External task service
	TaskAPIBaseURL string `envconfig:"TASK_API_BASE_URL" default:"http://localhost:9080"`

	// Identity provider (client-credentials grant)
	AuthDomain       string `envconfig:"AUTH_DOMAIN" default:""`
	AuthClientID     string `envconfig:"AUTH_CLIENT_ID" default:""`
	AuthClientSecret string `envconfig:"AUTH_CLIENT_SECRET" default:""`
	AuthAudience     string `envconfig:"AUTH_AUDIENCE" default:""`

	// SMS gateway (outbound)
	SMSGatewayURL       string `envconfig:"SMS_GATEWAY_URL" default:""`
	SMSOriginNumber     string `envconfig:"SMS_ORIGIN_NUMBER" default:""`
	SMSConfigurationSet string `envconfig:"SMS_CONFIGURATION_SET" default:"textmit-transactional"`

	// Admission control
	HourlyRateLimit   int `envconfig:"HOURLY_RATE_LIMIT" default:"25"`
	DailyCommandLimit int `envconfig:"DAILY_COMMAND_LIMIT" default:"100"`

	// FailOpenOnLimitError admits requests when a rate-limit or quota
	// lookup fails. Availability over strict enforcement; flipping this
	// to false makes lookup failures terminal.
	FailOpenOnLimitError bool `envconfig:"FAIL_OPEN_ON_LIMIT_ERROR" default:"true"`

	// Health monitoring
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`

	// Housekeeping
	RateLimitPurgeMinutes int `envconfig:"RATE_LIMIT_PURGE_MINUTES" default:"60"`
}

// ResolveDefaults validates the driver choice and derives it when "auto".
func (c *Config) ResolveDefaults() error {
	if c.DBDriver == "" || c.DBDriver == "auto" {
		if c.PostgresDSN != "" {
			c.DBDriver = "postgres"
		} else {
			c.DBDriver = "sqlite"
		}
	}
	allowed := map[string]bool{"sqlite": true, "postgres": true}
	if !allowed[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("DB_DRIVER=postgres requires POSTGRES_DSN")
	}
	return nil
}

// New creates a Config from TEXTMIT_-prefixed environment variables.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("TEXTMIT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Str("task_api", cfg.TaskAPIBaseURL).
		Int("hourly_rate_limit", cfg.HourlyRateLimit).
		Int("daily_command_limit", cfg.DailyCommandLimit).
		Bool("fail_open_on_limit_error", cfg.FailOpenOnLimitError).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config suitable for unit tests.
func NewForTesting() *Config {
	return &Config{
		Environment:               EnvTesting,
		HTTPPort:                  8080,
		DBDriver:                  "sqlite",
		SQLitePath:                "test.db",
		TaskAPIBaseURL:            "http://localhost:9080",
		HourlyRateLimit:           25,
		DailyCommandLimit:         100,
		FailOpenOnLimitError:      true,
		HealthIntervalSeconds:     30,
		HealthProbeTimeoutSeconds: 2,
		RateLimitPurgeMinutes:     60,
	}
}

// IsTesting returns true if the environment is set to testing.
func (c *Config) IsTesting() bool { return c.Environment == EnvTesting }

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool { return c.Environment == EnvProduction }

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }
