// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Store         StoreConfig         `yaml:"store"`
	Engine        EngineConfig        `yaml:"engine"`
	Notify        NotifyConfig        `yaml:"notify"`
	Assignees     AssigneesConfig     `yaml:"assignees"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT and identity provider settings. When Issuer
// is empty, authentication is disabled and requests run as anonymous.
type IdentityConfig struct {
	Issuer       string        `yaml:"issuer"`
	Audience     string        `yaml:"audience"`
	JWKSURL      string        `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration `yaml:"jwks_cache_ttl"`
	Algorithms   []string      `yaml:"algorithms"`
}

// StoreConfig describes persistence settings shared by the definition,
// execution, and approval stores.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// EngineConfig describes workflow engine runtime settings.
type EngineConfig struct {
	DueCheckInterval time.Duration `yaml:"due_check_interval"`
	MaxAdvanceSteps  int           `yaml:"max_advance_steps"`
	Dispatch         RetryConfig   `yaml:"dispatch"`
	Webhook          WebhookConfig `yaml:"webhook"`
}

// RetryConfig describes retry settings for outbound dispatches.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// WebhookConfig describes outbound webhook call settings.
type WebhookConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// NotifyConfig describes notification channel settings.
type NotifyConfig struct {
	DefaultLanguage string      `yaml:"default_language"`
	Mail            MailConfig  `yaml:"mail"`
	Slack           SlackConfig `yaml:"slack"`
}

// MailConfig describes SMTP settings for the mail channel. Credentials are
// read from the named environment variables, never from the file.
type MailConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	From        string `yaml:"from"`
	UsernameEnv string `yaml:"username_env"`
	PasswordEnv string `yaml:"password_env"`
}

// SlackConfig describes Slack incoming-webhook settings.
type SlackConfig struct {
	Enabled       bool          `yaml:"enabled"`
	WebhookURLEnv string        `yaml:"webhook_url_env"`
	Timeout       time.Duration `yaml:"timeout"`
}

// AssigneesConfig maps role names to the user IDs that can be assigned work
// for that role.
type AssigneesConfig struct {
	Roles map[string][]string `yaml:"roles"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Exporter          string  `yaml:"exporter"`
	Endpoint          string  `yaml:"endpoint"`
	SamplingRate      float64 `yaml:"sampling_rate"`
	ForceSampleErrors bool    `yaml:"force_sample_errors"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
		},
		Store: StoreConfig{
			Driver:          "memory",
			DSNEnv:          "LAWSUB_DATABASE_URL",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Engine: EngineConfig{
			DueCheckInterval: 60 * time.Second,
			MaxAdvanceSteps:  100,
			Dispatch: RetryConfig{
				MaxAttempts:       3,
				BackoffInitial:    500 * time.Millisecond,
				BackoffMultiplier: 2.0,
				BackoffMax:        10 * time.Second,
			},
			Webhook: WebhookConfig{
				Timeout: 10 * time.Second,
			},
		},
		Notify: NotifyConfig{
			DefaultLanguage: "es",
			Mail: MailConfig{
				Port:        587,
				UsernameEnv: "LAWSUB_SMTP_USERNAME",
				PasswordEnv: "LAWSUB_SMTP_PASSWORD",
			},
			Slack: SlackConfig{
				WebhookURLEnv: "LAWSUB_SLACK_WEBHOOK_URL",
				Timeout:       5 * time.Second,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Identity.Issuer != "" {
		if c.Identity.JWKSURL == "" {
			errs = append(errs, "identity.jwks_url is required when identity.issuer is set")
		}
		if c.Identity.Audience == "" {
			errs = append(errs, "identity.audience is required when identity.issuer is set")
		}
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSNEnv == "" {
			errs = append(errs, "store.dsn_env is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported (memory, postgres)", c.Store.Driver))
	}
	if c.Engine.DueCheckInterval <= 0 {
		errs = append(errs, "engine.due_check_interval must be positive")
	}
	if c.Engine.MaxAdvanceSteps < 1 {
		errs = append(errs, "engine.max_advance_steps must be at least 1")
	}
	if c.Engine.Dispatch.MaxAttempts < 1 {
		errs = append(errs, "engine.dispatch.max_attempts must be at least 1")
	}
	if c.Notify.Mail.Enabled {
		if c.Notify.Mail.Host == "" {
			errs = append(errs, "notify.mail.host is required when mail is enabled")
		}
		if c.Notify.Mail.From == "" {
			errs = append(errs, "notify.mail.from is required when mail is enabled")
		}
	}
	if c.Notify.Slack.Enabled && c.Notify.Slack.WebhookURLEnv == "" {
		errs = append(errs, "notify.slack.webhook_url_env is required when slack is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads LAWSUB_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LAWSUB_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LAWSUB_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("LAWSUB_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("LAWSUB_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("LAWSUB_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("LAWSUB_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
