// Package config loads runtime configuration from the environment plus the
// YAML role and provider files. Configuration problems fail startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/webqx-health/authcore/pkg/autherr"
	"github.com/webqx-health/authcore/pkg/lockout"
	"github.com/webqx-health/authcore/pkg/observability"
	"github.com/webqx-health/authcore/pkg/provider"
	"github.com/webqx-health/authcore/pkg/session"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Token         TokenConfig
	Session       SessionConfig
	Lockout       lockout.Config
	Audit         AuditConfig
	Flow          FlowConfig
	Observability ObservabilityConfig

	// RolesFile points at the YAML role/mapping definitions.
	RolesFile string
	// ProvidersFile points at the YAML identity provider definitions.
	ProvidersFile string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	BaseURL         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// TokenConfig holds token signing settings.
type TokenConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// SessionConfig holds session lifecycle and store settings.
type SessionConfig struct {
	TTL         time.Duration
	IdleTimeout time.Duration

	// Store is "memory" or "redis".
	Store string
	Redis session.RedisConfig
}

// AuditConfig selects and configures audit sinks.
type AuditConfig struct {
	// Sink is "file", "postgres", "multi" (file+postgres), or "memory".
	Sink        string
	FilePath    string
	FileMaxSize int64
	PostgresURL string
}

// FlowConfig bounds in-flight authentication flows.
type FlowConfig struct {
	TTL             time.Duration
	ExchangeTimeout time.Duration
	SweepInterval   string // cron expression
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("AUTHCORE_HOST", "0.0.0.0"),
			Port:            getEnv("AUTHCORE_PORT", "8080"),
			BaseURL:         getEnv("AUTHCORE_BASE_URL", "http://localhost:8080"),
			ReadTimeout:     getEnvDuration("AUTHCORE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("AUTHCORE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("AUTHCORE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("AUTHCORE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("AUTHCORE_HEALTH_PORT", "9090"),
		},
		Token: TokenConfig{
			Secret:   getEnv("AUTHCORE_TOKEN_SECRET", ""),
			Issuer:   getEnv("AUTHCORE_TOKEN_ISSUER", "authcore"),
			Audience: getEnv("AUTHCORE_TOKEN_AUDIENCE", "webqx-platform"),
		},
		Session: SessionConfig{
			TTL:         getEnvDuration("AUTHCORE_SESSION_TTL", 8*time.Hour),
			IdleTimeout: getEnvDuration("AUTHCORE_SESSION_IDLE_TIMEOUT", 30*time.Minute),
			Store:       getEnv("AUTHCORE_SESSION_STORE", "memory"),
			Redis: session.RedisConfig{
				URL:        getEnv("AUTHCORE_REDIS_URL", ""),
				Password:   getEnv("AUTHCORE_REDIS_PASSWORD", ""),
				DB:         getEnvInt("AUTHCORE_REDIS_DB", 0),
				MaxRetries: getEnvInt("AUTHCORE_REDIS_MAX_RETRIES", 3),
				PoolSize:   getEnvInt("AUTHCORE_REDIS_POOL_SIZE", 10),
			},
		},
		Lockout: lockout.Config{
			Threshold:  getEnvInt("AUTHCORE_LOCKOUT_THRESHOLD", 5),
			BaseWindow: getEnvDuration("AUTHCORE_LOCKOUT_BASE_WINDOW", time.Minute),
			MaxWindow:  getEnvDuration("AUTHCORE_LOCKOUT_MAX_WINDOW", time.Hour),
			RetainFor:  getEnvDuration("AUTHCORE_LOCKOUT_RETAIN_FOR", 24*time.Hour),
		},
		Audit: AuditConfig{
			Sink:        getEnv("AUTHCORE_AUDIT_SINK", "file"),
			FilePath:    getEnv("AUTHCORE_AUDIT_FILE_PATH", "/var/log/authcore/audit"),
			FileMaxSize: getEnvInt64("AUTHCORE_AUDIT_FILE_MAX_SIZE", 100*1024*1024),
			PostgresURL: getEnv("AUTHCORE_AUDIT_POSTGRES_URL", ""),
		},
		Flow: FlowConfig{
			TTL:             getEnvDuration("AUTHCORE_FLOW_TTL", 10*time.Minute),
			ExchangeTimeout: getEnvDuration("AUTHCORE_IDP_TIMEOUT", 15*time.Second),
			SweepInterval:   getEnv("AUTHCORE_SWEEP_INTERVAL", "@every 1m"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       parseLogLevel(getEnv("AUTHCORE_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("AUTHCORE_METRICS_ENABLED", true),
		},
		RolesFile:     getEnv("AUTHCORE_ROLES_FILE", "configs/roles.yaml"),
		ProvidersFile: getEnv("AUTHCORE_PROVIDERS_FILE", "configs/providers.yaml"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration; any failure is a ConfigurationError.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return autherr.NewConfiguration("server", fmt.Errorf("port is required"))
	}
	if c.Server.HealthPort == "" {
		return autherr.NewConfiguration("server", fmt.Errorf("health port is required"))
	}
	if c.Server.Port == c.Server.HealthPort {
		return autherr.NewConfiguration("server", fmt.Errorf("port and health port must differ"))
	}
	if c.Server.BaseURL == "" {
		return autherr.NewConfiguration("server", fmt.Errorf("base URL is required"))
	}

	if c.Token.Secret == "" {
		return autherr.NewConfiguration("token", fmt.Errorf("AUTHCORE_TOKEN_SECRET is required"))
	}

	switch c.Session.Store {
	case "memory":
	case "redis":
		if c.Session.Redis.URL == "" {
			return autherr.NewConfiguration("session", fmt.Errorf("redis URL is required for redis session store"))
		}
	default:
		return autherr.NewConfiguration("session",
			fmt.Errorf("invalid session store: %s (must be memory or redis)", c.Session.Store))
	}

	switch c.Audit.Sink {
	case "memory", "file":
	case "postgres", "multi":
		if c.Audit.PostgresURL == "" {
			return autherr.NewConfiguration("audit",
				fmt.Errorf("postgres URL is required for %s audit sink", c.Audit.Sink))
		}
	default:
		return autherr.NewConfiguration("audit",
			fmt.Errorf("invalid audit sink: %s (must be memory, file, postgres, or multi)", c.Audit.Sink))
	}

	if c.Lockout.Threshold <= 0 {
		return autherr.NewConfiguration("lockout", fmt.Errorf("threshold must be positive"))
	}
	if c.Lockout.BaseWindow <= 0 || c.Lockout.MaxWindow < c.Lockout.BaseWindow {
		return autherr.NewConfiguration("lockout", fmt.Errorf("lockout windows are inconsistent"))
	}

	if c.RolesFile == "" {
		return autherr.NewConfiguration("rbac", fmt.Errorf("roles file is required"))
	}
	if c.ProvidersFile == "" {
		return autherr.NewConfiguration("provider", fmt.Errorf("providers file is required"))
	}
	return nil
}

// ProvidersFile is the YAML document listing identity providers.
type ProvidersFile struct {
	Providers []*provider.ProviderConfig `yaml:"providers"`
}

// LoadProviders reads and validates the provider definitions file. Disabled
// providers are dropped; at least one enabled provider is required.
func LoadProviders(path string) ([]*provider.ProviderConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, autherr.NewConfiguration("provider", fmt.Errorf("read providers file: %w", err))
	}

	var file ProvidersFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, autherr.NewConfiguration("provider", fmt.Errorf("parse providers file: %w", err))
	}

	seen := make(map[string]bool)
	var enabled []*provider.ProviderConfig
	for _, p := range file.Providers {
		if p.Name == "" {
			return nil, autherr.NewConfiguration("provider", fmt.Errorf("provider with empty name"))
		}
		if seen[p.Name] {
			return nil, autherr.NewConfiguration("provider", fmt.Errorf("duplicate provider name: %s", p.Name))
		}
		seen[p.Name] = true
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	if len(enabled) == 0 {
		return nil, autherr.NewConfiguration("provider", fmt.Errorf("no enabled providers configured"))
	}
	return enabled, nil
}

func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
