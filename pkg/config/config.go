// Package config loads the gateway configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/riverbase/authgate/pkg/observability"
	"github.com/riverbase/authgate/pkg/oidc"
	"github.com/riverbase/authgate/pkg/session"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Cache         session.Config
	OIDC          oidc.Config
	Auth          AuthConfig
	Services      ServicesConfig
	Menu          MenuConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for probes)
	HealthPort string
}

// AuthConfig holds token issuance parameters.
type AuthConfig struct {
	// SigningSecret is the shared HMAC key for session tokens.
	SigningSecret string
	// Issuer names this gateway instance in issued tokens.
	Issuer string
	// TokenValiditySeconds is the default session token lifetime.
	TokenValiditySeconds int64
	// RefreshTTL is the cache extension applied on supervisor login and
	// explicit refresh calls.
	RefreshTTL time.Duration
}

// ServicesConfig locates the backend collaborators.
type ServicesConfig struct {
	AuthBaseURL string
	RDBBaseURL  string
}

// MenuConfig controls permission-sheet sourcing.
type MenuConfig struct {
	// SheetFile, when set, serves sheets from a local YAML file instead of
	// the RDB backend.
	SheetFile string
	// SheetCacheSize bounds the LRU of remotely fetched sheets.
	SheetCacheSize int
	// Sheets lists the sheet names composed into profile menus.
	Sheets []string
}

// ObservabilityConfig holds logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("AUTHGATE_HOST", "0.0.0.0"),
			Port:            getEnv("AUTHGATE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("AUTHGATE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("AUTHGATE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("AUTHGATE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("AUTHGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("AUTHGATE_HEALTH_PORT", "9090"),
		},
		Cache: session.Config{
			URL:        getEnv("AUTHGATE_REDIS_URL", "redis://localhost:6379"),
			Password:   getEnv("AUTHGATE_REDIS_PASSWORD", ""),
			DB:         getEnvInt("AUTHGATE_REDIS_DB", 0),
			MaxRetries: getEnvInt("AUTHGATE_REDIS_MAX_RETRIES", 3),
			PoolSize:   getEnvInt("AUTHGATE_REDIS_POOL_SIZE", 10),
		},
		OIDC: oidc.Config{
			IssuerURL:     getEnv("AUTHGATE_OIDC_ISSUER", ""),
			ClientID:      getEnv("AUTHGATE_OIDC_CLIENT_ID", ""),
			ClientSecret:  getEnv("AUTHGATE_OIDC_CLIENT_SECRET", ""),
			RedirectURL:   getEnv("AUTHGATE_WEB_BASE_URL", ""),
			Scopes:        splitList(getEnv("AUTHGATE_OIDC_SCOPES", "openid,profile,email")),
			VerifyIDToken: getEnvBool("AUTHGATE_OIDC_VERIFY", false),
		},
		Auth: AuthConfig{
			SigningSecret:        getEnv("AUTHGATE_SIGNING_SECRET", ""),
			Issuer:               getEnv("AUTHGATE_ISSUER", "authgate"),
			TokenValiditySeconds: getEnvInt64("AUTHGATE_TOKEN_VALIDITY", 36000),
			RefreshTTL:           getEnvDuration("AUTHGATE_REFRESH_TTL", 600*time.Second),
		},
		Services: ServicesConfig{
			AuthBaseURL: getEnv("AUTHGATE_AUTH_SERVICE_URL", "http://localhost:8081"),
			RDBBaseURL:  getEnv("AUTHGATE_RDB_SERVICE_URL", "http://localhost:8082"),
		},
		Menu: MenuConfig{
			SheetFile:      getEnv("AUTHGATE_MENU_SHEET_FILE", ""),
			SheetCacheSize: getEnvInt("AUTHGATE_MENU_SHEET_CACHE_SIZE", 16),
			Sheets:         splitList(getEnv("AUTHGATE_MENU_SHEETS", "main")),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLevel(getEnv("AUTHGATE_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("AUTHGATE_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("AUTHGATE_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("AUTHGATE_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("AUTHGATE_OTEL_SERVICE_NAME", "authgate"),
			OTelServiceVersion: getEnv("AUTHGATE_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("AUTHGATE_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Auth.SigningSecret == "" {
		return fmt.Errorf("signing secret is required")
	}
	if c.Auth.TokenValiditySeconds <= 0 {
		return fmt.Errorf("token validity must be positive")
	}
	if c.Cache.URL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.OIDC.IssuerURL != "" && c.OIDC.ClientID == "" {
		return fmt.Errorf("OIDC client id is required when an issuer is configured")
	}
	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OTel endpoint is required when tracing is enabled")
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
// Plain integers are treated as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
