package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/galehq/gale/pkg/observability"
)

// Config holds all application configuration. It is loaded once at startup
// and passed into constructors; nothing reads the environment afterwards.
type Config struct {
	// Server configuration
	Server ServerConfig

	// Auth configuration
	Auth AuthConfig

	// Storage configuration
	Storage StorageConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// AuthConfig holds signing and provisioning configuration
type AuthConfig struct {
	// SigningSecret is the HMAC secret for broker credentials. Required.
	SigningSecret string

	// SigningAlgorithm selects the HMAC variant (HS256, HS384, HS512)
	SigningAlgorithm string

	// DefaultTTLSeconds is the credential lifetime for users without one
	DefaultTTLSeconds int64

	// BcryptCost is the password hashing cost factor (0 = library default)
	BcryptCost int

	// SeedPassword is used only by the provisioning helpers
	SeedPassword string
}

// StorageConfig holds credential store configuration
type StorageConfig struct {
	// PostgresURL is the connection string; empty selects the in-memory store
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("GALE_HOST", "0.0.0.0"),
			Port:            getEnv("GALE_PORT", "5001"),
			ReadTimeout:     getEnvDuration("GALE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("GALE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("GALE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("GALE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			SigningSecret:     getEnv("GALE_JWT_SECRET", ""),
			SigningAlgorithm:  getEnv("GALE_JWT_ALGORITHM", "HS256"),
			DefaultTTLSeconds: getEnvInt64("GALE_JWT_TTL", 3600),
			BcryptCost:        getEnvInt("GALE_BCRYPT_COST", 0),
			SeedPassword:      getEnv("GALE_SEED_PASSWORD", ""),
		},
		Storage: StorageConfig{
			PostgresURL:      getEnv("GALE_POSTGRES_URL", ""),
			PostgresMaxConns: getEnvInt("GALE_POSTGRES_MAX_CONNS", 20),
			PostgresMinConns: getEnvInt("GALE_POSTGRES_MIN_CONNS", 2),
			PostgresTimeout:  getEnvDuration("GALE_POSTGRES_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("GALE_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("GALE_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Auth.SigningSecret == "" {
		return fmt.Errorf("signing secret is required (set GALE_JWT_SECRET)")
	}
	switch c.Auth.SigningAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("invalid signing algorithm: %s (must be HS256, HS384 or HS512)", c.Auth.SigningAlgorithm)
	}
	if c.Auth.DefaultTTLSeconds <= 0 {
		return fmt.Errorf("default TTL must be positive")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
