// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mbd888/paymo/internal/policy"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL audit store (optional, uses in-memory if not set)

	// Classification
	TiersFile string // YAML tier list (optional, uses the default tiers if not set)
	BatchFile string // historical feed loaded at startup (optional)

	// HTTP
	CORSOrigins []string // allowed browser origins; "*" allows any

	// Rate limiting
	RateLimitRPS   int
	RateLimitBurst int

	// Observability
	OTLPEndpoint string

	// MCP client
	APIURL string
}

const (
	DefaultPort      = "8080"
	DefaultEnv       = "development"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultRateLimit = 100
	DefaultBurst     = 200
	DefaultAPIURL    = "http://localhost:8080"
	DefaultCORS      = "*"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:      getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		TiersFile:      os.Getenv("TIERS_FILE"),
		BatchFile:      os.Getenv("BATCH_FILE"),
		CORSOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", DefaultCORS)),
		RateLimitRPS:   int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		RateLimitBurst: int(getEnvInt64("RATE_LIMIT_BURST", DefaultBurst)),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		APIURL:         getEnv("PAYMO_API_URL", DefaultAPIURL),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}

	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive")
	}
	if c.RateLimitBurst < c.RateLimitRPS {
		return fmt.Errorf("RATE_LIMIT_BURST must be at least RATE_LIMIT_RPS")
	}

	return nil
}

// Policy builds the tier policy from TiersFile, or the default tiers when no
// file is configured.
func (c *Config) Policy() (*policy.Policy, error) {
	if c.TiersFile == "" {
		return policy.Default(), nil
	}
	p, err := policy.LoadFile(c.TiersFile)
	if err != nil {
		return nil, fmt.Errorf("TIERS_FILE: %w", err)
	}
	return p, nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
