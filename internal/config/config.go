// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Storage. DatabaseURL selects PostgreSQL; otherwise DataFile selects the
	// device-local JSON blob store; otherwise everything stays in memory.
	DatabaseURL string
	DataFile    string

	// Escrow settings
	WindowHours   int // default dispute window for new transactions
	SweepInterval int // minutes between sweeps of expired held transactions; 0 disables
	SweepGrace    int // hours past the deadline before a held transaction is written off

	// RateLimitPerMin throttles each caller to this many requests per
	// minute; 0 disables throttling.
	RateLimitPerMin int

	// Observability
	OTLPEndpoint string // OTLP gRPC collector; empty disables tracing
}

// Defaults
const (
	DefaultPort        = "8080"
	DefaultEnv         = "development"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	DefaultWindowHours = 72
	DefaultSweepGrace  = 24
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:       getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		DataFile:        os.Getenv("DATA_FILE"),
		WindowHours:     getEnvInt("ESCROW_WINDOW_HOURS", DefaultWindowHours),
		SweepInterval:   getEnvInt("ESCROW_SWEEP_INTERVAL_MINUTES", 0),
		SweepGrace:      getEnvInt("ESCROW_SWEEP_GRACE_HOURS", DefaultSweepGrace),
		RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.WindowHours <= 0 {
		return fmt.Errorf("ESCROW_WINDOW_HOURS must be positive, got %d", c.WindowHours)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("ESCROW_SWEEP_INTERVAL_MINUTES must not be negative, got %d", c.SweepInterval)
	}
	if c.RateLimitPerMin < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative, got %d", c.RateLimitPerMin)
	}
	if c.Env == "production" && c.DatabaseURL == "" && c.DataFile == "" {
		return fmt.Errorf("production requires DATABASE_URL or DATA_FILE; in-memory storage loses data on restart")
	}
	return nil
}

// IsProduction returns true in production environment
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
