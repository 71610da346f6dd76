package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
// Supports environment variables with sensible defaults
//
// Environment Variables:
// Reasoning Service Configuration:
// - REASONING_API_KEY: API key for the reasoning provider (required)
// - REASONING_API_URL: API endpoint URL (default: https://generativelanguage.googleapis.com/v1beta)
// - REASONING_MODEL: Model used for extraction calls (default: gemini-2.5-flash)
// - REASONING_BATCH_MODEL: Model used for combined PDF batch calls (default: gemini-2.5-flash)
// - REASONING_TIMEOUT: Request timeout in seconds (default: 120)
// - REASONING_MAX_RETRIES: Retry budget for rate-limited calls (default: 5)
//
// Rate Limit Configuration:
// - RATE_LIMIT_RPM: Requests per minute shared across all jobs (default: 950)
// - RATE_LIMIT_MAX_CONCURRENT: Concurrent in-flight calls (default: 7)
// - RATE_LIMIT_WAIT_TIMEOUT: Per-item wait budget in seconds (default: 300)
//
// Job Configuration:
// - JOB_WORKER_COUNT: Background job executor goroutines (default: 4)
// - JOB_MAX_ITEM_WORKERS: Fan-out width inside one job (default: 7)
// - JOB_TTL: Progress retention in seconds (default: 3600)
// - JOB_SWEEP_CRON: Cron expression for the TTL sweep (default: @every 10m)
//
// Server Configuration:
// - HTTP_ADDR: Listen address (default: :8080)
// - DB_PATH: SQLite path for the durable progress store; empty keeps it in memory

type Config struct {
	Reasoning ReasoningConfig `json:"reasoning"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Jobs      JobsConfig      `json:"jobs"`
	Server    ServerConfig    `json:"server"`
}

// ReasoningConfig holds the configuration for the reasoning service client
type ReasoningConfig struct {
	APIKey     string `json:"api_key"`
	APIURL     string `json:"api_url"`
	Model      string `json:"model"`
	BatchModel string `json:"batch_model"`
	Timeout    int    `json:"timeout"`
	MaxRetries int    `json:"max_retries"`
}

// RateLimitConfig holds the shared quota configuration
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	MaxConcurrent     int `json:"max_concurrent"`
	WaitTimeout       int `json:"wait_timeout"`
}

// JobsConfig holds the background execution configuration
type JobsConfig struct {
	WorkerCount    int    `json:"worker_count"`
	MaxItemWorkers int    `json:"max_item_workers"`
	TTLSeconds     int    `json:"ttl_seconds"`
	SweepCron      string `json:"sweep_cron"`
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Addr   string `json:"addr"`
	DBPath string `json:"db_path"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Reasoning: ReasoningConfig{
			APIKey:     getEnvString("REASONING_API_KEY", ""),
			APIURL:     getEnvString("REASONING_API_URL", "https://generativelanguage.googleapis.com/v1beta"),
			Model:      getEnvString("REASONING_MODEL", "gemini-2.5-flash"),
			BatchModel: getEnvString("REASONING_BATCH_MODEL", "gemini-2.5-flash"),
			Timeout:    getEnvInt("REASONING_TIMEOUT", 120),
			MaxRetries: getEnvInt("REASONING_MAX_RETRIES", 5),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvInt("RATE_LIMIT_RPM", 950),
			MaxConcurrent:     getEnvInt("RATE_LIMIT_MAX_CONCURRENT", 7),
			WaitTimeout:       getEnvInt("RATE_LIMIT_WAIT_TIMEOUT", 300),
		},
		Jobs: JobsConfig{
			WorkerCount:    getEnvInt("JOB_WORKER_COUNT", 4),
			MaxItemWorkers: getEnvInt("JOB_MAX_ITEM_WORKERS", 7),
			TTLSeconds:     getEnvInt("JOB_TTL", 3600),
			SweepCron:      getEnvString("JOB_SWEEP_CRON", "@every 10m"),
		},
		Server: ServerConfig{
			Addr:   getEnvString("HTTP_ADDR", ":8080"),
			DBPath: getEnvString("DB_PATH", ""),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// JobTTL returns the progress retention window as a duration.
func (c *Config) JobTTL() time.Duration {
	return time.Duration(c.Jobs.TTLSeconds) * time.Second
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Reasoning.APIKey == "" {
		return fmt.Errorf("REASONING_API_KEY is required")
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	if c.RateLimit.MaxConcurrent <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_CONCURRENT must be positive")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
