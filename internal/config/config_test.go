package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Setenv("REASONING_API_KEY", "test-key")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "test-key", cfg.Reasoning.APIKey)
	assert.Equal(t, "gemini-2.5-flash", cfg.Reasoning.Model)
	assert.Equal(t, 950, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 7, cfg.RateLimit.MaxConcurrent)
	assert.Equal(t, 4, cfg.Jobs.WorkerCount)
	assert.Equal(t, 7, cfg.Jobs.MaxItemWorkers)
	assert.Equal(t, time.Hour, cfg.JobTTL())
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Empty(t, cfg.Server.DBPath)
}

func TestNewFromEnv_Overrides(t *testing.T) {
	t.Setenv("REASONING_API_KEY", "test-key")
	t.Setenv("RATE_LIMIT_RPM", "120")
	t.Setenv("RATE_LIMIT_MAX_CONCURRENT", "3")
	t.Setenv("JOB_TTL", "600")
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("DB_PATH", "/tmp/progress.db")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 120, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 3, cfg.RateLimit.MaxConcurrent)
	assert.Equal(t, 10*time.Minute, cfg.JobTTL())
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "/tmp/progress.db", cfg.Server.DBPath)
}

func TestNewFromEnv_RequiresAPIKey(t *testing.T) {
	t.Setenv("REASONING_API_KEY", "")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REASONING_API_KEY")
}

func TestNewFromEnv_RejectsBadLimits(t *testing.T) {
	t.Setenv("REASONING_API_KEY", "test-key")
	t.Setenv("RATE_LIMIT_RPM", "-1")

	_, err := NewFromEnv()
	assert.Error(t, err)
}

func TestNewFromEnv_Options(t *testing.T) {
	t.Setenv("REASONING_API_KEY", "test-key")

	cfg, err := NewFromEnv(func(c *Config) {
		c.Server.Addr = ":7070"
	})
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}
