package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5, cfg.Pool.Capacity)
	assert.Equal(t, 3, cfg.Pool.OverflowCeiling)
	assert.Equal(t, 30*time.Minute, cfg.Pool.MaxAge)
	assert.Equal(t, 50, cfg.Pool.MaxUsage)
	assert.Equal(t, 512, cfg.Pool.MemoryCeilingMB)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.PausePollInterval)
	assert.True(t, cfg.Pool.Headless)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("PILOT_POOL_CAPACITY", "7")
	t.Setenv("PILOT_LOG_LEVEL", "debug")
	t.Setenv("PILOT_POOL_MAX_AGE", "5m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Pool.Capacity)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5*time.Minute, cfg.Pool.MaxAge)
	// Untouched fields keep their defaults.
	assert.Equal(t, 512, cfg.Pool.MemoryCeilingMB)
}

func TestLoadRejectsInvalidEnvironment(t *testing.T) {
	t.Setenv("PILOT_POOL_CAPACITY", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capacity", func(c *Config) { c.Pool.Capacity = 0 }},
		{"negative overflow", func(c *Config) { c.Pool.OverflowCeiling = -1 }},
		{"zero max age", func(c *Config) { c.Pool.MaxAge = 0 }},
		{"zero max usage", func(c *Config) { c.Pool.MaxUsage = 0 }},
		{"zero memory ceiling", func(c *Config) { c.Pool.MemoryCeilingMB = 0 }},
		{"zero pause poll", func(c *Config) { c.Engine.PausePollInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
