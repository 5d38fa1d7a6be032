package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration for the automation core. Values are
// read from PILOT_* environment variables with the defaults below.
type Config struct {
	Pool      PoolConfig
	Engine    EngineConfig
	Stealth   StealthConfig
	Ops       OpsConfig
	Logging   LogConfig
	Artifacts ArtifactsConfig
}

// PoolConfig bounds the browser context pool.
type PoolConfig struct {
	Capacity        int           `envconfig:"POOL_CAPACITY" default:"5"`
	OverflowCeiling int           `envconfig:"POOL_OVERFLOW_CEILING" default:"3"`
	MaxAge          time.Duration `envconfig:"POOL_MAX_AGE" default:"30m"`
	MaxUsage        int           `envconfig:"POOL_MAX_USAGE" default:"50"`
	MemoryCeilingMB int           `envconfig:"POOL_MEMORY_CEILING_MB" default:"512"`
	SweepInterval   time.Duration `envconfig:"POOL_SWEEP_INTERVAL" default:"60s"`
	AcquireTimeout  time.Duration `envconfig:"POOL_ACQUIRE_TIMEOUT" default:"30s"`
	Headless        bool          `envconfig:"POOL_HEADLESS" default:"true"`
}

// EngineConfig tunes per-run execution behavior.
type EngineConfig struct {
	PausePollInterval time.Duration `envconfig:"ENGINE_PAUSE_POLL_INTERVAL" default:"500ms"`
	ResultRetention   time.Duration `envconfig:"ENGINE_RESULT_RETENTION" default:"15m"`
	RecoveryBackoff   time.Duration `envconfig:"ENGINE_RECOVERY_BACKOFF" default:"3s"`
}

// StealthConfig is the anti-detection profile applied to every session.
type StealthConfig struct {
	UserAgent      string `envconfig:"STEALTH_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"`
	ViewportWidth  int    `envconfig:"STEALTH_VIEWPORT_WIDTH" default:"1280"`
	ViewportHeight int    `envconfig:"STEALTH_VIEWPORT_HEIGHT" default:"720"`
	Timezone       string `envconfig:"STEALTH_TIMEZONE" default:"America/New_York"`
	Locale         string `envconfig:"STEALTH_LOCALE" default:"en-US"`
	AcceptLanguage string `envconfig:"STEALTH_ACCEPT_LANGUAGE" default:"en-US,en;q=0.9"`
}

// OpsConfig configures the operational HTTP listener (health + metrics).
type OpsConfig struct {
	Addr    string `envconfig:"OPS_ADDR" default:":9090"`
	Enabled bool   `envconfig:"OPS_ENABLED" default:"true"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// ArtifactsConfig configures where step screenshots are written.
type ArtifactsConfig struct {
	Dir            string `envconfig:"ARTIFACTS_DIR" default:""`
	MaxScreenshots int    `envconfig:"ARTIFACTS_MAX_SCREENSHOTS" default:"500"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("pilot", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns configuration built from struct tag defaults plus any
// PILOT_* environment overrides.
func Default() *Config {
	cfg, err := Load()
	if err != nil {
		// Struct tag defaults always satisfy Validate.
		panic(fmt.Sprintf("config defaults invalid: %v", err))
	}
	return cfg
}

// Validate rejects configurations the pool and engine cannot operate under.
func (c *Config) Validate() error {
	if c.Pool.Capacity < 1 {
		return fmt.Errorf("pool capacity must be at least 1, got %d", c.Pool.Capacity)
	}
	if c.Pool.OverflowCeiling < 0 {
		return fmt.Errorf("pool overflow ceiling must not be negative, got %d", c.Pool.OverflowCeiling)
	}
	if c.Pool.MaxAge <= 0 {
		return fmt.Errorf("pool max age must be positive, got %s", c.Pool.MaxAge)
	}
	if c.Pool.MaxUsage < 1 {
		return fmt.Errorf("pool max usage must be at least 1, got %d", c.Pool.MaxUsage)
	}
	if c.Pool.MemoryCeilingMB < 1 {
		return fmt.Errorf("pool memory ceiling must be at least 1MB, got %d", c.Pool.MemoryCeilingMB)
	}
	if c.Engine.PausePollInterval <= 0 {
		return fmt.Errorf("engine pause poll interval must be positive, got %s", c.Engine.PausePollInterval)
	}
	return nil
}
