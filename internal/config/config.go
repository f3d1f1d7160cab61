package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all process-level configuration.
type Config struct {
	Sandbox SandboxConfig
	HTTP    HTTPConfig
	Logging LogConfig
}

// SandboxConfig holds per-evaluation resource budgets.
type SandboxConfig struct {
	DeadlineMs              int64    `envconfig:"SIDEJS_DEADLINE_MS" default:"10000"`
	MemoryCeilingBytes      int64    `envconfig:"SIDEJS_MEMORY_CEILING_BYTES" default:"67108864"`
	MaxConcurrentAsyncCalls int      `envconfig:"SIDEJS_MAX_CONCURRENT_CALLS" default:"16"`
	MinTimerDelayMs         int64    `envconfig:"SIDEJS_MIN_TIMER_DELAY_MS" default:"1"`
	MaxCallStackSize        int      `envconfig:"SIDEJS_MAX_CALL_STACK" default:"1024"`
	AllowedOrigins          []string `envconfig:"SIDEJS_ALLOWED_ORIGINS" default:"*"`
}

// HTTPConfig holds outbound request behavior for the fetch bridge.
type HTTPConfig struct {
	DefaultTimeoutMs  int64   `envconfig:"SIDEJS_HTTP_TIMEOUT_MS" default:"30000"`
	MaxBodyBytes      int64   `envconfig:"SIDEJS_HTTP_MAX_BODY_BYTES" default:"4194304"`
	MaxResponseBytes  int64   `envconfig:"SIDEJS_HTTP_MAX_RESPONSE_BYTES" default:"16777216"`
	RequestsPerSecond float64 `envconfig:"SIDEJS_HTTP_RPS" default:"0"`
	Retries           int     `envconfig:"SIDEJS_HTTP_RETRIES" default:"0"`
	UserAgent         string  `envconfig:"SIDEJS_HTTP_USER_AGENT" default:"SidevmJS/0.1.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"SIDEJS_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"SIDEJS_LOG_DEV" default:"false"`
}

// Deadline returns the evaluation deadline as a duration.
func (c SandboxConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineMs) * time.Millisecond
}

// MinTimerDelay returns the minimum timer tick as a duration.
func (c SandboxConfig) MinTimerDelay() time.Duration {
	return time.Duration(c.MinTimerDelayMs) * time.Millisecond
}

// DefaultTimeout returns the default per-request timeout as a duration.
func (c HTTPConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Sandbox: SandboxConfig{
			DeadlineMs:              10000,
			MemoryCeilingBytes:      64 << 20,
			MaxConcurrentAsyncCalls: 16,
			MinTimerDelayMs:         1,
			MaxCallStackSize:        1024,
			AllowedOrigins:          []string{"*"},
		},
		HTTP: HTTPConfig{
			DefaultTimeoutMs: 30000,
			MaxBodyBytes:     4 << 20,
			MaxResponseBytes: 16 << 20,
			UserAgent:        "SidevmJS/0.1.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
