// Package config loads the immutable process configuration from the environment
// into a single struct built once at startup and handed to every component.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full set of environment-tunable knobs for a node.
type Config struct {
	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`

	ServerHost string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	ServerPort int    `envconfig:"SERVER_PORT" default:"8000"`

	WindowSizeSeconds int `envconfig:"WINDOW_SIZE_SECONDS" default:"60"`
	WindowSegments    int `envconfig:"WINDOW_SEGMENTS" default:"12"`

	MockDelayMinSeconds float64 `envconfig:"MOCK_DELAY_MIN" default:"0.1"`
	MockDelayMaxSeconds float64 `envconfig:"MOCK_DELAY_MAX" default:"0.5"`

	StoreCallTimeoutSeconds float64 `envconfig:"STORE_CALL_TIMEOUT_SECONDS" default:"1"`

	AdaptiveGuardEnabled        bool    `envconfig:"ADAPTIVE_GUARD_ENABLED" default:"true"`
	AdaptivePollIntervalSeconds float64 `envconfig:"ADAPTIVE_POLL_INTERVAL_SECONDS" default:"5"`
	PrometheusHealthURL         string  `envconfig:"PROMETHEUS_HEALTH_URL" default:""`
}

// Load reads Config from the process environment, applying defaults for unset vars.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.WindowSegments <= 0 {
		return nil, fmt.Errorf("config: WINDOW_SEGMENTS must be positive, got %d", cfg.WindowSegments)
	}
	if cfg.WindowSizeSeconds%cfg.WindowSegments != 0 {
		return nil, fmt.Errorf("config: WINDOW_SIZE_SECONDS (%d) must divide evenly by WINDOW_SEGMENTS (%d)",
			cfg.WindowSizeSeconds, cfg.WindowSegments)
	}
	return &cfg, nil
}

// SegmentSize is the duration of a single window segment.
func (c *Config) SegmentSize() time.Duration {
	return time.Duration(c.WindowSizeSeconds/c.WindowSegments) * time.Second
}

// Window is the full sliding-window duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.WindowSizeSeconds) * time.Second
}

// KeyTTL is the expiry set on every counter hash write (2x the window).
func (c *Config) KeyTTL() time.Duration {
	return 2 * c.Window()
}

// StoreCallTimeout bounds a single store round trip.
func (c *Config) StoreCallTimeout() time.Duration {
	return time.Duration(c.StoreCallTimeoutSeconds * float64(time.Second))
}

// RedisAddr is the host:port pair go-redis expects.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// ServerAddr is the host:port pair net/http expects.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// AdaptivePollInterval is how often the adaptive guard's Monitor polls its HealthSource.
func (c *Config) AdaptivePollInterval() time.Duration {
	return time.Duration(c.AdaptivePollIntervalSeconds * float64(time.Second))
}
