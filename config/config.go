package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" envPrefix:"SERVER_"`
	Database   DatabaseConfig   `yaml:"database" envPrefix:"DATABASE_"`
	Auth       AuthConfig       `yaml:"auth" envPrefix:"AUTH_"`
	Thresholds ThresholdConfig  `yaml:"thresholds" envPrefix:"THRESHOLDS_"`
	Push       PushConfig       `yaml:"push" envPrefix:"PUSH_"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool" envPrefix:"WORKER_POOL_"`
	Log        LogConfig        `yaml:"log" envPrefix:"LOG_"`
}

// WorkerPoolConfig holds the configuration for the alert worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size" env:"SIZE"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key" env:"VAPID_PUBLIC_KEY"`
	PrivateKey string `yaml:"vapid_private_key" env:"VAPID_PRIVATE_KEY"`
	Subject    string `yaml:"subject" env:"SUBJECT"`
	TTL        int    `yaml:"ttl" env:"TTL"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port" env:"PORT"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" env:"RATE_LIMIT_PER_SEC"`
	RateLimitBurst  int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds" env:"CACHE_TTL_SECONDS"`
	// Timezone is used to interpret date-only order dates in imports and manual entry.
	Timezone        string  `yaml:"timezone" env:"TIMEZONE"`
}

// Location returns the configured timezone.
func (s ServerConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn" env:"DSN"`
	MaxOpenConns           int    `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns           int    `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes" env:"CONN_MAX_LIFETIME_MINUTES"`
}

// AuthConfig holds the shared secret used to verify actor tokens issued by the session service.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

// ThresholdConfig holds the alerting thresholds used by the life/compliance aggregator.
type ThresholdConfig struct {
	NearEndOfLifePercent int     `yaml:"near_end_of_life_percent" env:"NEAR_END_OF_LIFE_PERCENT"`
	TonerDueFraction     float64 `yaml:"toner_due_fraction" env:"TONER_DUE_FRACTION"`
}

// LogConfig selects the zap preset.
type LogConfig struct {
	Development bool `yaml:"development" env:"DEVELOPMENT"`
}

// Load reads the configuration from the given path and applies FLEET_* environment overrides.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "FLEET_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 60
	}
	if cfg.Server.Timezone == "" {
		cfg.Server.Timezone = "UTC"
	}

	if cfg.Thresholds.NearEndOfLifePercent == 0 {
		cfg.Thresholds.NearEndOfLifePercent = 90
	}
	if cfg.Thresholds.TonerDueFraction == 0 {
		cfg.Thresholds.TonerDueFraction = 0.9
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
}

// Validate rejects threshold values the aggregator cannot work with.
func (c *Config) Validate() error {
	if c.Thresholds.NearEndOfLifePercent <= 0 || c.Thresholds.NearEndOfLifePercent > 100 {
		return fmt.Errorf("thresholds.near_end_of_life_percent must be within (0, 100], got %d", c.Thresholds.NearEndOfLifePercent)
	}
	if c.Thresholds.TonerDueFraction <= 0 || c.Thresholds.TonerDueFraction > 1 {
		return fmt.Errorf("thresholds.toner_due_fraction must be within (0, 1], got %v", c.Thresholds.TonerDueFraction)
	}
	if _, err := c.Server.Location(); err != nil {
		return fmt.Errorf("server.timezone: %w", err)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	return nil
}
