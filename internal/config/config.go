package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// Scheduler
	ScanInterval      time.Duration `mapstructure:"SCAN_INTERVAL"`
	MaxConcurrentJobs int           `mapstructure:"MAX_CONCURRENT_JOBS"`
	BatchSize         int           `mapstructure:"BATCH_SIZE"`
	ConcurrentBatches int           `mapstructure:"CONCURRENT_BATCHES"`

	// Performance layer
	RateLimitEnabled   bool    `mapstructure:"RATE_LIMIT_ENABLED"`
	RateLimitRPS       float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int     `mapstructure:"RATE_LIMIT_BURST"`
	CacheEnabled       bool    `mapstructure:"CACHE_ENABLED"`
	CacheTTLHours      int     `mapstructure:"CACHE_TTL_HOURS"`
	CompressionEnabled bool    `mapstructure:"COMPRESSION_ENABLED"`
	DeltaSyncEnabled   bool    `mapstructure:"DELTA_SYNC_ENABLED"`

	// Conflict resolution
	AutoResolveBelow string   `mapstructure:"AUTO_RESOLVE_BELOW"`
	TrustedSources   []string `mapstructure:"TRUSTED_SOURCES"`

	// Notifications
	NotifyWebhookURL    string `mapstructure:"NOTIFY_WEBHOOK_URL"`
	NotifyWebhookSecret string `mapstructure:"NOTIFY_WEBHOOK_SECRET"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8600")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SCAN_INTERVAL", "30s")
	v.SetDefault("MAX_CONCURRENT_JOBS", 3)
	v.SetDefault("BATCH_SIZE", 100)
	v.SetDefault("CONCURRENT_BATCHES", 3)
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 50)
	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("CACHE_TTL_HOURS", 4)
	v.SetDefault("COMPRESSION_ENABLED", false)
	v.SetDefault("DELTA_SYNC_ENABLED", true)
	v.SetDefault("AUTO_RESOLVE_BELOW", "medium")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("SCAN_INTERVAL")
	v.BindEnv("MAX_CONCURRENT_JOBS")
	v.BindEnv("BATCH_SIZE")
	v.BindEnv("CONCURRENT_BATCHES")
	v.BindEnv("RATE_LIMIT_ENABLED")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("CACHE_ENABLED")
	v.BindEnv("CACHE_TTL_HOURS")
	v.BindEnv("COMPRESSION_ENABLED")
	v.BindEnv("DELTA_SYNC_ENABLED")
	v.BindEnv("AUTO_RESOLVE_BELOW")
	v.BindEnv("TRUSTED_SOURCES")
	v.BindEnv("NOTIFY_WEBHOOK_URL")
	v.BindEnv("NOTIFY_WEBHOOK_SECRET")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.TrustedSources == nil {
		sources := v.GetString("TRUSTED_SOURCES")
		if sources != "" {
			cfg.TrustedSources = strings.Split(sources, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is internally consistent before the
// engine starts. It does not touch the network or the database.
func (c *Config) Validate() error {
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1, got %d", c.MaxConcurrentJobs)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be at least 1, got %d", c.BatchSize)
	}
	if c.ConcurrentBatches < 1 {
		return fmt.Errorf("CONCURRENT_BATCHES must be at least 1, got %d", c.ConcurrentBatches)
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("SCAN_INTERVAL must be positive, got %s", c.ScanInterval)
	}
	if c.RateLimitEnabled {
		if c.RateLimitRPS <= 0 {
			return fmt.Errorf("RATE_LIMIT_RPS must be positive when rate limiting is enabled, got %v", c.RateLimitRPS)
		}
		if c.RateLimitBurst < 1 {
			return fmt.Errorf("RATE_LIMIT_BURST must be at least 1 when rate limiting is enabled, got %d", c.RateLimitBurst)
		}
	}
	switch c.AutoResolveBelow {
	case "low", "medium", "high", "never":
	default:
		return fmt.Errorf("AUTO_RESOLVE_BELOW must be \"low\", \"medium\", \"high\", or \"never\", got %q", c.AutoResolveBelow)
	}
	return nil
}
