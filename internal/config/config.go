// Package config loads runtime configuration from an optional YAML file,
// a .env file, and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrTokenRequired indicates no API token was configured. The run cannot
// start without one.
var ErrTokenRequired = errors.New("api token is required: set FSSP_API_TOKEN")

// Config is the full runtime configuration.
type Config struct {
	// APIToken authenticates against the lookup API. Required.
	APIToken string `mapstructure:"api_token"`

	// BaseURL overrides the lookup API endpoint. Empty uses the default.
	BaseURL string `mapstructure:"base_url"`

	// WorkerCount is the size of the lookup worker pool.
	WorkerCount int `mapstructure:"worker_count"`

	// RequestTimeout bounds a single lookup attempt.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// MaxAttempts is the per-number attempt limit including the first try.
	MaxAttempts int `mapstructure:"max_attempts"`

	// RateLimitRPS caps the aggregate request rate across all workers.
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`

	// CheckpointPath is where progress snapshots are written. Empty disables
	// persistence.
	CheckpointPath string `mapstructure:"checkpoint_path"`

	// CheckpointEvery writes a snapshot after this many completions.
	CheckpointEvery int `mapstructure:"checkpoint_every"`

	// CheckpointInterval writes a snapshot at least this often while
	// completions arrive.
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`

	// DrainGrace bounds how long in-flight lookups may continue after a
	// cancellation request.
	DrainGrace time.Duration `mapstructure:"drain_grace"`

	// DedupeIdentifiers collapses repeated input numbers before the run.
	DedupeIdentifiers bool `mapstructure:"dedupe_identifiers"`

	// SkipKnown consults the outcome cache before scheduling a lookup.
	SkipKnown bool `mapstructure:"skip_known"`

	// RedisAddr enables the outcome cache when non-empty.
	RedisAddr string `mapstructure:"redis_addr"`

	// CacheTTL bounds how long cached outcomes stay valid.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// LogPretty enables human-readable console output instead of JSON.
	LogPretty bool `mapstructure:"log_pretty"`
}

// Load reads configuration. A .env file in the working directory is loaded
// first if present, then an optional YAML config file, then FSSP_* environment
// variables override everything.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FSSP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("debtcheck")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Keys without a meaningful default still need registering so that
	// AutomaticEnv picks them up during Unmarshal.
	v.SetDefault("api_token", "")
	v.SetDefault("base_url", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("worker_count", 20)
	v.SetDefault("request_timeout", 60*time.Second)
	v.SetDefault("max_attempts", 3)
	v.SetDefault("rate_limit_rps", 2.0)
	v.SetDefault("checkpoint_path", "debtcheck-progress.json")
	v.SetDefault("checkpoint_every", 10)
	v.SetDefault("checkpoint_interval", 30*time.Second)
	v.SetDefault("drain_grace", 2*time.Minute)
	v.SetDefault("dedupe_identifiers", true)
	v.SetDefault("skip_known", true)
	v.SetDefault("cache_ttl", 24*time.Hour)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.APIToken == "" {
		return ErrTokenRequired
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("worker_count must be positive, got %d", c.WorkerCount)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("rate_limit_rps must be positive, got %v", c.RateLimitRPS)
	}
	return nil
}
