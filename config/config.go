/*
Package config loads runtime settings from the environment.

VARIABLES:
  APP_ENV                development | production
  APP_ADDR               HTTP listen address
  DB_DRIVER, DB_DSN      sqlite3 (default) or postgres
  REDIS_ADDR             empty disables the cache and the worker
  CACHE_TTL              lifetime of cached balances and sheets
  LOG_FORMAT             text | json
  STRATEGIES_FILE        JSON split strategies, see factory/strategy.go
  SCHEDULER_*            in-process generation ticker
  WORKER_*               asynq worker (cmd/worker)
*/
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppEnv          string        `envconfig:"APP_ENV" default:"development"`
	AppAddr         string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout  time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite3"`
	DBDSN    string `envconfig:"DB_DSN" default:"ledger.db"`

	RedisAddr string        `envconfig:"REDIS_ADDR"`
	CacheTTL  time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	StrategiesFile string `envconfig:"STRATEGIES_FILE"`

	SchedulerEnabled     bool          `envconfig:"SCHEDULER_ENABLED" default:"true"`
	SchedulerInterval    time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"1h"`
	SchedulerConcurrency int           `envconfig:"SCHEDULER_CONCURRENCY" default:"4"`

	WorkerCron        string `envconfig:"WORKER_CRON" default:"0 6 * * *"`
	WorkerConcurrency int    `envconfig:"WORKER_CONCURRENCY" default:"5"`

	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit int `envconfig:"RATE_LIMIT" default:"300"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3 or postgres, got %q", c.DBDriver)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	if c.SchedulerEnabled && c.SchedulerInterval <= 0 {
		return errors.New("SCHEDULER_INTERVAL must be positive")
	}
	if c.SchedulerConcurrency < 1 || c.WorkerConcurrency < 1 {
		return errors.New("concurrency settings must be at least 1")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
