// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration. Environment variables are
// the primary source; an optional YAML file supplies overrides for
// anything the environment leaves unset. Check tunables can be hot
// reloaded from the file through the Holder.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Env variable names. Everything is prefixed CALSYNC_.
const (
	envAPIListen     = "CALSYNC_API_LISTEN"
	envMetricsListen = "CALSYNC_METRICS_LISTEN"
	envLogLevel      = "CALSYNC_LOG_LEVEL"

	envCheckInterval = "CALSYNC_CHECK_INTERVAL"
	envCheckTimeout  = "CALSYNC_CHECK_TIMEOUT"
	envJobTimeout    = "CALSYNC_JOB_TIMEOUT"

	envCoalesceMaxInFlight = "CALSYNC_COALESCE_MAX_IN_FLIGHT"

	envStoreBackend = "CALSYNC_STORE_BACKEND"
	envSQLitePath   = "CALSYNC_SQLITE_PATH"
	envSealingKey   = "CALSYNC_SEALING_KEY"

	envQueueBackend  = "CALSYNC_QUEUE_BACKEND"
	envQueueCapacity = "CALSYNC_QUEUE_CAPACITY"
	envRedisAddr     = "CALSYNC_REDIS_ADDR"
	envRedisKey      = "CALSYNC_REDIS_KEY"
	envConcurrency   = "CALSYNC_CONSUMER_CONCURRENCY"

	envAPIRateLimit = "CALSYNC_API_RATE_LIMIT"

	envTracingEnabled  = "CALSYNC_TRACING_ENABLED"
	envTracingExporter = "CALSYNC_TRACING_EXPORTER"
	envTracingEndpoint = "CALSYNC_TRACING_ENDPOINT"
	envTracingSampling = "CALSYNC_TRACING_SAMPLING"
	envEnvironment     = "CALSYNC_ENVIRONMENT"
)

// Backend names accepted for stores and queues.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the full daemon configuration.
type Config struct {
	APIListen     string `yaml:"api_listen"`
	MetricsListen string `yaml:"metrics_listen"`
	LogLevel      string `yaml:"log_level"`

	CheckInterval time.Duration `yaml:"check_interval"`
	CheckTimeout  time.Duration `yaml:"check_timeout"`
	JobTimeout    time.Duration `yaml:"job_timeout"`

	CoalesceMaxInFlight time.Duration `yaml:"coalesce_max_in_flight"`

	StoreBackend string `yaml:"store_backend"`
	SQLitePath   string `yaml:"sqlite_path"`
	// SealingKey is the hex-encoded AES key for credential sealing. Empty
	// disables sealing (memory store, dev mode).
	SealingKey string `yaml:"-"`

	QueueBackend        string `yaml:"queue_backend"`
	QueueCapacity       int    `yaml:"queue_capacity"`
	RedisAddr           string `yaml:"redis_addr"`
	RedisKey            string `yaml:"redis_key"`
	ConsumerConcurrency int    `yaml:"consumer_concurrency"`

	// APIRateLimit is requests per minute per client IP.
	APIRateLimit int `yaml:"api_rate_limit"`

	TracingEnabled  bool    `yaml:"tracing_enabled"`
	TracingExporter string  `yaml:"tracing_exporter"`
	TracingEndpoint string  `yaml:"tracing_endpoint"`
	TracingSampling float64 `yaml:"tracing_sampling"`
	Environment     string  `yaml:"environment"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		APIListen:     ":8080",
		MetricsListen: ":9090",
		LogLevel:      "info",

		CheckInterval: 5 * time.Minute,
		CheckTimeout:  10 * time.Second,
		JobTimeout:    30 * time.Second,

		CoalesceMaxInFlight: 30 * time.Second,

		StoreBackend: BackendMemory,
		SQLitePath:   "calsync.db",

		QueueBackend:        BackendMemory,
		QueueCapacity:       1024,
		RedisAddr:           "localhost:6379",
		RedisKey:            "calsync:health_checks",
		ConsumerConcurrency: 8,

		APIRateLimit: 120,

		TracingEnabled:  false,
		TracingExporter: "grpc",
		TracingEndpoint: "localhost:4317",
		TracingSampling: 0.1,
		Environment:     "production",
	}
}

// FromEnv builds the configuration from defaults, an optional YAML file
// and environment variables, in ascending precedence.
func FromEnv(configPath string) (Config, error) {
	cfg := Defaults()

	if configPath != "" {
		fileCfg, err := loadFile(configPath)
		if err != nil {
			return Config{}, err
		}
		cfg = merge(cfg, fileCfg)
	}

	cfg.APIListen = ParseString(envAPIListen, cfg.APIListen)
	cfg.MetricsListen = ParseString(envMetricsListen, cfg.MetricsListen)
	cfg.LogLevel = ParseString(envLogLevel, cfg.LogLevel)

	cfg.CheckInterval = ParseDuration(envCheckInterval, cfg.CheckInterval)
	cfg.CheckTimeout = ParseDuration(envCheckTimeout, cfg.CheckTimeout)
	cfg.JobTimeout = ParseDuration(envJobTimeout, cfg.JobTimeout)
	cfg.CoalesceMaxInFlight = ParseDuration(envCoalesceMaxInFlight, cfg.CoalesceMaxInFlight)

	cfg.StoreBackend = ParseString(envStoreBackend, cfg.StoreBackend)
	cfg.SQLitePath = ParseString(envSQLitePath, cfg.SQLitePath)
	cfg.SealingKey = ParseString(envSealingKey, cfg.SealingKey)

	cfg.QueueBackend = ParseString(envQueueBackend, cfg.QueueBackend)
	cfg.QueueCapacity = ParseInt(envQueueCapacity, cfg.QueueCapacity)
	cfg.RedisAddr = ParseString(envRedisAddr, cfg.RedisAddr)
	cfg.RedisKey = ParseString(envRedisKey, cfg.RedisKey)
	cfg.ConsumerConcurrency = ParseInt(envConcurrency, cfg.ConsumerConcurrency)

	cfg.APIRateLimit = ParseInt(envAPIRateLimit, cfg.APIRateLimit)

	cfg.TracingEnabled = ParseBool(envTracingEnabled, cfg.TracingEnabled)
	cfg.TracingExporter = ParseString(envTracingExporter, cfg.TracingExporter)
	cfg.TracingEndpoint = ParseString(envTracingEndpoint, cfg.TracingEndpoint)
	cfg.TracingSampling = ParseFloat(envTracingSampling, cfg.TracingSampling)
	cfg.Environment = ParseString(envEnvironment, cfg.Environment)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// fileConfig mirrors Config with pointer fields so absence and zero are
// distinguishable when merging.
type fileConfig struct {
	APIListen     *string `yaml:"api_listen"`
	MetricsListen *string `yaml:"metrics_listen"`
	LogLevel      *string `yaml:"log_level"`

	CheckInterval       *time.Duration `yaml:"check_interval"`
	CheckTimeout        *time.Duration `yaml:"check_timeout"`
	JobTimeout          *time.Duration `yaml:"job_timeout"`
	CoalesceMaxInFlight *time.Duration `yaml:"coalesce_max_in_flight"`

	StoreBackend *string `yaml:"store_backend"`
	SQLitePath   *string `yaml:"sqlite_path"`

	QueueBackend        *string `yaml:"queue_backend"`
	QueueCapacity       *int    `yaml:"queue_capacity"`
	RedisAddr           *string `yaml:"redis_addr"`
	RedisKey            *string `yaml:"redis_key"`
	ConsumerConcurrency *int    `yaml:"consumer_concurrency"`

	APIRateLimit *int `yaml:"api_rate_limit"`

	TracingEnabled  *bool    `yaml:"tracing_enabled"`
	TracingExporter *string  `yaml:"tracing_exporter"`
	TracingEndpoint *string  `yaml:"tracing_endpoint"`
	TracingSampling *float64 `yaml:"tracing_sampling"`
	Environment     *string  `yaml:"environment"`
}

func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator
	if err != nil {
		return fc, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

func merge(base Config, fc fileConfig) Config {
	setStr := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setDur := func(dst *time.Duration, src *time.Duration) {
		if src != nil {
			*dst = *src
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}

	setStr(&base.APIListen, fc.APIListen)
	setStr(&base.MetricsListen, fc.MetricsListen)
	setStr(&base.LogLevel, fc.LogLevel)
	setDur(&base.CheckInterval, fc.CheckInterval)
	setDur(&base.CheckTimeout, fc.CheckTimeout)
	setDur(&base.JobTimeout, fc.JobTimeout)
	setDur(&base.CoalesceMaxInFlight, fc.CoalesceMaxInFlight)
	setStr(&base.StoreBackend, fc.StoreBackend)
	setStr(&base.SQLitePath, fc.SQLitePath)
	setStr(&base.QueueBackend, fc.QueueBackend)
	setInt(&base.QueueCapacity, fc.QueueCapacity)
	setStr(&base.RedisAddr, fc.RedisAddr)
	setStr(&base.RedisKey, fc.RedisKey)
	setInt(&base.ConsumerConcurrency, fc.ConsumerConcurrency)
	setInt(&base.APIRateLimit, fc.APIRateLimit)
	if fc.TracingEnabled != nil {
		base.TracingEnabled = *fc.TracingEnabled
	}
	setStr(&base.TracingExporter, fc.TracingExporter)
	setStr(&base.TracingEndpoint, fc.TracingEndpoint)
	if fc.TracingSampling != nil {
		base.TracingSampling = *fc.TracingSampling
	}
	setStr(&base.Environment, fc.Environment)
	return base
}

// Validate rejects configurations the daemon cannot run with. Invalid
// config never partially applies.
func Validate(cfg Config) error {
	if cfg.APIListen == "" {
		return fmt.Errorf("api_listen must not be empty")
	}
	if cfg.CheckInterval <= 0 {
		return fmt.Errorf("check_interval must be positive, got %s", cfg.CheckInterval)
	}
	if cfg.CheckTimeout <= 0 {
		return fmt.Errorf("check_timeout must be positive, got %s", cfg.CheckTimeout)
	}
	if cfg.JobTimeout < cfg.CheckTimeout {
		return fmt.Errorf("job_timeout %s must not be below check_timeout %s", cfg.JobTimeout, cfg.CheckTimeout)
	}
	if cfg.CoalesceMaxInFlight <= 0 {
		return fmt.Errorf("coalesce_max_in_flight must be positive, got %s", cfg.CoalesceMaxInFlight)
	}

	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendSQLite:
		if cfg.SQLitePath == "" {
			return fmt.Errorf("sqlite_path must be set for the sqlite store backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	switch cfg.QueueBackend {
	case BackendMemory:
		if cfg.QueueCapacity <= 0 {
			return fmt.Errorf("queue_capacity must be positive, got %d", cfg.QueueCapacity)
		}
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return fmt.Errorf("redis_addr must be set for the redis queue backend")
		}
	default:
		return fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}

	if cfg.ConsumerConcurrency <= 0 {
		return fmt.Errorf("consumer_concurrency must be positive, got %d", cfg.ConsumerConcurrency)
	}
	if cfg.APIRateLimit <= 0 {
		return fmt.Errorf("api_rate_limit must be positive, got %d", cfg.APIRateLimit)
	}
	if cfg.TracingSampling < 0 || cfg.TracingSampling > 1 {
		return fmt.Errorf("tracing_sampling must be in [0,1], got %f", cfg.TracingSampling)
	}

	if cfg.SealingKey != "" {
		key, err := hex.DecodeString(cfg.SealingKey)
		if err != nil {
			return fmt.Errorf("sealing key is not valid hex: %w", err)
		}
		switch len(key) {
		case 16, 24, 32:
		default:
			return fmt.Errorf("sealing key must be 16, 24 or 32 bytes, got %d", len(key))
		}
	}
	return nil
}

// SealingKeyBytes decodes the hex sealing key. Returns nil when sealing
// is disabled.
func (c Config) SealingKeyBytes() ([]byte, error) {
	if c.SealingKey == "" {
		return nil, nil
	}
	return hex.DecodeString(c.SealingKey)
}
