// Package config loads Sieve's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SmitUplenchwar2687/Sieve/internal/store"
)

// Config is the top-level configuration for a Sieve process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Limiter   LimiterConfig   `yaml:"limiter"`
	Cache     CacheConfig     `yaml:"cache"`
	Activity  ActivityConfig  `yaml:"activity"`
	Generator GeneratorConfig `yaml:"generator"`
	Storage   store.Config    `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LimiterConfig holds admission settings.
type LimiterConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
	// Strict runs each check as a single atomic store step.
	Strict bool `yaml:"strict"`
	// Sample bounds how many identities the top-consumer report inspects.
	Sample int `yaml:"sample"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// ActivityConfig holds activity log settings.
type ActivityConfig struct {
	MaxLen     int `yaml:"max_len"`
	ExcerptLen int `yaml:"excerpt_len"`
}

// GeneratorConfig bounds the simulated generation latency.
type GeneratorConfig struct {
	MinLatency time.Duration `yaml:"min_latency"`
	MaxLatency time.Duration `yaml:"max_latency"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Limiter: LimiterConfig{
			Limit:  10,
			Window: time.Minute,
			Sample: 10,
		},
		Cache: CacheConfig{
			TTL: time.Hour,
		},
		Activity: ActivityConfig{
			MaxLen:     100,
			ExcerptLen: 50,
		},
		Generator: GeneratorConfig{
			MinLatency: 500 * time.Millisecond,
			MaxLatency: 2 * time.Second,
		},
		Storage: store.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks that the config is usable.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Limiter.Limit <= 0 {
		return fmt.Errorf("limiter.limit must be positive, got %d", c.Limiter.Limit)
	}
	if c.Limiter.Window < time.Millisecond {
		return fmt.Errorf("limiter.window must be at least 1ms, got %s", c.Limiter.Window)
	}
	if c.Limiter.Sample < 0 {
		return fmt.Errorf("limiter.sample must not be negative, got %d", c.Limiter.Sample)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Activity.MaxLen <= 0 {
		return fmt.Errorf("activity.max_len must be positive, got %d", c.Activity.MaxLen)
	}
	if c.Activity.ExcerptLen <= 0 {
		return fmt.Errorf("activity.excerpt_len must be positive, got %d", c.Activity.ExcerptLen)
	}
	if c.Generator.MinLatency < 0 || c.Generator.MaxLatency < c.Generator.MinLatency {
		return fmt.Errorf("generator latency range [%s, %s] is invalid", c.Generator.MinLatency, c.Generator.MaxLatency)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}

// LoadFile reads a YAML config file, expands environment variables and
// merges it onto the defaults. Fields not in the file keep their defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

const exampleConfig = `# Sieve configuration. ${VAR} references are expanded from the environment.
server:
  addr: ":8080"
  shutdown_timeout: 5s

limiter:
  limit: 10
  window: 1m
  strict: false
  sample: 10

cache:
  ttl: 1h

activity:
  max_len: 100
  excerpt_len: 50

generator:
  min_latency: 500ms
  max_latency: 2s

storage:
  backend: memory          # memory, redis, sqlite
  memory:
    shards: 16
    cleanup_interval: 1m
  redis:
    host: localhost
    port: 6379
    password: "${SIEVE_REDIS_PASSWORD}"
    db: 0
    cluster: false
    cluster_nodes: []
    pool_size: 20
    max_retries: 3
    dial_timeout: 5s
    min_retry_backoff: 8ms
    max_retry_backoff: 512ms
  sqlite:
    path: sieve.db
    busy_timeout: 5s

log:
  level: info
  format: console          # console, json
`

// WriteExample writes an example config file to the given path.
func WriteExample(path string) error {
	return os.WriteFile(path, []byte(exampleConfig), 0o644)
}
