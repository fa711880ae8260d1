package store

import (
	"fmt"
	"time"
)

// Supported backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

const (
	defaultRedisPoolSize        = 20
	defaultRedisMaxRetries      = 3
	defaultRedisDialTimeout     = 5 * time.Second
	defaultRedisMinRetryBackoff = 8 * time.Millisecond
	defaultRedisMaxRetryBackoff = 512 * time.Millisecond

	defaultMemoryShards          = 16
	defaultMemoryCleanupInterval = time.Minute

	defaultSQLiteBusyTimeout = 5 * time.Second
)

// Config selects and configures a backend.
type Config struct {
	Backend string       `yaml:"backend"`
	Memory  MemoryConfig `yaml:"memory"`
	Redis   RedisConfig  `yaml:"redis"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
}

// MemoryConfig configures the in-process backend.
type MemoryConfig struct {
	Shards          int           `yaml:"shards"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// RedisConfig configures the Redis backend. MaxRetries and the backoff
// bounds apply to every command on transient connection errors.
type RedisConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Password        string        `yaml:"password"`
	DB              int           `yaml:"db"`
	Cluster         bool          `yaml:"cluster"`
	ClusterNodes    []string      `yaml:"cluster_nodes"`
	PoolSize        int           `yaml:"pool_size"`
	MaxRetries      int           `yaml:"max_retries"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	MinRetryBackoff time.Duration `yaml:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff"`
}

// SQLiteConfig configures the embedded SQLite backend.
type SQLiteConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// DefaultConfig returns a memory-backed configuration with every backend's
// defaults filled in.
func DefaultConfig() Config {
	return Config{
		Backend: BackendMemory,
		Memory: MemoryConfig{
			Shards:          defaultMemoryShards,
			CleanupInterval: defaultMemoryCleanupInterval,
		},
		Redis: RedisConfig{
			Host:            "localhost",
			Port:            6379,
			PoolSize:        defaultRedisPoolSize,
			MaxRetries:      defaultRedisMaxRetries,
			DialTimeout:     defaultRedisDialTimeout,
			MinRetryBackoff: defaultRedisMinRetryBackoff,
			MaxRetryBackoff: defaultRedisMaxRetryBackoff,
		},
		SQLite: SQLiteConfig{
			Path:        "sieve.db",
			BusyTimeout: defaultSQLiteBusyTimeout,
		},
	}
}

// Validate checks the settings of the selected backend only.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendRedis:
		_, err := normalizeRedisConfig(&c.Redis)
		return err
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
		return nil
	default:
		return fmt.Errorf("%w %q, must be one of: memory, redis, sqlite", ErrUnknownBackend, c.Backend)
	}
}
