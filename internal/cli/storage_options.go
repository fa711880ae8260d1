package cli

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Sieve/internal/config"
	"github.com/SmitUplenchwar2687/Sieve/internal/store"
)

type storageOptions struct {
	backend               string
	memoryShards          int
	memoryCleanupInterval time.Duration
	redisHost             string
	redisPort             int
	redisPassword         string
	redisDB               int
	redisCluster          bool
	redisClusterNodes     []string
	redisPoolSize         int
	redisMaxRetries       int
	redisDialTimeout      time.Duration
	redisMinRetryBackoff  time.Duration
	redisMaxRetryBackoff  time.Duration
	sqlitePath            string
	sqliteBusyTimeout     time.Duration
}

func defaultStorageOptions() storageOptions {
	d := store.DefaultConfig()
	return storageOptions{
		backend:               d.Backend,
		memoryShards:          d.Memory.Shards,
		memoryCleanupInterval: d.Memory.CleanupInterval,
		redisHost:             d.Redis.Host,
		redisPort:             d.Redis.Port,
		redisDB:               d.Redis.DB,
		redisPoolSize:         d.Redis.PoolSize,
		redisMaxRetries:       d.Redis.MaxRetries,
		redisDialTimeout:      d.Redis.DialTimeout,
		redisMinRetryBackoff:  d.Redis.MinRetryBackoff,
		redisMaxRetryBackoff:  d.Redis.MaxRetryBackoff,
		sqlitePath:            d.SQLite.Path,
		sqliteBusyTimeout:     d.SQLite.BusyTimeout,
	}
}

func (o *storageOptions) addFlags(cmd *cobra.Command) {
	d := defaultStorageOptions()
	cmd.Flags().StringVar(&o.backend, "storage", d.backend, "storage backend (memory, redis, sqlite)")
	cmd.Flags().IntVar(&o.memoryShards, "storage-memory-shards", d.memoryShards, "lock shards for the memory backend")
	cmd.Flags().DurationVar(&o.memoryCleanupInterval, "storage-memory-cleanup-interval", d.memoryCleanupInterval, "expired-key sweep interval for the memory backend")
	cmd.Flags().StringVar(&o.redisHost, "redis-host", d.redisHost, "redis host (or host:port)")
	cmd.Flags().IntVar(&o.redisPort, "redis-port", d.redisPort, "redis port")
	cmd.Flags().StringVar(&o.redisPassword, "redis-password", "", "redis password")
	cmd.Flags().IntVar(&o.redisDB, "redis-db", d.redisDB, "redis database index")
	cmd.Flags().BoolVar(&o.redisCluster, "redis-cluster", false, "enable redis cluster mode")
	cmd.Flags().StringSliceVar(&o.redisClusterNodes, "redis-cluster-nodes", nil, "redis cluster nodes host:port list")
	cmd.Flags().IntVar(&o.redisPoolSize, "redis-pool-size", d.redisPoolSize, "redis connection pool size")
	cmd.Flags().IntVar(&o.redisMaxRetries, "redis-max-retries", d.redisMaxRetries, "redis max retries per command")
	cmd.Flags().DurationVar(&o.redisDialTimeout, "redis-dial-timeout", d.redisDialTimeout, "redis dial timeout")
	cmd.Flags().DurationVar(&o.redisMinRetryBackoff, "redis-min-retry-backoff", d.redisMinRetryBackoff, "redis minimum backoff between retries")
	cmd.Flags().DurationVar(&o.redisMaxRetryBackoff, "redis-max-retry-backoff", d.redisMaxRetryBackoff, "redis maximum backoff between retries")
	cmd.Flags().StringVar(&o.sqlitePath, "sqlite-path", d.sqlitePath, "database file for the sqlite backend")
	cmd.Flags().DurationVar(&o.sqliteBusyTimeout, "sqlite-busy-timeout", d.sqliteBusyTimeout, "sqlite busy timeout")
}

func (o *storageOptions) applyConfigIfUnset(cmd *cobra.Command, cfg *store.Config) {
	if cfg == nil {
		return
	}

	if !cmd.Flags().Changed("storage") {
		o.backend = cfg.Backend
	}
	if !cmd.Flags().Changed("storage-memory-shards") {
		o.memoryShards = cfg.Memory.Shards
	}
	if !cmd.Flags().Changed("storage-memory-cleanup-interval") {
		o.memoryCleanupInterval = cfg.Memory.CleanupInterval
	}
	if !cmd.Flags().Changed("redis-host") {
		o.redisHost = cfg.Redis.Host
	}
	if !cmd.Flags().Changed("redis-port") {
		o.redisPort = cfg.Redis.Port
	}
	if !cmd.Flags().Changed("redis-password") {
		o.redisPassword = cfg.Redis.Password
	}
	if !cmd.Flags().Changed("redis-db") {
		o.redisDB = cfg.Redis.DB
	}
	if !cmd.Flags().Changed("redis-cluster") {
		o.redisCluster = cfg.Redis.Cluster
	}
	if !cmd.Flags().Changed("redis-cluster-nodes") {
		o.redisClusterNodes = cfg.Redis.ClusterNodes
	}
	if !cmd.Flags().Changed("redis-pool-size") {
		o.redisPoolSize = cfg.Redis.PoolSize
	}
	if !cmd.Flags().Changed("redis-max-retries") {
		o.redisMaxRetries = cfg.Redis.MaxRetries
	}
	if !cmd.Flags().Changed("redis-dial-timeout") {
		o.redisDialTimeout = cfg.Redis.DialTimeout
	}
	if !cmd.Flags().Changed("redis-min-retry-backoff") {
		o.redisMinRetryBackoff = cfg.Redis.MinRetryBackoff
	}
	if !cmd.Flags().Changed("redis-max-retry-backoff") {
		o.redisMaxRetryBackoff = cfg.Redis.MaxRetryBackoff
	}
	if !cmd.Flags().Changed("sqlite-path") {
		o.sqlitePath = cfg.SQLite.Path
	}
	if !cmd.Flags().Changed("sqlite-busy-timeout") {
		o.sqliteBusyTimeout = cfg.SQLite.BusyTimeout
	}
}

func (o *storageOptions) normalize() error {
	if o.backend != store.BackendRedis || o.redisCluster {
		return nil
	}

	host, port, err := normalizeRedisHostPort(o.redisHost, o.redisPort)
	if err != nil {
		return err
	}
	o.redisHost = host
	o.redisPort = port
	return nil
}

func (o *storageOptions) toConfig() store.Config {
	return store.Config{
		Backend: o.backend,
		Memory: store.MemoryConfig{
			Shards:          o.memoryShards,
			CleanupInterval: o.memoryCleanupInterval,
		},
		Redis: store.RedisConfig{
			Host:            o.redisHost,
			Port:            o.redisPort,
			Password:        o.redisPassword,
			DB:              o.redisDB,
			Cluster:         o.redisCluster,
			ClusterNodes:    append([]string(nil), o.redisClusterNodes...),
			PoolSize:        o.redisPoolSize,
			MaxRetries:      o.redisMaxRetries,
			DialTimeout:     o.redisDialTimeout,
			MinRetryBackoff: o.redisMinRetryBackoff,
			MaxRetryBackoff: o.redisMaxRetryBackoff,
		},
		SQLite: store.SQLiteConfig{
			Path:        o.sqlitePath,
			BusyTimeout: o.sqliteBusyTimeout,
		},
	}
}

func normalizeRedisHostPort(host string, port int) (string, int, error) {
	if strings.Contains(host, ":") {
		h, p, err := net.SplitHostPort(host)
		if err != nil {
			return "", 0, fmt.Errorf("invalid --redis-host value %q: %w", host, err)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid redis port in --redis-host %q: %w", host, err)
		}
		host = h
		port = n
	}

	if host == "" {
		return "", 0, fmt.Errorf("redis host cannot be empty")
	}
	if port <= 0 {
		return "", 0, fmt.Errorf("redis port must be positive, got %d", port)
	}

	return host, port, nil
}

type limiterOptions struct {
	limit  int
	window time.Duration
	strict bool
}

func (o *limiterOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.limit, "limit", 10, "requests admitted per identity per window")
	cmd.Flags().DurationVar(&o.window, "window", time.Minute, "sliding window length")
	cmd.Flags().BoolVar(&o.strict, "strict", false, "run each admission check as one atomic store step")
}

func (o *limiterOptions) applyTo(cmd *cobra.Command, cfg *config.LimiterConfig) {
	if cmd.Flags().Changed("limit") {
		cfg.Limit = o.limit
	}
	if cmd.Flags().Changed("window") {
		cfg.Window = o.window
	}
	if cmd.Flags().Changed("strict") {
		cfg.Strict = o.strict
	}
}

// resolveConfig loads the config and overlays the storage flags that were
// set explicitly.
func resolveConfig(cmd *cobra.Command, root *rootOptions, so *storageOptions) (config.Config, zerolog.Logger, error) {
	cfg, logger, err := root.load(cmd)
	if err != nil {
		return cfg, logger, err
	}
	so.applyConfigIfUnset(cmd, &cfg.Storage)
	if err := so.normalize(); err != nil {
		return cfg, logger, err
	}
	cfg.Storage = so.toConfig()
	return cfg, logger, nil
}
