package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisSlidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
  allowed = 1
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = -1
if oldest ~= nil and #oldest >= 2 then
  oldestScore = tonumber(oldest[2])
end

return {allowed, count, oldestScore}
`)

// Redis is the production Store backed by a single Redis node or a cluster.
// Transient connection errors are retried by the client up to MaxRetries
// times with exponential backoff capped at MaxRetryBackoff.
type Redis struct {
	client redis.UniversalClient
	script *redis.Script

	closeOnce sync.Once
	closeErr  error
}

var _ AtomicWindow = (*Redis)(nil)

// NewRedis connects to Redis and verifies the connection with a bounded
// number of pings.
func NewRedis(ctx context.Context, cfg *RedisConfig) (*Redis, error) {
	conf, err := normalizeRedisConfig(cfg)
	if err != nil {
		return nil, err
	}

	s := NewRedisFromClient(newRedisClient(conf))
	if err := s.pingWithRetry(ctx, conf.MaxRetries); err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

// NewRedisFromClient wraps an existing client. The Store takes ownership and
// closes the client on Close.
func NewRedisFromClient(client redis.UniversalClient) *Redis {
	return &Redis{client: client, script: redisSlidingWindowScript}
}

func (s *Redis) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *Redis) ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error) {
	return s.client.ZRemRangeByScore(ctx, key, min, max).Result()
}

func (s *Redis) ZCard(ctx context.Context, key string) (int64, error) {
	return s.client.ZCard(ctx, key).Result()
}

func (s *Redis) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	zs, err := s.client.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ScoredMember, 0, len(zs))
	for _, z := range zs {
		out = append(out, ScoredMember{Member: fmt.Sprint(z.Member), Score: z.Score})
	}
	return out, nil
}

func (s *Redis) PExpire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.PExpire(ctx, key, ttl).Err()
}

func (s *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Redis) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

// AppendCapped uses XADD with approximate MAXLEN trimming, so the stream may
// briefly hold more than maxLen entries.
func (s *Redis) AppendCapped(ctx context.Context, log string, maxLen int64, fields map[string]string) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: log,
		MaxLen: maxLen,
		Approx: maxLen > 0,
		Values: values,
	}).Result()
}

func (s *Redis) ReadReverse(ctx context.Context, log string, count int64) ([]LogRecord, error) {
	var (
		msgs []redis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = s.client.XRevRangeN(ctx, log, "+", "-", count).Result()
	} else {
		msgs, err = s.client.XRevRange(ctx, log, "+", "-").Result()
	}
	if err != nil {
		return nil, err
	}

	out := make([]LogRecord, 0, len(msgs))
	for _, msg := range msgs {
		fields := make(map[string]string, len(msg.Values))
		for k, v := range msg.Values {
			fields[k] = fmt.Sprint(v)
		}
		out = append(out, LogRecord{ID: msg.ID, Fields: fields})
	}
	return out, nil
}

// Keys walks the keyspace with SCAN; in cluster mode every master is scanned.
func (s *Redis) Keys(ctx context.Context, pattern string, limit int) ([]string, error) {
	cluster, ok := s.client.(*redis.ClusterClient)
	if !ok {
		return scanKeys(ctx, s.client, pattern, limit)
	}

	var (
		mu  sync.Mutex
		out []string
	)
	err := cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
		keys, err := scanKeys(ctx, node, pattern, limit)
		if err != nil {
			return err
		}
		mu.Lock()
		out = append(out, keys...)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func scanKeys(ctx context.Context, c redis.Cmdable, pattern string, limit int) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := c.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			out = append(out, k)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// SlidingWindow runs the whole window step server-side in one Lua call.
func (s *Redis) SlidingWindow(ctx context.Context, key string, nowMS, windowMS int64, limit int, member string) (WindowResult, error) {
	res, err := s.script.Run(ctx, s.client, []string{key}, nowMS, windowMS, limit, member).Result()
	if err != nil {
		return WindowResult{}, fmt.Errorf("running redis window script: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return WindowResult{}, fmt.Errorf("unexpected redis script result: %T", res)
	}

	allowed, err := asInt64(values[0])
	if err != nil {
		return WindowResult{}, fmt.Errorf("parsing allowed result: %w", err)
	}
	count, err := asInt64(values[1])
	if err != nil {
		return WindowResult{}, fmt.Errorf("parsing count result: %w", err)
	}
	oldest, err := asInt64(values[2])
	if err != nil {
		return WindowResult{}, fmt.Errorf("parsing oldest result: %w", err)
	}

	return WindowResult{Admitted: allowed == 1, Count: count, OldestScore: oldest}, nil
}

func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases Redis resources. It is idempotent.
func (s *Redis) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

func (s *Redis) pingWithRetry(ctx context.Context, maxRetries int) error {
	attempts := maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := s.client.Ping(ctx).Err(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > 2*time.Second {
			backoff = 2 * time.Second
		}
	}

	if lastErr == nil {
		lastErr = errors.New("ping failed with unknown error")
	}
	return lastErr
}

func normalizeRedisConfig(cfg *RedisConfig) (*RedisConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	conf := *cfg
	if conf.PoolSize <= 0 {
		conf.PoolSize = defaultRedisPoolSize
	}
	if conf.MaxRetries <= 0 {
		conf.MaxRetries = defaultRedisMaxRetries
	}
	if conf.DialTimeout <= 0 {
		conf.DialTimeout = defaultRedisDialTimeout
	}
	if conf.MinRetryBackoff <= 0 {
		conf.MinRetryBackoff = defaultRedisMinRetryBackoff
	}
	if conf.MaxRetryBackoff <= 0 {
		conf.MaxRetryBackoff = defaultRedisMaxRetryBackoff
	}
	if conf.MaxRetryBackoff < conf.MinRetryBackoff {
		return nil, fmt.Errorf("max_retry_backoff (%s) must not be below min_retry_backoff (%s)", conf.MaxRetryBackoff, conf.MinRetryBackoff)
	}

	if conf.Cluster {
		if len(conf.ClusterNodes) == 0 {
			return nil, fmt.Errorf("cluster_nodes is required when cluster=true")
		}
	} else {
		if conf.Host == "" {
			return nil, fmt.Errorf("host is required when cluster=false")
		}
		if conf.Port <= 0 {
			return nil, fmt.Errorf("port must be positive when cluster=false, got %d", conf.Port)
		}
	}

	return &conf, nil
}

func newRedisClient(cfg *RedisConfig) redis.UniversalClient {
	if cfg.Cluster {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           cfg.ClusterNodes,
			Password:        cfg.Password,
			PoolSize:        cfg.PoolSize,
			MaxRetries:      cfg.MaxRetries,
			MinRetryBackoff: cfg.MinRetryBackoff,
			MaxRetryBackoff: cfg.MaxRetryBackoff,
			DialTimeout:     cfg.DialTimeout,
		})
	}

	return redis.NewClient(&redis.Options{
		Addr:            cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
		DialTimeout:     cfg.DialTimeout,
	})
}

func asInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse int64 from %q: %w", x, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}
