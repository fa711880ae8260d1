// Package respcache is a cache-aside store for generated responses, keyed by
// the SHA-256 digest of the request payload.
//
// The cache never computes anything itself: callers Lookup first and Store
// the result they produced on a miss. Entries leave only by TTL expiry.
package respcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/SmitUplenchwar2687/Sieve/internal/store"
)

// Store keys. They are fixed so external tooling can inspect them.
const (
	KeyPrefix = "cache:"
	HitsKey   = "stats:cache:hits"
	MissesKey = "stats:cache:misses"
)

// DefaultTTL applies when Store is called with a non-positive ttl.
const DefaultTTL = time.Hour

// Cache is a content-addressed response cache. It keeps no local state.
type Cache struct {
	store      store.Store
	logger     zerolog.Logger
	defaultTTL time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for degraded results.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// New creates a Cache over s.
func New(s store.Store, opts ...Option) (*Cache, error) {
	if s == nil {
		return nil, fmt.Errorf("store is required")
	}
	c := &Cache{store: s, logger: zerolog.Nop(), defaultTTL: DefaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// KeyFor returns the cache key of payload: the namespace prefix followed by
// the 64-character hex SHA-256 digest.
func KeyFor(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

// Lookup is the result of a cache read. Err is set when the read failed; the
// lookup is then reported as a miss.
type Lookup struct {
	Value string
	Hit   bool
	Err   error
}

// Degraded reports whether the store could not be read.
func (l Lookup) Degraded() bool { return l.Err != nil }

// Lookup reads the cached result for payload. Exactly one of the hit and miss
// counters is incremented per call, including when the read itself fails.
func (c *Cache) Lookup(ctx context.Context, payload string) Lookup {
	key := KeyFor(payload)

	value, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("op", "respcache.lookup").Str("key", key).Msg("cache read failed, treating as miss")
		c.count(ctx, MissesKey)
		return Lookup{Err: err}
	}
	if !found {
		c.count(ctx, MissesKey)
		return Lookup{}
	}
	c.count(ctx, HitsKey)
	return Lookup{Value: value, Hit: true}
}

func (c *Cache) count(ctx context.Context, counter string) {
	if _, err := c.store.Incr(ctx, counter); err != nil {
		c.logger.Warn().Err(err).Str("op", "respcache.count").Str("key", counter).Msg("counter increment failed")
	}
}

// Outcome reports whether a Store call reached the store.
type Outcome struct {
	Err error
}

// Degraded reports whether the write was dropped.
func (o Outcome) Degraded() bool { return o.Err != nil }

// Store writes result for payload with the given ttl, overwriting any
// previous entry and resetting its expiry. A non-positive ttl uses the
// default. Failures are logged and reported only through the Outcome.
func (c *Cache) Store(ctx context.Context, payload, result string, ttl time.Duration) Outcome {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	key := KeyFor(payload)
	if err := c.store.SetWithExpiry(ctx, key, result, ttl); err != nil {
		c.logger.Warn().Err(err).Str("op", "respcache.store").Str("key", key).Msg("cache write dropped")
		return Outcome{Err: err}
	}
	return Outcome{}
}

// Stats summarises cache effectiveness.
type Stats struct {
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	Total          int64   `json:"total"`
	HitRatio       float64 `json:"hitRatio"`
	CachedKeyCount int     `json:"cachedKeyCount"`
	Err            error   `json:"-"`
}

// Degraded reports whether some figures could not be read.
func (s Stats) Degraded() bool { return s.Err != nil }

// Stats reads both counters and counts live cache keys. HitRatio is a
// percentage in [0, 100].
func (c *Cache) Stats(ctx context.Context) Stats {
	var st Stats

	hits, err := c.readCounter(ctx, HitsKey)
	if err != nil {
		return c.statsFailed(err)
	}
	misses, err := c.readCounter(ctx, MissesKey)
	if err != nil {
		return c.statsFailed(err)
	}
	keys, err := c.store.Keys(ctx, KeyPrefix+"*", 0)
	if err != nil {
		return c.statsFailed(err)
	}

	st.Hits = hits
	st.Misses = misses
	st.Total = hits + misses
	if st.Total > 0 {
		st.HitRatio = float64(hits) / float64(st.Total) * 100
	}
	st.CachedKeyCount = len(keys)
	return st
}

func (c *Cache) readCounter(ctx context.Context, key string) (int64, error) {
	raw, found, err := c.store.Get(ctx, key)
	if err != nil || !found {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s holds %q: %w", key, raw, err)
	}
	return n, nil
}

func (c *Cache) statsFailed(err error) Stats {
	c.logger.Warn().Err(err).Str("op", "respcache.stats").Msg("cache stats unavailable")
	return Stats{Err: err}
}
