// Package store is the thin contract between Sieve's primitives and the
// external key-value engine. It exposes the sorted-set, string, capped-log
// and key-enumeration commands the admission limiter, response cache and
// activity log need, and owns no logic of its own.
//
// Three backends implement the contract: Redis for production, SQLite for a
// single-node embedded deployment, and Memory for tests and local runs.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrWrongType is returned when a command targets a key holding another kind of value.
	ErrWrongType = errors.New("store: operation against a key holding the wrong kind of value")
	// ErrNotInteger is returned by Incr when the stored value is not an integer.
	ErrNotInteger = errors.New("store: value is not an integer")
	// ErrClosed is returned by backends after Close.
	ErrClosed = errors.New("store: closed")
)

// ScoredMember is one sorted-set member with its score.
type ScoredMember struct {
	Member string
	Score  float64
}

// LogRecord is one entry of a capped log. ID is assigned by the store and
// orders records; Fields is the flat field list written by AppendCapped.
type LogRecord struct {
	ID     string
	Fields map[string]string
}

// Store is the capability set the primitives depend on. Implementations must
// be safe for concurrent use; each call is expected to be individually atomic
// and no cross-call transactions are promised.
type Store interface {
	// ZAdd adds member with score to the sorted set at key, updating the score if present.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZRemRangeByScore removes members whose score lies within [min, max].
	// Bounds use Redis syntax: "-inf", "+inf", "42" (inclusive), "(42" (exclusive).
	ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error)
	// ZCard returns the number of members in the sorted set at key.
	ZCard(ctx context.Context, key string) (int64, error)
	// ZRangeWithScores returns members ranked start..stop (inclusive, negative
	// indexes count from the end) in ascending score order.
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error)
	// PExpire sets a time to live on key.
	PExpire(ctx context.Context, key string, ttl time.Duration) error

	// Get returns the string at key. found is false when the key is absent or expired.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// SetWithExpiry stores value at key, replacing anything there, with the given ttl.
	SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error
	// Incr increments the integer at key, creating it at 1 when absent.
	Incr(ctx context.Context, key string) (int64, error)

	// AppendCapped appends a record to the named log and trims it to roughly
	// maxLen records. It returns the store-assigned record id.
	AppendCapped(ctx context.Context, log string, maxLen int64, fields map[string]string) (string, error)
	// ReadReverse returns up to count records of the named log, newest first.
	ReadReverse(ctx context.Context, log string, count int64) ([]LogRecord, error)

	// Keys returns live keys matching a Redis-style glob pattern. A limit of
	// zero or less returns every match.
	Keys(ctx context.Context, pattern string, limit int) ([]string, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases the backend. It is idempotent.
	Close() error
}

// WindowResult is the outcome of an atomic sliding-window step.
type WindowResult struct {
	Admitted bool
	// Count is the number of live entries before this request was inserted.
	Count int64
	// OldestScore is the score of the oldest surviving entry, or -1 when none survive.
	OldestScore int64
}

// AtomicWindow is implemented by backends that can run the whole
// purge→count→insert→expire sequence for one identity as a single step.
type AtomicWindow interface {
	SlidingWindow(ctx context.Context, key string, nowMS, windowMS int64, limit int, member string) (WindowResult, error)
}
