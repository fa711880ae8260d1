// Package admission implements a sliding-window admission limiter on top of
// a store's sorted sets.
//
// Each identity owns the sorted set ratelimit:<identity>. Every admitted
// request adds one member scored with its arrival time in epoch
// milliseconds; members scored at or below now-window are purged before
// counting, and the whole set expires after one window without traffic.
package admission

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/SmitUplenchwar2687/Sieve/internal/clock"
	"github.com/SmitUplenchwar2687/Sieve/internal/store"
)

// KeyPrefix namespaces window collections in the store.
const KeyPrefix = "ratelimit:"

var (
	ErrInvalidIdentity = errors.New("admission: identity must not be empty")
	ErrInvalidLimit    = errors.New("admission: limit must be positive")
	ErrInvalidWindow   = errors.New("admission: window must be at least 1ms")
)

// Limiter decides whether an identity may proceed. It holds no state of its
// own; all coordination is left to the store.
type Limiter struct {
	store  store.Store
	clock  clock.Clock
	logger zerolog.Logger
	strict bool

	defaultLimit  int
	defaultWindow time.Duration
}

// New creates a Limiter over s.
func New(s store.Store, clk clock.Clock, opts ...Option) (*Limiter, error) {
	if s == nil {
		return nil, fmt.Errorf("store is required")
	}
	if clk == nil {
		clk = clock.NewReal()
	}
	l := &Limiter{
		store:         s,
		clock:         clk,
		logger:        zerolog.Nop(),
		defaultLimit:  DefaultLimit,
		defaultWindow: DefaultWindow,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Key returns the store key holding identity's window.
func Key(identity string) string {
	return KeyPrefix + identity
}

// CheckDefault runs Check with the configured default limit and window.
func (l *Limiter) CheckDefault(ctx context.Context, identity string) (Decision, error) {
	return l.Check(ctx, identity, l.defaultLimit, l.defaultWindow)
}

// DefaultLimit is the limit CheckDefault applies.
func (l *Limiter) DefaultLimit() int { return l.defaultLimit }

// DefaultWindow is the window CheckDefault applies.
func (l *Limiter) DefaultWindow() time.Duration { return l.defaultWindow }

// Check admits or denies one request for identity.
//
// Invalid arguments are returned as errors. Store failures are not: the
// limiter fails open and returns an admitted Decision with Err set.
func (l *Limiter) Check(ctx context.Context, identity string, limit int, window time.Duration) (Decision, error) {
	if identity == "" {
		return Decision{}, ErrInvalidIdentity
	}
	if limit <= 0 {
		return Decision{}, fmt.Errorf("%w, got %d", ErrInvalidLimit, limit)
	}
	if window < time.Millisecond {
		return Decision{}, fmt.Errorf("%w, got %s", ErrInvalidWindow, window)
	}

	now := l.clock.Now()
	key := Key(identity)

	var (
		d   Decision
		err error
	)
	if aw, ok := l.store.(store.AtomicWindow); ok && l.strict {
		d, err = l.checkAtomic(ctx, aw, key, now, limit, window)
	} else {
		d, err = l.checkSequential(ctx, key, now, limit, window)
	}
	if err != nil {
		return l.failOpen(key, now, limit, window, err), nil
	}
	return d, nil
}

func (l *Limiter) checkSequential(ctx context.Context, key string, now time.Time, limit int, window time.Duration) (Decision, error) {
	nowMS := now.UnixMilli()
	windowMS := window.Milliseconds()

	if _, err := l.store.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(nowMS-windowMS, 10)); err != nil {
		return Decision{}, fmt.Errorf("purge window: %w", err)
	}

	count, err := l.store.ZCard(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("count window: %w", err)
	}

	if count >= int64(limit) {
		oldest, err := l.store.ZRangeWithScores(ctx, key, 0, 0)
		if err != nil {
			return Decision{}, fmt.Errorf("read oldest entry: %w", err)
		}
		resetAt := now.Add(window)
		if len(oldest) > 0 {
			resetAt = time.UnixMilli(int64(oldest[0].Score)).In(now.Location()).Add(window)
		}
		return Decision{Admitted: false, Remaining: 0, Limit: limit, ResetAt: resetAt}, nil
	}

	if err := l.store.ZAdd(ctx, key, float64(nowMS), member(now)); err != nil {
		return Decision{}, fmt.Errorf("record entry: %w", err)
	}
	if err := l.store.PExpire(ctx, key, window); err != nil {
		return Decision{}, fmt.Errorf("refresh expiry: %w", err)
	}

	return Decision{
		Admitted:  true,
		Remaining: limit - int(count) - 1,
		Limit:     limit,
		ResetAt:   now.Add(window),
	}, nil
}

func (l *Limiter) checkAtomic(ctx context.Context, aw store.AtomicWindow, key string, now time.Time, limit int, window time.Duration) (Decision, error) {
	res, err := aw.SlidingWindow(ctx, key, now.UnixMilli(), window.Milliseconds(), limit, member(now))
	if err != nil {
		return Decision{}, err
	}

	if !res.Admitted {
		resetAt := now.Add(window)
		if res.OldestScore >= 0 {
			resetAt = time.UnixMilli(res.OldestScore).In(now.Location()).Add(window)
		}
		return Decision{Admitted: false, Remaining: 0, Limit: limit, ResetAt: resetAt}, nil
	}
	return Decision{
		Admitted:  true,
		Remaining: limit - int(res.Count) - 1,
		Limit:     limit,
		ResetAt:   now.Add(window),
	}, nil
}

func (l *Limiter) failOpen(key string, now time.Time, limit int, window time.Duration, err error) Decision {
	l.logger.Warn().
		Err(err).
		Str("op", "admission.check").
		Str("key", key).
		Msg("store unavailable, admitting request")
	return Decision{
		Admitted:  true,
		Remaining: limit,
		Limit:     limit,
		ResetAt:   now.Add(window),
		Err:       err,
	}
}

// member builds a unique window token so requests arriving in the same
// millisecond do not collapse into one sorted-set member.
func member(now time.Time) string {
	return strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(rand.Uint64(), 36)
}
