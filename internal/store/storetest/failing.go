// Package storetest provides Store doubles for exercising degraded paths.
package storetest

import (
	"context"
	"errors"
	"time"

	"github.com/SmitUplenchwar2687/Sieve/internal/store"
)

// ErrUnavailable is what Failing returns from every operation by default.
var ErrUnavailable = errors.New("storetest: store unavailable")

// Failing is a Store whose every operation fails with Err.
type Failing struct {
	Err error
}

var (
	_ store.Store        = Failing{}
	_ store.AtomicWindow = Failing{}
)

func (f Failing) err() error {
	if f.Err == nil {
		return ErrUnavailable
	}
	return f.Err
}

func (f Failing) ZAdd(context.Context, string, float64, string) error { return f.err() }
func (f Failing) ZRemRangeByScore(context.Context, string, string, string) (int64, error) {
	return 0, f.err()
}
func (f Failing) ZCard(context.Context, string) (int64, error) { return 0, f.err() }
func (f Failing) ZRangeWithScores(context.Context, string, int64, int64) ([]store.ScoredMember, error) {
	return nil, f.err()
}
func (f Failing) PExpire(context.Context, string, time.Duration) error { return f.err() }
func (f Failing) Get(context.Context, string) (string, bool, error)    { return "", false, f.err() }
func (f Failing) SetWithExpiry(context.Context, string, string, time.Duration) error {
	return f.err()
}
func (f Failing) Incr(context.Context, string) (int64, error) { return 0, f.err() }
func (f Failing) AppendCapped(context.Context, string, int64, map[string]string) (string, error) {
	return "", f.err()
}
func (f Failing) ReadReverse(context.Context, string, int64) ([]store.LogRecord, error) {
	return nil, f.err()
}
func (f Failing) Keys(context.Context, string, int) ([]string, error) { return nil, f.err() }
func (f Failing) SlidingWindow(context.Context, string, int64, int64, int, string) (store.WindowResult, error) {
	return store.WindowResult{}, f.err()
}
func (f Failing) Ping(context.Context) error { return f.err() }
func (f Failing) Close() error               { return nil }
