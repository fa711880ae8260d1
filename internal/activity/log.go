// Package activity keeps a bounded, newest-first history of request events
// in a capped store log. Logging here is best-effort: failures are swallowed
// and never reach the caller as errors.
package activity

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/SmitUplenchwar2687/Sieve/internal/clock"
	"github.com/SmitUplenchwar2687/Sieve/internal/store"
)

// LogName is the store key of the capped log.
const LogName = "activity:stream"

const (
	DefaultMaxLen     = 100
	DefaultReadCount  = 20
	DefaultExcerptLen = 50
)

// Log appends and reads activity events.
type Log struct {
	store      store.Store
	clock      clock.Clock
	logger     zerolog.Logger
	maxLen     int64
	excerptLen int
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger used for dropped appends and failed reads.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// WithMaxLen sets the capacity of the log.
func WithMaxLen(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.maxLen = int64(n)
		}
	}
}

// WithExcerptLen sets how many runes of the payload an event keeps.
func WithExcerptLen(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.excerptLen = n
		}
	}
}

// New creates a Log over s.
func New(s store.Store, clk clock.Clock, opts ...Option) (*Log, error) {
	if s == nil {
		return nil, fmt.Errorf("store is required")
	}
	if clk == nil {
		clk = clock.NewReal()
	}
	l := &Log{
		store:      s,
		clock:      clk,
		logger:     zerolog.Nop(),
		maxLen:     DefaultMaxLen,
		excerptLen: DefaultExcerptLen,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// MaxLen is the capacity of the log.
func (l *Log) MaxLen() int { return int(l.maxLen) }

// Appended is the event as written. Err is set when the append was dropped.
type Appended struct {
	Event Event
	Err   error
}

// Degraded reports whether the event was dropped.
func (a Appended) Degraded() bool { return a.Err != nil }

// Append stamps ev with the current time, truncates its excerpt and writes
// it to the log. Any ID or Timestamp on ev is replaced.
func (l *Log) Append(ctx context.Context, ev Event) Appended {
	ev.ID = ""
	ev.Timestamp = clock.Millis(l.clock)
	ev.PayloadExcerpt = Excerpt(ev.PayloadExcerpt, l.excerptLen)

	id, err := l.store.AppendCapped(ctx, LogName, l.maxLen, ev.fields())
	if err != nil {
		l.logger.Warn().
			Err(err).
			Str("op", "activity.append").
			Str("category", string(ev.Category)).
			Str("identity", ev.Identity).
			Msg("activity event dropped")
		return Appended{Event: ev, Err: err}
	}
	ev.ID = id
	return Appended{Event: ev}
}

// Page is a newest-first slice of events. Err is set when the read failed.
type Page struct {
	Events []Event
	Err    error
}

// Degraded reports whether the read failed.
func (p Page) Degraded() bool { return p.Err != nil }

// Recent returns up to count of the newest events, newest first. A
// non-positive count reads DefaultReadCount; counts above the capacity are
// clamped so callers never see more than the cap.
func (l *Log) Recent(ctx context.Context, count int) Page {
	n := int64(count)
	if n <= 0 {
		n = DefaultReadCount
	}
	if n > l.maxLen {
		n = l.maxLen
	}

	recs, err := l.store.ReadReverse(ctx, LogName, n)
	if err != nil {
		l.logger.Warn().Err(err).Str("op", "activity.recent").Msg("activity read failed")
		return Page{Events: []Event{}, Err: err}
	}

	events := make([]Event, 0, len(recs))
	for _, rec := range recs {
		events = append(events, parseEvent(rec.ID, rec.Fields))
	}
	return Page{Events: events}
}
