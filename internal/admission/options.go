package admission

import (
	"time"

	"github.com/rs/zerolog"
)

// Default limits applied by CheckDefault.
const (
	DefaultLimit  = 10
	DefaultWindow = 60 * time.Second

	// DefaultSample bounds how many identities TopConsumers inspects.
	DefaultSample = 10
	topN          = 5
)

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used for degraded results.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithStrict runs each check as one atomic step when the store supports it.
// Without it, purge, count and insert are separate store calls and concurrent
// checks for the same identity may over-admit by the number of racers.
func WithStrict(strict bool) Option {
	return func(l *Limiter) {
		l.strict = strict
	}
}

// WithDefaults overrides the limit and window used by CheckDefault.
// Non-positive values are ignored.
func WithDefaults(limit int, window time.Duration) Option {
	return func(l *Limiter) {
		if limit > 0 {
			l.defaultLimit = limit
		}
		if window >= time.Millisecond {
			l.defaultWindow = window
		}
	}
}
