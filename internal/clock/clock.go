// Package clock abstracts wall time so the store backends and the
// primitives built on them can be driven by a virtual clock in tests.
package clock

import "time"

// Clock is the time source used across Sieve. Production code uses Real;
// tests use a *Virtual and move it forward explicitly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After returns a channel that receives the time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Real delegates to the standard time package.
type Real struct{}

// NewReal returns the wall clock.
func NewReal() Real {
	return Real{}
}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Millis returns the clock's current time as epoch milliseconds.
func Millis(c Clock) int64 {
	return c.Now().UnixMilli()
}
