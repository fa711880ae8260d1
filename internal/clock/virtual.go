package clock

import (
	"sync"
	"time"
)

// Virtual is a manually driven clock. Time only moves when Advance or Set is
// called, which makes TTL and window expiry deterministic in tests.
//
// Safe for concurrent use.
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	pending []timer
}

type timer struct {
	fireAt time.Time
	ch     chan time.Time
}

// NewVirtual creates a Virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// After fires once the virtual time reaches now+d. Non-positive durations
// fire immediately.
func (v *Virtual) After(d time.Duration) <-chan time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- v.now
		return ch
	}
	v.pending = append(v.pending, timer{fireAt: v.now.Add(d), ch: ch})
	return ch
}

// Advance moves the clock forward by d. Panics if d is negative.
func (v *Virtual) Advance(d time.Duration) {
	if d < 0 {
		panic("clock: cannot advance by negative duration")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = v.now.Add(d)
	v.fire()
}

// Set jumps to t. Panics if t is before the current virtual time.
func (v *Virtual) Set(t time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if t.Before(v.now) {
		panic("clock: cannot set time to the past")
	}
	v.now = t
	v.fire()
}

// Pending reports how many After channels have not fired yet.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

// fire must be called with v.mu held.
func (v *Virtual) fire() {
	kept := v.pending[:0]
	for _, t := range v.pending {
		if t.fireAt.After(v.now) {
			kept = append(kept, t)
			continue
		}
		t.ch <- v.now
	}
	v.pending = kept
}
