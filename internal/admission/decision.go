package admission

import (
	"encoding/json"
	"time"
)

// Decision is the outcome of an admission check.
//
// Remaining is advisory: it is computed from a point-in-time count and may be
// stale under concurrent access. A non-nil Err marks a fail-open result built
// without consulting the store.
type Decision struct {
	Admitted  bool
	Remaining int
	Limit     int
	ResetAt   time.Time
	Err       error
}

// Degraded reports whether the decision was made without the store.
func (d Decision) Degraded() bool {
	return d.Err != nil
}

// RetryAfter is how long a denied caller should wait, rounded up to whole seconds.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Admitted {
		return 0
	}
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	return ((wait + time.Second - 1) / time.Second) * time.Second
}

type decisionJSON struct {
	Admitted  bool  `json:"admitted"`
	Remaining int   `json:"remaining"`
	Limit     int   `json:"limit"`
	ResetAt   int64 `json:"resetAt"`
	Degraded  bool  `json:"degraded"`
}

// MarshalJSON renders ResetAt as epoch milliseconds.
func (d Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(decisionJSON{
		Admitted:  d.Admitted,
		Remaining: d.Remaining,
		Limit:     d.Limit,
		ResetAt:   d.ResetAt.UnixMilli(),
		Degraded:  d.Degraded(),
	})
}

// UnmarshalJSON reads the shape written by MarshalJSON. ResetAt is restored
// in UTC; Err is never restored, so a decoded degraded decision reports
// Degraded() == false.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var raw decisionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Decision{
		Admitted:  raw.Admitted,
		Remaining: raw.Remaining,
		Limit:     raw.Limit,
		ResetAt:   time.UnixMilli(raw.ResetAt).UTC(),
	}
	return nil
}
