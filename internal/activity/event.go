package activity

import (
	"strconv"
	"unicode/utf8"
)

// Category classifies an activity event.
type Category string

const (
	CategoryRequest      Category = "request"
	CategoryAdmittedMiss Category = "admitted-miss"
	CategoryAdmittedHit  Category = "admitted-hit"
	CategoryRejected     Category = "rejected"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryRequest, CategoryAdmittedMiss, CategoryAdmittedHit, CategoryRejected:
		return true
	}
	return false
}

// Event is one activity record. ID and Timestamp are assigned on append.
// Cached and Blocked are nil when the event does not carry them.
type Event struct {
	ID             string   `json:"id"`
	Timestamp      int64    `json:"timestamp"`
	Category       Category `json:"category"`
	Identity       string   `json:"identity"`
	PayloadExcerpt string   `json:"payloadExcerpt,omitempty"`
	Cached         *bool    `json:"cached,omitempty"`
	Blocked        *bool    `json:"blocked,omitempty"`
}

// Bool returns a pointer to v, for Event's optional flags.
func Bool(v bool) *bool { return &v }

// Record field names.
const (
	fieldTimestamp = "timestamp"
	fieldCategory  = "type"
	fieldIdentity  = "identity"
	fieldExcerpt   = "prompt"
	fieldCached    = "cached"
	fieldBlocked   = "blocked"
)

func (e Event) fields() map[string]string {
	f := map[string]string{
		fieldTimestamp: strconv.FormatInt(e.Timestamp, 10),
		fieldCategory:  string(e.Category),
		fieldIdentity:  e.Identity,
	}
	if e.PayloadExcerpt != "" {
		f[fieldExcerpt] = e.PayloadExcerpt
	}
	if e.Cached != nil {
		f[fieldCached] = strconv.FormatBool(*e.Cached)
	}
	if e.Blocked != nil {
		f[fieldBlocked] = strconv.FormatBool(*e.Blocked)
	}
	return f
}

// parseEvent rebuilds an event from a stored record. Missing or malformed
// fields are left at their zero value.
func parseEvent(id string, f map[string]string) Event {
	e := Event{
		ID:             id,
		Category:       Category(f[fieldCategory]),
		Identity:       f[fieldIdentity],
		PayloadExcerpt: f[fieldExcerpt],
	}
	if ts, err := strconv.ParseInt(f[fieldTimestamp], 10, 64); err == nil {
		e.Timestamp = ts
	}
	if v, err := strconv.ParseBool(f[fieldCached]); err == nil {
		e.Cached = &v
	}
	if v, err := strconv.ParseBool(f[fieldBlocked]); err == nil {
		e.Blocked = &v
	}
	return e
}

// Excerpt shortens s to at most n runes, marking a cut with "...".
func Excerpt(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
