package store

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseScoreBound(t *testing.T) {
	tests := []struct {
		in        string
		value     float64
		exclusive bool
	}{
		{in: "-inf", value: math.Inf(-1)},
		{in: "+inf", value: math.Inf(1)},
		{in: "42", value: 42},
		{in: "(42", value: 42, exclusive: true},
		{in: "-1.5", value: -1.5},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			b, err := parseScoreBound(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.value, b.value)
			require.Equal(t, tt.exclusive, b.exclusive)
		})
	}

	_, err := parseScoreBound("abc")
	require.Error(t, err)
}

func TestRangeIndexes(t *testing.T) {
	tests := []struct {
		name        string
		n           int64
		start, stop int64
		from, to    int64
		ok          bool
	}{
		{name: "first", n: 5, start: 0, stop: 0, from: 0, to: 0, ok: true},
		{name: "all", n: 5, start: 0, stop: -1, from: 0, to: 4, ok: true},
		{name: "clamped", n: 3, start: -10, stop: 10, from: 0, to: 2, ok: true},
		{name: "empty collection", n: 0, start: 0, stop: 0},
		{name: "start past end", n: 3, start: 5, stop: 8},
		{name: "inverted", n: 3, start: 2, stop: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to, ok := rangeIndexes(tt.n, tt.start, tt.stop)
			require.Equal(t, tt.ok, ok)
			if ok {
				require.Equal(t, tt.from, from)
				require.Equal(t, tt.to, to)
			}
		})
	}
}

func TestCompileGlob(t *testing.T) {
	tests := []struct {
		pattern, key string
		want         bool
	}{
		{"cache:*", "cache:abc", true},
		{"cache:*", "cache:", true},
		{"cache:*", "ratelimit:x", false},
		{"ratelimit:?", "ratelimit:a", true},
		{"ratelimit:?", "ratelimit:ab", false},
		{`a\*b`, "a*b", true},
		{`a\*b`, "axb", false},
		{"*", "", true},
		{"exact", "exact", true},
		{"h[ae]llo", "hello", true},
		{"h[ae]llo", "hillo", false},
		{"h[^e]llo", "hallo", true},
		{"h[^e]llo", "hello", false},
		{"h[a-c]llo", "hbllo", true},
		{"k{a,b}", "k{a,b}", true},
		{"k{a,b}", "ka", false},
		{"user/*", "user/a/b", true},
	}
	for _, tt := range tests {
		g, err := compileGlob(tt.pattern)
		require.NoError(t, err, tt.pattern)
		require.Equal(t, tt.want, g.Match(tt.key), "%s vs %s", tt.pattern, tt.key)
	}
}

func TestCompileGlob_Invalid(t *testing.T) {
	_, err := compileGlob("h[llo")
	require.Error(t, err)
}

func TestNextLogIDMonotonic(t *testing.T) {
	id := nextLogID("", 1000)
	require.Equal(t, "1000-0", id)

	id = nextLogID(id, 1000)
	require.Equal(t, "1000-1", id)

	// A clock that moves backwards keeps the previous millisecond.
	id = nextLogID(id, 900)
	require.Equal(t, "1000-2", id)

	require.Equal(t, "1001-0", nextLogID(id, 1001))
}
