package store

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
)

// scoreBound is a parsed ZRANGEBYSCORE-style bound.
type scoreBound struct {
	value     float64
	exclusive bool
}

func parseScoreBound(s string) (scoreBound, error) {
	switch strings.ToLower(s) {
	case "-inf":
		return scoreBound{value: math.Inf(-1)}, nil
	case "+inf", "inf":
		return scoreBound{value: math.Inf(1)}, nil
	}

	b := scoreBound{}
	if strings.HasPrefix(s, "(") {
		b.exclusive = true
		s = s[1:]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return scoreBound{}, fmt.Errorf("store: invalid score bound %q: %w", s, err)
	}
	b.value = v
	return b, nil
}

func (b scoreBound) aboveMin(score float64) bool {
	if b.exclusive {
		return score > b.value
	}
	return score >= b.value
}

func (b scoreBound) belowMax(score float64) bool {
	if b.exclusive {
		return score < b.value
	}
	return score <= b.value
}

// rangeIndexes resolves Redis start/stop indexes against a collection of
// length n. ok is false when the range is empty.
func rangeIndexes(n, start, stop int64) (from, to int64, ok bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}

// compileGlob compiles a Redis-style key pattern: '*', '?', '[...]' classes
// (negated with '^' or '!') and '\' escapes. Braces are literal, as in Redis.
func compileGlob(pattern string) (glob.Glob, error) {
	var b strings.Builder
	b.Grow(len(pattern))
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\' && i+1 < len(pattern):
			b.WriteByte(c)
			b.WriteByte(pattern[i+1])
			i++
		case c == '{' || c == '}':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '[' && i+1 < len(pattern) && pattern[i+1] == '^':
			b.WriteString("[!")
			i++
		default:
			b.WriteByte(c)
		}
	}
	g, err := glob.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("store: invalid key pattern %q: %w", pattern, err)
	}
	return g, nil
}

// nextLogID returns the next "<ms>-<seq>" id after last, keeping ids
// monotonic even when the clock does not move or moves backwards.
func nextLogID(last string, nowMS int64) string {
	lastMS, lastSeq := int64(-1), int64(0)
	if last != "" {
		if i := strings.IndexByte(last, '-'); i > 0 {
			lastMS, _ = strconv.ParseInt(last[:i], 10, 64)
			lastSeq, _ = strconv.ParseInt(last[i+1:], 10, 64)
		}
	}
	if nowMS > lastMS {
		return strconv.FormatInt(nowMS, 10) + "-0"
	}
	return strconv.FormatInt(lastMS, 10) + "-" + strconv.FormatInt(lastSeq+1, 10)
}
