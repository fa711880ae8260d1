package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/SmitUplenchwar2687/Sieve/internal/clock"
)

type kind uint8

const (
	kindString kind = iota + 1
	kindZSet
	kindLog
)

type memEntry struct {
	kind      kind
	str       string
	zset      map[string]float64
	records   []LogRecord
	lastID    string
	expiresAt time.Time // zero means no expiration
}

type memShard struct {
	mu    sync.Mutex
	items map[string]*memEntry
}

// Memory is an in-process Store. Keys are spread over shards by their xxh3
// hash; expiry is checked lazily against the configured clock and swept by a
// janitor goroutine, so a *clock.Virtual drives TTLs in tests.
//
// Capped logs are trimmed exactly. Safe for concurrent use.
type Memory struct {
	clock  clock.Clock
	shards []*memShard
	mask   uint64

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

var _ AtomicWindow = (*Memory)(nil)

// NewMemory constructs a memory backend. A nil cfg uses defaults.
func NewMemory(cfg *MemoryConfig, clk clock.Clock) *Memory {
	settings := MemoryConfig{Shards: defaultMemoryShards, CleanupInterval: defaultMemoryCleanupInterval}
	if cfg != nil {
		if cfg.Shards > 0 {
			settings.Shards = cfg.Shards
		}
		if cfg.CleanupInterval > 0 {
			settings.CleanupInterval = cfg.CleanupInterval
		}
	}
	if clk == nil {
		clk = clock.NewReal()
	}

	n := 1
	for n < settings.Shards {
		n <<= 1
	}

	m := &Memory{
		clock:  clk,
		shards: make([]*memShard, n),
		mask:   uint64(n - 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i] = &memShard{items: make(map[string]*memEntry)}
	}

	go m.cleanupLoop(settings.CleanupInterval)
	return m
}

func (m *Memory) shardFor(key string) *memShard {
	return m.shards[xxh3.HashString(key)&m.mask]
}

// live returns the entry at key, dropping it first if it has expired.
// Must be called with the shard lock held.
func (m *Memory) live(s *memShard, key string, now time.Time) *memEntry {
	e, ok := s.items[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		delete(s.items, key)
		return nil
	}
	return e
}

func (m *Memory) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := m.live(s, key, m.clock.Now())
	if e == nil {
		e = &memEntry{kind: kindZSet, zset: make(map[string]float64)}
		s.items[key] = e
	}
	if e.kind != kindZSet {
		return ErrWrongType
	}
	e.zset[member] = score
	return nil
}

func (m *Memory) ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	lo, err := parseScoreBound(min)
	if err != nil {
		return 0, err
	}
	hi, err := parseScoreBound(max)
	if err != nil {
		return 0, err
	}

	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := m.live(s, key, m.clock.Now())
	if e == nil {
		return 0, nil
	}
	if e.kind != kindZSet {
		return 0, ErrWrongType
	}

	var removed int64
	for member, score := range e.zset {
		if lo.aboveMin(score) && hi.belowMax(score) {
			delete(e.zset, member)
			removed++
		}
	}
	if len(e.zset) == 0 {
		delete(s.items, key)
	}
	return removed, nil
}

func (m *Memory) ZCard(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := m.live(s, key, m.clock.Now())
	if e == nil {
		return 0, nil
	}
	if e.kind != kindZSet {
		return 0, ErrWrongType
	}
	return int64(len(e.zset)), nil
}

func (m *Memory) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := m.live(s, key, m.clock.Now())
	if e == nil {
		return nil, nil
	}
	if e.kind != kindZSet {
		return nil, ErrWrongType
	}

	sorted := sortedMembers(e.zset)
	from, to, ok := rangeIndexes(int64(len(sorted)), start, stop)
	if !ok {
		return nil, nil
	}
	return append([]ScoredMember(nil), sorted[from:to+1]...), nil
}

func (m *Memory) PExpire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.clock.Now()
	e := m.live(s, key, now)
	if e == nil {
		return nil
	}
	if ttl <= 0 {
		delete(s.items, key)
		return nil
	}
	e.expiresAt = now.Add(ttl)
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := m.live(s, key, m.clock.Now())
	if e == nil {
		return "", false, nil
	}
	if e.kind != kindString {
		return "", false, ErrWrongType
	}
	return e.str, true, nil
}

func (m *Memory) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &memEntry{kind: kindString, str: value}
	if ttl > 0 {
		e.expiresAt = m.clock.Now().Add(ttl)
	}
	s.items[key] = e
	return nil
}

func (m *Memory) Incr(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := m.live(s, key, m.clock.Now())
	if e == nil {
		e = &memEntry{kind: kindString, str: "0"}
		s.items[key] = e
	}
	if e.kind != kindString {
		return 0, ErrWrongType
	}
	n, err := strconv.ParseInt(e.str, 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	n++
	e.str = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *Memory) AppendCapped(ctx context.Context, log string, maxLen int64, fields map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s := m.shardFor(log)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.clock.Now()
	e := m.live(s, log, now)
	if e == nil {
		e = &memEntry{kind: kindLog}
		s.items[log] = e
	}
	if e.kind != kindLog {
		return "", ErrWrongType
	}

	id := nextLogID(e.lastID, now.UnixMilli())
	e.lastID = id

	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	e.records = append(e.records, LogRecord{ID: id, Fields: copied})

	if maxLen > 0 && int64(len(e.records)) > maxLen {
		drop := int64(len(e.records)) - maxLen
		e.records = append(e.records[:0:0], e.records[drop:]...)
	}
	return id, nil
}

func (m *Memory) ReadReverse(ctx context.Context, log string, count int64) ([]LogRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := m.shardFor(log)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := m.live(s, log, m.clock.Now())
	if e == nil {
		return nil, nil
	}
	if e.kind != kindLog {
		return nil, ErrWrongType
	}

	n := int64(len(e.records))
	if count <= 0 || count > n {
		count = n
	}
	out := make([]LogRecord, 0, count)
	for i := n - 1; i >= n-count; i-- {
		rec := e.records[i]
		fields := make(map[string]string, len(rec.Fields))
		for k, v := range rec.Fields {
			fields[k] = v
		}
		out = append(out, LogRecord{ID: rec.ID, Fields: fields})
	}
	return out, nil
}

func (m *Memory) Keys(ctx context.Context, pattern string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g, err := compileGlob(pattern)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()

	var out []string
	for _, s := range m.shards {
		s.mu.Lock()
		for key := range s.items {
			if m.live(s, key, now) == nil || !g.Match(key) {
				continue
			}
			out = append(out, key)
			if limit > 0 && len(out) >= limit {
				s.mu.Unlock()
				return out, nil
			}
		}
		s.mu.Unlock()
	}
	return out, nil
}

// SlidingWindow runs purge, count, insert and expire for key inside one
// shard critical section.
func (m *Memory) SlidingWindow(ctx context.Context, key string, nowMS, windowMS int64, limit int, member string) (WindowResult, error) {
	if err := ctx.Err(); err != nil {
		return WindowResult{}, err
	}
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.clock.Now()
	e := m.live(s, key, now)
	if e == nil {
		e = &memEntry{kind: kindZSet, zset: make(map[string]float64)}
	}
	if e.kind != kindZSet {
		return WindowResult{}, ErrWrongType
	}

	cutoff := float64(nowMS - windowMS)
	for mbr, score := range e.zset {
		if score <= cutoff {
			delete(e.zset, mbr)
		}
	}

	res := WindowResult{Count: int64(len(e.zset)), OldestScore: -1}
	if res.Count < int64(limit) {
		e.zset[member] = float64(nowMS)
		e.expiresAt = now.Add(time.Duration(windowMS) * time.Millisecond)
		res.Admitted = true
	}

	if len(e.zset) == 0 {
		delete(s.items, key)
	} else {
		s.items[key] = e
		res.OldestScore = int64(sortedMembers(e.zset)[0].Score)
	}
	return res, nil
}

func (m *Memory) Ping(context.Context) error {
	select {
	case <-m.stopCh:
		return ErrClosed
	default:
		return nil
	}
}

// Close stops the janitor. It is idempotent.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		<-m.doneCh
	})
	return nil
}

// Len returns the number of stored keys, including expired ones not yet swept.
func (m *Memory) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}

// Cleanup removes every expired key.
func (m *Memory) Cleanup() {
	now := m.clock.Now()
	for _, s := range m.shards {
		s.mu.Lock()
		for key := range s.items {
			m.live(s, key, now)
		}
		s.mu.Unlock()
	}
}

func (m *Memory) cleanupLoop(interval time.Duration) {
	defer close(m.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}

func sortedMembers(zset map[string]float64) []ScoredMember {
	out := make([]ScoredMember, 0, len(zset))
	for member, score := range zset {
		out = append(out, ScoredMember{Member: member, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out
}
