package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SmitUplenchwar2687/Sieve/internal/clock"
)

var contractEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// storeFactory builds a backend plus a way to move its notion of time forward.
type storeFactory struct {
	name string
	new  func(t *testing.T) (s Store, advance func(time.Duration), cleanup func())
}

func contractFactories() []storeFactory {
	return []storeFactory{
		{
			name: "memory",
			new: func(t *testing.T) (Store, func(time.Duration), func()) {
				t.Helper()
				clk := clock.NewVirtual(contractEpoch)
				s := NewMemory(&MemoryConfig{Shards: 4, CleanupInterval: time.Hour}, clk)
				return s, clk.Advance, func() { _ = s.Close() }
			},
		},
		{
			name: "sqlite",
			new: func(t *testing.T) (Store, func(time.Duration), func()) {
				t.Helper()
				clk := clock.NewVirtual(contractEpoch)
				s, err := NewSQLite(context.Background(), &SQLiteConfig{
					Path: filepath.Join(t.TempDir(), "contract.db"),
				}, clk)
				require.NoError(t, err)
				return s, clk.Advance, func() { _ = s.Close() }
			},
		},
		{
			name: "redis",
			new: func(t *testing.T) (Store, func(time.Duration), func()) {
				t.Helper()
				s, cleanup := newRedisForTest(t)
				return s, time.Sleep, cleanup
			},
		},
	}
}

func TestStoreContract(t *testing.T) {
	for _, f := range contractFactories() {
		t.Run(f.name, func(t *testing.T) {
			s, advance, cleanup := f.new(t)
			defer cleanup()

			contractSortedSet(t, s)
			contractStrings(t, s)
			contractExpiry(t, s, advance)
			contractCappedLog(t, s)
			contractKeys(t, s)
			contractSlidingWindow(t, s)
			require.NoError(t, s.Ping(context.Background()))
		})
	}
}

func contractSortedSet(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := "contract:zset"

	for i, score := range []float64{300, 100, 200} {
		require.NoError(t, s.ZAdd(ctx, key, score, fmt.Sprintf("m%d", i)))
	}
	n, err := s.ZCard(ctx, key)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	oldest, err := s.ZRangeWithScores(ctx, key, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []ScoredMember{{Member: "m1", Score: 100}}, oldest)

	all, err := s.ZRangeWithScores(ctx, key, 0, -1)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "m0", all[2].Member)

	removed, err := s.ZRemRangeByScore(ctx, key, "-inf", "200")
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	n, err = s.ZCard(ctx, key)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	removed, err = s.ZRemRangeByScore(ctx, key, "(300", "+inf")
	require.NoError(t, err)
	require.Zero(t, removed)

	n, err = s.ZCard(ctx, "contract:zset:missing")
	require.NoError(t, err)
	require.Zero(t, n)

	empty, err := s.ZRangeWithScores(ctx, "contract:zset:missing", 0, 0)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func contractStrings(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, found, err := s.Get(ctx, "contract:str:missing")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.SetWithExpiry(ctx, "contract:str", "hello", time.Hour))
	v, found, err := s.Get(ctx, "contract:str")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "hello", v)

	require.NoError(t, s.SetWithExpiry(ctx, "contract:str", "", time.Hour))
	v, found, err = s.Get(ctx, "contract:str")
	require.NoError(t, err)
	require.True(t, found, "an empty value is still a stored value")
	require.Empty(t, v)

	for i := 1; i <= 3; i++ {
		n, err := s.Incr(ctx, "contract:counter")
		require.NoError(t, err)
		require.EqualValues(t, i, n)
	}
	raw, found, err := s.Get(ctx, "contract:counter")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "3", raw)
}

func contractExpiry(t *testing.T, s Store, advance func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.SetWithExpiry(ctx, "contract:ttl:str", "v", 200*time.Millisecond))
	require.NoError(t, s.ZAdd(ctx, "contract:ttl:zset", 1, "m"))
	require.NoError(t, s.PExpire(ctx, "contract:ttl:zset", 200*time.Millisecond))

	advance(400 * time.Millisecond)

	_, found, err := s.Get(ctx, "contract:ttl:str")
	require.NoError(t, err)
	require.False(t, found)

	n, err := s.ZCard(ctx, "contract:ttl:zset")
	require.NoError(t, err)
	require.Zero(t, n)
}

func contractCappedLog(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	log := "contract:log"

	var lastID string
	for i := 1; i <= 30; i++ {
		id, err := s.AppendCapped(ctx, log, 10, map[string]string{"n": strconv.Itoa(i)})
		require.NoError(t, err)
		require.NotEmpty(t, id)
		require.NotEqual(t, lastID, id)
		lastID = id
	}

	recs, err := s.ReadReverse(ctx, log, 5)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	require.Equal(t, lastID, recs[0].ID)
	for i, rec := range recs {
		require.Equal(t, strconv.Itoa(30-i), rec.Fields["n"])
	}

	// Approximate trimming may keep more than the cap, never fewer.
	all, err := s.ReadReverse(ctx, log, 1000)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(all), 10)

	none, err := s.ReadReverse(ctx, "contract:log:missing", 5)
	require.NoError(t, err)
	require.Empty(t, none)
}

func contractKeys(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	for _, k := range []string{"contract:keys:a", "contract:keys:b", "contract:other"} {
		require.NoError(t, s.SetWithExpiry(ctx, k, "1", time.Hour))
	}
	keys, err := s.Keys(ctx, "contract:keys:*", 0)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"contract:keys:a", "contract:keys:b"}, keys)

	classed, err := s.Keys(ctx, "contract:keys:[a]", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"contract:keys:a"}, classed)

	negated, err := s.Keys(ctx, "contract:keys:[^a]", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"contract:keys:b"}, negated)

	limited, err := s.Keys(ctx, "contract:keys:*", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func contractSlidingWindow(t *testing.T, s Store) {
	t.Helper()
	aw, ok := s.(AtomicWindow)
	require.True(t, ok, "backend should support atomic windows")

	ctx := context.Background()
	key := "contract:window"
	now := int64(1_000_000)

	for i := 0; i < 2; i++ {
		res, err := aw.SlidingWindow(ctx, key, now+int64(i), 60_000, 2, fmt.Sprintf("w%d", i))
		require.NoError(t, err)
		require.True(t, res.Admitted)
		require.EqualValues(t, i, res.Count)
		require.Equal(t, now, res.OldestScore)
	}

	res, err := aw.SlidingWindow(ctx, key, now+2, 60_000, 2, "w2")
	require.NoError(t, err)
	require.False(t, res.Admitted)
	require.EqualValues(t, 2, res.Count)

	// Once the window has passed both earlier entries are purged.
	res, err = aw.SlidingWindow(ctx, key, now+60_001, 60_000, 2, "w3")
	require.NoError(t, err)
	require.True(t, res.Admitted)
	require.Zero(t, res.Count)
	require.Equal(t, now+60_001, res.OldestScore)
}
