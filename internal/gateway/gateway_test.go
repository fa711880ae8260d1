package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SmitUplenchwar2687/Sieve/internal/activity"
	"github.com/SmitUplenchwar2687/Sieve/internal/admission"
	"github.com/SmitUplenchwar2687/Sieve/internal/clock"
	"github.com/SmitUplenchwar2687/Sieve/internal/generate"
	"github.com/SmitUplenchwar2687/Sieve/internal/respcache"
	"github.com/SmitUplenchwar2687/Sieve/internal/store"
	"github.com/SmitUplenchwar2687/Sieve/internal/store/storetest"
)

var (
	epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx   = context.Background()
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []activity.Event
}

func (p *recordingPublisher) Publish(ev activity.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) categories() []activity.Category {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]activity.Category, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Category)
	}
	return out
}

type countingGenerator struct {
	calls int
	err   error
}

func (g *countingGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return "answer:" + prompt, nil
}

// advancingGenerator moves the virtual clock forward while generating.
type advancingGenerator struct {
	clock *clock.Virtual
	took  time.Duration
}

func (g *advancingGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.clock.Advance(g.took)
	return "answer:" + prompt, nil
}

func newGatewayForTest(t *testing.T, s store.Store, gen Generator, opts ...Option) (*Gateway, *clock.Virtual) {
	t.Helper()
	vc := clock.NewVirtual(epoch)
	if s == nil {
		mem := store.NewMemory(&store.MemoryConfig{CleanupInterval: time.Hour}, vc)
		t.Cleanup(func() { _ = mem.Close() })
		s = mem
	}

	lim, err := admission.New(s, vc)
	require.NoError(t, err)
	cache, err := respcache.New(s)
	require.NoError(t, err)
	log, err := activity.New(s, vc)
	require.NoError(t, err)

	g, err := New(lim, cache, log, gen, append([]Option{WithClock(vc)}, opts...)...)
	require.NoError(t, err)
	return g, vc
}

func TestProcess_MissThenHit(t *testing.T) {
	pub := &recordingPublisher{}
	gen := &countingGenerator{}
	g, _ := newGatewayForTest(t, nil, gen, WithPublisher(pub))

	resp, err := g.Process(ctx, Request{Identity: "alice", Prompt: "hello"})
	require.NoError(t, err)
	require.True(t, resp.Decision.Admitted)
	require.False(t, resp.Cached)
	require.Equal(t, "answer:hello", resp.Result)
	require.Equal(t, 9, resp.Decision.Remaining)

	resp, err = g.Process(ctx, Request{Identity: "bob", Prompt: "hello"})
	require.NoError(t, err)
	require.True(t, resp.Cached)
	require.Equal(t, "answer:hello", resp.Result)
	require.Equal(t, 1, gen.calls)

	require.Equal(t, []activity.Category{
		activity.CategoryRequest, activity.CategoryAdmittedMiss,
		activity.CategoryRequest, activity.CategoryAdmittedHit,
	}, pub.categories())

	snap := g.Snapshot(ctx)
	require.EqualValues(t, 1, snap.Cache.Hits)
	require.EqualValues(t, 1, snap.Cache.Misses)
	require.Equal(t, 1, snap.Cache.CachedKeyCount)
	require.Len(t, snap.Recent, 4)
	require.Equal(t, activity.CategoryAdmittedHit, snap.Recent[0].Category)
	require.Len(t, snap.TopConsumers, 2)
}

func TestProcess_RejectsOverLimit(t *testing.T) {
	pub := &recordingPublisher{}
	gen := &countingGenerator{}
	g, vc := newGatewayForTest(t, nil, gen, WithPublisher(pub), WithLimit(2, time.Minute))

	for i := 0; i < 2; i++ {
		resp, err := g.Process(ctx, Request{Identity: "alice", Prompt: "p"})
		require.NoError(t, err)
		require.True(t, resp.Decision.Admitted)
	}

	resp, err := g.Process(ctx, Request{Identity: "alice", Prompt: "p"})
	require.NoError(t, err)
	require.False(t, resp.Decision.Admitted)
	require.Empty(t, resp.Result)
	require.Equal(t, epoch.Add(time.Minute), resp.Decision.ResetAt)

	last := pub.events[len(pub.events)-1]
	require.Equal(t, activity.CategoryRejected, last.Category)
	require.NotNil(t, last.Blocked)
	require.True(t, *last.Blocked)

	vc.Advance(time.Minute)
	resp, err = g.Process(ctx, Request{Identity: "alice", Prompt: "p"})
	require.NoError(t, err)
	require.True(t, resp.Decision.Admitted)
	require.True(t, resp.Cached)
}

func TestProcess_EmptyPrompt(t *testing.T) {
	g, _ := newGatewayForTest(t, nil, &countingGenerator{})
	_, err := g.Process(ctx, Request{Identity: "alice", Prompt: "  "})
	require.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestProcess_EmptyIdentity(t *testing.T) {
	g, _ := newGatewayForTest(t, nil, &countingGenerator{})
	_, err := g.Process(ctx, Request{Prompt: "hello"})
	require.ErrorIs(t, err, admission.ErrInvalidIdentity)
}

func TestProcess_GenerationFailure(t *testing.T) {
	boom := errors.New("backend down")
	g, _ := newGatewayForTest(t, nil, &countingGenerator{err: boom})
	_, err := g.Process(ctx, Request{Identity: "alice", Prompt: "hello"})
	require.ErrorIs(t, err, boom)

	require.Zero(t, g.Stats(ctx).CachedKeyCount)
}

// With the store down the limiter fails open, the cache misses and the
// request is still served.
func TestProcess_DegradedStoreStillServes(t *testing.T) {
	pub := &recordingPublisher{}
	gen := &countingGenerator{}
	g, _ := newGatewayForTest(t, storetest.Failing{}, gen, WithPublisher(pub))

	resp, err := g.Process(ctx, Request{Identity: "alice", Prompt: "hello"})
	require.NoError(t, err)
	require.True(t, resp.Decision.Admitted)
	require.True(t, resp.Decision.Degraded())
	require.Equal(t, "answer:hello", resp.Result)
	require.Len(t, pub.events, 2, "events are still published when the log is down")

	snap := g.Snapshot(ctx)
	require.True(t, snap.Cache.Degraded())
	require.Empty(t, snap.TopConsumers)
	require.Empty(t, snap.Recent)
}

func TestProcess_WithRealGenerator(t *testing.T) {
	g, _ := newGatewayForTest(t, nil, generate.New(nil, 0, 0))
	resp, err := g.Process(ctx, Request{Identity: "alice", Prompt: "hello"})
	require.NoError(t, err)
	require.Contains(t, resp.Result, "hello")
}

func TestNew_RequiresComponents(t *testing.T) {
	_, err := New(nil, nil, nil, nil)
	require.Error(t, err)
}

func TestRecentAndTopConsumers(t *testing.T) {
	g, _ := newGatewayForTest(t, nil, &countingGenerator{}, WithConsumerSample(5))
	for _, id := range []string{"a", "b", "b"} {
		_, err := g.Process(ctx, Request{Identity: id, Prompt: "x"})
		require.NoError(t, err)
	}

	top := g.TopConsumers(ctx)
	require.Equal(t, "b", top[0].Identity)
	require.EqualValues(t, 2, top[0].Count)

	require.Len(t, g.Recent(ctx, 2), 2)
}

func TestProcess_LatencyUsesClock(t *testing.T) {
	gen := &advancingGenerator{took: 750 * time.Millisecond}
	g, vc := newGatewayForTest(t, nil, gen)
	gen.clock = vc

	resp, err := g.Process(ctx, Request{Identity: "alice", Prompt: "slow prompt"})
	require.NoError(t, err)
	require.False(t, resp.Cached)
	require.Equal(t, 750*time.Millisecond, resp.Latency)
	require.Equal(t, epoch.Add(750*time.Millisecond), vc.Now())
}
