package generate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SmitUplenchwar2687/Sieve/internal/clock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestGenerate_WaitsForLatency(t *testing.T) {
	vc := clock.NewVirtual(epoch)
	g := New(vc, time.Second, time.Second)

	done := make(chan string, 1)
	go func() {
		out, err := g.Generate(context.Background(), "hello")
		if err == nil {
			done <- out
		}
	}()

	require.Eventually(t, func() bool { return vc.Pending() == 1 }, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("generation finished before latency elapsed")
	default:
	}

	vc.Advance(time.Second)
	select {
	case out := <-done:
		require.Contains(t, out, "hello")
	case <-time.After(time.Second):
		t.Fatal("generation did not finish after latency elapsed")
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	g := New(clock.NewVirtual(epoch), 0, 0)

	a, err := g.Generate(context.Background(), "same")
	require.NoError(t, err)
	b, err := g.Generate(context.Background(), "same")
	require.NoError(t, err)
	c, err := g.Generate(context.Background(), "different")
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	g := New(nil, 0, 0)
	_, err := g.Generate(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestGenerate_Canceled(t *testing.T) {
	g := New(clock.NewVirtual(epoch), time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx, "hello")
	require.ErrorIs(t, err, context.Canceled)
}

func TestLatencyWithinBounds(t *testing.T) {
	g := New(nil, 10*time.Millisecond, 20*time.Millisecond)
	for i := 0; i < 100; i++ {
		d := g.latency()
		require.GreaterOrEqual(t, d, 10*time.Millisecond)
		require.LessOrEqual(t, d, 20*time.Millisecond)
	}

	g = New(nil, 5*time.Millisecond, time.Millisecond)
	require.Equal(t, 5*time.Millisecond, g.latency())
}
