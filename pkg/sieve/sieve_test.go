package sieve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SmitUplenchwar2687/Sieve/internal/store"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestOpen_MemoryEndToEnd(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limiter.Limit = 2
	cfg.Generator.MinLatency = 0
	cfg.Generator.MaxLatency = 0

	vc := NewVirtualClock(epoch)
	s, err := Open(context.Background(), cfg, WithClock(vc))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		resp, err := s.Gateway.Process(ctx, Request{Identity: "x", Prompt: "hello"})
		require.NoError(t, err)
		require.True(t, resp.Decision.Admitted)
	}
	resp, err := s.Gateway.Process(ctx, Request{Identity: "x", Prompt: "hello"})
	require.NoError(t, err)
	require.False(t, resp.Decision.Admitted)

	snap := s.Gateway.Snapshot(ctx)
	require.EqualValues(t, 1, snap.Cache.Hits)
	require.EqualValues(t, 1, snap.Cache.Misses)
	require.Len(t, snap.Recent, 6)
}

func TestOpen_SQLiteBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Backend = store.BackendSQLite
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "sieve.db")

	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	d, err := s.Limiter.CheckDefault(context.Background(), "client")
	require.NoError(t, err)
	require.True(t, d.Admitted)
	require.Equal(t, 9, d.Remaining)
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limiter.Limit = 0
	_, err := Open(context.Background(), cfg)
	require.Error(t, err)
}

func TestOpen_WithStoreKeepsOwnership(t *testing.T) {
	mem := store.NewMemory(nil, nil)
	defer mem.Close()

	s, err := Open(context.Background(), DefaultConfig(), WithStore(mem))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, mem.Ping(context.Background()), "caller-owned store stays open")
}

func TestServerHandler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Generator.MinLatency = 0
	cfg.Generator.MaxLatency = 0

	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	ts := httptest.NewServer(s.Server().Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/generate", "application/json", strings.NewReader(`{"prompt":"hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "9", resp.Header.Get("X-RateLimit-Remaining"))
}
