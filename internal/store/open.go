package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/SmitUplenchwar2687/Sieve/internal/clock"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("store: unknown backend")

// Open builds the backend selected by cfg. The returned Store is the single
// long-lived handle the process shares; callers close it at shutdown.
func Open(ctx context.Context, cfg Config, clk clock.Clock, logger zerolog.Logger) (Store, error) {
	if clk == nil {
		clk = clock.NewReal()
	}

	switch cfg.Backend {
	case BackendMemory:
		logger.Info().Str("backend", BackendMemory).Int("shards", cfg.Memory.Shards).Msg("opening store")
		return NewMemory(&cfg.Memory, clk), nil
	case BackendRedis:
		logger.Info().Str("backend", BackendRedis).Str("host", cfg.Redis.Host).Int("port", cfg.Redis.Port).
			Bool("cluster", cfg.Redis.Cluster).Msg("opening store")
		return NewRedis(ctx, &cfg.Redis)
	case BackendSQLite:
		logger.Info().Str("backend", BackendSQLite).Str("path", cfg.SQLite.Path).Msg("opening store")
		return NewSQLite(ctx, &cfg.SQLite, clk)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, cfg.Backend)
	}
}
