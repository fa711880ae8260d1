package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Sieve/pkg/sieve"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr    string
		limiter limiterOptions
		storage = defaultStorageOptions()
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Sieve HTTP server",
		Long: `Starts the HTTP gateway in front of the simulated generation backend.

Endpoints:
  GET  /                 Server info and current time
  GET  /health           Store health check
  POST /api/generate     Admit, answer from cache or generate
  GET  /api/stats        Cache stats, top consumers and recent activity
  GET  /api/activity     Most recent activity records (?count=N)
  GET  /api/consumers    Identities with the fullest windows
  WS   /ws               Live activity events`,
		Example: `  sieve serve
  sieve serve --addr :9090 --limit 100 --window 1m
  sieve serve --storage redis --redis-host localhost:6379 --strict
  sieve serve --storage sqlite --sqlite-path /var/lib/sieve/sieve.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := resolveConfig(cmd, root, &storage)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			limiter.applyTo(cmd, &cfg.Limiter)

			// Graceful shutdown on SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := sieve.Open(ctx, cfg, sieve.WithLogger(logger))
			if err != nil {
				return err
			}
			defer func() {
				if err := s.Close(); err != nil {
					logger.Error().Err(err).Msg("closing store")
				}
			}()

			srv := s.Server()
			logger.Info().
				Str("backend", cfg.Storage.Backend).
				Int("limit", cfg.Limiter.Limit).
				Dur("window", cfg.Limiter.Window).
				Bool("strict", cfg.Limiter.Strict).
				Msg("starting sieve")

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				logger.Info().Msg("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	limiter.addFlags(cmd)
	storage.addFlags(cmd)

	return cmd
}
