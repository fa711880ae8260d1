package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Sieve/internal/respcache"
	"github.com/SmitUplenchwar2687/Sieve/pkg/sieve"
)

// withSieve resolves the config, opens a Sieve instance for the duration of
// fn and closes it afterwards.
func withSieve(cmd *cobra.Command, root *rootOptions, storage *storageOptions, limiter *limiterOptions, fn func(*sieve.Sieve) error) error {
	cfg, logger, err := resolveConfig(cmd, root, storage)
	if err != nil {
		return err
	}
	if limiter != nil {
		limiter.applyTo(cmd, &cfg.Limiter)
	}

	s, err := sieve.Open(cmd.Context(), cfg, sieve.WithLogger(logger))
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(s)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCheckCmd(root *rootOptions) *cobra.Command {
	var (
		limiter limiterOptions
		storage = defaultStorageOptions()
	)

	cmd := &cobra.Command{
		Use:   "check <identity>",
		Short: "Run one admission check and print the decision",
		Long: `Runs a single sliding-window admission check for an identity against the
configured store. An admitted check counts against the identity's window
exactly like a request through the server.`,
		Example: `  sieve check alice --storage redis
  sieve check 10.0.0.7 --limit 5 --window 30s --storage sqlite`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSieve(cmd, root, &storage, &limiter, func(s *sieve.Sieve) error {
				d, err := s.Limiter.CheckDefault(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, d)
			})
		},
	}

	limiter.addFlags(cmd)
	storage.addFlags(cmd)
	return cmd
}

func newCacheCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the response cache",
	}

	keyCmd := &cobra.Command{
		Use:   "key <payload>",
		Short: "Print the cache key a payload maps to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), respcache.KeyFor(args[0]))
			return err
		},
	}

	lookupStorage := defaultStorageOptions()
	lookupCmd := &cobra.Command{
		Use:   "lookup <payload>",
		Short: "Look a payload up in the cache",
		Long:  "Looks a payload up in the cache. The lookup counts as a hit or a miss in the cache stats.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSieve(cmd, root, &lookupStorage, nil, func(s *sieve.Sieve) error {
				l := s.Cache.Lookup(cmd.Context(), args[0])
				if l.Err != nil {
					return fmt.Errorf("cache lookup: %w", l.Err)
				}
				return printJSON(cmd, struct {
					Key   string `json:"key"`
					Hit   bool   `json:"hit"`
					Value string `json:"value,omitempty"`
				}{respcache.KeyFor(args[0]), l.Hit, l.Value})
			})
		},
	}
	lookupStorage.addFlags(lookupCmd)

	statsStorage := defaultStorageOptions()
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print cache hit/miss counters and the cached key count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSieve(cmd, root, &statsStorage, nil, func(s *sieve.Sieve) error {
				st := s.Cache.Stats(cmd.Context())
				if st.Err != nil {
					return fmt.Errorf("cache stats: %w", st.Err)
				}
				return printJSON(cmd, st)
			})
		},
	}
	statsStorage.addFlags(statsCmd)

	cmd.AddCommand(keyCmd, lookupCmd, statsCmd)
	return cmd
}

func newActivityCmd(root *rootOptions) *cobra.Command {
	var (
		count   int
		storage = defaultStorageOptions()
	)

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Print the most recent activity records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSieve(cmd, root, &storage, nil, func(s *sieve.Sieve) error {
				page := s.Activity.Recent(cmd.Context(), count)
				if page.Err != nil {
					return fmt.Errorf("reading activity: %w", page.Err)
				}
				return printJSON(cmd, page.Events)
			})
		},
	}

	cmd.Flags().IntVar(&count, "count", 20, "number of records to print")
	storage.addFlags(cmd)
	return cmd
}

func newTopCmd(root *rootOptions) *cobra.Command {
	var (
		sample  int
		storage = defaultStorageOptions()
	)

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Print the identities with the most requests in their current window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSieve(cmd, root, &storage, nil, func(s *sieve.Sieve) error {
				n := s.Config.Limiter.Sample
				if cmd.Flags().Changed("sample") {
					n = sample
				}
				consumers, err := s.Limiter.TopConsumers(cmd.Context(), n)
				if err != nil {
					return fmt.Errorf("reading consumers: %w", err)
				}
				return printJSON(cmd, consumers)
			})
		},
	}

	cmd.Flags().IntVar(&sample, "sample", 10, "how many window keys to inspect")
	storage.addFlags(cmd)
	return cmd
}
