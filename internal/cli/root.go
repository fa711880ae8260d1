package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Sieve/internal/config"
	"github.com/SmitUplenchwar2687/Sieve/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

// NewRootCmd creates the root sieve command.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "sieve",
		Short: "Rate limiting, response caching and an activity log for expensive requests",
		Long: `Sieve sits in front of an expensive generation backend. Every request is
checked against a per-identity sliding window, answered from a shared
response cache when possible, and recorded in a capped activity log that
dashboards can stream over WebSocket.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", logging.FormatConsole, "log format (console, json)")

	root.AddCommand(
		newServeCmd(opts),
		newCheckCmd(opts),
		newCacheCmd(opts),
		newActivityCmd(opts),
		newTopCmd(opts),
		newLoadCmd(opts),
		newSimulateCmd(opts),
		newConfigCmd(opts),
	)

	return root
}

// load reads the config file when one is given and applies the log flags
// that were set explicitly.
func (o *rootOptions) load(cmd *cobra.Command) (config.Config, zerolog.Logger, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.LoadFile(o.configPath)
		if err != nil {
			return cfg, zerolog.Nop(), err
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = o.logFormat
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	return cfg, logger, nil
}
