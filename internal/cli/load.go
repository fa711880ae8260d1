package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Sieve/internal/loadgen"
)

func newLoadCmd(root *rootOptions) *cobra.Command {
	var (
		opts       loadgen.Options
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Send paced synthetic traffic to a running Sieve server",
		Long: `Sends generate requests to a running server at a fixed rate from a pool of
identities. The "hot" pattern concentrates traffic on one identity so its
window fills up while the others keep being admitted.`,
		Example: `  sieve load --url http://localhost:8080 --rate 5 --requests 50
  sieve load --pattern hot --identities 4 --rate 20 --requests 200 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			opts.Logger = logger

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := loadgen.Run(ctx, opts)
			if err != nil && ctx.Err() == nil {
				return err
			}

			if outputJSON {
				return printJSON(cmd, summary)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), summary.String())
			return err
		},
	}

	cmd.Flags().StringVar(&opts.BaseURL, "url", "http://localhost:8080", "base URL of the Sieve server")
	cmd.Flags().IntVar(&opts.Rate, "rate", 5, "requests per second")
	cmd.Flags().IntVar(&opts.Requests, "requests", 50, "total requests to send")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 4, "requests in flight at once")
	cmd.Flags().IntVar(&opts.Identities, "identities", 3, "number of distinct client identities")
	cmd.Flags().StringVar(&opts.Pattern, "pattern", loadgen.PatternSteady, "identity pattern (steady, hot)")
	cmd.Flags().StringSliceVar(&opts.Prompts, "prompts", nil, "prompt pool (defaults to a small built-in set)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output the summary as JSON")

	return cmd
}
