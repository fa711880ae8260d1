package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Sieve/internal/admission"
	"github.com/SmitUplenchwar2687/Sieve/internal/clock"
	"github.com/SmitUplenchwar2687/Sieve/internal/store"
)

func newSimulateCmd(root *rootOptions) *cobra.Command {
	var (
		limiter     limiterOptions
		requests    int
		identities  []string
		fastForward time.Duration
		outputJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run admission scenarios on a virtual clock",
		Long: `Runs admission checks against an in-memory store driven by a virtual
clock, so window behavior over minutes or hours can be checked in
milliseconds.

A batch of requests is sent per identity, the clock is optionally
fast-forwarded, then a second batch shows how the window slides.`,
		Example: `  sieve simulate --requests 12 --limit 10 --window 1m
  sieve simulate --limit 5 --window 30s --fast-forward 31s
  sieve simulate --identities alice,bob --requests 15 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			limiter.applyTo(cmd, &cfg.Limiter)
			if len(identities) == 0 {
				identities = []string{"sim-user"}
			}

			vc := clock.NewVirtual(time.Now().Truncate(time.Second))
			mem := store.NewMemory(&store.MemoryConfig{Shards: 1}, vc)
			defer mem.Close()

			lim, err := admission.New(mem, vc,
				admission.WithLogger(logger),
				admission.WithStrict(cfg.Limiter.Strict),
				admission.WithDefaults(cfg.Limiter.Limit, cfg.Limiter.Window),
			)
			if err != nil {
				return err
			}

			result, err := runSimulation(cmd.Context(), vc, lim, identities, requests, fastForward)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(cmd, result)
			}
			printSimulation(cmd.OutOrStdout(), &result)
			return nil
		},
	}

	limiter.addFlags(cmd)
	cmd.Flags().IntVar(&requests, "requests", 15, "requests per identity per batch")
	cmd.Flags().StringSliceVar(&identities, "identities", nil, "comma-separated identities to simulate")
	cmd.Flags().DurationVar(&fastForward, "fast-forward", 0, "virtual time to skip between batches")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")

	return cmd
}

// SimulationResult captures the full output of a simulation run.
type SimulationResult struct {
	Limit       int                        `json:"limit"`
	Window      string                     `json:"window"`
	FastForward string                     `json:"fastForward,omitempty"`
	Batches     []BatchResult              `json:"batches"`
	Summary     map[string]IdentitySummary `json:"summary"`
}

// BatchResult captures one batch of checks.
type BatchResult struct {
	Label     string           `json:"label"`
	Time      string           `json:"time"`
	Decisions []DecisionRecord `json:"decisions"`
}

// DecisionRecord is a single admission check.
type DecisionRecord struct {
	Identity string             `json:"identity"`
	Decision admission.Decision `json:"decision"`
}

// IdentitySummary aggregates checks per identity.
type IdentitySummary struct {
	Total    int `json:"total"`
	Admitted int `json:"admitted"`
	Rejected int `json:"rejected"`
}

func runSimulation(ctx context.Context, vc *clock.Virtual, lim *admission.Limiter, identities []string, requests int, fastForward time.Duration) (SimulationResult, error) {
	result := SimulationResult{
		Limit:   lim.DefaultLimit(),
		Window:  lim.DefaultWindow().String(),
		Summary: make(map[string]IdentitySummary),
	}

	batch := func(label string) error {
		b := BatchResult{Label: label, Time: vc.Now().Format(time.RFC3339)}
		for i := 0; i < requests; i++ {
			for _, id := range identities {
				d, err := lim.CheckDefault(ctx, id)
				if err != nil {
					return err
				}
				b.Decisions = append(b.Decisions, DecisionRecord{Identity: id, Decision: d})

				s := result.Summary[id]
				s.Total++
				if d.Admitted {
					s.Admitted++
				} else {
					s.Rejected++
				}
				result.Summary[id] = s
			}
		}
		result.Batches = append(result.Batches, b)
		return nil
	}

	if err := batch("Initial requests"); err != nil {
		return result, err
	}
	if fastForward > 0 {
		vc.Advance(fastForward)
		result.FastForward = fastForward.String()
		if err := batch(fmt.Sprintf("After fast-forward %s", fastForward)); err != nil {
			return result, err
		}
	}
	return result, nil
}

func printSimulation(w io.Writer, r *SimulationResult) {
	fmt.Fprintf(w, "=== Sieve admission simulation (limit %d per %s) ===\n\n", r.Limit, r.Window)

	for _, b := range r.Batches {
		fmt.Fprintf(w, "--- %s (at %s) ---\n", b.Label, b.Time)
		for i, dr := range b.Decisions {
			status := "ADMIT "
			if !dr.Decision.Admitted {
				status = "REJECT"
			}
			fmt.Fprintf(w, "  #%03d [%s] identity=%s remaining=%d/%d\n",
				i+1, status, dr.Identity, dr.Decision.Remaining, dr.Decision.Limit)
		}
		fmt.Fprintln(w)
	}

	ids := make([]string, 0, len(r.Summary))
	for id := range r.Summary {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintln(w, "--- Summary ---")
	for _, id := range ids {
		s := r.Summary[id]
		fmt.Fprintf(w, "  %s: %d total, %d admitted, %d rejected\n", id, s.Total, s.Admitted, s.Rejected)
	}

	if r.FastForward == "" || len(r.Batches) < 2 {
		return
	}
	fmt.Fprintf(w, "\nVirtual time skipped: %s\n", r.FastForward)

	recovered := false
	for _, dr := range r.Batches[1].Decisions {
		if dr.Decision.Admitted {
			recovered = true
			break
		}
	}
	if recovered {
		fmt.Fprintln(w, strings.Repeat("=", 50))
		fmt.Fprintln(w, "Window slid: rejected identities were admitted")
		fmt.Fprintln(w, "again after fast-forwarding the clock.")
		fmt.Fprintln(w, strings.Repeat("=", 50))
	}
}
