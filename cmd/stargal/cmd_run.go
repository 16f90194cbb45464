package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nvandessel/stargal/internal/config"
	"github.com/nvandessel/stargal/internal/constants"
	"github.com/nvandessel/stargal/internal/executor"
	"github.com/nvandessel/stargal/internal/ledger"
	"github.com/nvandessel/stargal/internal/logging"
	"github.com/nvandessel/stargal/internal/metrics"
	"github.com/nvandessel/stargal/internal/pacing"
	"github.com/nvandessel/stargal/internal/sweep"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sweep",
		Long: `Run the simulator for every catalogue type and realisation in order.

Existing work and output directories of the sweep are emptied first.
Interrupting (Ctrl+C) stops after the current job; the remaining jobs are
reported as skipped. The exit status is non-zero unless every job succeeded.

Examples:
  stargal run
  stargal run --config sweep.toml --on-failure abort
  stargal run --types msstars --count 10 --log-level debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
			events := logging.NewEventLog(cfg.StateDir(), cfg.Logging.Level)
			defer events.Close()

			ex, err := executor.New(cfg)
			if err != nil {
				return err
			}
			pacer, err := pacing.New(cfg.Throttle)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			deps := sweep.Deps{
				Executor: ex,
				Pacer:    pacer,
				Logger:   logger,
				Events:   events,
			}
			if !cfg.Ledger.Disabled {
				l, err := ledger.Open(ctx, cfg.Ledger.Path)
				if err != nil {
					return fmt.Errorf("failed to open ledger: %w", err)
				}
				defer l.Close()
				deps.Recorder = l
			}
			if cfg.Metrics.Textfile != "" {
				deps.Metrics = metrics.New()
			}

			driver, err := sweep.New(cfg, deps)
			if err != nil {
				return err
			}

			summary, runErr := driver.Run(ctx)
			if summary == nil {
				return runErr
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				if err := json.NewEncoder(out).Encode(summary); err != nil {
					return err
				}
			} else {
				printSummary(out, summary)
			}

			if runErr != nil {
				return runErr
			}
			if !summary.OK() {
				return fmt.Errorf("%d of %d jobs did not succeed", summary.Planned-summary.Succeeded, summary.Planned)
			}
			return nil
		},
	}

	addRangeFlags(cmd)
	cmd.Flags().String("on-failure", "", "Failure policy: continue or abort (overrides config)")
	cmd.Flags().Duration("delay", 0, "Fixed delay between jobs (overrides config, implies throttle mode fixed)")
	cmd.Flags().Bool("no-ledger", false, "Do not record the sweep in the ledger")

	return cmd
}

// addRangeFlags adds the flags that narrow which jobs a sweep covers.
func addRangeFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("types", nil, "Catalogue types to sweep (overrides config)")
	cmd.Flags().Int("first", 0, "First realisation index (overrides config)")
	cmd.Flags().Int("count", 0, "Exclusive upper realisation index (overrides config)")
}

// applyRunFlags layers explicitly set run flags over the loaded config and
// revalidates.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("types") {
		cfg.Types, _ = flags.GetStringSlice("types")
	}
	if flags.Changed("first") {
		cfg.Realisations.First, _ = flags.GetInt("first")
	}
	if flags.Changed("count") {
		cfg.Realisations.Count, _ = flags.GetInt("count")
	}
	if flags.Changed("on-failure") {
		policy, _ := flags.GetString("on-failure")
		cfg.OnFailure = constants.FailurePolicy(policy)
	}
	if flags.Changed("delay") {
		cfg.Throttle.Mode = constants.ThrottleFixed
		cfg.Throttle.Delay, _ = flags.GetDuration("delay")
	}
	if noLedger, _ := flags.GetBool("no-ledger"); noLedger {
		cfg.Ledger.Disabled = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func printSummary(w io.Writer, s *sweep.Summary) {
	fmt.Fprintf(w, "Sweep %s\n", s.ID)
	fmt.Fprintf(w, "  planned:   %d\n", s.Planned)
	fmt.Fprintf(w, "  succeeded: %d\n", s.Succeeded)
	fmt.Fprintf(w, "  failed:    %d\n", s.Failed)
	fmt.Fprintf(w, "  errored:   %d\n", s.Errored)
	fmt.Fprintf(w, "  skipped:   %d\n", s.Skipped)
	fmt.Fprintf(w, "  elapsed:   %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Second))

	if len(s.Failures) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Failed realisations:")
	for _, f := range s.Failures {
		fmt.Fprintf(w, "  %s atm%d  %s  %s\n", f.Type, f.Realisation, f.Status, f.Reason)
	}
}
