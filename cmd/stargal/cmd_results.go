package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nvandessel/stargal/internal/ledger"
	"github.com/spf13/cobra"
)

func newResultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Show recorded sweep results",
		Long: `Show the jobs of a recorded sweep from the ledger.

Without --sweep the most recent sweep is shown. Use --failed to list only
the realisations that need rerunning, or --list to list past sweeps.

Examples:
  stargal results
  stargal results --failed --json
  stargal results --sweep 0b6f... --failed
  stargal results --list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			sweepID, _ := cmd.Flags().GetString("sweep")
			onlyFailed, _ := cmd.Flags().GetBool("failed")
			list, _ := cmd.Flags().GetBool("list")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.Ledger.Path); errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("no ledger at %s (run a sweep first)", cfg.Ledger.Path)
			}

			ctx := cmd.Context()
			l, err := ledger.Open(ctx, cfg.Ledger.Path)
			if err != nil {
				return fmt.Errorf("failed to open ledger: %w", err)
			}
			defer l.Close()

			out := cmd.OutOrStdout()

			if list {
				sweeps, err := l.ListSweeps(ctx, limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return json.NewEncoder(out).Encode(map[string]interface{}{
						"sweeps": sweeps,
						"count":  len(sweeps),
					})
				}
				printSweeps(out, sweeps)
				return nil
			}

			var s *ledger.Sweep
			if sweepID == "" {
				s, err = l.LatestSweep(ctx)
			} else {
				s, err = l.GetSweep(ctx, sweepID)
			}
			if err != nil {
				return err
			}

			jobs, err := l.ListJobs(ctx, s.ID, onlyFailed)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"sweep": s,
					"jobs":  jobs,
					"count": len(jobs),
				})
			}
			printSweeps(out, []ledger.Sweep{*s})
			fmt.Fprintln(out)
			printJobs(out, jobs, onlyFailed)
			return nil
		},
	}

	cmd.Flags().String("sweep", "", "Sweep ID (default: most recent)")
	cmd.Flags().Bool("failed", false, "Only show failed and errored jobs")
	cmd.Flags().Bool("list", false, "List sweeps instead of jobs")
	cmd.Flags().Int("limit", 20, "Maximum sweeps to list with --list (0 for all)")

	return cmd
}

func printSweeps(w io.Writer, sweeps []ledger.Sweep) {
	if len(sweeps) == 0 {
		fmt.Fprintln(w, "No sweeps recorded.")
		return
	}
	for _, s := range sweeps {
		finished := "-"
		if !s.FinishedAt.IsZero() {
			finished = s.FinishedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s  %-9s  started %s  finished %s\n",
			s.ID, s.Status, s.StartedAt.Local().Format(time.DateTime), finished)
		fmt.Fprintf(w, "  %s  sensor=%s backend=%s  succeeded=%d failed=%d errored=%d skipped=%d\n",
			s.BaseDir, s.Sensor, s.Backend,
			s.Counts["succeeded"], s.Counts["failed"], s.Counts["errored"], s.Counts["skipped"])
	}
}

func printJobs(w io.Writer, jobs []ledger.Job, onlyFailed bool) {
	if len(jobs) == 0 {
		if onlyFailed {
			fmt.Fprintln(w, "No failed jobs.")
		} else {
			fmt.Fprintln(w, "No jobs recorded.")
		}
		return
	}
	for _, j := range jobs {
		detail := j.State
		if j.Error != "" {
			detail = j.Error
		}
		fmt.Fprintf(w, "%-10s atm%-3d  %-9s  exit=%-3d  %8s  %s\n",
			j.Type, j.Realisation, j.Status, j.ExitCode, j.Duration.Round(time.Second), detail)
	}
}
