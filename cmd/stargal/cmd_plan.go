package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nvandessel/stargal/internal/executor"
	"github.com/nvandessel/stargal/internal/sweep"
	"github.com/spf13/cobra"
)

// commander is implemented by backends that can show their command line.
type commander interface {
	Command(inv executor.Invocation) []string
}

type plannedJob struct {
	sweep.Job
	Command []string `json:"command"`
}

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "List the jobs a sweep would run without running them",
		Long: `Read the atmosphere table and catalogue templates and print every job in
execution order with the command that would be run. Nothing is written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}

			jobs, err := sweep.Plan(cfg)
			if err != nil {
				return err
			}

			ex, err := executor.New(cfg)
			if err != nil {
				return err
			}
			planned := make([]plannedJob, len(jobs))
			for i, j := range jobs {
				inv := j.Invocation(cfg.Simulator.Profile, cfg.Sensor)
				planned[i] = plannedJob{Job: j, Command: inv.Args()}
				if c, ok := ex.(commander); ok {
					planned[i].Command = c.Command(inv)
				}
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"backend": ex.Name(),
					"count":   len(planned),
					"jobs":    planned,
				})
			}

			fmt.Fprintf(out, "%d jobs (%s backend)\n\n", len(planned), ex.Name())
			for _, p := range planned {
				fmt.Fprintf(out, "%s atm%d  seed=%s seeing=%s\n", p.Type, p.Realisation, p.Seed, p.Seeing)
				fmt.Fprintf(out, "  %s\n", strings.Join(p.Command, " "))
			}
			return nil
		},
	}

	addRangeFlags(cmd)

	return cmd
}
