package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"
)

func newAssignCommand() *cobra.Command {
	var parallel int

	cmd := &cobra.Command{
		Use:   "assign <target-id>...",
		Short: "Run the assignment workflow for one or more loads",
		Long: `Run one independent assignment run per target.

Runs share the store, advisors and audit queue, and execute concurrently up
to --parallel at a time. Results are printed in argument order.`,
		Example: `  fops assign L-100
  fops assign --tenant acme --parallel 8 L-100 L-101 L-102
  fops assign --json L-100`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rt, err := a.buildEngine(ctx)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := rt.Close(closeCtx); err != nil {
					a.logger.Warn().Err(err).Msg("Failed to flush audit events")
				}
			}()

			if !cmd.Flags().Changed("parallel") {
				parallel = a.cfg.Engine.Parallel
			}

			results, runErr := rt.engine.RunBatch(ctx, tenantID, args, parallel)

			if jsonOutput {
				if err := printJSON(results); err != nil {
					return err
				}
			} else {
				printResults(results)
			}
			return runErr
		},
	}

	cmd.Flags().IntVarP(&parallel, "parallel", "p", 4, "maximum concurrent runs")

	return cmd
}

func printResults(results []workflow.FinalResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tSTATUS\tCANDIDATE\tMARGIN\tATTEMPTS\tRUN\tDETAIL")
	for _, r := range results {
		margin := "-"
		if r.Metric != nil {
			margin = fmt.Sprintf("%.1f%%", *r.Metric*100)
			if r.Estimated {
				margin += "*"
			}
		}
		candidate := r.CandidateID
		if candidate == "" {
			candidate = "-"
		}
		detail := r.ErrorMessage
		if detail == "" && len(r.Excluded) > 0 {
			detail = fmt.Sprintf("rejected %v", r.Excluded)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.TargetID, r.Status, candidate, margin, r.Attempts, r.RunID, detail)
	}
	w.Flush()
}
