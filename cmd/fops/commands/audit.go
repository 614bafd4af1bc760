package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit <run-id>",
		Short: "Show the audit trail of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.store.ListAuditEvents(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(events)
			}
			if len(events) == 0 {
				fmt.Printf("No audit events for run %s\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSTAGE\tTYPE\tSEVERITY\tCANDIDATE\tMESSAGE")
			for _, ev := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					ev.Timestamp.Format(time.RFC3339), ev.Stage, ev.Type, ev.Severity,
					ev.CandidateID, ev.Message)
			}
			return w.Flush()
		},
	}

	return cmd
}

func newReviewsCommand() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "reviews",
		Short: "List pending reviews for a tenant",
		Example: `  fops reviews --tenant acme
  fops reviews --tenant acme --json --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			reviews, err := a.store.ListPendingReviews(ctx, tenantID, limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(reviews)
			}
			if len(reviews) == 0 {
				fmt.Printf("No pending reviews for tenant %s\n", tenantID)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tTARGET\tCANDIDATE\tMARGIN\tRUN\tRECOMMENDATION")
			for _, r := range reviews {
				margin := "-"
				if r.Metric != nil {
					margin = fmt.Sprintf("%.1f%%", *r.Metric*100)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.CreatedAt.Format(time.RFC3339), r.TargetID, r.CandidateID, margin,
					r.RunID, r.Recommendation)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum reviews to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "reviews to skip")

	return cmd
}
