package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/stores"
)

func newCandidatesCommand() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "List a tenant's candidates in ranking order",
		Example: `  fops candidates --tenant acme
  fops candidates --tenant acme --status available --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch stores.CandidateStatus(status) {
			case "", stores.CandidateStatusAvailable, stores.CandidateStatusAssigned, stores.CandidateStatusInactive:
			default:
				return fmt.Errorf("unknown candidate status %q", status)
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			all, err := a.store.ListCandidates(ctx, tenantID)
			if err != nil {
				return err
			}
			candidates := all[:0]
			for _, c := range all {
				if status == "" || c.Status == stores.CandidateStatus(status) {
					candidates = append(candidates, c)
				}
			}

			if jsonOutput {
				return printJSON(candidates)
			}
			if len(candidates) == 0 {
				fmt.Printf("No candidates for tenant %s\n", tenantID)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCAPACITY\tSTATUS\tUPDATED")
			for _, c := range candidates {
				fmt.Fprintf(w, "%s\t%s\t%.0f\t%s\t%s\n",
					c.ID, c.Name, c.Capacity, c.Status, c.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only list candidates with this status (available, assigned, inactive)")

	return cmd
}
