package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	dbPath     string
	tenantID   string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fops",
		Short: "FreightOps assignment workflow",
		Long: `fops runs the autonomous load assignment workflow against a local store.

Each run proposes the best available candidate for a load, checks its
equipment and compliance, prices it, and either commits the assignment,
flags it for human review when the margin is too thin, or fails with a
recorded reason. Every step is written to the audit trail.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (CUE, YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides store.path)")
	rootCmd.PersistentFlags().StringVarP(&tenantID, "tenant", "t", "default", "tenant ID")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newSeedCommand())
	rootCmd.AddCommand(newAssignCommand())
	rootCmd.AddCommand(newAuditCommand())
	rootCmd.AddCommand(newReviewsCommand())
	rootCmd.AddCommand(newCandidatesCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}
