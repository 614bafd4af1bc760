package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/policy"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect compliance policies",
	}

	cmd.AddCommand(newPolicyCheckCommand())
	cmd.AddCommand(newPolicyListCommand())

	return cmd
}

func newPolicyCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <path>...",
		Short: "Compile policy files and bundles and report errors",
		Example: `  fops policy check policies/
  fops policy check embargo.rego hazmat.json onboarding-bundle.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			policies, err := policy.NewLoader(log.Logger).LoadFromPaths(ctx, args)
			if err != nil {
				return err
			}

			failed := 0
			for _, p := range policies {
				if err := policy.Compile(ctx, p); err != nil {
					failed++
					fmt.Printf("✗ %s: %v\n", p.Name, err)
					continue
				}
				fmt.Printf("✓ %s\n", p.Name)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d policies failed to compile", failed, len(policies))
			}
			fmt.Printf("%d policies compiled\n", len(policies))
			return nil
		},
	}
}

func newPolicyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the policies the configured engine evaluates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var opts []policy.EngineOption
			if cfg.Policy.DisableBuiltins {
				opts = append(opts, policy.WithoutBuiltins())
			}
			engine, err := policy.NewEngine(log.Logger, opts...)
			if err != nil {
				return err
			}
			if len(cfg.Policy.Paths) > 0 {
				if err := engine.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
					return err
				}
			}

			policies := engine.ListPolicies()
			if jsonOutput {
				return printJSON(policies)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSEVERITY\tENABLED\tDESCRIPTION")
			for _, p := range policies {
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", p.Name, p.Severity, p.Enabled, p.Description)
			}
			return w.Flush()
		},
	}
}
