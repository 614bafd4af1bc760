package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/stores"
)

// fixture is the seed file layout. Records without a tenant take the
// fixture's tenant, then the --tenant flag.
type fixture struct {
	TenantID   string                    `yaml:"tenant_id"`
	Targets    []*stores.TargetRecord    `yaml:"targets"`
	Candidates []*stores.CandidateRecord `yaml:"candidates"`
}

func newSeedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load targets and candidates from a YAML fixture",
		Example: `  fops seed fixtures/dallas.yaml

  # fixtures/dallas.yaml
  tenant_id: acme
  targets:
    - id: L-100
      value: 2400
      attributes: {distance_miles: 620, equipment_type: reefer}
  candidates:
    - id: D-7
      name: Dana
      capacity: 44000
      attributes: {equipment_type: reefer, rate_per_mile: 2.05}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read fixture: %w", err)
			}

			var fx fixture
			if err := yaml.Unmarshal(data, &fx); err != nil {
				return fmt.Errorf("failed to parse fixture: %w", err)
			}
			tenant := fx.TenantID
			if tenant == "" {
				tenant = tenantID
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, t := range fx.Targets {
				if t.TenantID == "" {
					t.TenantID = tenant
				}
				if err := a.store.UpsertTarget(ctx, t); err != nil {
					return fmt.Errorf("target %s: %w", t.ID, err)
				}
			}
			for _, c := range fx.Candidates {
				if c.TenantID == "" {
					c.TenantID = tenant
				}
				if err := a.store.UpsertCandidate(ctx, c); err != nil {
					return fmt.Errorf("candidate %s: %w", c.ID, err)
				}
			}

			a.logger.Info().
				Str("tenant_id", tenant).
				Int("targets", len(fx.Targets)).
				Int("candidates", len(fx.Candidates)).
				Msg("Fixture loaded")
			fmt.Printf("✓ Seeded %d targets and %d candidates for tenant %s\n",
				len(fx.Targets), len(fx.Candidates), tenant)
			return nil
		},
	}

	return cmd
}
