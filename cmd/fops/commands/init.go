package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultConfigTemplate = `# fops configuration

engine:
  max_attempts: 3
  margin_threshold: 0.15
  fallback_cost_ratio: 0.85
  stage_timeout: 30s
  parallel: 4

store:
  path: %s

audit:
  sink: store
  buffer_size: 10000
  batch_size: 100
  flush_interval: 1s

policy:
  paths: []
  watch: false

cost:
  default_rate_per_mile: 2.10

reservation:
  mode: local
  ttl: 30s

telemetry:
  log_level: info
  log_format: console
`

func newInitCommand() *cobra.Command {
	var writeConfig string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the local store",
		Long: `Create the data directory, open the SQLite store and apply migrations.

With --write-config a starter configuration file is written as well. An
existing file is never overwritten.`,
		Example: `  # Initialize the default store
  fops init

  # Initialize a store elsewhere and write a config pointing at it
  fops init --db ./data/fops.db --write-config fops.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			dir := filepath.Dir(cfg.Store.Path)
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			a.logger.Info().Str("path", cfg.Store.Path).Msg("Store initialized")
			fmt.Printf("✓ Initialized SQLite database: %s\n", cfg.Store.Path)

			if writeConfig == "" {
				return nil
			}
			if _, err := os.Stat(writeConfig); err == nil {
				return fmt.Errorf("config file %s already exists", writeConfig)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}

			content := fmt.Sprintf(defaultConfigTemplate, cfg.Store.Path)
			if err := os.WriteFile(writeConfig, []byte(content), 0o644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Printf("✓ Created config file: %s\n", writeConfig)
			return nil
		},
	}

	cmd.Flags().StringVar(&writeConfig, "write-config", "", "write a starter config file to this path")

	return cmd
}
