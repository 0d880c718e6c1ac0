package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sgward/sgward/pkg/engine"
	"github.com/sgward/sgward/pkg/inventory"
	"github.com/sgward/sgward/pkg/telemetry"
)

func newDetectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run one drift-detection pass",
		Long: `Run a single drift-detection pass and exit.

Every completed request is compared against the inventory mirror;
requests whose live rule diverged or disappeared are flagged, and
previously flagged requests whose rule matches again are restored.`,
		Example: `  # One-shot drift check
  sgward detect -c /etc/sgward/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			inv, err := inventory.Open(cfg.Inventory.DSN)
			if err != nil {
				return fmt.Errorf("failed to open inventory: %w", err)
			}
			defer inv.Close()

			detector := engine.NewDetector(store, inv, logger, metrics, cfg.Engine.MaxParallel)
			if err := detector.RunPass(ctx); err != nil {
				return err
			}

			logger.Info("Drift pass finished")
			return nil
		},
	}
	return cmd
}
