package commands

import (
	"github.com/spf13/cobra"

	"github.com/sgward/sgward/pkg/engine"
	"github.com/sgward/sgward/pkg/providers/awsec2"
	"github.com/sgward/sgward/pkg/telemetry"
)

func newApplyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Run one change-apply pass",
		Long: `Run a single change-apply pass and exit.

Every approved request is issued against the provider's rule API and
its outcome is recorded: COMPLETED or DELETED on success, FAILED_* on a
definitive refusal. Requests that hit a retryable provider error are
left untouched for the next pass.`,
		Example: `  # Apply pending approvals once
  sgward apply -c /etc/sgward/config.yaml`,
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

			provider := awsec2.New(logger)
			applier := engine.NewApplier(store, provider, logger, metrics,
				cfg.Engine.MaxParallel, cfg.Engine.ProviderTimeout.Std())
			if err := applier.RunPass(ctx); err != nil {
				return err
			}

			logger.Info("Apply pass finished")
			return nil
		},
	}
	return cmd
}
