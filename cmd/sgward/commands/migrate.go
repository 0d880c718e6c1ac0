package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sgward/sgward/pkg/stores"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply request store migrations",
		Long: `Apply any pending schema migrations to the request store and exit.

The run daemon migrates on startup as well; this command exists for
provisioning the store ahead of the first run and for upgrades where
the schema change should land before the daemon restarts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := stores.NewRequestStore(stores.Config{Path: cfg.Store.Path})
			if err != nil {
				return err
			}
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to open request store: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			logger.WithField("path", cfg.Store.Path).Info("Request store migrated")
			return nil
		},
	}
	return cmd
}
