// Package commands implements the sgward CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sgward/sgward/pkg/config"
	"github.com/sgward/sgward/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sgward",
		Short: "sgward - security-group change reconciler",
		Long: `sgward reconciles approved security-group ingress rule requests against
live cloud provider state.

It runs a perpetual loop with two passes per cycle:
  - Drift detection: completed requests are re-verified against the
    inventory mirror and flagged when live state diverges
  - Change apply: approved requests are issued against the provider's
    rule API and their outcome is recorded

Requests are filed and approved outside this daemon; sgward only acts on
records already marked approved.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newDetectCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newRequestsCommand())

	return rootCmd
}

// loadConfig loads the configuration honoring the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the configured logger for a command.
func newLogger(cfg *config.Config) (*telemetry.Logger, error) {
	return telemetry.NewLogger(cfg.Telemetry.Logging)
}
