// Package cmd implements the gohaul command line interface.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gohaul/internal/config"
	"github.com/3leaps/gohaul/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records the build-time version stamp. Called from main
// before Execute.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   "gohaul",
	Short: "Job lifecycle orchestration for multi-phase transfers",
	Long: `gohaul orchestrates background transfer jobs through their fetch,
stage, and push phases: creation, worker progress, scheduler failure sync,
retry, cancellation, refunds, and stale-job recovery.

Run 'gohaul serve' to start the API server, or use the jobs and destinations
subcommands to inspect and administer a local deployment.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig loads the service configuration, honoring the global
// --log-level override.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	overrides := map[string]any{}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		overrides["logging.level"] = lvl
	}
	cfg, err := config.Load(cmd.Context(), overrides)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from configuration.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	return logger, nil
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "Override log level (debug, info, warn, error)")
}
