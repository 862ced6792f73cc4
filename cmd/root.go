package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
	"github.com/AparnaKarve/aiops-data-collector/internal/config"
	"github.com/AparnaKarve/aiops-data-collector/internal/server"
)

// Application is the part of server.App the commands drive. Tests replace
// buildApp to inject a fake.
type Application interface {
	Run(ctx context.Context) error
	Execute(ctx context.Context, job collector.JobRequest) (collector.JobRequest, collector.Outcome, error)
	Close(ctx context.Context) error
}

var buildApp = func(ctx context.Context, cfg config.Config) (Application, error) {
	return server.Build(ctx, cfg)
}

type configKey struct{}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "aiops-data-collector",
		Short: "Collects operational data and relays it to the next AI-Ops service.",
		Long: `aiops-data-collector accepts collection jobs over HTTP, gathers data from a
single file or from a topological inventory, and forwards one JSON payload per
job (or per tenant) to a downstream service.`,
		SilenceUsage: true,

		// Loads configuration once for every subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file (environment overrides apply)")
	cmd.AddCommand(newServeCmd(), newRunCmd())
	return cmd
}

func configFrom(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey{}).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
