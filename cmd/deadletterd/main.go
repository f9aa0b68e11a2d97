// deadletterd runs the telemetry dead-letter service: it keeps failed
// telemetry events in MySQL, periodically replays them against the downstream
// processing service and exposes an operational HTTP surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fleetgrid/telemetry-deadletter/pkg/config"
	"github.com/fleetgrid/telemetry-deadletter/pkg/observability/logger"
	"github.com/fleetgrid/telemetry-deadletter/pkg/version"
)

const serviceName = "deadletterd"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Dead-letter store and retry coordinator for vehicle telemetry events",
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config-file", "c", "", "config file path")

	loadConfig := func() (*config.Config, logger.Logger, error) {
		loader := config.NewViperLoader(cfgPath, config.EnvPrefix)
		cfg, err := loader.Load()
		if err != nil {
			return nil, nil, err
		}

		log, err := logger.NewZapLogger(logger.Config{
			Level:  logger.LogLevel(cfg.Logging.Level),
			Format: logger.LogFormat(cfg.Logging.Format),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build logger: %w", err)
		}
		return cfg, log.With("service", cfg.Service.Name, "environment", cfg.Service.Environment), nil
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the retry coordinator and management server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			return runService(cmd.Context(), cfg, log)
		},
	}
	rootCmd.AddCommand(runCmd)
	rootCmd.RunE = runCmd.RunE

	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate [up|down|status] [steps]",
		Short: "Apply or inspect database schema migrations",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			return runMigrations(cmd.Context(), cfg, log, args)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "replay",
		Short: "Run a single redelivery pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			return runReplayPass(cmd.Context(), cfg, log)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current(serviceName)
			fmt.Printf("Service:    %s\n", info.Service)
			fmt.Printf("Version:    %s\n", info.Version)
			fmt.Printf("Commit:     %s\n", info.Commit)
			fmt.Printf("Build Time: %s\n", info.BuildTime)
		},
	})

	return rootCmd
}
