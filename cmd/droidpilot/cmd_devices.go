package main

import (
	"fmt"

	"droidpilot/pkg/adb"
	"droidpilot/pkg/config"
	"droidpilot/pkg/discovery"

	"github.com/spf13/cobra"
)

// newDevicesCmd creates the "droidpilot devices" subcommand.
func newDevicesCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List devices reachable through the configured providers",
		Long: `Runs device discovery with the configured providers and prints the
resulting endpoints, one per line. Tunnels opened for the check are
closed again before the command exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			runner := adb.NewExecRunner(cfg.ADB.ExecutablePath)
			registry := discovery.NewRegistry()
			defer registry.Shutdown()

			devices, err := discovery.Discover(cmd.Context(), buildProviders(cfg, runner, registry))
			if err != nil {
				return err
			}
			for _, d := range devices {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	return cmd
}
