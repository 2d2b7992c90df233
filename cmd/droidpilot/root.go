package main

import (
	"fmt"

	"droidpilot/internal/buildinfo"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root droidpilot command with all subcommands attached.
func newRootCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:           "droidpilot",
		Short:         "Multi-device Android task automation",
		Long:          "droidpilot discovers Android devices over adb and SSH tunnels\nand drives model-guided UI tasks across them in parallel.",
		Version:       fmt.Sprintf("droidpilot %s", buildinfo.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			setupLogging(verbose)
		},
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newRunCmd(),
		newWorkerCmd(),
		newDevicesCmd(),
		newEventsCmd(),
	)

	return cmd
}
