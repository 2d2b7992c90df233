package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"droidpilot/pkg/agent"
	"droidpilot/pkg/config"
	"droidpilot/pkg/scheduler"

	"github.com/spf13/cobra"
)

// newWorkerCmd creates the "droidpilot worker" subcommand.
// This wraps the agent loop into a runnable process, either one-shot
// (--task) or attached to a pool scheduler's socket (--socket).
func newWorkerCmd() *cobra.Command {
	var device string
	var configPath string
	var task string
	var socketPath string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a device worker process",
		Long: `Starts a worker bound to one device. With --task it runs that single
task and exits; with --socket it connects to the scheduler socket and
serves assignments until told to shut down.

This command is typically invoked by the scheduler, not by humans.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if device == "" {
				return fmt.Errorf("--device is required")
			}
			if (task == "") == (socketPath == "") {
				return fmt.Errorf("exactly one of --task or --socket is required")
			}
			return runDeviceWorker(cmd.Context(), device, configPath, task, socketPath)
		},
	}

	cmd.Flags().StringVar(&device, "device", "", "device serial or endpoint (required)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	cmd.Flags().StringVar(&task, "task", "", "run this single task and exit")
	cmd.Flags().StringVar(&socketPath, "socket", "", "path to scheduler UDS socket")

	return cmd
}

// runDeviceWorker loads config and runs either the one-shot task or the
// persistent assignment loop.
func runDeviceWorker(ctx context.Context, device, configPath, task, socketPath string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if task != "" {
		if status := agent.RunWorker(ctx, device, task, cfg); status == agent.StatusCriticalFailure {
			return fmt.Errorf("task ended with status %s", status)
		}
		return nil
	}

	w, err := scheduler.NewDeviceWorker(device, socketPath, func(ctx context.Context, device, task string) string {
		return agent.RunWorker(ctx, device, task, cfg)
	})
	if err != nil {
		return fmt.Errorf("create worker for %s: %w", device, err)
	}
	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("worker %s: %w", w.ID, err)
	}
	return nil
}
