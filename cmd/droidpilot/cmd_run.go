package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"droidpilot/pkg/adb"
	"droidpilot/pkg/config"
	"droidpilot/pkg/discovery"
	"droidpilot/pkg/scheduler"

	"github.com/spf13/cobra"
)

// newRunCmd creates the "droidpilot run" subcommand.
func newRunCmd() *cobra.Command {
	var configPath string
	var policy string

	cmd := &cobra.Command{
		Use:   "run [task ...]",
		Short: "Discover devices and run a batch of tasks across them",
		Long: `Discovers devices through the configured providers and drains the
task backlog across them, one worker process per device at a time.

Tasks come from the command line when given, otherwise from the config
file's tasks list.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(cmd.Context(), configPath, policy, args)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	cmd.Flags().StringVar(&policy, "policy", "", "override scheduler policy (polling|pool)")

	return cmd
}

// runScheduler wires discovery, the event log, and the chosen policy, then
// drains the backlog. Tunnels opened during discovery are torn down on exit.
func runScheduler(ctx context.Context, configPath, policyOverride string, tasks []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		tasks = cfg.Tasks
	}
	if len(tasks) == 0 && cfg.Scheduler.TaskSpoolDir == "" {
		return fmt.Errorf("no tasks: pass them as arguments or list them in %s", configPath)
	}

	name := cfg.Scheduler.Policy
	if policyOverride != "" {
		name = policyOverride
	}
	if name != "polling" && name != "pool" {
		return fmt.Errorf("unknown scheduler policy %q", name)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := adb.NewExecRunner(cfg.ADB.ExecutablePath)
	registry := discovery.NewRegistry()
	defer registry.Shutdown()

	devices, err := discovery.Discover(ctx, buildProviders(cfg, runner, registry))
	if err != nil {
		return err
	}

	var events *scheduler.EventLog
	if cfg.Scheduler.DBPath != "" {
		db, err := scheduler.OpenDB(cfg.Scheduler.DBPath)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer func() { _ = db.Close() }()
		events = scheduler.NewEventLog(db)
	}

	spawner := &scheduler.ExecSpawner{ConfigPath: configPath}

	var pol scheduler.Policy
	if name == "pool" {
		pol = scheduler.NewPoolPolicy(spawner, events, cfg.Scheduler)
	} else {
		pol = scheduler.NewPollingPolicy(spawner, events, cfg.Scheduler)
	}

	slog.Info("scheduler starting",
		"policy", name, "devices", len(devices), "tasks", len(tasks))
	return pol.Run(ctx, tasks, devices)
}
