package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"droidpilot/pkg/actuator"
	"droidpilot/pkg/adb"
	"droidpilot/pkg/config"
	"droidpilot/pkg/llm"
	"droidpilot/pkg/observer"
	"droidpilot/pkg/trace"
)

// RunWorker is the worker-process entry point for one (device, task) pair.
// It builds the run directory, wires the loop components, and runs the task.
// Panics are recovered and finalized as critical failures; the returned
// status is the only thing that crosses the worker boundary.
func RunWorker(ctx context.Context, device, task string, cfg *config.Config) (status string) {
	start := time.Now()

	rec, err := trace.NewRecorder(cfg.RunRoot, task, device, start)
	if err != nil {
		slog.Error("cannot create run directory", "device", device, "err", err)
		return StatusCriticalFailure
	}

	// Per-run log file alongside the trace artifacts. The previous default
	// logger comes back before the file closes, so nothing keeps writing to a
	// closed handle after the run.
	logPath := filepath.Join(rec.RunDir(), "agent_run.log")
	if f, ferr := os.Create(logPath); ferr == nil { //nolint:gosec // path built internally
		prev := slog.Default()
		defer func() {
			slog.SetDefault(prev)
			_ = f.Close()
		}()
		handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, f), nil)
		slog.SetDefault(slog.New(handler))
	} else {
		slog.Warn("cannot create run log file", "path", logPath, "err", ferr)
	}
	slog.Info("worker started", "device", device, "task", task, "run_dir", rec.RunDir())

	defer func() {
		if r := recover(); r != nil {
			status = StatusCriticalFailure
			summary := fmt.Sprintf("Worker aborted by panic: %v", r)
			slog.Error(summary, "device", device)
			if err := rec.FinalizeRun(StatusCriticalFailure, summary, trace.TokenUsage{}); err != nil {
				slog.Error("finalize after panic failed", "device", device, "err", err)
			}
		}
	}()

	client, err := llm.NewClient(cfg.LLM, cfg.Proxy)
	if err != nil {
		summary := fmt.Sprintf("LLM client initialization failed: %v", err)
		slog.Error(summary, "device", device)
		if ferr := rec.FinalizeRun(StatusCriticalFailure, summary, trace.TokenUsage{}); ferr != nil {
			slog.Error("finalize failed", "device", device, "err", ferr)
		}
		return StatusCriticalFailure
	}

	runner := adb.NewExecRunner(cfg.ADB.ExecutablePath)
	dev := adb.NewDeviceRunner(runner, device)
	obs := observer.New(ctx, dev)
	act := actuator.New(dev)

	isVLM := cfg.Provider().IsVLM
	if isVLM {
		slog.Info("visual mode enabled", "device", device)
	} else {
		slog.Info("visual mode disabled, sending text-only prompts", "device", device)
	}

	a := New(device, obs, act, client, rec, cfg.Agent, isVLM)
	status, _ = a.Run(ctx, task)

	slog.Info("worker finished", "device", device, "status", status)
	return status
}
