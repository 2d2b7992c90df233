package scheduler_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"droidpilot/pkg/scheduler"
)

// writeSleeperBinary stands in for the worker executable: it ignores its
// arguments and sleeps until killed.
func writeSleeperBinary(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a shell script stand-in")
	}
	path := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nsleep 30\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSpawnedWorkerSurvivesContextCancel(t *testing.T) {
	spawner := &scheduler.ExecSpawner{ExecPath: writeSleeperBinary(t)}

	ctx, cancel := context.WithCancel(context.Background())
	proc, err := spawner.SpawnOneShot(ctx, "devA", "task")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	// Cancelling the run context must not end the worker; only the policy's
	// explicit Kill after the grace period may do that.
	cancel()
	select {
	case err := <-done:
		t.Fatalf("worker died with the cancelled context: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	if err := proc.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after Kill")
	}
}
