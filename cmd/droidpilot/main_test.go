package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// executeCommand runs the root command with the given args and returns stdout,
// stderr, and error.
func executeCommand(args ...string) (stdout string, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&outBuf)
	cmd.SetErr(&errBuf)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

// writeConfig drops a minimal config file into a temp dir and returns its path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCLICommands(t *testing.T) {
	t.Run("root --help lists subcommands", func(t *testing.T) {
		out, _, err := executeCommand("--help")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, sub := range []string{"run", "worker", "devices", "events"} {
			if !strings.Contains(out, sub) {
				t.Errorf("expected root help to list %q, got:\n%s", sub, out)
			}
		}
	})

	t.Run("root --version prints version", func(t *testing.T) {
		out, _, err := executeCommand("--version")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, "droidpilot") {
			t.Errorf("expected version output to contain 'droidpilot', got: %s", out)
		}
	})

	t.Run("run --help shows flags", func(t *testing.T) {
		out, _, err := executeCommand("run", "--help")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, flag := range []string{"--config", "--policy"} {
			if !strings.Contains(out, flag) {
				t.Errorf("expected run help to show %s, got:\n%s", flag, out)
			}
		}
	})

	t.Run("run without tasks fails", func(t *testing.T) {
		cfg := writeConfig(t, "device_providers:\n  local:\n    enabled: false\n")
		_, _, err := executeCommand("run", "--config", cfg)
		if err == nil || !strings.Contains(err.Error(), "no tasks") {
			t.Fatalf("expected no-tasks error, got: %v", err)
		}
	})

	t.Run("run with no providers finds no devices", func(t *testing.T) {
		cfg := writeConfig(t, "device_providers:\n  local:\n    enabled: false\n")
		_, _, err := executeCommand("run", "--config", cfg, "some task")
		if err == nil || !strings.Contains(err.Error(), "no devices") {
			t.Fatalf("expected no-devices error, got: %v", err)
		}
	})

	t.Run("run with missing config fails", func(t *testing.T) {
		_, _, err := executeCommand("run", "--config", "/nonexistent/config.yaml", "task")
		if err == nil {
			t.Fatal("expected error for missing config")
		}
	})

	t.Run("devices with no providers fails", func(t *testing.T) {
		cfg := writeConfig(t, "device_providers:\n  local:\n    enabled: false\n")
		_, _, err := executeCommand("devices", "--config", cfg)
		if err == nil || !strings.Contains(err.Error(), "no devices") {
			t.Fatalf("expected no-devices error, got: %v", err)
		}
	})

	t.Run("worker requires device", func(t *testing.T) {
		_, _, err := executeCommand("worker", "--task", "t")
		if err == nil {
			t.Fatal("expected error when --device not provided")
		}
	})

	t.Run("worker requires exactly one mode", func(t *testing.T) {
		if _, _, err := executeCommand("worker", "--device", "d"); err == nil {
			t.Fatal("expected error when neither --task nor --socket provided")
		}
		if _, _, err := executeCommand("worker", "--device", "d", "--task", "t", "--socket", "/tmp/x.sock"); err == nil {
			t.Fatal("expected error when both --task and --socket provided")
		}
	})

	t.Run("worker with nonexistent socket fails", func(t *testing.T) {
		cfg := writeConfig(t, "adb:\n  executable_path: adb\n")
		_, _, err := executeCommand("worker", "--device", "d", "--config", cfg,
			"--socket", "/nonexistent/path/sched.sock")
		if err == nil {
			t.Fatal("expected error connecting to nonexistent socket")
		}
	})

	t.Run("events without database fails", func(t *testing.T) {
		cfg := writeConfig(t, "scheduler:\n  policy: polling\n")
		_, _, err := executeCommand("events", "--config", cfg)
		if err == nil || !strings.Contains(err.Error(), "no event database") {
			t.Fatalf("expected missing-database error, got: %v", err)
		}
	})

	t.Run("events with missing db file fails", func(t *testing.T) {
		_, _, err := executeCommand("events", "--db", "/nonexistent/events.db")
		if err == nil {
			t.Fatal("expected error for missing database file")
		}
	})

	t.Run("unknown command returns error", func(t *testing.T) {
		_, _, err := executeCommand("nonexistent")
		if err == nil {
			t.Fatal("expected error for unknown command")
		}
	})
}

func TestRunRejectsUnknownPolicy(t *testing.T) {
	cfg := writeConfig(t, "scheduler:\n  policy: bogus\n")
	_, _, err := executeCommand("run", "--config", cfg, "task")
	if err == nil || !strings.Contains(err.Error(), "unknown scheduler policy") {
		t.Fatalf("expected bogus-policy error, got: %v", err)
	}
}
