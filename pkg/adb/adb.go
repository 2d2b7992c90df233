// Package adb runs commands against the Android Debug Bridge. It exposes a
// small Runner interface so discovery, observation, and actuation can be
// tested without a device attached.
package adb

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"droidpilot/pkg/protocol"
)

// DefaultTimeout bounds a single adb invocation.
const DefaultTimeout = 20 * time.Second

// Runner executes an adb command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// ExecRunner is the production Runner. It shells out to the configured adb
// binary with a per-command timeout.
type ExecRunner struct {
	Path    string        // adb executable path; empty means "adb" from PATH
	Timeout time.Duration // per-command timeout; zero means DefaultTimeout
}

// NewExecRunner returns an ExecRunner for the given adb binary path.
func NewExecRunner(path string) *ExecRunner {
	return &ExecRunner{Path: path}
}

// Run executes the adb command and returns trimmed stdout. Failures carry the
// stderr tail in a DeviceCommandError for diagnosis.
func (r *ExecRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	path := r.Path
	if path == "" {
		path = "adb"
	}
	timeout := r.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &protocol.DeviceCommandError{
				Args:   args,
				Stderr: strings.TrimSpace(string(exitErr.Stderr)),
				Err:    err,
			}
		}
		return nil, &protocol.DeviceCommandError{Args: args, Err: err}
	}
	return out, nil
}

// DeviceRunner binds a Runner to one device serial, prefixing every command
// with `-s <serial>`.
type DeviceRunner struct {
	runner Runner
	serial string
}

// NewDeviceRunner returns a Runner scoped to the given device.
func NewDeviceRunner(runner Runner, serial string) *DeviceRunner {
	return &DeviceRunner{runner: runner, serial: serial}
}

// Serial returns the bound device serial.
func (d *DeviceRunner) Serial() string { return d.serial }

// Run executes an adb command against the bound device. Command failures are
// stamped with the device serial so multi-device logs stay attributable.
func (d *DeviceRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	full := append([]string{"-s", d.serial}, args...)
	out, err := d.runner.Run(ctx, full...)
	if err != nil {
		var cmdErr *protocol.DeviceCommandError
		if errors.As(err, &cmdErr) && cmdErr.Device == "" {
			cmdErr.Device = d.serial
		}
	}
	return out, err
}

// Shell runs `adb shell` with the given arguments on the bound device.
func (d *DeviceRunner) Shell(ctx context.Context, args ...string) ([]byte, error) {
	return d.Run(ctx, append([]string{"shell"}, args...)...)
}

// Connect issues `adb connect <addr>` and reports success when the output
// contains "connected" or "already connected" — the substrings adb prints on
// a successful TCP attach.
func Connect(ctx context.Context, r Runner, addr string) error {
	out, err := r.Run(ctx, "connect", addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	s := string(out)
	if strings.Contains(s, "already connected") || strings.Contains(s, "connected") {
		return nil
	}
	return fmt.Errorf("connect %s: unexpected output %q", addr, strings.TrimSpace(s))
}
