// Package scheduler fans tasks out across discovered devices. Two policies
// share the same contract: at most one task runs per device at any instant,
// and every task executes in its own worker process.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Policy runs a batch of tasks across a set of devices and returns when the
// backlog is drained or the context ends the run.
type Policy interface {
	Run(ctx context.Context, tasks, devices []string) error
}

// Process abstracts a running worker subprocess.
type Process interface {
	Wait() error
	Kill() error
}

// WorkerSpawner launches worker processes. The production spawner re-execs
// the current binary's worker subcommand; tests use fakes.
type WorkerSpawner interface {
	// SpawnOneShot starts a worker that runs a single task and exits.
	SpawnOneShot(ctx context.Context, device, task string) (Process, error)
	// SpawnPersistent starts a worker that connects to the pool socket and
	// serves assignments until told to shut down.
	SpawnPersistent(ctx context.Context, device, socketPath string) (Process, error)
}

// ExecSpawner is the production WorkerSpawner.
type ExecSpawner struct {
	// ConfigPath is forwarded to the worker so it loads the same config.
	ConfigPath string
	// ExecPath overrides the spawned binary (for testing); empty means the
	// current executable.
	ExecPath string
}

// SpawnOneShot launches `<self> worker --device D --task T`.
func (s *ExecSpawner) SpawnOneShot(ctx context.Context, device, task string) (Process, error) {
	return s.spawn(ctx, device, "--task", task)
}

// SpawnPersistent launches `<self> worker --device D --socket S`.
func (s *ExecSpawner) SpawnPersistent(ctx context.Context, device, socketPath string) (Process, error) {
	return s.spawn(ctx, device, "--socket", socketPath)
}

func (s *ExecSpawner) spawn(_ context.Context, device string, extra ...string) (Process, error) {
	bin := s.ExecPath
	if bin == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve own binary: %w", err)
		}
		bin = self
	}

	args := []string{"worker", "--device", device}
	if s.ConfigPath != "" {
		args = append(args, "--config", s.ConfigPath)
	}
	args = append(args, extra...)

	// Deliberately not CommandContext: on interrupt the run context cancels
	// immediately, but in-flight workers get the policies' grace period
	// first. Kill timing belongs to the policy, via Process.Kill.
	cmd := exec.Command(bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker for %s: %w", device, err)
	}
	return &cmdProcess{cmd: cmd}, nil
}

type cmdProcess struct {
	cmd *exec.Cmd
}

func (p *cmdProcess) Wait() error {
	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("worker process: %w", err)
	}
	return nil
}

func (p *cmdProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill worker process: %w", err)
	}
	return nil
}
