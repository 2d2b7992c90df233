package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"droidpilot/pkg/config"
)

// stateTable tracks which devices currently have a worker process attached.
type stateTable struct {
	mu   sync.Mutex
	busy map[string]bool
}

func newStateTable(devices []string) *stateTable {
	busy := make(map[string]bool, len(devices))
	for _, d := range devices {
		busy[d] = false
	}
	return &stateTable{busy: busy}
}

func (s *stateTable) setBusy(device string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy[device] = v
}

func (s *stateTable) isBusy(device string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy[device]
}

// PollingPolicy runs one worker process per assignment: poll, reap exited
// workers, hand the next tasks to idle devices, repeat.
type PollingPolicy struct {
	spawner  WorkerSpawner
	events   *EventLog
	interval time.Duration
	grace    time.Duration
}

// NewPollingPolicy builds the polling policy from scheduler config.
func NewPollingPolicy(spawner WorkerSpawner, events *EventLog, cfg config.SchedulerConfig) *PollingPolicy {
	return &PollingPolicy{
		spawner:  spawner,
		events:   events,
		interval: cfg.PollInterval(),
		grace:    cfg.ShutdownTimeout(),
	}
}

// SetPollInterval overrides the assign interval (for testing).
func (p *PollingPolicy) SetPollInterval(d time.Duration) { p.interval = d }

// SetGracePeriod overrides the interrupt grace period (for testing).
func (p *PollingPolicy) SetGracePeriod(d time.Duration) { p.grace = d }

type reapResult struct {
	device string
	task   string
	err    error
}

// Run drains the task backlog across the devices. A worker crash consumes
// its task and releases the device; the crash is recorded, not retried. On
// interrupt, no new work is assigned and live workers get a bounded grace
// period before being killed.
func (p *PollingPolicy) Run(ctx context.Context, tasks, devices []string) error {
	if len(devices) == 0 {
		return fmt.Errorf("polling scheduler: no devices")
	}

	backlog := append([]string(nil), tasks...)
	states := newStateTable(devices)
	procs := make(map[string]Process)
	results := make(chan reapResult, len(devices))
	live := 0

	assign := func() {
		for _, device := range devices {
			if len(backlog) == 0 {
				return
			}
			if states.isBusy(device) {
				continue
			}
			task := backlog[0]
			backlog = backlog[1:]

			// Busy before spawn, so a slow start can't double-assign.
			states.setBusy(device, true)
			proc, err := p.spawner.SpawnOneShot(ctx, device, task)
			if err != nil {
				states.setBusy(device, false)
				slog.Error("worker spawn failed", "device", device, "task", task, "err", err)
				p.events.Log(ctx, "spawn_error", "scheduler", device, "", err.Error())
				continue
			}
			live++
			procs[device] = proc
			slog.Info("task assigned", "device", device, "task", task)
			p.events.Log(ctx, "assign", "scheduler", device, "", fmt.Sprintf("%q", task))

			go func(device, task string, proc Process) {
				err := proc.Wait()
				results <- reapResult{device: device, task: task, err: err}
			}(device, task, proc)
		}
	}

	reap := func(res reapResult) {
		delete(procs, res.device)
		states.setBusy(res.device, false)
		if res.err != nil {
			slog.Error("worker exited abnormally", "device", res.device, "task", res.task, "err", res.err)
			p.events.Log(ctx, "crash", "scheduler", res.device, "", res.err.Error())
			return
		}
		slog.Info("worker finished", "device", res.device, "task", res.task)
		p.events.Log(ctx, "done", "scheduler", res.device, "", fmt.Sprintf("%q", res.task))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	assign()
	for live > 0 || len(backlog) > 0 {
		select {
		case <-ctx.Done():
			return p.drainAfterInterrupt(ctx, procs, results, live, reap)
		case res := <-results:
			live--
			reap(res)
			assign()
		case <-ticker.C:
			assign()
		}
	}

	p.events.Log(ctx, "shutdown", "scheduler", "", "", "backlog drained")
	return nil
}

// drainAfterInterrupt gives live workers a grace period to finish, then
// kills whatever remains.
func (p *PollingPolicy) drainAfterInterrupt(ctx context.Context, procs map[string]Process,
	results chan reapResult, live int, reap func(reapResult)) error {
	slog.Info("interrupt received, draining workers", "live", live, "grace", p.grace)
	p.events.Log(context.WithoutCancel(ctx), "shutdown", "scheduler", "", "", "interrupted")

	deadline := time.NewTimer(p.grace)
	defer deadline.Stop()

	for live > 0 {
		select {
		case res := <-results:
			reap(res)
			live--
		case <-deadline.C:
			for device, proc := range procs {
				slog.Warn("killing worker after grace period", "device", device)
				_ = proc.Kill()
			}
			return ctx.Err()
		}
	}
	return ctx.Err()
}
