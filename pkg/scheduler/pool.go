package scheduler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"droidpilot/pkg/config"
	"droidpilot/pkg/protocol"
)

// trackedWorker is one connected persistent worker.
type trackedWorker struct {
	id     string
	device string
	state  string // "idle" | "busy"
	task   string
	enc    *json.Encoder
}

// PoolPolicy keeps one persistent worker process per device, fed over a unix
// socket: workers announce READY, the scheduler answers with ASSIGN, a DONE
// ack frees the worker for the next task. New tasks can be appended at
// runtime by dropping files into the task spool directory.
type PoolPolicy struct {
	cfg     config.SchedulerConfig
	spawner WorkerSpawner
	events  *EventLog

	mu       sync.Mutex
	workers  map[string]*trackedWorker
	backlog  []string
	assigned int

	// wake nudges the main loop to re-check the drain condition.
	wake chan struct{}
}

// NewPoolPolicy builds the pool policy from scheduler config.
func NewPoolPolicy(spawner WorkerSpawner, events *EventLog, cfg config.SchedulerConfig) *PoolPolicy {
	return &PoolPolicy{
		cfg:     cfg,
		spawner: spawner,
		events:  events,
		workers: make(map[string]*trackedWorker),
		wake:    make(chan struct{}, 1),
	}
}

// Run spawns one worker per device, serves the backlog, and shuts the pool
// down once everything is drained or the context is cancelled.
func (p *PoolPolicy) Run(ctx context.Context, tasks, devices []string) error {
	if len(devices) == 0 {
		return fmt.Errorf("pool scheduler: no devices")
	}

	p.mu.Lock()
	p.backlog = append([]string(nil), tasks...)
	p.mu.Unlock()

	socketPath := p.cfg.SocketPath
	_ = os.Remove(socketPath) // stale socket from a previous run

	ln, err := net.Listen("unix", socketPath) //nolint:noctx // UDS bind is instant
	if err != nil {
		return fmt.Errorf("listen unix %s: %w", socketPath, err)
	}
	defer func() {
		_ = ln.Close()
		_ = os.Remove(socketPath)
	}()

	go p.acceptLoop(ctx, ln)

	// One persistent worker process per device.
	procs := make(map[string]Process, len(devices))
	procExit := make(chan string, len(devices))
	for _, device := range devices {
		proc, err := p.spawner.SpawnPersistent(ctx, device, socketPath)
		if err != nil {
			return fmt.Errorf("spawn worker for %s: %w", device, err)
		}
		procs[device] = proc
		go func(device string, proc Process) {
			if werr := proc.Wait(); werr != nil {
				slog.Error("worker process exited abnormally", "device", device, "err", werr)
			}
			procExit <- device
		}(device, proc)
	}

	watcher := p.startSpoolWatcher(ctx)
	if watcher != nil {
		defer func() { _ = watcher.Close() }()
	}

	fallback := time.NewTicker(p.cfg.PollInterval())
	defer fallback.Stop()

	live := len(procs)
	for {
		if p.drained() {
			break
		}
		select {
		case <-ctx.Done():
			return p.shutdown(context.WithoutCancel(ctx), procs, procExit, live, ctx.Err())
		case <-p.wake:
		case device := <-procExit:
			live--
			delete(procs, device)
			p.reapDeadWorker(ctx, device)
			if live == 0 {
				return fmt.Errorf("pool scheduler: all workers exited with work remaining")
			}
		case ev, ok := <-watcherEvents(watcher):
			if ok && ev.Op != 0 {
				p.loadSpool(ctx)
				p.tryAssign(ctx)
			}
		case werr, ok := <-watcherErrors(watcher):
			if ok && werr != nil {
				p.events.Log(ctx, "watcher_error", "scheduler", "", "", werr.Error())
			}
		case <-fallback.C:
			p.loadSpool(ctx)
			p.tryAssign(ctx)
		}
	}

	return p.shutdown(ctx, procs, procExit, live, nil)
}

// watcherEvents returns a nil channel (blocks forever in select) when no
// watcher is running.
func watcherEvents(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

func watcherErrors(w *fsnotify.Watcher) chan error {
	if w == nil {
		return nil
	}
	return w.Errors
}

// startSpoolWatcher watches the task spool directory when one is configured.
// Watch failures degrade to the fallback ticker.
func (p *PoolPolicy) startSpoolWatcher(ctx context.Context) *fsnotify.Watcher {
	dir := p.cfg.TaskSpoolDir
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("cannot create task spool dir", "dir", dir, "err", err)
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("fsnotify unavailable, relying on fallback poll", "err", err)
		return nil
	}
	if err := watcher.Add(dir); err != nil {
		slog.Warn("cannot watch task spool dir", "dir", dir, "err", err)
		_ = watcher.Close()
		return nil
	}

	// Pick up anything already spooled before the watch started.
	p.loadSpool(ctx)
	return watcher
}

// loadSpool consumes every file in the spool directory: each non-empty line
// is one task. Consumed files are removed.
func (p *PoolPolicy) loadSpool(ctx context.Context) {
	dir := p.cfg.TaskSpoolDir
	if dir == "" {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path) //nolint:gosec // spool dir is operator-controlled
		if err != nil {
			continue
		}
		var added int
		for _, line := range strings.Split(string(data), "\n") {
			task := strings.TrimSpace(line)
			if task == "" {
				continue
			}
			p.mu.Lock()
			p.backlog = append(p.backlog, task)
			p.mu.Unlock()
			added++
		}
		_ = os.Remove(path)
		if added > 0 {
			slog.Info("tasks spooled", "file", entry.Name(), "count", added)
			p.events.Log(ctx, "spool", "scheduler", "", "", fmt.Sprintf(`{"file":%q,"tasks":%d}`, entry.Name(), added))
		}
	}
}

// acceptLoop accepts worker connections.
func (p *PoolPolicy) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Listener closed on shutdown.
			return
		}
		go p.handleConn(ctx, conn)
	}
}

// handleConn reads line-delimited JSON messages from one worker.
func (p *PoolPolicy) handleConn(ctx context.Context, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	var workerID string

	defer func() {
		_ = conn.Close()
		if workerID != "" {
			p.deregister(ctx, workerID)
		}
	}()

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		var msg protocol.Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}

		switch msg.Type {
		case protocol.MsgReady:
			if msg.Ready == nil {
				continue
			}
			workerID = msg.Ready.WorkerID
			p.registerReady(ctx, workerID, msg.Ready.Device, conn)
		case protocol.MsgDone:
			if msg.Done == nil {
				continue
			}
			p.handleDone(ctx, msg.Done)
		}
	}
}

// registerReady marks a worker idle (registering it on first contact) and
// immediately tries to hand it work.
func (p *PoolPolicy) registerReady(ctx context.Context, id, device string, conn net.Conn) {
	p.mu.Lock()
	w, ok := p.workers[id]
	if !ok {
		w = &trackedWorker{id: id, device: device, enc: json.NewEncoder(conn)}
		p.workers[id] = w
	}
	w.state = "idle"
	w.task = ""
	p.mu.Unlock()

	slog.Info("worker ready", "worker", id, "device", device)
	p.tryAssign(ctx)
	p.nudge()
}

// handleDone records the ack. The worker stays busy until its follow-up
// READY arrives; READY is the only idle trigger, so a task can never be
// assigned into a worker that has not asked for one.
func (p *PoolPolicy) handleDone(ctx context.Context, done *protocol.DonePayload) {
	p.mu.Lock()
	if w, ok := p.workers[done.WorkerID]; ok {
		w.task = ""
	}
	p.mu.Unlock()

	slog.Info("task done", "worker", done.WorkerID, "device", done.Device,
		"task", done.Task, "status", done.Status)
	p.events.Log(ctx, "done", done.WorkerID, done.Device, done.WorkerID,
		fmt.Sprintf(`{"task":%q,"status":%q}`, done.Task, done.Status))
	p.nudge()
}

// deregister drops a disconnected worker. A task that was in flight is
// consumed: recorded as a crash, not retried.
func (p *PoolPolicy) deregister(ctx context.Context, id string) {
	p.mu.Lock()
	w, ok := p.workers[id]
	var device, task string
	if ok {
		device, task = w.device, w.task
		delete(p.workers, id)
	}
	p.mu.Unlock()

	if ok && task != "" {
		uerr := &protocol.WorkerUnreachableError{
			WorkerID: id, Device: device, Reason: "connection lost with task in flight",
		}
		slog.Error("worker lost with task in flight", "task", task, "err", uerr)
		p.events.Log(ctx, "crash", id, device, id,
			fmt.Sprintf(`{"task":%q,"error":%q}`, task, uerr.Error()))
	}
	p.nudge()
}

// reapDeadWorker records a worker process exit outside the shutdown path.
func (p *PoolPolicy) reapDeadWorker(ctx context.Context, device string) {
	p.events.Log(ctx, "crash", "scheduler", device, "", "worker process exited")
	p.nudge()
}

// tryAssign pairs backlog tasks with idle workers.
func (p *PoolPolicy) tryAssign(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.workers {
		if len(p.backlog) == 0 {
			return
		}
		if w.state != "idle" {
			continue
		}
		task := p.backlog[0]
		p.backlog = p.backlog[1:]

		w.state = "busy"
		w.task = task
		p.assigned++
		err := w.enc.Encode(protocol.Message{
			Type:   protocol.MsgAssign,
			Assign: &protocol.AssignPayload{Task: task},
		})
		if err != nil {
			// Connection went away between READY and ASSIGN; the task is
			// still unserved, put it back.
			uerr := &protocol.WorkerUnreachableError{
				WorkerID: w.id, Device: w.device, Reason: err.Error(),
			}
			slog.Error("assign send failed", "err", uerr)
			p.backlog = append([]string{task}, p.backlog...)
			w.state = "idle"
			w.task = ""
			p.assigned--
			continue
		}
		slog.Info("task assigned", "worker", w.id, "device", w.device, "task", task)
		p.events.Log(ctx, "assign", "scheduler", w.device, w.id, fmt.Sprintf("%q", task))
	}
}

// drained reports whether all tasks are handed out and acked. A pool started
// with an empty backlog and a spool directory stays alive until the first
// spooled tasks arrive; otherwise it would exit before the one mechanism
// that can feed it gets a chance to.
func (p *PoolPolicy) drained() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.backlog) > 0 {
		return false
	}
	for _, w := range p.workers {
		if w.state == "busy" {
			return false
		}
	}
	if p.cfg.TaskSpoolDir != "" && p.assigned == 0 {
		return false
	}
	return true
}

func (p *PoolPolicy) nudge() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// shutdown sends exactly one SHUTDOWN per connected worker, waits a bounded
// grace period for the processes to exit, then force-kills the rest.
func (p *PoolPolicy) shutdown(ctx context.Context, procs map[string]Process,
	procExit chan string, live int, cause error) error {
	timeout := p.cfg.ShutdownTimeout()

	p.mu.Lock()
	for _, w := range p.workers {
		_ = w.enc.Encode(protocol.Message{
			Type:     protocol.MsgShutdown,
			Shutdown: &protocol.ShutdownPayload{Timeout: timeout},
		})
	}
	p.mu.Unlock()
	p.events.Log(ctx, "shutdown", "scheduler", "", "", "pool draining")

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for live > 0 {
		select {
		case device := <-procExit:
			live--
			delete(procs, device)
		case <-deadline.C:
			for device, proc := range procs {
				slog.Warn("killing worker after grace period", "device", device)
				_ = proc.Kill()
			}
			return cause
		}
	}
	return cause
}
