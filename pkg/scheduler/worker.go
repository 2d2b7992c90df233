package scheduler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"

	"droidpilot/pkg/protocol"
)

// TaskRunner executes one task on one device and returns its terminal
// status; agent.RunWorker in production.
type TaskRunner func(ctx context.Context, device, task string) string

// DeviceWorker is the worker side of the pool protocol: it connects to the
// scheduler socket, announces READY, and serves ASSIGNs until SHUTDOWN.
type DeviceWorker struct {
	ID     string
	Device string

	conn net.Conn
	run  TaskRunner
}

// NewDeviceWorker dials the scheduler socket.
func NewDeviceWorker(device, socketPath string, run TaskRunner) (*DeviceWorker, error) {
	conn, err := net.Dial("unix", socketPath) //nolint:noctx // UDS connect is instant
	if err != nil {
		return nil, fmt.Errorf("connect to scheduler: %w", err)
	}
	return &DeviceWorker{
		ID:     "worker-" + uuid.NewString()[:8],
		Device: device,
		conn:   conn,
		run:    run,
	}, nil
}

// NewDeviceWorkerWithConn builds a worker on a pre-established connection
// (for testing).
func NewDeviceWorkerWithConn(id, device string, conn net.Conn, run TaskRunner) *DeviceWorker {
	return &DeviceWorker{ID: id, Device: device, conn: conn, run: run}
}

// Run serves the scheduler until SHUTDOWN, connection loss, or context
// cancellation.
func (w *DeviceWorker) Run(ctx context.Context) error {
	defer func() { _ = w.conn.Close() }()

	if err := w.send(protocol.Message{
		Type:  protocol.MsgReady,
		Ready: &protocol.ReadyPayload{WorkerID: w.ID, Device: w.Device},
	}); err != nil {
		return err
	}

	scanner := bufio.NewScanner(w.conn)
	msgCh := make(chan protocol.Message)
	errCh := make(chan error, 1)

	// Read in a goroutine so we can select on ctx.Done.
	go func() {
		for scanner.Scan() {
			var msg protocol.Message
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				continue // skip malformed messages
			}
			msgCh <- msg
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
		} else {
			errCh <- fmt.Errorf("connection closed")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgCh:
			done, err := w.handleMessage(ctx, msg)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		case err := <-errCh:
			if ctx.Err() != nil {
				return nil //nolint:nilerr // cancelled = clean shutdown
			}
			return err
		}
	}
}

func (w *DeviceWorker) handleMessage(ctx context.Context, msg protocol.Message) (bool, error) {
	switch msg.Type {
	case protocol.MsgAssign:
		if msg.Assign == nil {
			return false, fmt.Errorf("ASSIGN message missing payload")
		}
		task := msg.Assign.Task
		slog.Info("assignment received", "worker", w.ID, "device", w.Device, "task", task)

		status := w.run(ctx, w.Device, task)

		if err := w.send(protocol.Message{
			Type: protocol.MsgDone,
			Done: &protocol.DonePayload{
				WorkerID: w.ID,
				Device:   w.Device,
				Task:     task,
				Status:   status,
			},
		}); err != nil {
			return false, err
		}
		// Announce availability for the next task.
		return false, w.send(protocol.Message{
			Type:  protocol.MsgReady,
			Ready: &protocol.ReadyPayload{WorkerID: w.ID, Device: w.Device},
		})

	case protocol.MsgShutdown:
		slog.Info("shutdown received", "worker", w.ID, "device", w.Device)
		return true, nil

	default:
		return false, nil
	}
}

func (w *DeviceWorker) send(msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.conn.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}
