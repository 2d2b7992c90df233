// Package protocol defines the wire messages exchanged between the pool
// scheduler and its persistent device workers, the typed errors shared across
// packages, and the SQLite schema for the scheduler event log.
//
// Transport is line-delimited JSON over a unix socket: one Message per line,
// with exactly one payload pointer set according to Type.
package protocol

import "time"

// MessageType identifies the payload carried by a Message.
type MessageType string

// Message types.
const (
	MsgReady    MessageType = "READY"    // worker -> scheduler: idle, give me work
	MsgAssign   MessageType = "ASSIGN"   // scheduler -> worker: run this task
	MsgDone     MessageType = "DONE"     // worker -> scheduler: task finished
	MsgShutdown MessageType = "SHUTDOWN" // scheduler -> worker: drain and exit
)

// Message is the envelope for all scheduler/worker traffic.
type Message struct {
	Type     MessageType      `json:"type"`
	Ready    *ReadyPayload    `json:"ready,omitempty"`
	Assign   *AssignPayload   `json:"assign,omitempty"`
	Done     *DonePayload     `json:"done,omitempty"`
	Shutdown *ShutdownPayload `json:"shutdown,omitempty"`
}

// ReadyPayload announces a worker to the scheduler. Sent once on connect and
// again after each completed task.
type ReadyPayload struct {
	WorkerID string `json:"worker_id"`
	Device   string `json:"device"`
}

// AssignPayload hands a task to a worker.
type AssignPayload struct {
	Task string `json:"task"`
}

// DonePayload reports the terminal status of one device-task run.
type DonePayload struct {
	WorkerID string `json:"worker_id"`
	Device   string `json:"device"`
	Task     string `json:"task"`
	Status   string `json:"status"` // run status string, e.g. "SUCCESS"
}

// ShutdownPayload is the stop sentinel. Timeout tells the worker how long the
// scheduler will wait before force-killing it.
type ShutdownPayload struct {
	Timeout time.Duration `json:"timeout"`
}
