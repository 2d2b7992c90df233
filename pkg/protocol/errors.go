package protocol

import "fmt"

// ElementNotFoundError reports a UI element handle that does not exist in the
// current observation. It enables typed discrimination via errors.As so the
// control loop can record the failure without issuing any device command.
type ElementNotFoundError struct {
	UID int
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("element uid=%d not found in current observation", e.UID)
}

// DeviceCommandError reports a failed or timed-out device automation command.
type DeviceCommandError struct {
	Device string
	Args   []string
	Stderr string
	Err    error
}

func (e *DeviceCommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("device %s: adb %v: %v: %s", e.Device, e.Args, e.Err, e.Stderr)
	}
	return fmt.Sprintf("device %s: adb %v: %v", e.Device, e.Args, e.Err)
}

func (e *DeviceCommandError) Unwrap() error { return e.Err }

// WorkerUnreachableError reports a scheduler-to-worker communication failure.
type WorkerUnreachableError struct {
	WorkerID string
	Device   string
	Reason   string
}

func (e *WorkerUnreachableError) Error() string {
	return fmt.Sprintf("worker %s unreachable (device %s): %s", e.WorkerID, e.Device, e.Reason)
}
