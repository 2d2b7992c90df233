package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"

	"droidpilot/pkg/protocol"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := protocol.Message{
		Type: protocol.MsgDone,
		Done: &protocol.DonePayload{
			WorkerID: "w1",
			Device:   "emulator-5554",
			Task:     "open settings",
			Status:   "SUCCESS",
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got protocol.Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != protocol.MsgDone {
		t.Fatalf("expected type DONE, got %s", got.Type)
	}
	if got.Done == nil || got.Done.Device != "emulator-5554" {
		t.Fatalf("done payload not preserved: %+v", got.Done)
	}
	if got.Assign != nil || got.Ready != nil || got.Shutdown != nil {
		t.Fatal("unrelated payloads should stay nil")
	}
}

func TestElementNotFoundErrorAs(t *testing.T) {
	var err error = &protocol.ElementNotFoundError{UID: 7}

	var notFound *protocol.ElementNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatal("errors.As should match ElementNotFoundError")
	}
	if notFound.UID != 7 {
		t.Fatalf("expected UID 7, got %d", notFound.UID)
	}
}

func TestDeviceCommandErrorUnwrap(t *testing.T) {
	inner := errors.New("exit status 1")
	err := &protocol.DeviceCommandError{
		Device: "dev1",
		Args:   []string{"shell", "input", "tap", "1", "2"},
		Stderr: "error: closed",
		Err:    inner,
	}

	if !errors.Is(err, inner) {
		t.Fatal("DeviceCommandError should unwrap to the inner error")
	}
}
