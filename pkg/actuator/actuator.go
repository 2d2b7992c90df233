// Package actuator translates element handles and actions into device input
// commands.
package actuator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"droidpilot/pkg/adb"
	"droidpilot/pkg/observer"
	"droidpilot/pkg/protocol"
)

// Android key codes used by the actuator.
const (
	keycodeHome  = "3"
	keycodeBack  = "4"
	keycodeSpace = "62"
	keycodeEnter = "66"
)

// swipeDurationMS is the default element-to-element swipe duration.
const swipeDurationMS = 400

// Typing cadence. The per-character delay is an empirical reliability
// measure, not a politeness one: bulk `input text` drops spaces, newlines,
// and non-ASCII characters on real devices.
const (
	focusSettle    = 500 * time.Millisecond
	interCharDelay = 50 * time.Millisecond
)

// Actuator issues input commands against one device.
type Actuator struct {
	dev *adb.DeviceRunner

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// New creates an Actuator for the given device.
func New(dev *adb.DeviceRunner) *Actuator {
	return &Actuator{dev: dev, sleep: time.Sleep}
}

// SetSleepFunc overrides the typing/focus delays (for testing).
func (a *Actuator) SetSleepFunc(f func(time.Duration)) { a.sleep = f }

// Tap taps the center of the element with the given uid.
func (a *Actuator) Tap(ctx context.Context, uid int, elements []observer.Element) error {
	el, ok := observer.FindElement(uid, elements)
	if !ok {
		return &protocol.ElementNotFoundError{UID: uid}
	}
	slog.Info("tap", "device", a.dev.Serial(), "uid", uid, "x", el.Center.X, "y", el.Center.Y)
	_, err := a.dev.Shell(ctx, "input", "tap",
		strconv.Itoa(el.Center.X), strconv.Itoa(el.Center.Y))
	if err != nil {
		return fmt.Errorf("tap uid=%d: %w", uid, err)
	}
	return nil
}

// InputText focuses the element, then transmits the text one character at a
// time. Each character class uses the channel that is reliable for it:
// space and newline as key events, ASCII letters/digits as direct text
// input, everything else through the ADB_INPUT_TEXT broadcast (requires the
// companion keyboard app on the device). The first failing character aborts
// the rest.
func (a *Actuator) InputText(ctx context.Context, uid int, text string, elements []observer.Element) error {
	if err := a.Tap(ctx, uid, elements); err != nil {
		return fmt.Errorf("input_text focus tap: %w", err)
	}
	a.sleep(focusSettle)

	for _, r := range text {
		var args []string
		switch {
		case r == ' ':
			args = []string{"input", "keyevent", keycodeSpace}
		case r == '\n':
			args = []string{"input", "keyevent", keycodeEnter}
		case isASCIIAlnum(r):
			args = []string{"input", "text", string(r)}
		default:
			// Preserved exactly: the letter/digit vs. broadcast boundary is
			// an empirically derived device workaround.
			args = []string{"am", "broadcast", "-a", "ADB_INPUT_TEXT", "--es", "msg", fmt.Sprintf("%q", string(r))}
		}

		if _, err := a.dev.Shell(ctx, args...); err != nil {
			return fmt.Errorf("input_text char %q: %w", r, err)
		}
		a.sleep(interCharDelay)
	}
	return nil
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// Swipe drags from the center of one element to the center of another.
func (a *Actuator) Swipe(ctx context.Context, startUID, endUID int, elements []observer.Element) error {
	start, ok := observer.FindElement(startUID, elements)
	if !ok {
		return &protocol.ElementNotFoundError{UID: startUID}
	}
	end, ok := observer.FindElement(endUID, elements)
	if !ok {
		return &protocol.ElementNotFoundError{UID: endUID}
	}

	slog.Info("swipe", "device", a.dev.Serial(),
		"from_uid", startUID, "to_uid", endUID)
	_, err := a.dev.Shell(ctx, "input", "swipe",
		strconv.Itoa(start.Center.X), strconv.Itoa(start.Center.Y),
		strconv.Itoa(end.Center.X), strconv.Itoa(end.Center.Y),
		strconv.Itoa(swipeDurationMS))
	if err != nil {
		return fmt.Errorf("swipe %d->%d: %w", startUID, endUID, err)
	}
	return nil
}

// Back presses the system back button.
func (a *Actuator) Back(ctx context.Context) error {
	if _, err := a.dev.Shell(ctx, "input", "keyevent", keycodeBack); err != nil {
		return fmt.Errorf("back: %w", err)
	}
	return nil
}

// Home presses the system home button.
func (a *Actuator) Home(ctx context.Context) error {
	if _, err := a.dev.Shell(ctx, "input", "keyevent", keycodeHome); err != nil {
		return fmt.Errorf("home: %w", err)
	}
	return nil
}

// Wait blocks for the given number of seconds. It always succeeds.
func (a *Actuator) Wait(seconds float64) error {
	a.sleep(time.Duration(seconds * float64(time.Second)))
	return nil
}
