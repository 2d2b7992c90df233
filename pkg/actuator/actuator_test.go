package actuator_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"droidpilot/pkg/actuator"
	"droidpilot/pkg/adb"
	"droidpilot/pkg/observer"
	"droidpilot/pkg/protocol"
)

// scriptedRunner records every adb call and can fail from a given call index.
type scriptedRunner struct {
	calls     [][]string
	failFrom  int // 0 = never fail
	failCount int
}

func (s *scriptedRunner) Run(_ context.Context, args ...string) ([]byte, error) {
	s.calls = append(s.calls, args)
	if s.failFrom > 0 && len(s.calls) >= s.failFrom {
		s.failCount++
		return nil, errors.New("device gone")
	}
	return []byte("ok"), nil
}

func newActuator(runner *scriptedRunner) *actuator.Actuator {
	a := actuator.New(adb.NewDeviceRunner(runner, "dev1"))
	a.SetSleepFunc(func(time.Duration) {})
	return a
}

func elements() []observer.Element {
	return []observer.Element{
		{UID: 1, Center: observer.Point{X: 100, Y: 200}},
		{UID: 2, Center: observer.Point{X: 300, Y: 400}},
	}
}

func joined(calls [][]string) []string {
	var out []string
	for _, c := range calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

func TestTap(t *testing.T) {
	runner := &scriptedRunner{}
	if err := newActuator(runner).Tap(context.Background(), 1, elements()); err != nil {
		t.Fatalf("tap: %v", err)
	}

	want := "-s dev1 shell input tap 100 200"
	if got := joined(runner.calls); len(got) != 1 || got[0] != want {
		t.Fatalf("expected [%s], got %v", want, got)
	}
}

func TestTapUnknownHandleIssuesNoCommand(t *testing.T) {
	runner := &scriptedRunner{}
	err := newActuator(runner).Tap(context.Background(), 9, elements())

	var notFound *protocol.ElementNotFoundError
	if !errors.As(err, &notFound) || notFound.UID != 9 {
		t.Fatalf("expected ElementNotFoundError for uid 9, got %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("no device command should be issued, got %v", joined(runner.calls))
	}
}

func TestInputTextCharacterChannels(t *testing.T) {
	runner := &scriptedRunner{}
	// space, newline, ASCII letter, non-ASCII: four distinguishable shapes.
	if err := newActuator(runner).InputText(context.Background(), 1, " \na\u00e9", elements()); err != nil {
		t.Fatalf("input_text: %v", err)
	}

	got := joined(runner.calls)
	want := []string{
		"-s dev1 shell input tap 100 200", // focus tap
		"-s dev1 shell input keyevent 62",
		"-s dev1 shell input keyevent 66",
		"-s dev1 shell input text a",
		`-s dev1 shell am broadcast -a ADB_INPUT_TEXT --es msg "é"`,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d commands, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("command %d:\n got: %s\nwant: %s", i, got[i], want[i])
		}
	}
}

func TestInputTextAbortsOnFirstFailure(t *testing.T) {
	// Call 1 is the focus tap; fail from call 3 (the second character).
	runner := &scriptedRunner{failFrom: 3}
	err := newActuator(runner).InputText(context.Background(), 1, "abcd", elements())
	if err == nil {
		t.Fatal("expected failure")
	}

	// tap + first char + failing second char, nothing after.
	if len(runner.calls) != 3 {
		t.Fatalf("expected 3 commands before abort, got %d: %v", len(runner.calls), joined(runner.calls))
	}
}

func TestSwipe(t *testing.T) {
	runner := &scriptedRunner{}
	if err := newActuator(runner).Swipe(context.Background(), 1, 2, elements()); err != nil {
		t.Fatalf("swipe: %v", err)
	}

	want := "-s dev1 shell input swipe 100 200 300 400 400"
	if got := joined(runner.calls); len(got) != 1 || got[0] != want {
		t.Fatalf("expected [%s], got %v", want, got)
	}
}

func TestBackHome(t *testing.T) {
	runner := &scriptedRunner{}
	a := newActuator(runner)

	if err := a.Back(context.Background()); err != nil {
		t.Fatalf("back: %v", err)
	}
	if err := a.Home(context.Background()); err != nil {
		t.Fatalf("home: %v", err)
	}

	got := joined(runner.calls)
	if got[0] != "-s dev1 shell input keyevent 4" || got[1] != "-s dev1 shell input keyevent 3" {
		t.Fatalf("unexpected key events: %v", got)
	}
}

func TestWaitAlwaysSucceeds(t *testing.T) {
	var slept time.Duration
	a := actuator.New(adb.NewDeviceRunner(&scriptedRunner{}, "dev1"))
	a.SetSleepFunc(func(d time.Duration) { slept = d })

	if err := a.Wait(1.5); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if slept != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s sleep, got %v", slept)
	}
}
