// Package observer captures device UI state: a screenshot, the raw UI tree,
// and a bounded, addressable element list reduced from it.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"droidpilot/pkg/adb"
)

// Device-side scratch paths for capture artifacts.
const (
	remoteScreenshotPath = "/data/local/tmp/screenshot.png"
	remoteUITreePath     = "/data/local/tmp/uidump.xml"
)

// Fallback screen size when `wm size` cannot be read.
const (
	defaultScreenWidth  = 1080
	defaultScreenHeight = 1920
)

// Observation is one step's captured device state. Missing artifacts are
// zero values; the caller decides whether that is fatal.
type Observation struct {
	Screenshot []byte
	UITree     string
	Elements   []Element
	Summary    string
}

// Observer captures observations for one device. Screen dimensions are
// fetched once at construction.
type Observer struct {
	dev        *adb.DeviceRunner
	width      int
	height     int
	scratchTag string
}

// New creates an Observer bound to a device and resolves its screen size.
func New(ctx context.Context, dev *adb.DeviceRunner) *Observer {
	o := &Observer{
		dev:        dev,
		scratchTag: fmt.Sprintf("droidpilot_%s_%d", sanitizeSerial(dev.Serial()), time.Now().UnixMilli()),
	}
	o.width, o.height = o.screenSize(ctx)
	return o
}

// ScreenSize returns the resolved device dimensions.
func (o *Observer) ScreenSize() (width, height int) { return o.width, o.height }

var dimensionPattern = regexp.MustCompile(`(\d+)x(\d+)`)

// screenSize reads `wm size` ("Physical size: 1080x1920"). Failure falls
// back to a common phone resolution.
func (o *Observer) screenSize(ctx context.Context) (int, int) {
	out, err := o.dev.Shell(ctx, "wm", "size")
	if err == nil {
		if m := dimensionPattern.FindStringSubmatch(string(out)); m != nil {
			w, _ := strconv.Atoi(m[1])
			h, _ := strconv.Atoi(m[2])
			slog.Info("device screen size", "device", o.dev.Serial(), "width", w, "height", h)
			return w, h
		}
	}
	slog.Warn("cannot read device screen size, using default",
		"device", o.dev.Serial(), "err", err)
	return defaultScreenWidth, defaultScreenHeight
}

// GetCurrentObservation captures a screenshot and UI tree and reduces the
// tree to the element list. Capture failures yield empty artifacts rather
// than errors.
func (o *Observer) GetCurrentObservation(ctx context.Context) Observation {
	obs := Observation{}
	obs.Screenshot = o.captureScreenshot(ctx)
	obs.UITree = o.captureUITree(ctx)

	elements, err := ReduceTree(obs.UITree, o.width, o.height)
	if err != nil {
		slog.Error("ui tree reduction failed", "device", o.dev.Serial(), "err", err)
	}
	obs.Elements = elements
	obs.Summary = Summarize(elements)
	return obs
}

// captureScreenshot runs screencap on-device, pulls the file, and reads it.
// Both the device-side file and the local scratch copy are removed no matter
// what — the loop runs thousands of steps and must not leak either side.
func (o *Observer) captureScreenshot(ctx context.Context) []byte {
	local := filepath.Join(os.TempDir(), o.scratchTag+"_screen.png")
	defer func() {
		_, _ = o.dev.Shell(ctx, "rm", remoteScreenshotPath)
		_ = os.Remove(local)
	}()

	if _, err := o.dev.Shell(ctx, "screencap", "-p", remoteScreenshotPath); err != nil {
		slog.Error("screencap failed", "device", o.dev.Serial(), "err", err)
		return nil
	}
	if _, err := o.dev.Run(ctx, "pull", remoteScreenshotPath, local); err != nil {
		slog.Error("screenshot pull failed", "device", o.dev.Serial(), "err", err)
		return nil
	}
	data, err := os.ReadFile(local) //nolint:gosec // scratch path built internally
	if err != nil {
		slog.Error("screenshot read failed", "device", o.dev.Serial(), "err", err)
		return nil
	}
	return data
}

// captureUITree dumps and pulls the uiautomator hierarchy, same scratch
// discipline as the screenshot.
func (o *Observer) captureUITree(ctx context.Context) string {
	local := filepath.Join(os.TempDir(), o.scratchTag+"_uidump.xml")
	defer func() {
		_, _ = o.dev.Shell(ctx, "rm", remoteUITreePath)
		_ = os.Remove(local)
	}()

	if _, err := o.dev.Shell(ctx, "uiautomator", "dump", remoteUITreePath); err != nil {
		slog.Error("uiautomator dump failed", "device", o.dev.Serial(), "err", err)
		return ""
	}
	if _, err := o.dev.Run(ctx, "pull", remoteUITreePath, local); err != nil {
		slog.Error("ui tree pull failed", "device", o.dev.Serial(), "err", err)
		return ""
	}
	data, err := os.ReadFile(local) //nolint:gosec // scratch path built internally
	if err != nil {
		slog.Error("ui tree read failed", "device", o.dev.Serial(), "err", err)
		return ""
	}
	return string(data)
}

// sanitizeSerial makes a device serial safe for use in a filename.
func sanitizeSerial(serial string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, serial)
}
