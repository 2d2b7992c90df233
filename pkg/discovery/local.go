package discovery

import (
	"context"
	"log/slog"
	"strings"

	"droidpilot/pkg/adb"
)

// LocalProvider discovers devices attached to the local adb server. Only
// lines whose status token is exactly "device" count; "offline" and
// "unauthorized" entries are skipped.
type LocalProvider struct {
	Runner adb.Runner
}

// Name implements Provider.
func (p *LocalProvider) Name() string { return "local" }

// FindDevices implements Provider.
func (p *LocalProvider) FindDevices(ctx context.Context) []string {
	out, err := p.Runner.Run(ctx, "devices")
	if err != nil {
		slog.Error("local device listing failed", "err", err)
		return nil
	}
	return ParseDeviceList(string(out))
}

// ParseDeviceList extracts ready device serials from `adb devices` output.
// The first line is the "List of devices attached" banner.
func ParseDeviceList(out string) []string {
	var devices []string
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i, line := range lines {
		if i == 0 {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) >= 2 && fields[1] == "device" {
			devices = append(devices, fields[0])
		}
	}
	return devices
}
