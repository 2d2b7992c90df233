package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"droidpilot/pkg/adb"
	"droidpilot/pkg/config"
)

// RemoteIPProvider connects to devices exposed over adb TCP. A failed host is
// logged and skipped; partial success is allowed.
type RemoteIPProvider struct {
	Runner  adb.Runner
	Remotes []config.RemoteHost
}

// Name implements Provider.
func (p *RemoteIPProvider) Name() string { return "remote_ip" }

// FindDevices implements Provider.
func (p *RemoteIPProvider) FindDevices(ctx context.Context) []string {
	var devices []string
	for _, remote := range p.Remotes {
		if remote.Host == "" {
			continue
		}
		if err := adb.Connect(ctx, p.Runner, remote.Host); err != nil {
			slog.Error("remote host connect failed", "host", remote.Host, "err", err)
			continue
		}
		devices = append(devices, remote.Host)
	}
	return devices
}

// ReverseTunnelProvider connects through reverse tunnels established outside
// this process; each entry is just a local port to attach to.
type ReverseTunnelProvider struct {
	Runner  adb.Runner
	Tunnels []config.ReverseTunnel
}

// Name implements Provider.
func (p *ReverseTunnelProvider) Name() string { return "ssh_reverse_tunnel" }

// FindDevices implements Provider.
func (p *ReverseTunnelProvider) FindDevices(ctx context.Context) []string {
	var devices []string
	for _, tunnel := range p.Tunnels {
		if tunnel.LocalPort == 0 {
			continue
		}
		addr := fmt.Sprintf("localhost:%d", tunnel.LocalPort)
		if err := adb.Connect(ctx, p.Runner, addr); err != nil {
			slog.Error("reverse tunnel connect failed", "addr", addr, "err", err)
			continue
		}
		devices = append(devices, addr)
	}
	return devices
}
