package main

import (
	"droidpilot/pkg/adb"
	"droidpilot/pkg/config"
	"droidpilot/pkg/discovery"
)

// buildProviders assembles the enabled discovery providers in a fixed order:
// local first, then the three remote strategies.
func buildProviders(cfg *config.Config, runner adb.Runner, registry *discovery.Registry) []discovery.Provider {
	var providers []discovery.Provider

	if cfg.Providers.Local.Enabled {
		providers = append(providers, &discovery.LocalProvider{Runner: runner})
	}
	if cfg.Providers.RemoteIP.Enabled {
		providers = append(providers, &discovery.RemoteIPProvider{
			Runner:  runner,
			Remotes: cfg.Providers.RemoteIP.Remotes,
		})
	}
	if cfg.Providers.SSHReverseTunnel.Enabled {
		providers = append(providers, &discovery.ReverseTunnelProvider{
			Runner:  runner,
			Tunnels: cfg.Providers.SSHReverseTunnel.Tunnels,
		})
	}
	if cfg.Providers.SSHForwardTunnel.Enabled {
		providers = append(providers, &discovery.ForwardTunnelProvider{
			Runner:      runner,
			SSH:         &discovery.ExecSSHRunner{},
			Registry:    registry,
			Connections: cfg.Providers.SSHForwardTunnel.Connections,
		})
	}
	return providers
}
