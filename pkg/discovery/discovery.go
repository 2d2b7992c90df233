// Package discovery finds controllable Android devices from heterogeneous
// sources: locally attached devices, adb-over-TCP remotes, pre-established
// reverse tunnels, and SSH hosts reached through locally owned port forwards.
//
// Providers never fail discovery as a whole: an erroring provider logs and
// contributes nothing. The overall result is the sorted, deduplicated union
// of every provider's endpoints.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Provider is one device discovery strategy.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string
	// FindDevices returns the endpoints this provider can offer. It never
	// returns an error: internal failures are logged and yield nil.
	FindDevices(ctx context.Context) []string
}

// Discover runs every provider and merges the results. It returns an error
// only when the union across all providers is empty.
func Discover(ctx context.Context, providers []Provider) ([]string, error) {
	seen := make(map[string]struct{})
	var devices []string

	for _, p := range providers {
		found := p.FindDevices(ctx)
		slog.Info("provider finished", "provider", p.Name(), "devices", len(found))
		for _, d := range found {
			if _, dup := seen[d]; dup {
				continue
			}
			seen[d] = struct{}{}
			devices = append(devices, d)
		}
	}

	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices discovered by any provider")
	}

	sort.Strings(devices)
	slog.Info("discovery complete", "devices", devices)
	return devices, nil
}
