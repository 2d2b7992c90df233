package discovery

import (
	"log/slog"
	"sync"
	"time"
)

// Tunnel is one background SSH port-forward process owned by the Registry.
type Tunnel interface {
	PID() int
	LocalPort() int
	RemotePort() int
	// Running reports whether the process is still alive.
	Running() bool
	// Terminate requests graceful termination and waits up to the timeout.
	Terminate(timeout time.Duration) error
	// Kill forcibly ends the process.
	Kill() error
}

// terminateTimeout bounds the graceful-termination wait per tunnel.
const terminateTimeout = 5 * time.Second

// Registry tracks every tunnel created by the forward provider so they can
// all be torn down on process exit. Appends come only from discovery; the
// shutdown routine runs exactly once regardless of how many callers race it.
type Registry struct {
	mu       sync.Mutex
	tunnels  []Tunnel
	shutdown sync.Once
}

// NewRegistry returns an empty tunnel registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a tunnel handle.
func (r *Registry) Register(t Tunnel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tunnels = append(r.tunnels, t)
}

// Enumerate returns a snapshot of all registered tunnels.
func (r *Registry) Enumerate() []Tunnel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Tunnel, len(r.tunnels))
	copy(out, r.tunnels)
	return out
}

// Shutdown terminates every still-running tunnel: graceful terminate with a
// bounded wait, then force-kill. One tunnel's failure never blocks the rest.
// Subsequent calls are no-ops.
func (r *Registry) Shutdown() {
	r.shutdown.Do(func() {
		for _, t := range r.Enumerate() {
			if !t.Running() {
				continue
			}
			if err := t.Terminate(terminateTimeout); err != nil {
				slog.Warn("tunnel did not terminate, killing",
					"pid", t.PID(), "local_port", t.LocalPort(), "err", err)
				if killErr := t.Kill(); killErr != nil {
					slog.Error("tunnel kill failed", "pid", t.PID(), "err", killErr)
					continue
				}
			}
			slog.Info("tunnel closed", "pid", t.PID(), "local_port", t.LocalPort())
		}
	})
}
