package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"droidpilot/pkg/adb"
	"droidpilot/pkg/config"
)

// SSHRunner abstracts the two SSH capabilities the forward provider needs:
// running a remote command, and opening a background local port forward.
type SSHRunner interface {
	Output(ctx context.Context, conn config.SSHConnection, command string) ([]byte, error)
	Forward(ctx context.Context, conn config.SSHConnection, localPort, remotePort int) (Tunnel, error)
}

// ForwardTunnelProvider enumerates devices on remote SSH hosts and reaches
// them through locally established port forwards. Every tunnel it opens is
// registered for teardown; a tunnel whose post-connect check fails is
// terminated on the spot so nothing is orphaned.
type ForwardTunnelProvider struct {
	Runner      adb.Runner
	SSH         SSHRunner
	Registry    *Registry
	Connections []config.SSHConnection

	// SettlePause is how long to wait after opening a tunnel before the
	// adb connect attempt. Injectable for tests; ~2s is what it takes for
	// sshd to bring the forward up in practice.
	SettlePause time.Duration
}

// DefaultSettlePause is the production tunnel settle wait.
const DefaultSettlePause = 2 * time.Second

// DefaultLocalStartPort is where local forward ports are allocated from when
// the connection entry does not set one.
const DefaultLocalStartPort = 15555

// Name implements Provider.
func (p *ForwardTunnelProvider) Name() string { return "ssh_forward_tunnel" }

// FindDevices implements Provider.
func (p *ForwardTunnelProvider) FindDevices(ctx context.Context) []string {
	pause := p.SettlePause
	if pause == 0 {
		pause = DefaultSettlePause
	}

	var devices []string
	for _, conn := range p.Connections {
		localPort := conn.LocalStartPort
		if localPort == 0 {
			localPort = DefaultLocalStartPort
		}

		remotes := p.discoverRemote(ctx, conn)
		if len(remotes) == 0 {
			slog.Warn("no usable devices on remote host", "host", conn.Host)
			continue
		}

		for _, rd := range remotes {
			addr := p.establish(ctx, conn, localPort, rd, pause)
			if addr != "" {
				devices = append(devices, addr)
			}
			localPort++
		}
	}
	return devices
}

// remoteDevice is one device enumerated on the SSH host, with the control
// port derived from its serial.
type remoteDevice struct {
	serial string
	port   int
}

var emulatorSerial = regexp.MustCompile(`^emulator-(\d+)`)

// discoverRemote lists devices on the SSH host and derives each one's
// control port: emulator-N listens on N+1, networked serials carry a
// trailing :port. Unparseable serials are skipped with a warning.
func (p *ForwardTunnelProvider) discoverRemote(ctx context.Context, conn config.SSHConnection) []remoteDevice {
	out, err := p.SSH.Output(ctx, conn, conn.RemoteADBPath+" devices")
	if err != nil {
		slog.Error("remote device listing over ssh failed", "host", conn.Host, "err", err)
		return nil
	}

	var remotes []remoteDevice
	for _, serial := range ParseDeviceList(string(out)) {
		if m := emulatorSerial.FindStringSubmatch(serial); m != nil {
			n, _ := strconv.Atoi(m[1])
			remotes = append(remotes, remoteDevice{serial: serial, port: n + 1})
			continue
		}
		if idx := strings.LastIndex(serial, ":"); idx >= 0 {
			port, err := strconv.Atoi(serial[idx+1:])
			if err != nil {
				slog.Warn("cannot derive port from remote serial", "serial", serial)
				continue
			}
			remotes = append(remotes, remoteDevice{serial: serial, port: port})
			continue
		}
		slog.Warn("cannot derive port from remote serial", "serial", serial)
	}
	return remotes
}

// establish opens the port forward, registers it, waits for it to settle,
// and verifies reachability with adb connect. On a failed connect the tunnel
// is terminated immediately and the device is not reported.
func (p *ForwardTunnelProvider) establish(ctx context.Context, conn config.SSHConnection, localPort int, rd remoteDevice, pause time.Duration) string {
	tunnel, err := p.SSH.Forward(ctx, conn, localPort, rd.port)
	if err != nil {
		slog.Error("ssh tunnel start failed", "serial", rd.serial, "err", err)
		return ""
	}
	p.Registry.Register(tunnel)
	slog.Info("ssh tunnel started",
		"pid", tunnel.PID(), "local_port", localPort, "remote_port", rd.port, "serial", rd.serial)

	time.Sleep(pause)

	addr := fmt.Sprintf("localhost:%d", localPort)
	if err := adb.Connect(ctx, p.Runner, addr); err != nil {
		slog.Error("tunnelled connect failed, closing tunnel", "addr", addr, "err", err)
		if termErr := tunnel.Terminate(terminateTimeout); termErr != nil {
			_ = tunnel.Kill()
		}
		return ""
	}

	slog.Info("device reachable through tunnel", "addr", addr, "serial", rd.serial)
	return addr
}

// --- Production SSH runner ---

// sshKeepAliveArgs keep long-lived tunnels from silently dying.
var sshKeepAliveArgs = []string{
	"-o", "ServerAliveInterval=60",
	"-o", "ServerAliveCountMax=3",
	"-o", "ConnectTimeout=10",
}

// ExecSSHRunner shells out to the system ssh binary.
type ExecSSHRunner struct{}

// Output runs a remote command and returns its stdout.
func (r *ExecSSHRunner) Output(ctx context.Context, conn config.SSHConnection, command string) ([]byte, error) {
	args := append([]string{}, sshKeepAliveArgs...)
	args = append(args,
		fmt.Sprintf("%s@%s", conn.User, conn.Host),
		"-p", strconv.Itoa(conn.Port),
		command,
	)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "ssh", args...).Output()
	if err != nil {
		return nil, fmt.Errorf("ssh %s@%s: %w", conn.User, conn.Host, err)
	}
	return out, nil
}

// Forward starts a background `ssh -N -L` process and returns its handle.
func (r *ExecSSHRunner) Forward(_ context.Context, conn config.SSHConnection, localPort, remotePort int) (Tunnel, error) {
	args := append([]string{"-N"}, sshKeepAliveArgs...)
	args = append(args,
		"-L", fmt.Sprintf("%d:localhost:%d", localPort, remotePort),
		fmt.Sprintf("%s@%s", conn.User, conn.Host),
		"-p", strconv.Itoa(conn.Port),
	)

	// Deliberately not CommandContext: the tunnel must outlive discovery
	// and is torn down by the Registry, not by context cancellation.
	cmd := exec.Command("ssh", args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ssh tunnel: %w", err)
	}

	t := &processTunnel{
		cmd:        cmd,
		localPort:  localPort,
		remotePort: remotePort,
		done:       make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(t.done)
	}()
	return t, nil
}

// processTunnel wraps a live ssh process as a Tunnel.
type processTunnel struct {
	cmd        *exec.Cmd
	localPort  int
	remotePort int
	done       chan struct{}
}

func (t *processTunnel) PID() int        { return t.cmd.Process.Pid }
func (t *processTunnel) LocalPort() int  { return t.localPort }
func (t *processTunnel) RemotePort() int { return t.remotePort }

func (t *processTunnel) Running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *processTunnel) Terminate(timeout time.Duration) error {
	if err := t.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal tunnel pid %d: %w", t.PID(), err)
	}
	select {
	case <-t.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("tunnel pid %d did not exit within %v", t.PID(), timeout)
	}
}

func (t *processTunnel) Kill() error {
	if err := t.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill tunnel pid %d: %w", t.PID(), err)
	}
	return nil
}
