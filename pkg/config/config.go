// Package config loads the droidpilot configuration file. Both YAML and TOML
// are accepted, chosen by file extension; the structure is identical.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration object.
type Config struct {
	ADB       ADBConfig       `yaml:"adb" toml:"adb"`
	Providers ProvidersConfig `yaml:"device_providers" toml:"device_providers"`
	LLM       LLMConfig       `yaml:"llm" toml:"llm"`
	Proxy     ProxyConfig     `yaml:"proxy" toml:"proxy"`
	Agent     AgentConfig     `yaml:"agent" toml:"agent"`
	Scheduler SchedulerConfig `yaml:"scheduler" toml:"scheduler"`
	Tasks     []string        `yaml:"tasks" toml:"tasks"`
	RunRoot   string          `yaml:"run_root" toml:"run_root"`
}

// ADBConfig locates the adb binary.
type ADBConfig struct {
	ExecutablePath string `yaml:"executable_path" toml:"executable_path"`
}

// ProvidersConfig enables and parameterises the device discovery strategies.
type ProvidersConfig struct {
	Local            LocalProviderConfig `yaml:"local" toml:"local"`
	RemoteIP         RemoteIPConfig      `yaml:"remote_ip" toml:"remote_ip"`
	SSHReverseTunnel ReverseTunnelConfig `yaml:"ssh_reverse_tunnel" toml:"ssh_reverse_tunnel"`
	SSHForwardTunnel ForwardTunnelConfig `yaml:"ssh_forward_tunnel" toml:"ssh_forward_tunnel"`
}

// LocalProviderConfig covers locally attached devices.
type LocalProviderConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// RemoteIPConfig covers devices reachable by adb-over-TCP.
type RemoteIPConfig struct {
	Enabled bool         `yaml:"enabled" toml:"enabled"`
	Remotes []RemoteHost `yaml:"remotes" toml:"remotes"`
}

// RemoteHost is one adb connect target.
type RemoteHost struct {
	Host string `yaml:"host" toml:"host"`
}

// ReverseTunnelConfig covers pre-established reverse tunnels; only the local
// port is needed.
type ReverseTunnelConfig struct {
	Enabled bool            `yaml:"enabled" toml:"enabled"`
	Tunnels []ReverseTunnel `yaml:"tunnels" toml:"tunnels"`
}

// ReverseTunnel is one reverse-tunnel endpoint.
type ReverseTunnel struct {
	LocalPort int `yaml:"local_port" toml:"local_port"`
}

// ForwardTunnelConfig covers SSH hosts whose devices are reached through
// locally established port forwards.
type ForwardTunnelConfig struct {
	Enabled     bool            `yaml:"enabled" toml:"enabled"`
	Connections []SSHConnection `yaml:"connections" toml:"connections"`
}

// SSHConnection is one remote SSH endpoint hosting Android devices.
type SSHConnection struct {
	User           string `yaml:"ssh_user" toml:"ssh_user"`
	Host           string `yaml:"ssh_host" toml:"ssh_host"`
	Port           int    `yaml:"ssh_port" toml:"ssh_port"`
	RemoteADBPath  string `yaml:"remote_adb_path" toml:"remote_adb_path"`
	LocalStartPort int    `yaml:"local_start_port" toml:"local_start_port"`
}

// LLMConfig selects and parameterises the model provider.
type LLMConfig struct {
	APIMode   string                    `yaml:"api_mode" toml:"api_mode"` // openai | gemini | claude
	Providers map[string]ProviderConfig `yaml:"providers" toml:"providers"`
}

// ProviderConfig holds one provider's credentials and behaviour.
type ProviderConfig struct {
	Model   string `yaml:"model" toml:"model"`
	APIKey  string `yaml:"api_key" toml:"api_key"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
	Timeout int    `yaml:"timeout" toml:"timeout"` // seconds
	IsVLM   bool   `yaml:"is_vlm" toml:"is_vlm"`
}

// ProxyConfig routes LLM traffic through an HTTP proxy when enabled.
type ProxyConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Server  string `yaml:"server" toml:"server"`
}

// AgentConfig tunes the per-device control loop.
type AgentConfig struct {
	MaxSteps         int                    `yaml:"max_steps" toml:"max_steps"`
	RetryOnError     RetryConfig            `yaml:"retry_on_error" toml:"retry_on_error"`
	ImageCompression ImageCompressionConfig `yaml:"image_compression" toml:"image_compression"`
}

// RetryConfig bounds retries of transient decision failures.
type RetryConfig struct {
	Enabled  bool `yaml:"enabled" toml:"enabled"`
	Attempts int  `yaml:"attempts" toml:"attempts"`
}

// ImageCompressionConfig optionally downscales screenshots before they are
// sent to the model and persisted.
type ImageCompressionConfig struct {
	Enabled     bool    `yaml:"enabled" toml:"enabled"`
	ScaleFactor float64 `yaml:"scale_factor" toml:"scale_factor"`
}

// SchedulerConfig selects the dispatch policy and its timings. Timings are
// plain seconds in the file; use the accessor methods for durations.
type SchedulerConfig struct {
	Policy             string `yaml:"policy" toml:"policy"` // polling | pool
	PollIntervalSec    int    `yaml:"poll_interval_sec" toml:"poll_interval_sec"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec" toml:"shutdown_timeout_sec"`
	SocketPath         string `yaml:"socket_path" toml:"socket_path"`
	DBPath             string `yaml:"db_path" toml:"db_path"`
	TaskSpoolDir       string `yaml:"task_spool_dir" toml:"task_spool_dir"`
}

// PollInterval returns the polling policy's reap/assign interval.
func (s SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSec) * time.Second
}

// ShutdownTimeout returns the bounded grace period for worker drain.
func (s SchedulerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSec) * time.Second
}

// Load reads and parses the config file at path. The format is chosen by
// extension: .toml uses TOML, everything else YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	switch filepath.Ext(path) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse toml config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	}

	out := cfg.withDefaults()
	return &out, nil
}

func (c Config) withDefaults() Config {
	out := c
	if out.ADB.ExecutablePath == "" {
		out.ADB.ExecutablePath = "adb"
	}
	if out.LLM.APIMode == "" {
		out.LLM.APIMode = "openai"
	}
	if out.Agent.MaxSteps == 0 {
		out.Agent.MaxSteps = 15
	}
	if out.Agent.RetryOnError.Attempts == 0 {
		out.Agent.RetryOnError.Attempts = 3
	}
	if out.Agent.ImageCompression.ScaleFactor == 0 {
		out.Agent.ImageCompression.ScaleFactor = 0.5
	}
	if out.Scheduler.Policy == "" {
		out.Scheduler.Policy = "polling"
	}
	if out.Scheduler.PollIntervalSec == 0 {
		out.Scheduler.PollIntervalSec = 2
	}
	if out.Scheduler.ShutdownTimeoutSec == 0 {
		out.Scheduler.ShutdownTimeoutSec = 10
	}
	if out.Scheduler.SocketPath == "" {
		out.Scheduler.SocketPath = filepath.Join(os.TempDir(), "droidpilot.sock")
	}
	if out.RunRoot == "" {
		out.RunRoot = "runs"
	}
	return out
}

// Provider returns the active provider's configuration.
func (c *Config) Provider() ProviderConfig {
	return c.LLM.Providers[c.LLM.APIMode]
}
