// Package config provides configuration management for MacProx.
// It handles loading, saving, and watching the tunnel settings.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/macprox/common"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// Tunnel controls how sshuttle and its ssh transport are invoked.
	Tunnel TunnelConfig `yaml:"tunnel"`
	// Readiness optionally strengthens the startup check with TCP dials
	// through the tunnel after the grace period.
	Readiness ReadinessConfig `yaml:"readiness"`
	// Health enables periodic connectivity checks while connected.
	Health HealthConfig `yaml:"health"`
	// ShowNotifications enables desktop notifications for connection events.
	ShowNotifications bool `yaml:"show_notifications"`
	// History records connect and disconnect outcomes in a local database.
	History bool `yaml:"history"`
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
	// LogToFile also writes logs under ~/.config/macprox/logs.
	LogToFile bool `yaml:"log_to_file"`
}

// TunnelConfig describes the external tool invocation.
type TunnelConfig struct {
	// Program is the sshuttle executable.
	Program string `yaml:"program"`
	// SSHProgram is the transport passed to sshuttle -e.
	SSHProgram string `yaml:"ssh_program"`
	// DNS forwards DNS requests through the tunnel.
	DNS bool `yaml:"dns"`
	// Method is the sshuttle firewall method.
	Method string `yaml:"method"`
	// Subnets are routed through the tunnel.
	Subnets []string `yaml:"subnets"`
	// Exclude lists extra subnets that bypass the tunnel. The remote host is
	// always excluded.
	Exclude []string `yaml:"exclude,omitempty"`
	// KeepAliveInterval is the ssh ServerAliveInterval in seconds.
	KeepAliveInterval int `yaml:"keepalive_interval"`
	// KeepAliveCountMax is the ssh ServerAliveCountMax.
	KeepAliveCountMax int `yaml:"keepalive_count_max"`
	// GracePeriod is how long a fresh tunnel must survive to count as up.
	GracePeriod Duration `yaml:"grace_period"`
	// StopTimeout is how long the tunnel gets after SIGTERM before SIGKILL.
	StopTimeout Duration `yaml:"stop_timeout"`
}

// ReadinessConfig lists endpoints dialed once after the grace period.
type ReadinessConfig struct {
	Hosts   []string `yaml:"hosts,omitempty"`
	Timeout Duration `yaml:"timeout"`
}

// HealthConfig configures the connected-tunnel health monitor.
type HealthConfig struct {
	// Interval between checks; zero disables the monitor.
	Interval         Duration `yaml:"interval"`
	FailureThreshold int      `yaml:"failure_threshold"`
	TestHosts        []string `yaml:"test_hosts,omitempty"`
}

// Duration is a time.Duration that marshals as a Go duration string.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// DefaultConfig returns the default configuration.
// Defaults reproduce the plain fixed-delay startup check.
func DefaultConfig() *Config {
	return &Config{
		Tunnel: TunnelConfig{
			Program:           common.DefaultTunnelProgram,
			SSHProgram:        common.DefaultSSHProgram,
			DNS:               true,
			Method:            common.DefaultMethod,
			Subnets:           []string{common.DefaultSubnet},
			KeepAliveInterval: common.DefaultKeepAliveInterval,
			KeepAliveCountMax: common.DefaultKeepAliveCountMax,
			GracePeriod:       Duration(common.StartupGracePeriod),
			StopTimeout:       Duration(common.StopTimeout),
		},
		Readiness: ReadinessConfig{
			Timeout: Duration(common.ReadinessTimeout),
		},
		Health: HealthConfig{
			FailureThreshold: 3,
			TestHosts: []string{
				"1.1.1.1:53",
				"8.8.8.8:53",
			},
		},
		ShowNotifications: true,
		History:           true,
		LogLevel:          "info",
	}
}

// DefaultPath returns ~/.config/macprox/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", common.ConfigDirName, common.ConfigFileName), nil
}

// LoadFile loads the configuration at path, writing defaults there when the
// file does not exist yet.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		if err := cfg.SaveFile(path); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	return readFile(path)
}

// readFile decodes and validates the configuration at path. Unlike LoadFile
// it never creates the file.
func readFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)

	// Fields missing from the file keep their defaults.
	cfg := DefaultConfig()
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: error parsing configuration: %v", common.ErrConfigLoad, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid configuration: %v", common.ErrConfigLoad, err)
	}

	return cfg, nil
}

// validate rejects values sshuttle cannot use and falls back to defaults for
// values that are merely out of range.
func (c *Config) validate() error {
	def := DefaultConfig()
	t := &c.Tunnel

	if strings.TrimSpace(t.Program) == "" {
		t.Program = def.Tunnel.Program
	}
	if strings.TrimSpace(t.SSHProgram) == "" {
		t.SSHProgram = def.Tunnel.SSHProgram
	}
	if strings.TrimSpace(t.Method) == "" {
		t.Method = def.Tunnel.Method
	}
	if len(t.Subnets) == 0 {
		t.Subnets = def.Tunnel.Subnets
	}
	for _, s := range append(append([]string{}, t.Subnets...), t.Exclude...) {
		if _, _, err := net.ParseCIDR(s); err != nil && net.ParseIP(s) == nil {
			return fmt.Errorf("invalid subnet %q", s)
		}
	}
	if t.KeepAliveInterval <= 0 {
		t.KeepAliveInterval = def.Tunnel.KeepAliveInterval
	}
	if t.KeepAliveCountMax <= 0 {
		t.KeepAliveCountMax = def.Tunnel.KeepAliveCountMax
	}
	if t.GracePeriod <= 0 {
		t.GracePeriod = def.Tunnel.GracePeriod
	}
	if t.StopTimeout <= 0 {
		t.StopTimeout = def.Tunnel.StopTimeout
	}

	if c.Readiness.Timeout <= 0 {
		c.Readiness.Timeout = def.Readiness.Timeout
	}
	for _, h := range c.Readiness.Hosts {
		if _, _, err := net.SplitHostPort(h); err != nil {
			return fmt.Errorf("invalid readiness host %q: %v", h, err)
		}
	}

	if c.Health.Interval < 0 {
		c.Health.Interval = 0
	}
	if c.Health.FailureThreshold <= 0 {
		c.Health.FailureThreshold = def.Health.FailureThreshold
	}
	if c.Health.Interval > 0 && len(c.Health.TestHosts) == 0 {
		c.Health.TestHosts = def.Health.TestHosts
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		c.LogLevel = def.LogLevel
	}
	return nil
}

// SaveFile writes the configuration to path with owner-only permissions.
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("%w: error creating config directory: %v", common.ErrConfigSave, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: error serializing configuration: %v", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	return nil
}
