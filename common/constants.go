// Package common provides shared constants, types, and utilities
// used across MacProx.
package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "com.macprox.app"
	// AppName is the display name of the application.
	AppName = "MacProx"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "macprox"
)

// File names used by the application.
const (
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	HistoryFileName     = "history.db"
	LogFileName         = "macprox.log"
)

// Tunnel tool defaults.
const (
	// DefaultTunnelProgram is the traffic-routing tool we supervise.
	DefaultTunnelProgram = "sshuttle"
	// DefaultSSHProgram is the transport sshuttle runs for us.
	DefaultSSHProgram = "ssh"
	// DefaultSSHPort is used when the port field is empty or unparseable.
	DefaultSSHPort uint16 = 22
	// DefaultMethod is passed to sshuttle --method.
	DefaultMethod = "auto"
	// DefaultSubnet routes all IPv4 traffic through the tunnel.
	DefaultSubnet = "0.0.0.0/0"
	// DefaultKeepAliveInterval is the ssh ServerAliveInterval in seconds.
	DefaultKeepAliveInterval = 15
	// DefaultKeepAliveCountMax is the ssh ServerAliveCountMax.
	DefaultKeepAliveCountMax = 3
)

// Askpass hand-off environment.
const (
	// PasswordEnvVar carries the secret into the child environment.
	PasswordEnvVar = "MACPROX_SSH_PASSWORD"
	// AskpassPrefix prefixes helper script names in the temp dir.
	AskpassPrefix = "macprox-askpass"
)

// Default timeouts and intervals.
const (
	// StartupGracePeriod is how long a freshly spawned tunnel must survive
	// before it is treated as connected.
	StartupGracePeriod = 4 * time.Second
	// StopTimeout is how long a tunnel gets to exit after SIGTERM before it
	// is killed.
	StopTimeout = 5 * time.Second
	// ReadinessTimeout is the per-host dial timeout of the readiness probe.
	ReadinessTimeout = 3 * time.Second
	// StderrTailLines bounds the captured stderr of the tunnel process.
	StderrTailLines = 50
	// HistoryRetention is how long recorded tunnel events are kept.
	HistoryRetention = 30 * 24 * time.Hour
)
