package tunnel

import (
	"fmt"
	"strings"

	"github.com/yllada/macprox/common"
	"github.com/yllada/macprox/config"
)

// Environment variables handed to ssh for password authentication.
const (
	envAskpass        = "SSH_ASKPASS"
	envAskpassRequire = "SSH_ASKPASS_REQUIRE"
	envDisplay        = "DISPLAY"
)

// Invocation is a fully built command line for the tunnel process.
type Invocation struct {
	Program string
	Args    []string
	// Env holds KEY=VALUE additions to the inherited environment.
	Env []string
}

// BuildInvocation assembles the sshuttle command line for req.
//
//	sshuttle --dns -r user@host 0.0.0.0/0 --method auto -x host \
//	    -e "ssh -p PORT -o ExitOnForwardFailure=yes ..."
//
// Password options are added to the transport only when req carries a
// password; the askpass environment is added separately by WithAskpass.
func BuildInvocation(cfg config.TunnelConfig, req Request) Invocation {
	program := cfg.Program
	if program == "" {
		program = common.DefaultTunnelProgram
	}
	subnets := cfg.Subnets
	if len(subnets) == 0 {
		subnets = []string{common.DefaultSubnet}
	}
	method := cfg.Method
	if method == "" {
		method = common.DefaultMethod
	}

	var args []string
	if cfg.DNS {
		args = append(args, "--dns")
	}
	args = append(args, "-r", req.Remote())
	args = append(args, subnets...)
	args = append(args, "--method", method)
	// The ssh server itself must not be routed into the tunnel.
	args = append(args, "-x", req.Host)
	for _, ex := range cfg.Exclude {
		args = append(args, "-x", ex)
	}
	args = append(args, "-e", transportCommand(cfg, req))

	return Invocation{Program: program, Args: args}
}

// transportCommand builds the ssh command sshuttle runs with -e.
func transportCommand(cfg config.TunnelConfig, req Request) string {
	ssh := cfg.SSHProgram
	if ssh == "" {
		ssh = common.DefaultSSHProgram
	}
	interval := cfg.KeepAliveInterval
	if interval <= 0 {
		interval = common.DefaultKeepAliveInterval
	}
	countMax := cfg.KeepAliveCountMax
	if countMax <= 0 {
		countMax = common.DefaultKeepAliveCountMax
	}
	port := req.Port
	if port == 0 {
		port = common.DefaultSSHPort
	}

	parts := []string{
		ssh,
		"-p", fmt.Sprint(port),
		"-o", "ExitOnForwardFailure=yes",
		"-o", fmt.Sprintf("ServerAliveInterval=%d", interval),
		"-o", fmt.Sprintf("ServerAliveCountMax=%d", countMax),
	}
	if req.HasPassword() {
		parts = append(parts,
			"-o", "PreferredAuthentications=password",
			"-o", "PubkeyAuthentication=no",
			"-o", "NumberOfPasswordPrompts=1",
		)
	}
	return strings.Join(parts, " ")
}

// WithAskpass returns a copy of inv whose environment makes ssh read the
// password from the helper at path.
func (inv Invocation) WithAskpass(path, password string) Invocation {
	env := make([]string, 0, len(inv.Env)+4)
	env = append(env, inv.Env...)
	env = append(env,
		common.PasswordEnvVar+"="+password,
		envAskpass+"="+path,
		envAskpassRequire+"=force",
		// Some ssh builds ignore SSH_ASKPASS without a display.
		envDisplay+"=:0",
	)
	inv.Env = env
	inv.Args = append([]string(nil), inv.Args...)
	return inv
}

// Lookup returns the value the invocation sets for key.
func (inv Invocation) Lookup(key string) (string, bool) {
	prefix := key + "="
	for i := len(inv.Env) - 1; i >= 0; i-- {
		if strings.HasPrefix(inv.Env[i], prefix) {
			return strings.TrimPrefix(inv.Env[i], prefix), true
		}
	}
	return "", false
}

// String renders the command line for logs. Environment values are
// redacted.
func (inv Invocation) String() string {
	var b strings.Builder
	for _, kv := range common.RedactEnv(inv.Env) {
		b.WriteString(kv)
		b.WriteByte(' ')
	}
	b.WriteString(inv.Program)
	for _, a := range inv.Args {
		b.WriteByte(' ')
		if strings.ContainsAny(a, " \t") {
			b.WriteString(fmt.Sprintf("%q", a))
		} else {
			b.WriteString(a)
		}
	}
	return b.String()
}
