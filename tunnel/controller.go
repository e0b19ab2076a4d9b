package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/juju/clock"

	"github.com/yllada/macprox/askpass"
	"github.com/yllada/macprox/common"
	"github.com/yllada/macprox/config"
)

// Relay creates and erases askpass helpers.
type Relay interface {
	Materialize(envVar string) (string, error)
	Erase(path string) error
}

// Dialer opens probe connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options configures a Controller. Zero fields get production defaults.
type Options struct {
	Config   *config.Config
	Spawner  Spawner
	Relay    Relay
	Reporter Reporter
	Clock    clock.Clock
	Dialer   Dialer
}

// Controller drives the single managed tunnel. It owns the Handle; every
// method is safe for concurrent use and none of them may be called from a
// goroutine that must stay responsive, since Connect blocks for the grace
// period and Disconnect blocks until the process is gone.
type Controller struct {
	cfg      atomic.Pointer[config.Config]
	handle   *Handle
	spawner  Spawner
	relay    Relay
	reporter Reporter
	clock    clock.Clock
	dialer   Dialer

	watchers sync.WaitGroup
}

// NewController creates an idle Controller.
func NewController(opts Options) *Controller {
	c := &Controller{
		handle:   NewHandle(),
		spawner:  opts.Spawner,
		relay:    opts.Relay,
		reporter: opts.Reporter,
		clock:    opts.Clock,
		dialer:   opts.Dialer,
	}
	if c.spawner == nil {
		c.spawner = ExecSpawner{}
	}
	if c.relay == nil {
		c.relay = askpass.Default
	}
	if c.reporter == nil {
		c.reporter = Discard
	}
	if c.clock == nil {
		c.clock = clock.WallClock
	}
	if c.dialer == nil {
		c.dialer = &net.Dialer{}
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c.cfg.Store(cfg)
	return c
}

// SetConfig replaces the configuration used by subsequent attempts. A
// running tunnel keeps the settings it was started with.
func (c *Controller) SetConfig(cfg *config.Config) {
	if cfg != nil {
		c.cfg.Store(cfg)
	}
}

// Config returns the active configuration.
func (c *Controller) Config() *config.Config {
	return c.cfg.Load()
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	return c.handle.State()
}

// Info describes the current tunnel.
func (c *Controller) Info() Info {
	return c.handle.Info()
}

// Connect runs one connect attempt to completion and returns its outcome.
// It blocks for at least the grace period when the tunnel starts.
func (c *Controller) Connect(ctx context.Context, req Request) Outcome {
	name := req.DisplayName()

	attempt, err := c.handle.Begin()
	if errors.Is(err, common.ErrAlreadyConnected) {
		common.LogInfo("Tunnel: rejecting %s, a tunnel is already active", name)
		return Outcome{Kind: OutcomeAlreadyConnected, DisplayName: name, Err: err}
	}
	if err != nil {
		return c.fail(name, "Disconnect in progress", err)
	}
	defer c.handle.End()

	if err := req.Validate(); err != nil {
		c.handle.Release(attempt, nil, "")
		return c.fail(name, req.Problem(), err)
	}

	cfg := c.cfg.Load()
	c.report(fmt.Sprintf("Connecting to %s...", name))
	common.LogInfo("Tunnel: connecting to %s (%s)", name, req.Key())

	// Nothing should be left over here, but a leaked process would hold the
	// routes of a previous tunnel.
	if p, path := c.handle.TakeAll(); p != nil || path != "" {
		common.LogWarn("Tunnel: cleaning up leftover resources")
		c.teardown(p, path)
	}

	inv := BuildInvocation(cfg.Tunnel, req)
	helper := ""
	if req.HasPassword() {
		helper, err = c.relay.Materialize(common.PasswordEnvVar)
		if err != nil {
			common.LogError("Tunnel: %v", err)
			c.handle.Release(attempt, nil, "")
			return c.fail(name, "Failed to create askpass helper", err)
		}
		inv = inv.WithAskpass(helper, req.Password)
	}
	common.LogDebug("Tunnel: %s", inv)

	p, err := c.spawner.Spawn(inv)
	if err != nil {
		common.LogError("Tunnel: spawn failed: %v", err)
		c.handle.Release(attempt, nil, "")
		c.erase(helper)
		if !errors.Is(err, common.ErrSpawn) {
			err = fmt.Errorf("%w: %v", common.ErrSpawn, err)
		}
		return c.fail(name, fmt.Sprintf("Failed to start %s: %s", inv.Program, unwrapSentinel(err, common.ErrSpawn)), err)
	}
	if !c.handle.Attach(attempt, p, helper) {
		// A disconnect took over while we were spawning.
		c.teardown(p, helper)
		return c.cancelled(name)
	}

	if out, ok := c.probe(ctx, attempt, p, helper, name, cfg); !ok {
		return out
	}

	if !c.handle.Commit(attempt, p, name, c.clock.Now()) {
		// The disconnect that superseded us owns p and the helper now.
		return c.cancelled(name)
	}

	c.watchers.Add(1)
	go c.watch(p, name, cfg.Health)

	common.LogInfo("Tunnel: connected to %s (PID %d)", name, p.Pid())
	out := Outcome{Kind: OutcomeConnected, DisplayName: name}
	c.report(out.Message())
	return out
}

// probe waits out the grace period and checks the process survived it,
// then runs the optional readiness dial. On failure it tears the attempt
// down and returns the outcome to report.
func (c *Controller) probe(ctx context.Context, attempt uint64, p Process, helper, name string, cfg *config.Config) (Outcome, bool) {
	grace := cfg.Tunnel.GracePeriod.Std()
	timer := c.clock.NewTimer(grace)
	select {
	case <-timer.Chan():
	case <-p.Done():
		timer.Stop()
	case <-ctx.Done():
		timer.Stop()
		c.teardownAttempt(attempt, p, helper)
		return c.cancelled(name), false
	}

	if !c.handle.Owns(p) {
		// Disconnect took p and is stopping it.
		return c.cancelled(name), false
	}

	if exited, exitErr := p.Exited(); exited {
		status := describeExit(exitErr)
		common.LogError("Tunnel: %s exited during startup: %s", name, status)
		for _, line := range p.StderrTail() {
			common.LogError("Tunnel: stderr: %s", line)
		}
		c.teardownAttempt(attempt, p, helper)
		return c.fail(name, "Connection failed: "+status,
			fmt.Errorf("%w: %s", common.ErrEarlyExit, status)), false
	}

	if hosts := cfg.Readiness.Hosts; len(hosts) > 0 {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.Readiness.Timeout.Std())
		_, err := testConnectivity(probeCtx, c.dialer, hosts, c.clock)
		cancel()
		if err != nil {
			common.LogError("Tunnel: readiness probe failed: %v", err)
			c.teardownAttempt(attempt, p, helper)
			return c.fail(name, "Tunnel not ready: "+unwrapSentinel(err, common.ErrNotReady), err), false
		}
	}
	return Outcome{}, true
}

// watch follows a committed tunnel until its process exits. When the exit
// was not caused by Disconnect it reclaims the Handle.
func (c *Controller) watch(p Process, name string, hcfg config.HealthConfig) {
	defer c.watchers.Done()

	if interval := hcfg.Interval.Std(); interval > 0 {
		hc := NewHealthChecker(HealthConfig{
			CheckInterval:    interval,
			FailureThreshold: hcfg.FailureThreshold,
			TestHosts:        hcfg.TestHosts,
		}, c.clock, c.dialer)
		hc.SetOnHealthChange(func(_, state HealthState) {
			if !c.handle.Owns(p) {
				return
			}
			c.report(fmt.Sprintf("Tunnel %s: %s", strings.ToLower(state.String()), name))
		})
		c.watchers.Add(1)
		go func() {
			defer c.watchers.Done()
			hc.Run(p.Done())
		}()
	}

	<-p.Done()
	path, ok := c.handle.Reclaim(p)
	if !ok {
		return
	}
	_, err := p.Exited()
	status := describeExit(err)
	common.LogWarn("Tunnel: %s exited unexpectedly: %s", name, status)
	for _, line := range p.StderrTail() {
		common.LogWarn("Tunnel: stderr: %s", line)
	}
	c.erase(path)
	c.report("Tunnel exited: " + status)
}

// Disconnect tears down whatever the Handle holds, waits for any attempt
// still in flight to finish and reports "Disconnected". It never fails;
// teardown errors are logged.
func (c *Controller) Disconnect() {
	p, path := c.handle.BeginTeardown()
	if p != nil {
		common.LogInfo("Tunnel: stopping PID %d", p.Pid())
	}
	c.teardown(p, path)
	// A superseded attempt may still be stopping a process it never
	// attached.
	<-c.handle.Drained()
	c.handle.Settle()
	common.LogInfo("Tunnel: disconnected")
	c.report(StateIdle.String())
}

// Wait blocks until the background watchers of past tunnels have finished.
func (c *Controller) Wait() {
	c.watchers.Wait()
}

// Submit is the front-end entry point for a connect request built from raw
// form values. It returns the status line and whether a tunnel is up.
func (c *Controller) Submit(ctx context.Context, label, host, portText, username, password string) (string, bool) {
	out := c.Connect(ctx, NewRequest(label, host, portText, username, password))
	return out.Message(), c.handle.Connected()
}

// Close is the front-end entry point for a disconnect request.
func (c *Controller) Close() (string, bool) {
	c.Disconnect()
	return StateIdle.String(), false
}

// teardownAttempt releases what attempt still owns and tears it down.
func (c *Controller) teardownAttempt(attempt uint64, p Process, helper string) {
	tookProc, tookPath := c.handle.Release(attempt, p, helper)
	c.teardown(tookProc, tookPath)
}

// teardown stops p before erasing the helper. ssh may still read the helper
// until the process is gone.
func (c *Controller) teardown(p Process, path string) {
	if p != nil {
		if err := c.stop(p); err != nil {
			common.LogDebug("Tunnel: stop: %v", err)
		}
	}
	c.erase(path)
}

func (c *Controller) erase(path string) {
	if err := c.relay.Erase(path); err != nil {
		common.LogDebug("Tunnel: %v", err)
	}
}

// stop sends SIGTERM so sshuttle can restore the firewall, then SIGKILL if
// it is still running after the stop timeout. It returns once p is reaped.
func (c *Controller) stop(p Process) error {
	if err := p.Terminate(); err != nil {
		common.LogDebug("Tunnel: terminate PID %d: %v", p.Pid(), err)
	}

	timer := c.clock.NewTimer(c.cfg.Load().Tunnel.StopTimeout.Std())
	select {
	case <-p.Done():
		timer.Stop()
		return nil
	case <-timer.Chan():
	}

	common.LogWarn("Tunnel: PID %d ignored SIGTERM, killing", p.Pid())
	if err := p.Kill(); err != nil {
		return fmt.Errorf("%w: kill PID %d: %v", common.ErrTeardown, p.Pid(), err)
	}
	<-p.Done()
	return nil
}

func (c *Controller) fail(name, reason string, err error) Outcome {
	out := Outcome{Kind: OutcomeFailed, DisplayName: name, Reason: reason, Err: err}
	c.report(out.Message())
	return out
}

func (c *Controller) cancelled(name string) Outcome {
	common.LogInfo("Tunnel: attempt for %s cancelled", name)
	return c.fail(name, "Connection cancelled", common.ErrCancelled)
}

func (c *Controller) report(text string) {
	state := c.handle.State()
	c.reporter.Report(Status{
		State:     state,
		Text:      text,
		Connected: state == StateConnected,
		Time:      c.clock.Now(),
	})
}

// unwrapSentinel strips the sentinel prefix from err's message so the user
// sees the underlying cause.
func unwrapSentinel(err, sentinel error) string {
	msg := err.Error()
	if errors.Is(err, sentinel) {
		msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
	}
	return msg
}
