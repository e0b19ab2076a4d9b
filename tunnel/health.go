package tunnel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/yllada/macprox/common"
)

// HealthState represents the current health state of the tunnel.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

// String returns a human-readable representation of the health state.
func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// HealthConfig holds configuration for the health checker.
type HealthConfig struct {
	// CheckInterval is how often to check connectivity.
	CheckInterval time.Duration
	// FailureThreshold is how many consecutive failures before marking unhealthy.
	FailureThreshold int
	// TestHosts are host:port endpoints dialed through the tunnel.
	TestHosts []string
	// DialTimeout bounds each check.
	DialTimeout time.Duration
}

// DefaultHealthConfig returns sensible defaults for health checking.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval:    30 * time.Second,
		FailureThreshold: 3,
		TestHosts: []string{
			"1.1.1.1:53", // Cloudflare DNS
			"8.8.8.8:53", // Google DNS
		},
		DialTimeout: 5 * time.Second,
	}
}

// HealthSnapshot is a copy of the checker's bookkeeping.
type HealthSnapshot struct {
	State            HealthState
	LastCheck        time.Time
	LastSuccess      time.Time
	ConsecutiveFails int
	Latency          time.Duration
}

// HealthChecker periodically dials test hosts through a connected tunnel
// and tracks Healthy, Degraded and Unhealthy transitions. It only observes;
// it never restarts the tunnel.
type HealthChecker struct {
	mu             sync.RWMutex
	config         HealthConfig
	clock          clock.Clock
	dialer         Dialer
	health         HealthSnapshot
	onHealthChange func(oldState, newState HealthState)
}

// NewHealthChecker creates a health checker. Zero config fields take the
// defaults.
func NewHealthChecker(config HealthConfig, clk clock.Clock, dialer Dialer) *HealthChecker {
	def := DefaultHealthConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = def.CheckInterval
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if len(config.TestHosts) == 0 {
		config.TestHosts = def.TestHosts
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = def.DialTimeout
	}
	return &HealthChecker{
		config: config,
		clock:  clk,
		dialer: dialer,
	}
}

// SetOnHealthChange sets a callback for health state changes.
func (hc *HealthChecker) SetOnHealthChange(callback func(oldState, newState HealthState)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onHealthChange = callback
}

// Snapshot returns the current health bookkeeping.
func (hc *HealthChecker) Snapshot() HealthSnapshot {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.health
}

// Run checks every CheckInterval until stop is closed.
func (hc *HealthChecker) Run(stop <-chan struct{}) {
	common.LogInfo("Health checker started (interval: %v)", hc.config.CheckInterval)
	defer common.LogInfo("Health checker stopped")

	for {
		select {
		case <-stop:
			return
		case <-hc.clock.After(hc.config.CheckInterval):
		}

		ctx, cancel := context.WithTimeout(context.Background(), hc.config.DialTimeout)
		go func() {
			select {
			case <-stop:
				cancel()
			case <-ctx.Done():
			}
		}()
		hc.Check(ctx)
		cancel()
	}
}

// Check performs one connectivity test and returns the resulting state.
func (hc *HealthChecker) Check(ctx context.Context) HealthState {
	latency, err := testConnectivity(ctx, hc.dialer, hc.config.TestHosts, hc.clock)

	hc.mu.Lock()
	now := hc.clock.Now()
	health := &hc.health
	health.LastCheck = now
	oldState := health.State

	if err != nil {
		health.ConsecutiveFails++
		health.Latency = 0
		common.LogWarn("Health check failed (attempt %d/%d): %v",
			health.ConsecutiveFails, hc.config.FailureThreshold, err)

		if health.ConsecutiveFails >= hc.config.FailureThreshold {
			health.State = HealthUnhealthy
		} else {
			health.State = HealthDegraded
		}
	} else {
		health.ConsecutiveFails = 0
		health.LastSuccess = now
		health.Latency = latency
		health.State = HealthHealthy
	}
	newState := health.State
	callback := hc.onHealthChange
	hc.mu.Unlock()

	if oldState != newState {
		common.LogInfo("Health state changed: %s -> %s", oldState, newState)
		if callback != nil {
			callback(oldState, newState)
		}
	}
	return newState
}

// testConnectivity dials each host in turn and returns the latency of the
// first that answers. The error wraps common.ErrNotReady when none does.
func testConnectivity(ctx context.Context, dialer Dialer, hosts []string, clk clock.Clock) (time.Duration, error) {
	var failures []string
	for _, host := range hosts {
		start := clk.Now()
		conn, err := dialer.DialContext(ctx, "tcp", host)
		if err == nil {
			conn.Close()
			return clk.Now().Sub(start), nil
		}
		failures = append(failures, err.Error())
		if ctx.Err() != nil {
			break
		}
	}
	if len(failures) == 0 {
		return 0, fmt.Errorf("%w: no hosts to check", common.ErrNotReady)
	}
	return 0, fmt.Errorf("%w: %s", common.ErrNotReady, strings.Join(failures, "; "))
}
