// ABOUTME: Health checks, the degradation decision table, and the periodic monitor
// ABOUTME: Three consecutive failures move a degraded integration to failed

package bridge

import (
	"context"
	"strings"
	"time"
)

// consecutiveFailureLimit is the number of failed checks after which a
// degraded integration is declared failed, and past which the monitor
// triggers automatic recovery.
const consecutiveFailureLimit = 3

// HealthSnapshot is the point-in-time result of one health check. Each check
// replaces the previous snapshot wholesale; only ConsecutiveFailures and
// Recoveries carry across checks.
type HealthSnapshot struct {
	State               State
	TransportHealthy    bool
	RegistryHealthy     bool
	LastCheck           time.Time
	ConsecutiveFailures int
	Recoveries          int
	Uptime              time.Duration
	Error               string
}

// HealthCheck probes the transport and registry independently and applies the
// state decision: both healthy moves any state to Active and resets the
// failure count; an unhealthy probe degrades an Active integration, and a
// degraded or failed one is declared Failed once the count reaches the limit.
// The returned snapshot's State always equals the bridge state at the moment
// the snapshot was produced.
func (b *Bridge) HealthCheck(ctx context.Context) HealthSnapshot {
	b.healthMu.Lock()
	defer b.healthMu.Unlock()

	b.metrics.healthChecks.Add(1)

	b.stateMu.RLock()
	transport, reg := b.transport, b.registry
	b.stateMu.RUnlock()

	transportHealthy := transport != nil && transport.IsReachable()

	registryHealthy := false
	if reg != nil {
		pctx, cancel := context.WithTimeout(ctx, b.cfg.VerificationTimeout)
		_, err := reg.ListActiveExecutions(pctx)
		cancel()
		registryHealthy = err == nil
	}

	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	snap := HealthSnapshot{
		TransportHealthy: transportHealthy,
		RegistryHealthy:  registryHealthy,
		LastCheck:        time.Now().UTC(),
		Recoveries:       b.snapshot.Recoveries,
	}

	if transportHealthy && registryHealthy {
		b.state = StateActive
		snap.ConsecutiveFailures = 0
	} else {
		snap.ConsecutiveFailures = b.snapshot.ConsecutiveFailures + 1
		switch {
		case b.state == StateActive:
			b.state = StateDegraded
		case (b.state == StateDegraded || b.state == StateFailed) &&
			snap.ConsecutiveFailures >= consecutiveFailureLimit:
			b.state = StateFailed
		}
		snap.Error = describeUnhealthy(transportHealthy, registryHealthy)
	}

	snap.State = b.state
	if !b.uptimeStart.IsZero() {
		snap.Uptime = time.Since(b.uptimeStart)
	}
	b.snapshot = snap

	return snap
}

func describeUnhealthy(transportHealthy, registryHealthy bool) string {
	var parts []string
	if !transportHealthy {
		parts = append(parts, "transport unreachable")
	}
	if !registryHealthy {
		parts = append(parts, "registry probe failed")
	}
	return strings.Join(parts, "; ")
}

// GetHealthStatus returns the latest snapshot as a status map without running
// a new probe. State reflects the current bridge state, which may be newer
// than the snapshot when a bootstrap ran since the last check.
func (b *Bridge) GetHealthStatus() map[string]any {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()

	m := map[string]any{
		"state":                b.state.String(),
		"transport_healthy":    b.snapshot.TransportHealthy,
		"registry_healthy":     b.snapshot.RegistryHealthy,
		"consecutive_failures": b.snapshot.ConsecutiveFailures,
		"recoveries":           b.snapshot.Recoveries,
		"uptime_seconds":       b.snapshot.Uptime.Seconds(),
	}
	if !b.snapshot.LastCheck.IsZero() {
		m["last_check"] = b.snapshot.LastCheck.Format(time.RFC3339Nano)
	}
	if b.snapshot.Error != "" {
		m["error"] = b.snapshot.Error
	}
	return m
}

// startMonitor launches the periodic health task if it is not already
// running. Called after each successful bootstrap.
func (b *Bridge) startMonitor() {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.monitorDone != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.monitorCancel = cancel
	b.monitorDone = done
	go b.runMonitor(ctx, done)
}

func (b *Bridge) runMonitor(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(b.cfg.HealthCheckInterval)
	defer ticker.Stop()

	b.logger.Debug("health monitor started", "interval", b.cfg.HealthCheckInterval)
	for {
		select {
		case <-ctx.Done():
			b.logger.Debug("health monitor stopped")
			return
		case <-ticker.C:
			snap := b.HealthCheck(ctx)
			if snap.ConsecutiveFailures >= consecutiveFailureLimit &&
				(snap.State == StateDegraded || snap.State == StateFailed) {
				b.triggerRecovery(ctx)
			}
		}
	}
}

// triggerRecovery starts a background recovery unless one is already in
// flight. It returns without blocking the monitor tick that observed the
// failure.
func (b *Bridge) triggerRecovery(ctx context.Context) {
	if !b.recovering.CompareAndSwap(false, true) {
		return
	}
	b.bg.Add(1)
	go func() {
		defer b.bg.Done()
		defer b.recovering.Store(false)
		b.logger.Warn("health monitor triggering recovery")
		if res := b.RecoverIntegration(ctx); !res.Success {
			b.logger.Error("automatic recovery failed", "state", res.State, "error", res.Err)
		}
	}()
}
