// ABOUTME: Monotonic integration counters updated atomically on transitions
// ABOUTME: Never reset during the bridge's lifetime, only on process restart

package bridge

import (
	"sync/atomic"
	"time"
)

type metrics struct {
	initAttempts      atomic.Int64
	initSuccesses     atomic.Int64
	initFailures      atomic.Int64
	recoveryAttempts  atomic.Int64
	recoverySuccesses atomic.Int64
	healthChecks      atomic.Int64
	failedDeliveries  atomic.Int64
}

// GetMetrics returns a point-in-time view of the bridge's counters.
func (b *Bridge) GetMetrics() map[string]any {
	b.stateMu.RLock()
	uptimeStart := b.uptimeStart
	b.stateMu.RUnlock()

	m := map[string]any{
		"initialization_attempts":  b.metrics.initAttempts.Load(),
		"initialization_successes": b.metrics.initSuccesses.Load(),
		"initialization_failures":  b.metrics.initFailures.Load(),
		"recovery_attempts":        b.metrics.recoveryAttempts.Load(),
		"recovery_successes":       b.metrics.recoverySuccesses.Load(),
		"health_checks_performed":  b.metrics.healthChecks.Load(),
		"failed_deliveries":        b.metrics.failedDeliveries.Load(),
		"uptime_seconds":           0.0,
	}
	if !uptimeStart.IsZero() {
		m["uptime_seconds"] = time.Since(uptimeStart).Seconds()
	}
	return m
}
