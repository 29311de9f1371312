// ABOUTME: Recovery controller re-running bootstrap with bounded exponential backoff
// ABOUTME: Serialized by its own lock so concurrent recoveries collapse into one

package bridge

import (
	"context"
	"fmt"
	"time"
)

// RecoverIntegration re-establishes the integration by re-running bootstrap
// with the previously stored collaborators. Attempt i waits
// min(RecoveryBaseDelay × 2^i, RecoveryMaxDelay) beforehand, except the first
// attempt which runs immediately. Every attempt is recorded in metrics. After
// RecoveryMaxAttempts failures the state is Failed and only a later
// EnsureIntegration call (or the next monitor-triggered recovery) leaves it.
func (b *Bridge) RecoverIntegration(ctx context.Context) Result {
	b.recoveryMu.Lock()
	defer b.recoveryMu.Unlock()

	start := time.Now()
	maxAttempts := b.cfg.RecoveryMaxAttempts

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := b.backoffDelay(attempt)
			b.logger.Info("recovery backoff", "attempt", attempt+1, "max_attempts", maxAttempts, "delay", delay)
			select {
			case <-ctx.Done():
				b.setState(StateFailed)
				return Result{
					State:             StateFailed,
					Err:               fmt.Errorf("recovery cancelled: %w", ctx.Err()),
					Duration:          time.Since(start),
					RecoveryAttempted: true,
				}
			case <-time.After(delay):
			}
		}

		b.metrics.recoveryAttempts.Add(1)
		res := b.EnsureIntegration(ctx, EnsureOptions{ForceReinit: true})
		if res.Success {
			b.metrics.recoverySuccesses.Add(1)
			b.stateMu.Lock()
			b.snapshot.Recoveries++
			b.stateMu.Unlock()
			b.logger.Info("integration recovered", "attempt", attempt+1)
			return Result{
				Success:           true,
				State:             res.State,
				Duration:          time.Since(start),
				RecoveryAttempted: true,
			}
		}
		lastErr = res.Err
	}

	b.setState(StateFailed)
	err := fmt.Errorf("recovery failed after %d attempts", maxAttempts)
	if lastErr != nil {
		err = fmt.Errorf("recovery failed after %d attempts: %w", maxAttempts, lastErr)
	}
	return Result{
		State:             StateFailed,
		Err:               err,
		Duration:          time.Since(start),
		RecoveryAttempted: true,
	}
}

// backoffDelay computes min(base × 2^attempt, max) without overflowing.
func (b *Bridge) backoffDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := b.cfg.RecoveryBaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.cfg.RecoveryMaxDelay {
			return b.cfg.RecoveryMaxDelay
		}
	}
	return d
}
