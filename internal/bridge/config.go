// ABOUTME: Immutable timing and retry configuration for the bridge
// ABOUTME: Zero fields are filled from defaults at construction

package bridge

import "time"

// Defaults applied by New for unset Config fields.
const (
	DefaultInitializationTimeout = 30 * time.Second
	DefaultVerificationTimeout   = 5 * time.Second
	DefaultHealthCheckInterval   = 30 * time.Second
	DefaultRecoveryMaxAttempts   = 3
	DefaultRecoveryBaseDelay     = 1 * time.Second
	DefaultRecoveryMaxDelay      = 30 * time.Second
)

// Config carries the bridge's timing and retry policy. It is read once at
// construction and never mutated afterwards.
type Config struct {
	InitializationTimeout time.Duration
	VerificationTimeout   time.Duration
	HealthCheckInterval   time.Duration
	RecoveryMaxAttempts   int
	RecoveryBaseDelay     time.Duration
	RecoveryMaxDelay      time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitializationTimeout <= 0 {
		c.InitializationTimeout = DefaultInitializationTimeout
	}
	if c.VerificationTimeout <= 0 {
		c.VerificationTimeout = DefaultVerificationTimeout
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.RecoveryMaxAttempts <= 0 {
		c.RecoveryMaxAttempts = DefaultRecoveryMaxAttempts
	}
	if c.RecoveryBaseDelay <= 0 {
		c.RecoveryBaseDelay = DefaultRecoveryBaseDelay
	}
	if c.RecoveryMaxDelay <= 0 {
		c.RecoveryMaxDelay = DefaultRecoveryMaxDelay
	}
	return c
}
