// ABOUTME: Integration lifecycle manager connecting agent runs to transport channels
// ABOUTME: Owns the state machine, bootstrap, and collaborator handles

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/netra-systems/zenbridge/internal/events"
	"github.com/netra-systems/zenbridge/internal/registry"
)

// TransportManager is the capability set the bridge needs from the transport
// layer. Deliver errors mean the channel could not be reached; the emitter
// converts them to a false return, never a propagated fault.
type TransportManager interface {
	Deliver(ctx context.Context, channelID string, env *events.Envelope) error
	IsReachable() bool
	ScopedHandle(userID, connectionID string) (TransportHandle, error)
}

// TransportHandle is a delivery capability scoped to a single user (and
// optionally one connection). Must be safe for concurrent use.
type TransportHandle interface {
	Deliver(ctx context.Context, channelID string, env *events.Envelope) error
	UserID() string
}

// ExecutionRegistry is the secondary dependency: authoritative run→thread
// mappings plus the active-execution listing used as a liveness probe.
type ExecutionRegistry interface {
	ListActiveExecutions(ctx context.Context) ([]registry.Execution, error)
	RegisterMapping(ctx context.Context, runID, threadID string) error
	UnregisterMapping(ctx context.Context, runID string) error
	Lookup(ctx context.Context, runID string) (string, bool)
}

// Result reports the outcome of a bootstrap or recovery pass.
type Result struct {
	Success           bool
	State             State
	Err               error
	Duration          time.Duration
	RecoveryAttempted bool
}

// EnsureOptions supplies collaborators for EnsureIntegration. Nil fields keep
// the handles stored by a previous call, which is how recovery re-runs
// bootstrap without the original caller present.
type EnsureOptions struct {
	Transport   TransportManager
	Registry    ExecutionRegistry
	ForceReinit bool
}

// Bridge tracks whether the transport integration is usable, recovers it
// without caller involvement, and emits execution events to conversation
// channels. One instance per deployment scope; callers own it explicitly,
// there is no package-level instance.
//
// Lock model: bootstrapMu, healthMu, and recoveryMu each serialize one
// operation class. RecoverIntegration acquires bootstrapMu while holding
// recoveryMu; no other cross-acquisition exists, so the ordering cannot
// deadlock. stateMu is a short-hold leaf guarding the shared fields and is
// never held across collaborator calls.
type Bridge struct {
	cfg    Config
	logger *slog.Logger

	bootstrapMu sync.Mutex
	healthMu    sync.Mutex
	recoveryMu  sync.Mutex

	stateMu     sync.RWMutex
	state       State
	snapshot    HealthSnapshot
	transport   TransportManager
	registry    ExecutionRegistry
	emitter     *emitter
	uptimeStart time.Time

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}

	recovering atomic.Bool
	bg         sync.WaitGroup

	metrics metrics
}

// New constructs an uninitialized bridge. Call EnsureIntegration before
// emitting events.
func New(cfg Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "bridge"),
		state:  StateUninitialized,
	}
}

// State returns the current integration state.
func (b *Bridge) State() State {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.state
}

func (b *Bridge) setState(s State) {
	b.stateMu.Lock()
	b.state = s
	b.stateMu.Unlock()
}

// EnsureIntegration brings the integration to Active, or reports why it
// could not. Idempotent: an Active bridge returns success immediately and
// records no attempt. Concurrent callers serialize on the bootstrap lock, so
// exactly one bootstrap runs and the rest observe its outcome.
func (b *Bridge) EnsureIntegration(ctx context.Context, opts EnsureOptions) Result {
	if !opts.ForceReinit && b.State() == StateActive {
		return Result{Success: true, State: StateActive}
	}

	b.bootstrapMu.Lock()
	defer b.bootstrapMu.Unlock()

	// A caller that queued behind the winning bootstrap sees its result here.
	if !opts.ForceReinit && b.State() == StateActive {
		return Result{Success: true, State: StateActive}
	}

	start := time.Now()

	b.stateMu.Lock()
	if opts.Transport != nil {
		b.transport = opts.Transport
	}
	if opts.Registry != nil {
		b.registry = opts.Registry
	}
	transport, reg := b.transport, b.registry
	b.state = StateInitializing
	b.stateMu.Unlock()

	b.metrics.initAttempts.Add(1)

	bctx, cancel := context.WithTimeout(ctx, b.cfg.InitializationTimeout)
	defer cancel()

	if err := b.bootstrap(bctx, transport, reg); err != nil {
		duration := time.Since(start)
		b.setState(StateFailed)
		b.metrics.initFailures.Add(1)
		b.logger.Error("integration bootstrap failed", "error", err, "duration", duration)
		return Result{State: StateFailed, Err: err, Duration: duration}
	}

	b.stateMu.Lock()
	b.state = StateActive
	if b.uptimeStart.IsZero() {
		b.uptimeStart = time.Now()
	}
	b.stateMu.Unlock()
	b.metrics.initSuccesses.Add(1)

	b.startMonitor()

	duration := time.Since(start)
	b.logger.Info("integration active", "duration", duration)
	return Result{Success: true, State: StateActive, Duration: duration}
}

// bootstrap runs the setup steps in order: acquire the transport handle,
// attach the registry, wire the emitter, then verify the pair end to end.
func (b *Bridge) bootstrap(ctx context.Context, transport TransportManager, reg ExecutionRegistry) error {
	if transport == nil {
		return errors.New("no transport manager available")
	}
	if reg == nil {
		return errors.New("no execution registry available")
	}

	em := newEmitter(transport, newThreadResolver(reg), b.logger, &b.metrics.failedDeliveries)

	if !b.verify(ctx, transport, reg) {
		return errors.New("integration verification failed")
	}

	b.stateMu.Lock()
	b.emitter = em
	b.stateMu.Unlock()
	return nil
}

// verify probes both collaborators within the verification timeout. A probe
// error counts as a failed verification, not a distinct error class.
func (b *Bridge) verify(ctx context.Context, transport TransportManager, reg ExecutionRegistry) bool {
	vctx, cancel := context.WithTimeout(ctx, b.cfg.VerificationTimeout)
	defer cancel()

	if !transport.IsReachable() {
		b.logger.Warn("verification: transport unreachable")
		return false
	}
	if _, err := reg.ListActiveExecutions(vctx); err != nil {
		b.logger.Warn("verification: registry probe failed", "error", err)
		return false
	}
	return true
}

// RegisterRunThreadMapping records an authoritative run→thread mapping.
func (b *Bridge) RegisterRunThreadMapping(ctx context.Context, runID, threadID string) bool {
	b.stateMu.RLock()
	reg := b.registry
	b.stateMu.RUnlock()
	if reg == nil {
		b.logger.Warn("no registry attached, mapping not recorded", "run_id", runID)
		return false
	}
	if err := reg.RegisterMapping(ctx, runID, threadID); err != nil {
		b.logger.Warn("run mapping registration failed", "run_id", runID, "error", err)
		return false
	}
	return true
}

// UnregisterRunMapping removes a run→thread mapping.
func (b *Bridge) UnregisterRunMapping(ctx context.Context, runID string) bool {
	b.stateMu.RLock()
	reg := b.registry
	b.stateMu.RUnlock()
	if reg == nil {
		return false
	}
	if err := reg.UnregisterMapping(ctx, runID); err != nil {
		if !errors.Is(err, registry.ErrMappingNotFound) {
			b.logger.Warn("run mapping removal failed", "run_id", runID, "error", err)
		}
		return false
	}
	return true
}

// ExtractThreadID resolves the conversation channel for a run identifier.
// Empty string means the event cannot be routed.
func (b *Bridge) ExtractThreadID(ctx context.Context, runID string) string {
	b.stateMu.RLock()
	reg := b.registry
	b.stateMu.RUnlock()
	return newThreadResolver(reg).ExtractThreadID(ctx, runID)
}

// Shutdown stops the health monitor, waits for any in-flight background
// recovery, then releases the collaborator handles. Safe to call twice.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.stateMu.Lock()
	cancel, done := b.monitorCancel, b.monitorDone
	b.monitorCancel, b.monitorDone = nil, nil
	b.stateMu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for health monitor: %w", ctx.Err())
		}
	}

	idle := make(chan struct{})
	go func() {
		b.bg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		return fmt.Errorf("waiting for background recovery: %w", ctx.Err())
	}

	b.stateMu.Lock()
	b.transport, b.registry, b.emitter = nil, nil, nil
	b.stateMu.Unlock()

	b.logger.Info("bridge shut down")
	return nil
}
