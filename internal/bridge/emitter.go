// ABOUTME: Event emitter and per-user scoped emitters
// ABOUTME: The trust boundary past which transport faults never propagate

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/netra-systems/zenbridge/internal/events"
	"github.com/netra-systems/zenbridge/internal/registry"
)

// Validation errors from CreateUserEmitter. These indicate programmer error
// and are the only failures in the event path surfaced as errors rather than
// a false return.
var (
	ErrNilExecutionContext = errors.New("execution context is required")
	ErrEmptyUserID         = errors.New("user id is required")
)

// emitter builds envelopes and hands them to the transport. Unroutable runs
// and delivery faults degrade to a false return plus a recorded failure.
type emitter struct {
	transport TransportManager
	resolver  *threadResolver
	logger    *slog.Logger
	failures  *atomic.Int64
}

func newEmitter(transport TransportManager, resolver *threadResolver, logger *slog.Logger, failures *atomic.Int64) *emitter {
	return &emitter{
		transport: transport,
		resolver:  resolver,
		logger:    logger,
		failures:  failures,
	}
}

func (e *emitter) emit(ctx context.Context, eventType events.EventType, data map[string]any, runID, agentName string) bool {
	threadID := e.resolver.ExtractThreadID(ctx, runID)
	if threadID == "" {
		e.logger.Warn("cannot resolve thread for run", "run_id", runID, "event_type", eventType)
		return false
	}
	if e.transport == nil {
		e.logger.Warn("no transport configured, dropping event", "run_id", runID, "event_type", eventType)
		return false
	}

	env := events.New(eventType, runID, agentName, data)
	if err := e.transport.Deliver(ctx, threadID, env); err != nil {
		e.failures.Add(1)
		e.logger.Error("event delivery failed",
			"run_id", runID, "thread_id", threadID, "event_type", eventType, "error", err)
		return false
	}
	return true
}

// UserEmitter emits events for exactly one execution over a transport handle
// scoped to that execution's user. Emitters for different users share nothing
// mutable: each carries its own resolver, logger, and counters, and the only
// common dependency is the thread-safe transport underneath the handle.
type UserEmitter struct {
	ec       registry.ExecutionContext
	handle   TransportHandle
	resolver *threadResolver
	logger   *slog.Logger

	delivered atomic.Int64
	failed    atomic.Int64
}

// CreateUserEmitter builds an emitter scoped to the execution's user and
// connection. The context must be non-nil and carry a user id.
func (b *Bridge) CreateUserEmitter(ec *registry.ExecutionContext) (*UserEmitter, error) {
	if ec == nil {
		return nil, ErrNilExecutionContext
	}
	if ec.UserID == "" {
		return nil, ErrEmptyUserID
	}

	b.stateMu.RLock()
	transport, reg := b.transport, b.registry
	b.stateMu.RUnlock()
	if transport == nil {
		return nil, errors.New("no transport manager available")
	}

	handle, err := transport.ScopedHandle(ec.UserID, ec.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("scoping transport handle: %w", err)
	}

	return &UserEmitter{
		ec:       *ec,
		handle:   handle,
		resolver: newThreadResolver(reg),
		logger:   b.logger.With("user_id", ec.UserID, "run_id", ec.RunID),
	}, nil
}

// CreateUserEmitterFromIDs is CreateUserEmitter for callers holding bare
// identifiers instead of an assembled execution context.
func (b *Bridge) CreateUserEmitterFromIDs(userID, threadID, runID, connectionID string) (*UserEmitter, error) {
	return b.CreateUserEmitter(&registry.ExecutionContext{
		UserID:       userID,
		ThreadID:     threadID,
		RunID:        runID,
		ConnectionID: connectionID,
	})
}

// Emit sends one event on the execution's conversation channel.
func (u *UserEmitter) Emit(ctx context.Context, eventType events.EventType, data map[string]any) bool {
	return u.emit(ctx, eventType, data, "")
}

func (u *UserEmitter) emit(ctx context.Context, eventType events.EventType, data map[string]any, agentName string) bool {
	threadID := u.ec.ThreadID
	if threadID == "" {
		threadID = u.resolver.ExtractThreadID(ctx, u.ec.RunID)
	}
	if threadID == "" {
		u.logger.Warn("cannot resolve thread for run", "event_type", eventType)
		u.failed.Add(1)
		return false
	}

	env := events.New(eventType, u.ec.RunID, agentName, data)
	if err := u.handle.Deliver(ctx, threadID, env); err != nil {
		u.failed.Add(1)
		u.logger.Error("event delivery failed", "thread_id", threadID, "event_type", eventType, "error", err)
		return false
	}
	u.delivered.Add(1)
	return true
}

// Context returns a copy of the execution context the emitter is scoped to.
func (u *UserEmitter) Context() registry.ExecutionContext {
	return u.ec
}

// Delivered reports how many events this emitter has delivered.
func (u *UserEmitter) Delivered() int64 { return u.delivered.Load() }

// Failed reports how many events this emitter failed to deliver.
func (u *UserEmitter) Failed() int64 { return u.failed.Load() }
