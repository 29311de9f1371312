// Package bridge connects the agent execution pipeline to real-time clients.
//
// # Overview
//
// Agent runs and client connections are decoupled: runs execute as
// independent tasks, possibly many per user, while the transport holding the
// actual sockets can be unavailable, reconnecting, or degraded at any moment.
// The Bridge is the single authority in between. It tracks whether the
// integration is usable, repairs it without caller involvement, resolves
// which conversation an execution belongs to, and emits events with exactly
// the fields downstream clients read — and when it cannot deliver, the drop
// is logged and counted, never silent.
//
// # State machine
//
// A bridge is born Uninitialized. EnsureIntegration moves it through
// Initializing to Active (or Failed). Health checks degrade an Active bridge
// whose probes fail, and declare it Failed after three consecutive failures;
// a fully healthy check returns it to Active from any state.
//
//	Uninitialized → Initializing → Active ⇄ Degraded → Failed
//	                      ↑__________________________________|
//
// # Usage
//
//	b := bridge.New(bridge.Config{}, logger)
//	res := b.EnsureIntegration(ctx, bridge.EnsureOptions{
//		Transport: hub,
//		Registry:  reg,
//	})
//	if !res.Success {
//		return res.Err
//	}
//	b.NotifyAgentStarted(ctx, runID, "researcher", params)
//
// Notify calls return a plain bool. A false means the event was not
// delivered — the run id did not resolve to a thread, the transport was
// down, or delivery errored — and the caller's own work continues either
// way. Errors are reserved for programmer mistakes such as creating a user
// emitter without a user id.
//
// # Per-user emitters
//
// CreateUserEmitter returns an emitter bound to one execution and scoped to
// that user's transport handle. Emitters share no mutable state with each
// other, so event storms from one user cannot bleed into another's channel.
//
// # Concurrency
//
// Bootstrap, health checks, and recovery each serialize on their own lock.
// Recovery re-enters bootstrap (one-way, so no deadlock), health never takes
// either. The periodic monitor goroutine belongs to the bridge and is joined
// by Shutdown before collaborator handles are released.
package bridge
