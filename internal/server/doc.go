// Package server assembles the HTTP surface over the bridge.
//
// One Server owns the whole stack: the SQLite-backed execution registry, the
// connection hub, the dedupe cache, and the bridge coordinating them. Run
// starts the listener, bootstraps the integration, and blocks until the
// context is canceled; a failed bootstrap is not fatal because the bridge
// recovers on its own.
//
// The API splits into three groups. /api/runs registers and completes
// executions; /api/runs/{run_id}/events ingests pipeline events and maps
// them onto the bridge's Notify operations; /api/integration/* exposes the
// bridge's health, metrics, and manual recovery. /ws is where clients
// attach — with a JWT when auth is configured, by naming themselves
// otherwise.
//
// Ingestion replies HTTP 200 with a delivered flag rather than surfacing
// transport faults as errors: the pipeline's work is done whether or not a
// client was there to see it.
package server
