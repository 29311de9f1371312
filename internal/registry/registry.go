// ABOUTME: Execution registry types shared by the in-memory and SQLite stores
// ABOUTME: Tracks run→thread mappings and active execution bookkeeping

package registry

import (
	"errors"
	"time"
)

// ErrMappingNotFound is returned when unregistering a run that has no mapping
var ErrMappingNotFound = errors.New("run mapping not found")

// ErrExecutionNotFound is returned when completing a run that is not active
var ErrExecutionNotFound = errors.New("execution not found")

// ExecutionContext identifies one in-flight agent execution. It is supplied by
// the execution pipeline and read-only from the bridge's perspective.
type ExecutionContext struct {
	UserID       string `json:"user_id"`
	ThreadID     string `json:"thread_id"`
	RunID        string `json:"run_id"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// Execution is an active execution as recorded by a registry.
type Execution struct {
	ExecutionContext
	StartedAt time.Time `json:"started_at"`
}
