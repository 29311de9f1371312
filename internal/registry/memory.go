// ABOUTME: In-memory execution registry backed by RWMutex-guarded maps
// ABOUTME: Default registry for single-process deployments and tests

package registry

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Memory is a process-local registry. Safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	mappings map[string]string    // run_id -> thread_id
	active   map[string]Execution // run_id -> execution
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		mappings: make(map[string]string),
		active:   make(map[string]Execution),
	}
}

// RegisterMapping records run_id -> thread_id, replacing any existing entry.
func (m *Memory) RegisterMapping(ctx context.Context, runID, threadID string) error {
	if runID == "" {
		return errors.New("run_id is required")
	}
	if threadID == "" {
		return errors.New("thread_id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings[runID] = threadID
	return nil
}

// UnregisterMapping removes the mapping for run_id.
func (m *Memory) UnregisterMapping(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mappings[runID]; !ok {
		return ErrMappingNotFound
	}
	delete(m.mappings, runID)
	return nil
}

// Lookup returns the authoritative thread for run_id, if one was registered.
func (m *Memory) Lookup(ctx context.Context, runID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	threadID, ok := m.mappings[runID]
	return threadID, ok
}

// RegisterExecution marks an execution as active and records its run→thread
// mapping when the context carries a thread.
func (m *Memory) RegisterExecution(ctx context.Context, ec *ExecutionContext) error {
	if ec == nil {
		return errors.New("execution context is required")
	}
	if ec.RunID == "" {
		return errors.New("run_id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[ec.RunID] = Execution{ExecutionContext: *ec, StartedAt: time.Now().UTC()}
	if ec.ThreadID != "" {
		m.mappings[ec.RunID] = ec.ThreadID
	}
	return nil
}

// CompleteExecution removes an execution from the active set. The run→thread
// mapping is kept so late events can still be routed.
func (m *Memory) CompleteExecution(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[runID]; !ok {
		return ErrExecutionNotFound
	}
	delete(m.active, runID)
	return nil
}

// ListActiveExecutions returns a snapshot of all active executions.
func (m *Memory) ListActiveExecutions(ctx context.Context) ([]Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Execution, 0, len(m.active))
	for _, ex := range m.active {
		out = append(out, ex)
	}
	return out, nil
}

// ActiveCount returns the number of executions currently active.
func (m *Memory) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}
