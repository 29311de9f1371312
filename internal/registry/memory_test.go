// ABOUTME: Tests for the in-memory execution registry
// ABOUTME: Covers mapping CRUD, execution bookkeeping, and concurrent access

package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestMemoryRegisterAndLookupMapping(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.RegisterMapping(ctx, "run_1", "thread_abc"); err != nil {
		t.Fatalf("RegisterMapping failed: %v", err)
	}

	threadID, ok := m.Lookup(ctx, "run_1")
	if !ok {
		t.Fatal("expected mapping to exist")
	}
	if threadID != "thread_abc" {
		t.Errorf("Lookup = %q, want %q", threadID, "thread_abc")
	}
}

func TestMemoryRegisterMappingOverwrites(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.RegisterMapping(ctx, "run_1", "thread_abc"); err != nil {
		t.Fatalf("RegisterMapping failed: %v", err)
	}
	if err := m.RegisterMapping(ctx, "run_1", "thread_def"); err != nil {
		t.Fatalf("RegisterMapping failed: %v", err)
	}

	threadID, _ := m.Lookup(ctx, "run_1")
	if threadID != "thread_def" {
		t.Errorf("Lookup = %q, want %q", threadID, "thread_def")
	}
}

func TestMemoryRegisterMappingValidation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.RegisterMapping(ctx, "", "thread_abc"); err == nil {
		t.Error("expected error for empty run_id")
	}
	if err := m.RegisterMapping(ctx, "run_1", ""); err == nil {
		t.Error("expected error for empty thread_id")
	}
}

func TestMemoryUnregisterMapping(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.RegisterMapping(ctx, "run_1", "thread_abc"); err != nil {
		t.Fatalf("RegisterMapping failed: %v", err)
	}
	if err := m.UnregisterMapping(ctx, "run_1"); err != nil {
		t.Fatalf("UnregisterMapping failed: %v", err)
	}
	if _, ok := m.Lookup(ctx, "run_1"); ok {
		t.Error("mapping should be gone after unregister")
	}

	if err := m.UnregisterMapping(ctx, "run_1"); err != ErrMappingNotFound {
		t.Errorf("second unregister = %v, want ErrMappingNotFound", err)
	}
}

func TestMemoryExecutionLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ec := &ExecutionContext{UserID: "user_1", ThreadID: "thread_abc", RunID: "run_1"}
	if err := m.RegisterExecution(ctx, ec); err != nil {
		t.Fatalf("RegisterExecution failed: %v", err)
	}

	// Registering an execution with a thread also records the mapping
	if threadID, ok := m.Lookup(ctx, "run_1"); !ok || threadID != "thread_abc" {
		t.Errorf("Lookup after RegisterExecution = %q, %v", threadID, ok)
	}

	active, err := m.ListActiveExecutions(ctx)
	if err != nil {
		t.Fatalf("ListActiveExecutions failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("len(active) = %d, want 1", len(active))
	}
	if active[0].RunID != "run_1" || active[0].StartedAt.IsZero() {
		t.Errorf("unexpected execution: %+v", active[0])
	}

	if err := m.CompleteExecution(ctx, "run_1"); err != nil {
		t.Fatalf("CompleteExecution failed: %v", err)
	}
	active, _ = m.ListActiveExecutions(ctx)
	if len(active) != 0 {
		t.Errorf("len(active) after complete = %d, want 0", len(active))
	}

	// Mapping survives completion so late events still route
	if _, ok := m.Lookup(ctx, "run_1"); !ok {
		t.Error("mapping should survive CompleteExecution")
	}

	if err := m.CompleteExecution(ctx, "run_1"); err != ErrExecutionNotFound {
		t.Errorf("second complete = %v, want ErrExecutionNotFound", err)
	}
}

func TestMemoryActiveCount(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if n := m.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount on empty registry = %d, want 0", n)
	}

	_ = m.RegisterExecution(ctx, &ExecutionContext{RunID: "run_1", ThreadID: "thread_a"})
	_ = m.RegisterExecution(ctx, &ExecutionContext{RunID: "run_2", ThreadID: "thread_b"})
	if n := m.ActiveCount(); n != 2 {
		t.Errorf("ActiveCount = %d, want 2", n)
	}

	_ = m.CompleteExecution(ctx, "run_1")
	if n := m.ActiveCount(); n != 1 {
		t.Errorf("ActiveCount after complete = %d, want 1", n)
	}
}

func TestMemoryRegisterExecutionValidation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.RegisterExecution(ctx, nil); err == nil {
		t.Error("expected error for nil execution context")
	}
	if err := m.RegisterExecution(ctx, &ExecutionContext{UserID: "u"}); err == nil {
		t.Error("expected error for empty run_id")
	}
}

func TestMemoryConcurrentAccess(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		runID := fmt.Sprintf("run_%d", i)
		wg.Go(func() {
			_ = m.RegisterMapping(ctx, runID, "thread_"+runID)
			_, _ = m.Lookup(ctx, runID)
			_ = m.RegisterExecution(ctx, &ExecutionContext{UserID: "u", ThreadID: "thread_" + runID, RunID: runID})
		})
	}
	wg.Wait()

	active, err := m.ListActiveExecutions(ctx)
	if err != nil {
		t.Fatalf("ListActiveExecutions failed: %v", err)
	}
	if len(active) != 50 {
		t.Errorf("len(active) = %d, want 50", len(active))
	}
}
