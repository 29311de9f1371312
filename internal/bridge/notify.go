// ABOUTME: Notify wrappers shaping kind-specific payloads for each event
// ABOUTME: Alias field pairs keep every downstream client generation readable

package bridge

import (
	"context"
	"time"

	"github.com/netra-systems/zenbridge/internal/events"
)

// Payload shaping. Some fields are emitted under two names because client
// generations diverged on what they read: reasoning/thinking_content,
// final_result/result, error/error_message, error_context/context,
// initial_parameters/context. Every shaped payload carries a generation
// timestamp, which the envelope adopts as its own.

func stamped(data map[string]any) map[string]any {
	if data == nil {
		data = make(map[string]any)
	}
	if _, ok := data["timestamp"]; !ok {
		data["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return data
}

func shapedAgentStarted(params map[string]any) map[string]any {
	return stamped(map[string]any{
		"initial_parameters": params,
		"context":            params,
	})
}

func shapedAgentThinking(reasoning string, stepNumber int, progressPct float64) map[string]any {
	return stamped(map[string]any{
		"reasoning":           reasoning,
		"thinking_content":    reasoning,
		"step_number":         stepNumber,
		"progress_percentage": progressPct,
	})
}

func shapedToolExecuting(toolName string, params map[string]any) map[string]any {
	return stamped(map[string]any{
		"tool_name":  toolName,
		"parameters": params,
	})
}

func shapedToolCompleted(toolName string, result any, execMS float64) map[string]any {
	return stamped(map[string]any{
		"tool_name":         toolName,
		"result":            result,
		"execution_time_ms": execMS,
	})
}

func shapedAgentCompleted(finalResult any, execMS float64) map[string]any {
	return stamped(map[string]any{
		"final_result":      finalResult,
		"result":            finalResult,
		"execution_time_ms": execMS,
	})
}

func shapedAgentError(errMsg string, errCtx map[string]any) map[string]any {
	return stamped(map[string]any{
		"error":         errMsg,
		"error_message": errMsg,
		"error_context": errCtx,
		"context":       errCtx,
	})
}

func shapedAgentDeath(cause string, deathCtx map[string]any) map[string]any {
	return stamped(map[string]any{
		"death_cause":   cause,
		"death_context": deathCtx,
	})
}

func shapedProgressUpdate(message string, progressPct float64) map[string]any {
	return stamped(map[string]any{
		"message":             message,
		"progress_percentage": progressPct,
	})
}

func (b *Bridge) emit(ctx context.Context, eventType events.EventType, data map[string]any, runID, agentName string) bool {
	b.stateMu.RLock()
	em := b.emitter
	b.stateMu.RUnlock()
	if em == nil {
		b.logger.Warn("integration not initialized, dropping event", "event_type", eventType, "run_id", runID)
		return false
	}
	return em.emit(ctx, eventType, data, runID, agentName)
}

// NotifyAgentStarted reports that an agent began executing a run.
func (b *Bridge) NotifyAgentStarted(ctx context.Context, runID, agentName string, params map[string]any) bool {
	return b.emit(ctx, events.EventTypeAgentStarted, shapedAgentStarted(params), runID, agentName)
}

// NotifyAgentThinking reports a reasoning step.
func (b *Bridge) NotifyAgentThinking(ctx context.Context, runID, agentName, reasoning string, stepNumber int, progressPct float64) bool {
	return b.emit(ctx, events.EventTypeAgentThinking, shapedAgentThinking(reasoning, stepNumber, progressPct), runID, agentName)
}

// NotifyToolExecuting reports that a tool invocation started.
func (b *Bridge) NotifyToolExecuting(ctx context.Context, runID, agentName, toolName string, params map[string]any) bool {
	return b.emit(ctx, events.EventTypeToolExecuting, shapedToolExecuting(toolName, params), runID, agentName)
}

// NotifyToolCompleted reports a finished tool invocation and its result.
func (b *Bridge) NotifyToolCompleted(ctx context.Context, runID, agentName, toolName string, result any, execMS float64) bool {
	return b.emit(ctx, events.EventTypeToolCompleted, shapedToolCompleted(toolName, result, execMS), runID, agentName)
}

// NotifyAgentCompleted reports a successful run with its final result.
func (b *Bridge) NotifyAgentCompleted(ctx context.Context, runID, agentName string, finalResult any, execMS float64) bool {
	return b.emit(ctx, events.EventTypeAgentCompleted, shapedAgentCompleted(finalResult, execMS), runID, agentName)
}

// NotifyAgentError reports a run that failed with a recoverable error.
func (b *Bridge) NotifyAgentError(ctx context.Context, runID, agentName, errMsg string, errCtx map[string]any) bool {
	return b.emit(ctx, events.EventTypeAgentError, shapedAgentError(errMsg, errCtx), runID, agentName)
}

// NotifyAgentDeath reports a run that terminated abnormally.
func (b *Bridge) NotifyAgentDeath(ctx context.Context, runID, agentName, cause string, deathCtx map[string]any) bool {
	return b.emit(ctx, events.EventTypeAgentDeath, shapedAgentDeath(cause, deathCtx), runID, agentName)
}

// NotifyProgressUpdate reports coarse progress for long-running work.
func (b *Bridge) NotifyProgressUpdate(ctx context.Context, runID, agentName, message string, progressPct float64) bool {
	return b.emit(ctx, events.EventTypeProgressUpdate, shapedProgressUpdate(message, progressPct), runID, agentName)
}

// NotifyCustom emits an event of an application-defined type. The payload is
// passed through with a timestamp added when absent.
func (b *Bridge) NotifyCustom(ctx context.Context, eventType events.EventType, runID, agentName string, data map[string]any) bool {
	return b.emit(ctx, eventType, stamped(data), runID, agentName)
}

// The same notify surface, scoped to one execution.

// NotifyAgentStarted reports that the execution's agent began running.
func (u *UserEmitter) NotifyAgentStarted(ctx context.Context, agentName string, params map[string]any) bool {
	return u.emit(ctx, events.EventTypeAgentStarted, shapedAgentStarted(params), agentName)
}

// NotifyAgentThinking reports a reasoning step.
func (u *UserEmitter) NotifyAgentThinking(ctx context.Context, agentName, reasoning string, stepNumber int, progressPct float64) bool {
	return u.emit(ctx, events.EventTypeAgentThinking, shapedAgentThinking(reasoning, stepNumber, progressPct), agentName)
}

// NotifyToolExecuting reports that a tool invocation started.
func (u *UserEmitter) NotifyToolExecuting(ctx context.Context, agentName, toolName string, params map[string]any) bool {
	return u.emit(ctx, events.EventTypeToolExecuting, shapedToolExecuting(toolName, params), agentName)
}

// NotifyToolCompleted reports a finished tool invocation and its result.
func (u *UserEmitter) NotifyToolCompleted(ctx context.Context, agentName, toolName string, result any, execMS float64) bool {
	return u.emit(ctx, events.EventTypeToolCompleted, shapedToolCompleted(toolName, result, execMS), agentName)
}

// NotifyAgentCompleted reports a successful run with its final result.
func (u *UserEmitter) NotifyAgentCompleted(ctx context.Context, agentName string, finalResult any, execMS float64) bool {
	return u.emit(ctx, events.EventTypeAgentCompleted, shapedAgentCompleted(finalResult, execMS), agentName)
}

// NotifyAgentError reports a run that failed with a recoverable error.
func (u *UserEmitter) NotifyAgentError(ctx context.Context, agentName, errMsg string, errCtx map[string]any) bool {
	return u.emit(ctx, events.EventTypeAgentError, shapedAgentError(errMsg, errCtx), agentName)
}

// NotifyAgentDeath reports a run that terminated abnormally.
func (u *UserEmitter) NotifyAgentDeath(ctx context.Context, agentName, cause string, deathCtx map[string]any) bool {
	return u.emit(ctx, events.EventTypeAgentDeath, shapedAgentDeath(cause, deathCtx), agentName)
}

// NotifyProgressUpdate reports coarse progress for long-running work.
func (u *UserEmitter) NotifyProgressUpdate(ctx context.Context, agentName, message string, progressPct float64) bool {
	return u.emit(ctx, events.EventTypeProgressUpdate, shapedProgressUpdate(message, progressPct), agentName)
}
