// ABOUTME: Canonical wire envelope for agent execution events
// ABOUTME: Flattens payload fields to the top level beside type/run_id/timestamp

package events

import (
	"encoding/json"
	"time"
)

// EventType categorizes the kind of execution event
type EventType string

const (
	EventTypeAgentStarted   EventType = "agent_started"
	EventTypeAgentThinking  EventType = "agent_thinking"
	EventTypeToolExecuting  EventType = "tool_executing"
	EventTypeToolCompleted  EventType = "tool_completed"
	EventTypeAgentCompleted EventType = "agent_completed"
	EventTypeAgentError     EventType = "agent_error"
	EventTypeAgentDeath     EventType = "agent_death"
	EventTypeProgressUpdate EventType = "progress_update"
)

// KnownType reports whether t names one of the event types above. Ingest
// surfaces use it to reject payloads before any delivery side effects.
func KnownType(t string) bool {
	switch EventType(t) {
	case EventTypeAgentStarted, EventTypeAgentThinking, EventTypeToolExecuting,
		EventTypeToolCompleted, EventTypeAgentCompleted, EventTypeAgentError,
		EventTypeAgentDeath, EventTypeProgressUpdate:
		return true
	}
	return false
}

// Envelope is the single wire format delivered to clients. Payload fields in
// Data are flattened to the top level of the JSON object; the reserved keys
// "type" and "run_id" always come from the struct fields, "agent_name" from
// the field when set, and "timestamp" from Data when a payload shaper supplied
// one (otherwise the envelope's own creation time, RFC3339 with nanoseconds,
// UTC).
type Envelope struct {
	Type      EventType
	RunID     string
	AgentName string
	Timestamp time.Time
	Data      map[string]any
}

// New builds an envelope stamped with the current UTC time. The envelope takes
// ownership of data; callers must not mutate it afterwards.
func New(eventType EventType, runID, agentName string, data map[string]any) *Envelope {
	return &Envelope{
		Type:      eventType,
		RunID:     runID,
		AgentName: agentName,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// MarshalJSON flattens Data into the top-level object.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Data)+4)
	for k, v := range e.Data {
		out[k] = v
	}
	out["type"] = string(e.Type)
	out["run_id"] = e.RunID
	if e.AgentName != "" {
		out["agent_name"] = e.AgentName
	}
	if _, ok := out["timestamp"]; !ok {
		out["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}
