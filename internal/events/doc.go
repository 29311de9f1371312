// Package events defines the wire contract between the bridge and real-time
// clients.
//
// Every execution event, whatever its kind, is serialized as one flat JSON
// object:
//
//	{
//	  "type": "tool_completed",
//	  "run_id": "run_42",
//	  "agent_name": "researcher",
//	  "timestamp": "2026-03-01T12:00:00.000000001Z",
//	  "tool_name": "web_search",
//	  "result": "...",
//	  "execution_time_ms": 133.7
//	}
//
// Kind-specific fields (tool_name, result, error, ...) sit at the top level
// next to the reserved keys, because downstream clients read them there. The
// Envelope type owns that flattening; nothing else in the codebase hand-builds
// event JSON.
package events
