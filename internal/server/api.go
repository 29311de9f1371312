// ABOUTME: HTTP API handlers for run registration and event ingestion
// ABOUTME: Maps pipeline event payloads onto the bridge Notify operations

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/netra-systems/zenbridge/internal/auth"
	"github.com/netra-systems/zenbridge/internal/dedupe"
	"github.com/netra-systems/zenbridge/internal/events"
	"github.com/netra-systems/zenbridge/internal/registry"
	"github.com/netra-systems/zenbridge/internal/transport"
)

// CreateRunRequest is the JSON request body for POST /api/runs.
type CreateRunRequest struct {
	UserID       string `json:"user_id"`
	ThreadID     string `json:"thread_id"`
	RunID        string `json:"run_id,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// RunResponse describes one registered execution.
type RunResponse struct {
	UserID       string `json:"user_id"`
	ThreadID     string `json:"thread_id"`
	RunID        string `json:"run_id"`
	ConnectionID string `json:"connection_id,omitempty"`
	StartedAt    string `json:"started_at,omitempty"`
}

// ListRunsResponse is the JSON response for GET /api/runs.
type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

// IngestEventRequest is the JSON request body for POST /api/runs/{run_id}/events.
// Data carries the fields of the corresponding event payload.
type IngestEventRequest struct {
	Type      string         `json:"type"`
	AgentName string         `json:"agent_name,omitempty"`
	EventID   string         `json:"event_id,omitempty"`
	Data      map[string]any `json:"data"`
}

// IngestEventResponse reports whether the event reached the transport. A
// false delivered flag still travels with HTTP 200: delivery faults never
// become caller errors.
type IngestEventResponse struct {
	Delivered bool `json:"delivered"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// RecoverResponse is the JSON response for POST /api/integration/recover.
type RecoverResponse struct {
	Success           bool    `json:"success"`
	State             string  `json:"state"`
	DurationMS        float64 `json:"duration_ms"`
	RecoveryAttempted bool    `json:"recovery_attempted"`
	Error             string  `json:"error,omitempty"`
}

// handleRuns handles the /api/runs collection.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListRuns(w, r)
	case http.MethodPost:
		s.handleCreateRun(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleCreateRun handles POST /api/runs. Registers the execution and its
// run→thread mapping; generates a run id when the caller did not supply one.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.ThreadID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "thread_id is required")
		return
	}
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}

	ec := &registry.ExecutionContext{
		UserID:       req.UserID,
		ThreadID:     req.ThreadID,
		RunID:        req.RunID,
		ConnectionID: req.ConnectionID,
	}
	if err := s.registry.RegisterExecution(r.Context(), ec); err != nil {
		s.logger.Error("failed to register execution", "error", err, "run_id", req.RunID)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, RunResponse{
		UserID:       ec.UserID,
		ThreadID:     ec.ThreadID,
		RunID:        ec.RunID,
		ConnectionID: ec.ConnectionID,
	})
}

// handleListRuns handles GET /api/runs.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	execs, err := s.registry.ListActiveExecutions(r.Context())
	if err != nil {
		s.logger.Error("failed to list executions", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := ListRunsResponse{Runs: make([]RunResponse, len(execs))}
	for i, ex := range execs {
		response.Runs[i] = RunResponse{
			UserID:       ex.UserID,
			ThreadID:     ex.ThreadID,
			RunID:        ex.RunID,
			ConnectionID: ex.ConnectionID,
			StartedAt:    ex.StartedAt.Format(time.RFC3339),
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// handleRunRoutes dispatches /api/runs/{run_id} and /api/runs/{run_id}/events.
func (s *Server) handleRunRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	if runID, ok := strings.CutSuffix(rest, "/events"); ok {
		s.handleIngestEvent(w, r, runID)
		return
	}
	s.handleDeleteRun(w, r, rest)
}

// handleDeleteRun handles DELETE /api/runs/{run_id}. The run→thread mapping
// survives so events still in flight can be routed; only the active record
// goes away.
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if runID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "run_id is required")
		return
	}

	err := s.registry.CompleteExecution(r.Context(), runID)
	if errors.Is(err, registry.ErrExecutionNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to complete execution", "error", err, "run_id", runID)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleIngestEvent handles POST /api/runs/{run_id}/events. Duplicate
// submissions (same event_id within the dedupe window) acknowledge without
// re-emitting.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if runID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "run_id is required")
		return
	}

	var req IngestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Type == "" {
		s.sendJSONError(w, http.StatusBadRequest, "type is required")
		return
	}
	if !events.KnownType(req.Type) {
		s.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown event type %q", req.Type))
		return
	}

	if req.EventID != "" && s.dedupe.CheckAndMark(dedupe.EventKey(runID, req.EventID)) {
		s.logger.Debug("duplicate event suppressed", "run_id", runID, "event_id", req.EventID)
		writeJSON(w, http.StatusOK, IngestEventResponse{Delivered: true, Duplicate: true})
		return
	}

	delivered := s.dispatchEvent(r, events.EventType(req.Type), runID, req.AgentName, req.Data)
	writeJSON(w, http.StatusOK, IngestEventResponse{Delivered: delivered})
}

// dispatchEvent maps an ingested payload onto the bridge operation for its
// type. Extraction is lenient: clients of different generations send the same
// field under different names, and absent fields become zero values.
func (s *Server) dispatchEvent(r *http.Request, eventType events.EventType, runID, agentName string, data map[string]any) bool {
	ctx := r.Context()
	switch eventType {
	case events.EventTypeAgentStarted:
		return s.bridge.NotifyAgentStarted(ctx, runID, agentName,
			dataMap(data, "initial_parameters", "context"))
	case events.EventTypeAgentThinking:
		return s.bridge.NotifyAgentThinking(ctx, runID, agentName,
			dataString(data, "reasoning", "thinking_content"),
			dataInt(data, "step_number"),
			dataFloat(data, "progress_percentage"))
	case events.EventTypeToolExecuting:
		return s.bridge.NotifyToolExecuting(ctx, runID, agentName,
			dataString(data, "tool_name"),
			dataMap(data, "parameters"))
	case events.EventTypeToolCompleted:
		return s.bridge.NotifyToolCompleted(ctx, runID, agentName,
			dataString(data, "tool_name"),
			dataAny(data, "result"),
			dataFloat(data, "execution_time_ms"))
	case events.EventTypeAgentCompleted:
		return s.bridge.NotifyAgentCompleted(ctx, runID, agentName,
			dataAny(data, "final_result", "result"),
			dataFloat(data, "execution_time_ms"))
	case events.EventTypeAgentError:
		return s.bridge.NotifyAgentError(ctx, runID, agentName,
			dataString(data, "error", "error_message"),
			dataMap(data, "error_context", "context"))
	case events.EventTypeAgentDeath:
		return s.bridge.NotifyAgentDeath(ctx, runID, agentName,
			dataString(data, "death_cause"),
			dataMap(data, "death_context"))
	case events.EventTypeProgressUpdate:
		return s.bridge.NotifyProgressUpdate(ctx, runID, agentName,
			dataString(data, "message"),
			dataFloat(data, "progress_percentage"))
	}
	return false
}

// Payload field extraction. JSON numbers decode as float64, so integer fields
// go through dataInt's conversion. Each helper returns the first key present
// with the right type.

func dataString(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := data[k].(string); ok {
			return v
		}
	}
	return ""
}

func dataFloat(data map[string]any, keys ...string) float64 {
	for _, k := range keys {
		if v, ok := data[k].(float64); ok {
			return v
		}
	}
	return 0
}

func dataInt(data map[string]any, keys ...string) int {
	for _, k := range keys {
		if v, ok := data[k].(float64); ok {
			return int(v)
		}
	}
	return 0
}

func dataMap(data map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if v, ok := data[k].(map[string]any); ok {
			return v
		}
	}
	return nil
}

func dataAny(data map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := data[k]; ok {
			return v
		}
	}
	return nil
}

// handleIntegrationHealth handles GET /api/integration/health. Runs the
// probes so the snapshot is current, then returns it.
func (s *Server) handleIntegrationHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s.bridge.HealthCheck(r.Context())
	writeJSON(w, http.StatusOK, s.bridge.GetHealthStatus())
}

// handleIntegrationMetrics handles GET /api/integration/metrics.
func (s *Server) handleIntegrationMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, s.bridge.GetMetrics())
}

// handleRecover handles POST /api/integration/recover. The outcome travels in
// the body with HTTP 200 either way; a failed recovery is a result, not a
// server error.
func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	res := s.bridge.RecoverIntegration(r.Context())
	resp := RecoverResponse{
		Success:           res.Success,
		State:             res.State.String(),
		DurationMS:        float64(res.Duration) / float64(time.Millisecond),
		RecoveryAttempted: res.RecoveryAttempted,
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWS handles GET /ws. Resolves the user, then hands the socket to the
// hub for the upgrade and subscription plumbing.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.resolveWSUser(w, r)
	if !ok {
		return
	}

	s.hub.ServeWS(w, r, userID, transport.WSOptions{
		AllowedOrigins: s.config.Transport.AllowedOrigins,
		SendTimeout:    s.config.Transport.SendTimeout,
	})
}

// resolveWSUser determines the connecting user. With auth enabled the token
// comes from the Authorization header or the "token" query parameter; without
// it the client names itself via "user_id".
func (s *Server) resolveWSUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.verifier != nil {
		token := auth.TokenFromRequest(r)
		if token == "" {
			s.sendJSONError(w, http.StatusUnauthorized, "missing token")
			return "", false
		}
		userID, err := s.verifier.Verify(token)
		if err != nil {
			s.sendJSONError(w, http.StatusUnauthorized, "invalid token")
			return "", false
		}
		return userID, true
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "user_id query param required")
		return "", false
	}
	return userID, true
}

func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
