// ABOUTME: Handler-level tests for the runs, events, and integration API
// ABOUTME: Exercises the full mux including auth middleware and dedupe

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netra-systems/zenbridge/internal/auth"
	"github.com/netra-systems/zenbridge/internal/config"
	"github.com/netra-systems/zenbridge/internal/transport"
)

func testConfig(jwtSecret string) *config.Config {
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = ":memory:"
	cfg.Auth.JWTSecret = jwtSecret
	cfg.Transport.BufferSize = 8
	return cfg
}

func newTestServer(t *testing.T, jwtSecret string) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(testConfig(jwtSecret), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		err := s.Shutdown(context.Background())
		assert.NoError(t, err)
	})
	return s
}

// bootstrappedServer returns a server whose integration is already active.
func bootstrappedServer(t *testing.T, jwtSecret string) *Server {
	t.Helper()
	s := newTestServer(t, jwtSecret)
	res := s.ensureIntegration(t.Context())
	require.True(t, res.Success, "bootstrap failed: %v", res.Err)
	return s
}

func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			panic(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v),
		"response body: %s", rec.Body.String())
}

func createRun(t *testing.T, s *Server, userID, threadID, runID string) RunResponse {
	t.Helper()
	rec := doRequest(s, http.MethodPost, "/api/runs", CreateRunRequest{
		UserID:   userID,
		ThreadID: threadID,
		RunID:    runID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	var resp RunResponse
	decodeJSON(t, rec, &resp)
	return resp
}

// subscriber attaches a hub connection subscribed to one channel.
func subscriber(t *testing.T, s *Server, userID, channelID string) *transport.Conn {
	t.Helper()
	conn, err := s.hub.Attach(t.Context(), userID)
	require.NoError(t, err)
	require.NoError(t, s.hub.Subscribe(conn.ID(), channelID))
	return conn
}

func recvPayload(t *testing.T, conn *transport.Conn) map[string]any {
	t.Helper()
	select {
	case payload, ok := <-conn.Out():
		require.True(t, ok, "connection queue closed")
		var out map[string]any
		require.NoError(t, json.Unmarshal(payload, &out))
		return out
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}

func assertNoPayload(t *testing.T, conn *transport.Conn) {
	t.Helper()
	select {
	case payload, ok := <-conn.Out():
		if ok {
			t.Fatalf("unexpected payload: %s", payload)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCreateRun(t *testing.T) {
	s := newTestServer(t, "")

	rec := doRequest(s, http.MethodPost, "/api/runs", CreateRunRequest{
		UserID:   "user_1",
		ThreadID: "thread_abc",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp RunResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "user_1", resp.UserID)
	assert.Equal(t, "thread_abc", resp.ThreadID)
	assert.NotEmpty(t, resp.RunID, "run_id should be generated when absent")

	threadID, ok := s.registry.Lookup(t.Context(), resp.RunID)
	require.True(t, ok, "mapping should be registered with the execution")
	assert.Equal(t, "thread_abc", threadID)
}

func TestCreateRunKeepsExplicitRunID(t *testing.T) {
	s := newTestServer(t, "")

	resp := createRun(t, s, "user_1", "thread_abc", "run_explicit")
	assert.Equal(t, "run_explicit", resp.RunID)
}

func TestCreateRunValidation(t *testing.T) {
	s := newTestServer(t, "")

	tests := []struct {
		name    string
		body    any
		wantErr string
	}{
		{"missing user_id", CreateRunRequest{ThreadID: "thread_abc"}, "user_id is required"},
		{"missing thread_id", CreateRunRequest{UserID: "user_1"}, "thread_id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(s, http.MethodPost, "/api/runs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantErr)
		})
	}

	t.Run("invalid JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader([]byte("{nope")))
		rec := httptest.NewRecorder()
		s.httpServer.Handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListRuns(t *testing.T) {
	s := newTestServer(t, "")

	createRun(t, s, "user_1", "thread_a", "run_1")
	createRun(t, s, "user_2", "thread_b", "run_2")

	rec := doRequest(s, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListRunsResponse
	decodeJSON(t, rec, &resp)
	require.Len(t, resp.Runs, 2)

	ids := []string{resp.Runs[0].RunID, resp.Runs[1].RunID}
	assert.Contains(t, ids, "run_1")
	assert.Contains(t, ids, "run_2")
	for _, run := range resp.Runs {
		assert.NotEmpty(t, run.StartedAt)
	}
}

func TestRunsMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, "")

	rec := doRequest(s, http.MethodPut, "/api/runs", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDeleteRun(t *testing.T) {
	s := newTestServer(t, "")
	createRun(t, s, "user_1", "thread_a", "run_1")

	rec := doRequest(s, http.MethodDelete, "/api/runs/run_1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	var resp ListRunsResponse
	listRec := doRequest(s, http.MethodGet, "/api/runs", nil)
	decodeJSON(t, listRec, &resp)
	assert.Empty(t, resp.Runs)

	// The mapping outlives the active record so late events still route
	threadID, ok := s.registry.Lookup(t.Context(), "run_1")
	require.True(t, ok)
	assert.Equal(t, "thread_a", threadID)

	rec = doRequest(s, http.MethodDelete, "/api/runs/run_1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteRunMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, "")
	createRun(t, s, "user_1", "thread_a", "run_1")

	rec := doRequest(s, http.MethodGet, "/api/runs/run_1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestIngestEventDelivers(t *testing.T) {
	s := bootstrappedServer(t, "")
	createRun(t, s, "user_1", "thread_live", "run_1")
	conn := subscriber(t, s, "user_1", "thread_live")

	rec := doRequest(s, http.MethodPost, "/api/runs/run_1/events", IngestEventRequest{
		Type:      "agent_thinking",
		AgentName: "researcher",
		Data: map[string]any{
			"reasoning":           "checking sources",
			"step_number":         2,
			"progress_percentage": 40,
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp IngestEventResponse
	decodeJSON(t, rec, &resp)
	assert.True(t, resp.Delivered)
	assert.False(t, resp.Duplicate)

	payload := recvPayload(t, conn)
	assert.Equal(t, "agent_thinking", payload["type"])
	assert.Equal(t, "run_1", payload["run_id"])
	assert.Equal(t, "researcher", payload["agent_name"])
	assert.Equal(t, "checking sources", payload["reasoning"])
	assert.Equal(t, "checking sources", payload["thinking_content"])
	assert.Equal(t, float64(2), payload["step_number"])
	assert.Equal(t, float64(40), payload["progress_percentage"])
	assert.NotEmpty(t, payload["timestamp"])
}

func TestIngestEventAliasFields(t *testing.T) {
	s := bootstrappedServer(t, "")
	createRun(t, s, "user_1", "thread_live", "run_1")
	conn := subscriber(t, s, "user_1", "thread_live")

	// Older pipeline generations send thinking_content instead of reasoning.
	rec := doRequest(s, http.MethodPost, "/api/runs/run_1/events", IngestEventRequest{
		Type: "agent_thinking",
		Data: map[string]any{"thinking_content": "legacy field"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	payload := recvPayload(t, conn)
	assert.Equal(t, "legacy field", payload["reasoning"])
	assert.Equal(t, "legacy field", payload["thinking_content"])
}

func TestIngestEventUnknownType(t *testing.T) {
	s := bootstrappedServer(t, "")
	createRun(t, s, "user_1", "thread_live", "run_1")

	rec := doRequest(s, http.MethodPost, "/api/runs/run_1/events", IngestEventRequest{
		Type: "agent_paused",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown event type")

	rec = doRequest(s, http.MethodPost, "/api/runs/run_1/events", IngestEventRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "type is required")
}

func TestIngestEventDuplicateSuppressed(t *testing.T) {
	s := bootstrappedServer(t, "")
	createRun(t, s, "user_1", "thread_live", "run_1")
	conn := subscriber(t, s, "user_1", "thread_live")

	body := IngestEventRequest{
		Type:    "progress_update",
		EventID: "evt_1",
		Data:    map[string]any{"message": "halfway", "progress_percentage": 50},
	}

	rec := doRequest(s, http.MethodPost, "/api/runs/run_1/events", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var first IngestEventResponse
	decodeJSON(t, rec, &first)
	assert.True(t, first.Delivered)
	assert.False(t, first.Duplicate)
	recvPayload(t, conn)

	rec = doRequest(s, http.MethodPost, "/api/runs/run_1/events", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var second IngestEventResponse
	decodeJSON(t, rec, &second)
	assert.True(t, second.Delivered)
	assert.True(t, second.Duplicate)
	assertNoPayload(t, conn)
}

func TestIngestEventDedupeIsPerRun(t *testing.T) {
	s := bootstrappedServer(t, "")
	createRun(t, s, "user_1", "thread_live", "run_1")
	createRun(t, s, "user_1", "thread_live", "run_2")
	conn := subscriber(t, s, "user_1", "thread_live")

	// The same event_id on different runs is not a duplicate.
	for _, runID := range []string{"run_1", "run_2"} {
		rec := doRequest(s, http.MethodPost, "/api/runs/"+runID+"/events", IngestEventRequest{
			Type:    "progress_update",
			EventID: "evt_1",
			Data:    map[string]any{"message": "tick"},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp IngestEventResponse
		decodeJSON(t, rec, &resp)
		assert.True(t, resp.Delivered)
		assert.False(t, resp.Duplicate)
		recvPayload(t, conn)
	}
}

func TestIngestEventWithoutEventIDNotDeduped(t *testing.T) {
	s := bootstrappedServer(t, "")
	createRun(t, s, "user_1", "thread_live", "run_1")
	conn := subscriber(t, s, "user_1", "thread_live")

	body := IngestEventRequest{
		Type: "progress_update",
		Data: map[string]any{"message": "tick"},
	}
	for i := 0; i < 2; i++ {
		rec := doRequest(s, http.MethodPost, "/api/runs/run_1/events", body)
		require.Equal(t, http.StatusOK, rec.Code)
		recvPayload(t, conn)
	}
}

func TestIngestEventUnroutableRun(t *testing.T) {
	s := bootstrappedServer(t, "")

	rec := doRequest(s, http.MethodPost, "/api/runs/run-opaque-1/events", IngestEventRequest{
		Type: "progress_update",
		Data: map[string]any{"message": "tick"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp IngestEventResponse
	decodeJSON(t, rec, &resp)
	assert.False(t, resp.Delivered, "run without a mapping or inferable thread should not deliver")
}

func TestIngestEventThreadInferredFromRunID(t *testing.T) {
	s := bootstrappedServer(t, "")
	conn := subscriber(t, s, "user_1", "thread_777")

	// No registration: the thread comes from the run id itself.
	rec := doRequest(s, http.MethodPost, "/api/runs/ghost_thread_777/events", IngestEventRequest{
		Type: "progress_update",
		Data: map[string]any{"message": "tick"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp IngestEventResponse
	decodeJSON(t, rec, &resp)
	assert.True(t, resp.Delivered)

	payload := recvPayload(t, conn)
	assert.Equal(t, "ghost_thread_777", payload["run_id"])
}

func TestIngestEventBeforeBootstrap(t *testing.T) {
	s := newTestServer(t, "")
	createRun(t, s, "user_1", "thread_live", "run_1")

	rec := doRequest(s, http.MethodPost, "/api/runs/run_1/events", IngestEventRequest{
		Type: "progress_update",
		Data: map[string]any{"message": "tick"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp IngestEventResponse
	decodeJSON(t, rec, &resp)
	assert.False(t, resp.Delivered, "uninitialized integration should drop, not error")
}

func TestIntegrationHealthEndpoint(t *testing.T) {
	s := bootstrappedServer(t, "")

	rec := doRequest(s, http.MethodGet, "/api/integration/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]any
	decodeJSON(t, rec, &status)
	assert.Equal(t, "active", status["state"])
	assert.Equal(t, true, status["transport_healthy"])
	assert.Equal(t, true, status["registry_healthy"])
	assert.Equal(t, float64(0), status["consecutive_failures"])
}

func TestIntegrationMetricsEndpoint(t *testing.T) {
	s := bootstrappedServer(t, "")

	rec := doRequest(s, http.MethodGet, "/api/integration/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var metrics map[string]any
	decodeJSON(t, rec, &metrics)
	assert.Equal(t, float64(1), metrics["initialization_attempts"])
	assert.Equal(t, float64(1), metrics["initialization_successes"])
	assert.Contains(t, metrics, "uptime_seconds")
}

func TestRecoverEndpoint(t *testing.T) {
	s := bootstrappedServer(t, "")

	rec := doRequest(s, http.MethodPost, "/api/integration/recover", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RecoverResponse
	decodeJSON(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "active", resp.State)
	assert.True(t, resp.RecoveryAttempted)

	rec = doRequest(s, http.MethodGet, "/api/integration/recover", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecoverEndpointWithoutBootstrap(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig("")
	cfg.Bridge.RecoveryMaxAttempts = 1 // fail fast, no backoff sleeps
	s, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	rec := doRequest(s, http.MethodPost, "/api/integration/recover", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RecoverResponse
	decodeJSON(t, rec, &resp)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
	assert.True(t, resp.RecoveryAttempted)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, "")

	rec := doRequest(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestReadyEndpoint(t *testing.T) {
	s := newTestServer(t, "")

	rec := doRequest(s, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "uninitialized")

	res := s.ensureIntegration(t.Context())
	require.True(t, res.Success)

	rec = doRequest(s, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", rec.Body.String())
}

func TestAPIAuthMiddleware(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	s := newTestServer(t, secret)

	rec := doRequest(s, http.MethodGet, "/api/runs", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := auth.NewJWTVerifier([]byte(secret)).Generate("user_1", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	authed := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(authed, req)
	assert.Equal(t, http.StatusOK, authed.Code)

	// Health stays open without a token
	rec = doRequest(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWSAuthRequired(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	s := newTestServer(t, secret)

	rec := doRequest(s, http.MethodGet, "/ws", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing token")

	rec = doRequest(s, http.MethodGet, "/ws?token=not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid token")
}

func TestWSAnonymousRequiresUserID(t *testing.T) {
	s := newTestServer(t, "")

	rec := doRequest(s, http.MethodGet, "/ws", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "user_id")
}
