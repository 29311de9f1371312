// ABOUTME: Scripted agent-run simulator for exercising a live zenbridge server
// ABOUTME: Usage: run-sim [-addr localhost:8080] [-scenario run.toml] [-token JWT]

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// Scenario is a scripted sequence of events for one agent run. Loaded from a
// TOML file:
//
//	user_id    = "demo_user"
//	thread_id  = "thread_demo"
//	agent_name = "researcher"
//
//	[[events]]
//	type  = "agent_started"
//	data  = { initial_parameters = { query = "tides" } }
//
//	[[events]]
//	type  = "agent_thinking"
//	delay = "500ms"
//	data  = { reasoning = "looking at tide tables", step_number = 1 }
type Scenario struct {
	UserID    string          `toml:"user_id"`
	ThreadID  string          `toml:"thread_id"`
	RunID     string          `toml:"run_id"`
	AgentName string          `toml:"agent_name"`
	Events    []ScenarioEvent `toml:"events"`
}

// ScenarioEvent is one [[events]] table. Delay is how long to wait before
// sending, parsed as a Go duration.
type ScenarioEvent struct {
	Type  string         `toml:"type"`
	Delay string         `toml:"delay"`
	Data  map[string]any `toml:"data"`
}

func defaultScenario() *Scenario {
	return &Scenario{
		UserID:    "sim_user",
		ThreadID:  "thread_sim",
		AgentName: "sim-agent",
		Events: []ScenarioEvent{
			{Type: "agent_started", Data: map[string]any{
				"initial_parameters": map[string]any{"task": "simulated research run"},
			}},
			{Type: "agent_thinking", Delay: "300ms", Data: map[string]any{
				"reasoning": "breaking the task into steps", "step_number": 1, "progress_percentage": 10,
			}},
			{Type: "tool_executing", Delay: "300ms", Data: map[string]any{
				"tool_name": "web_search", "parameters": map[string]any{"query": "simulated"},
			}},
			{Type: "tool_completed", Delay: "500ms", Data: map[string]any{
				"tool_name": "web_search", "result": "3 results", "execution_time_ms": 480,
			}},
			{Type: "agent_thinking", Delay: "300ms", Data: map[string]any{
				"reasoning": "synthesizing findings", "step_number": 2, "progress_percentage": 60,
			}},
			{Type: "progress_update", Delay: "200ms", Data: map[string]any{
				"message": "drafting answer", "progress_percentage": 80,
			}},
			{Type: "agent_completed", Delay: "400ms", Data: map[string]any{
				"final_result": "simulation finished", "execution_time_ms": 2000,
			}},
		},
	}
}

func loadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}

	var sc Scenario
	if _, err := toml.Decode(string(data), &sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}

	if sc.UserID == "" {
		return nil, fmt.Errorf("scenario user_id is required")
	}
	if sc.ThreadID == "" {
		return nil, fmt.Errorf("scenario thread_id is required")
	}
	if len(sc.Events) == 0 {
		return nil, fmt.Errorf("scenario has no events")
	}
	return &sc, nil
}

func main() {
	addr := flag.String("addr", "localhost:8080", "zenbridge HTTP address")
	scenarioPath := flag.String("scenario", "", "TOML scenario file (built-in scenario when empty)")
	token := flag.String("token", "", "bearer token for authenticated servers")
	keep := flag.Bool("keep", false, "leave the run registered when done")
	flag.Parse()

	sc := defaultScenario()
	if *scenarioPath != "" {
		loaded, err := loadScenario(*scenarioPath)
		if err != nil {
			log.Fatal(err)
		}
		sc = loaded
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, *addr, *token, sc, *keep); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, addr, token string, sc *Scenario, keep bool) error {
	base := "http://" + addr
	client := &http.Client{Timeout: 10 * time.Second}

	runID := sc.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	status, body, err := doJSON(ctx, client, http.MethodPost, base+"/api/runs", token, map[string]any{
		"user_id":   sc.UserID,
		"thread_id": sc.ThreadID,
		"run_id":    runID,
	})
	if err != nil {
		return fmt.Errorf("registering run: %w", err)
	}
	if status != http.StatusCreated {
		return fmt.Errorf("registering run: status %d: %s", status, body)
	}
	fmt.Fprintf(os.Stderr, "registered run %s (user %s, thread %s)\n", runID, sc.UserID, sc.ThreadID)

	for i, ev := range sc.Events {
		if ev.Delay != "" {
			delay, err := time.ParseDuration(ev.Delay)
			if err != nil {
				return fmt.Errorf("event %d: parsing delay: %w", i+1, err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		status, body, err := doJSON(ctx, client, http.MethodPost,
			base+"/api/runs/"+runID+"/events", token, map[string]any{
				"type":       ev.Type,
				"agent_name": sc.AgentName,
				"event_id":   fmt.Sprintf("sim-%s-%d", runID, i),
				"data":       ev.Data,
			})
		if err != nil {
			return fmt.Errorf("event %d (%s): %w", i+1, ev.Type, err)
		}
		if status != http.StatusOK {
			return fmt.Errorf("event %d (%s): status %d: %s", i+1, ev.Type, status, body)
		}

		var result struct {
			Delivered bool `json:"delivered"`
			Duplicate bool `json:"duplicate"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return fmt.Errorf("event %d (%s): decoding response: %w", i+1, ev.Type, err)
		}

		line := fmt.Sprintf("[%d/%d] %-16s delivered=%v", i+1, len(sc.Events), ev.Type, result.Delivered)
		if result.Duplicate {
			line += " (duplicate)"
		}
		fmt.Println(line)
	}

	if !keep {
		status, body, err := doJSON(ctx, client, http.MethodDelete, base+"/api/runs/"+runID, token, nil)
		if err != nil {
			return fmt.Errorf("completing run: %w", err)
		}
		if status != http.StatusNoContent {
			return fmt.Errorf("completing run: status %d: %s", status, body)
		}
		fmt.Fprintf(os.Stderr, "run %s completed\n", runID)
	}

	return nil
}

// doJSON sends an optionally-authenticated JSON request and returns the
// status code and raw body.
func doJSON(ctx context.Context, client *http.Client, method, url, token string, payload any) (int, []byte, error) {
	var reqBody *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reqBody = bytes.NewReader(b)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, buf.Bytes(), nil
}
