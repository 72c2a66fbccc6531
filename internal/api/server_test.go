package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"SwarmGate/internal/auth"
	"SwarmGate/internal/billing"
	"SwarmGate/internal/cache"
	"SwarmGate/internal/ratelimit"
	"SwarmGate/internal/requestlog"
	"SwarmGate/internal/runner"
	"SwarmGate/internal/swarm"
)

// stubRunner 返回固定输出，用于端到端测试。
type stubRunner struct{}

func (stubRunner) Construct(_ context.Context, cfg runner.AgentConfig) (*runner.Agent, error) {
	if err := runner.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &runner.Agent{Config: cfg}, nil
}

func (stubRunner) Execute(_ context.Context, req runner.ExecuteRequest) (*runner.Result, error) {
	return &runner.Result{
		Output: "stub output",
		Messages: []runner.Message{
			{Role: req.Agents[0].Config.Name, Content: "stub output"},
		},
	}, nil
}

func newTestServer(t *testing.T, freeCredit float64, maxRequests int) (*httptest.Server, *billing.MemoryStore) {
	t.Helper()

	store := billing.NewMemoryStore()
	store.Put(&billing.Account{
		ID:         "acct-1",
		FreeCredit: decimal.NewFromFloat(freeCredit),
	})

	noon := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	calc := billing.NewCalculator(billing.HeuristicCounter{},
		billing.WithNowFunc(func() time.Time { return noon }),
		billing.WithLocation(time.UTC))

	exec := swarm.NewExecutor(stubRunner{})
	orch := swarm.NewOrchestrator(exec, calc, billing.NewLedger(store),
		swarm.WithCache(cache.New(time.Hour, 100), 5*time.Minute))

	keys := auth.NewMemoryKeyStore()
	keys.Seed("sk-test", "acct-1")

	server := NewServer(":0", orch,
		auth.NewService(keys, time.Minute),
		ratelimit.New(maxRequests, time.Minute),
		requestlog.NewMemorySink(100))

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func jobBody() []byte {
	body, _ := json.Marshal(map[string]any{
		"name":       "demo",
		"swarm_type": "SequentialWorkflow",
		"task":       "summarize the quarterly report",
		"agents": []map[string]any{
			{"agent_name": "writer", "model_name": "claude-sonnet-4-5"},
		},
	})
	return body
}

func postJSON(t *testing.T, url, apiKey string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	return resp
}

func TestSwarmCompletionSuccess(t *testing.T) {
	ts, store := newTestServer(t, 10, 100)

	resp := postJSON(t, ts.URL+"/v1/swarm/completions", "sk-test", jobBody())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out swarm.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != "success" {
		t.Fatalf("Status = %q", out.Status)
	}
	if out.Output != "stub output" {
		t.Fatalf("Output = %v", out.Output)
	}
	if out.NumberOfAgents != 1 {
		t.Fatalf("NumberOfAgents = %d", out.NumberOfAgents)
	}
	if len(store.Transactions("acct-1")) != 1 {
		t.Fatal("completion must deduct credits")
	}
}

func TestSwarmCompletionMissingKey(t *testing.T) {
	ts, _ := newTestServer(t, 10, 100)

	resp := postJSON(t, ts.URL+"/v1/swarm/completions", "", jobBody())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestSwarmCompletionInvalidKey(t *testing.T) {
	ts, _ := newTestServer(t, 10, 100)

	resp := postJSON(t, ts.URL+"/v1/swarm/completions", "sk-wrong", jobBody())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("error code = %q, want UNAUTHORIZED", body.Error.Code)
	}
}

func TestSwarmCompletionValidationError(t *testing.T) {
	ts, _ := newTestServer(t, 10, 100)

	body, _ := json.Marshal(map[string]any{
		"name":   "demo",
		"agents": []map[string]any{{"agent_name": "a", "model_name": "m"}},
	})
	resp := postJSON(t, ts.URL+"/v1/swarm/completions", "sk-test", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSwarmCompletionInsufficientCredit(t *testing.T) {
	ts, _ := newTestServer(t, 0, 100)

	resp := postJSON(t, ts.URL+"/v1/swarm/completions", "sk-test", jobBody())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
}

func TestRateLimitExceeded(t *testing.T) {
	ts, _ := newTestServer(t, 10, 1)

	first := postJSON(t, ts.URL+"/v1/swarm/completions", "sk-test", jobBody())
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d, want 200", first.StatusCode)
	}

	second := postJSON(t, ts.URL+"/v1/swarm/completions", "sk-test", jobBody())
	defer second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.StatusCode)
	}
}

func TestBatchCompletions(t *testing.T) {
	ts, _ := newTestServer(t, 10, 100)

	var jobs []json.RawMessage
	for i := 0; i < 2; i++ {
		job, _ := json.Marshal(map[string]any{
			"name":       fmt.Sprintf("job-%d", i),
			"swarm_type": "ConcurrentWorkflow",
			"task":       fmt.Sprintf("task %d", i),
			"agents": []map[string]any{
				{"agent_name": "worker", "model_name": "claude-sonnet-4-5"},
			},
		})
		jobs = append(jobs, job)
	}
	body, _ := json.Marshal(jobs)

	resp := postJSON(t, ts.URL+"/v1/swarm/batch/completions", "sk-test", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out []swarm.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("responses = %d, want 2", len(out))
	}
}

func TestAgentCompletion(t *testing.T) {
	ts, _ := newTestServer(t, 10, 100)

	body, _ := json.Marshal(map[string]any{
		"agent_config": map[string]any{
			"agent_name": "solo",
			"model_name": "claude-sonnet-4-5",
		},
		"task": "answer the question",
	})
	resp := postJSON(t, ts.URL+"/v1/agent/completions", "sk-test", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out swarm.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.NumberOfAgents != 1 {
		t.Fatalf("NumberOfAgents = %d, want 1", out.NumberOfAgents)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, 10, 100)

	for _, path := range []string{"/v1/swarms/available", "/v1/models/available", "/health", "/healthz"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestLogsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, 10, 100)

	postJSON(t, ts.URL+"/v1/swarm/completions", "sk-test", jobBody()).Body.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/swarm/logs", nil)
	req.Header.Set("x-api-key", "sk-test")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET logs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out struct {
		Status string             `json:"status"`
		Count  int                `json:"count"`
		Logs   []requestlog.Entry `json:"logs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 1 || len(out.Logs) != 1 {
		t.Fatalf("count = %d, logs = %d, want 1 each", out.Count, len(out.Logs))
	}
	if out.Logs[0].Path != "/v1/swarm/completions" {
		t.Fatalf("logged path = %q", out.Logs[0].Path)
	}
}
