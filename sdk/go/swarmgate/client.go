package swarmgate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Swarm executions can take a while, so it is generous.
const DefaultHTTPTimeout = 5 * time.Minute

// Client wraps the HTTP interactions with the SwarmGate REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// AgentSpec describes a single agent inside a swarm request.
type AgentSpec struct {
	AgentName    string  `json:"agent_name"`
	Description  string  `json:"description,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	ModelName    string  `json:"model_name,omitempty"`
	Role         string  `json:"role,omitempty"`
	MaxLoops     int     `json:"max_loops,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

// Message is a single turn of prior conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SwarmRequest is the payload for a multi-agent completion.
type SwarmRequest struct {
	Name          string      `json:"name,omitempty"`
	Description   string      `json:"description,omitempty"`
	Agents        []AgentSpec `json:"agents,omitempty"`
	MaxLoops      int         `json:"max_loops,omitempty"`
	SwarmType     string      `json:"swarm_type,omitempty"`
	Task          string      `json:"task,omitempty"`
	Tasks         []string    `json:"tasks,omitempty"`
	Messages      []Message   `json:"messages,omitempty"`
	ReturnHistory bool        `json:"return_history,omitempty"`
	Rules         string      `json:"rules,omitempty"`
	ServiceTier   string      `json:"service_tier,omitempty"`
}

// AgentRequest is the payload for a single-agent completion.
type AgentRequest struct {
	AgentConfig AgentSpec `json:"agent_config"`
	Task        string    `json:"task"`
	History     []Message `json:"history,omitempty"`
}

// Usage reports the token consumption and billed cost of a run.
type Usage struct {
	InputTokens  int                    `json:"input_tokens"`
	OutputTokens int                    `json:"output_tokens"`
	PerAgent     map[string]AgentTokens `json:"per_agent_tokens,omitempty"`
	TotalCost    string                 `json:"total_cost"`
}

// AgentTokens is the per-agent slice of a swarm's token usage.
type AgentTokens struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// SwarmResponse is returned by the completion endpoints.
type SwarmResponse struct {
	JobID          string    `json:"job_id"`
	Status         string    `json:"status"`
	SwarmName      string    `json:"swarm_name,omitempty"`
	Description    string    `json:"description,omitempty"`
	SwarmType      string    `json:"swarm_type,omitempty"`
	Output         any       `json:"output"`
	NumberOfAgents int       `json:"number_of_agents"`
	ServiceTier    string    `json:"service_tier,omitempty"`
	Tasks          []string  `json:"tasks,omitempty"`
	Messages       []Message `json:"messages,omitempty"`
	Usage          Usage     `json:"usage"`
}

// LogEntry is one recorded API call for the authenticated account.
type LogEntry struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Status    int       `json:"status"`
	ClientIP  string    `json:"client_ip"`
	Duration  string    `json:"duration"`
	CreatedAt time.Time `json:"created_at"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("swarmgate api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("swarmgate api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the SwarmGate API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL, apiKey string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, apiKey: apiKey}
}

// APIKey returns the currently stored key.
func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// SetAPIKey overrides the stored API key.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// RunSwarm executes a multi-agent job and returns its billed result.
func (c *Client) RunSwarm(ctx context.Context, req SwarmRequest) (SwarmResponse, error) {
	var resp SwarmResponse
	if err := c.post(ctx, "/v1/swarm/completions", req, &resp, true); err != nil {
		return SwarmResponse{}, err
	}
	return resp, nil
}

// RunBatch executes several jobs in one call. Failed jobs come back with
// status "error" instead of failing the whole batch.
func (c *Client) RunBatch(ctx context.Context, reqs []SwarmRequest) ([]SwarmResponse, error) {
	var resp []SwarmResponse
	if err := c.post(ctx, "/v1/swarm/batch/completions", reqs, &resp, true); err != nil {
		return nil, err
	}
	return resp, nil
}

// RunAgent executes a single-agent completion.
func (c *Client) RunAgent(ctx context.Context, req AgentRequest) (SwarmResponse, error) {
	var resp SwarmResponse
	if err := c.post(ctx, "/v1/agent/completions", req, &resp, true); err != nil {
		return SwarmResponse{}, err
	}
	return resp, nil
}

// Logs returns the most recent API calls recorded for the account.
func (c *Client) Logs(ctx context.Context) ([]LogEntry, error) {
	var out struct {
		Status string     `json:"status"`
		Count  int        `json:"count"`
		Logs   []LogEntry `json:"logs"`
	}
	if err := c.get(ctx, "/v1/swarm/logs", &out, true); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

// Topologies lists the swarm types accepted by the service.
func (c *Client) Topologies(ctx context.Context) ([]string, error) {
	var out struct {
		Success bool     `json:"success"`
		Swarms  []string `json:"swarms"`
	}
	if err := c.get(ctx, "/v1/swarms/available", &out, false); err != nil {
		return nil, err
	}
	return out.Swarms, nil
}

// Models lists the model names accepted by the service.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var out struct {
		Success bool     `json:"success"`
		Models  []string `json:"models"`
	}
	if err := c.get(ctx, "/v1/models/available", &out, false); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Health probes the service liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil, false)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, withAuth bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body), withAuth)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any, withAuth bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, withAuth)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, withAuth bool) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if withAuth {
		key := c.APIKey()
		if key == "" {
			return nil, errors.New("swarmgate: api key is not set")
		}
		req.Header.Set("x-api-key", key)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				// try direct decode into apiErr if server returned flat payload
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
