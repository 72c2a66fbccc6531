package anthropic

import (
	"context"
	"testing"

	"SwarmGate/internal/errors"
	"SwarmGate/internal/runner"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(Config{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestConstructRequiresModel(t *testing.T) {
	client := newTestClient(t)

	_, err := client.Construct(context.Background(), runner.AgentConfig{Name: "writer"})
	if errors.CodeOf(err) != errors.CodeValidationFailed {
		t.Fatalf("err = %v, want VALIDATION_FAILED", err)
	}
}

func TestConstructDefaultsMaxLoops(t *testing.T) {
	client := newTestClient(t)

	agent, err := client.Construct(context.Background(), runner.AgentConfig{
		Name:  "writer",
		Model: "claude-sonnet-4-5",
	})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	if agent.Config.MaxLoops != 1 {
		t.Fatalf("MaxLoops = %d, want 1", agent.Config.MaxLoops)
	}
	if agent.Config.Model != "claude-sonnet-4-5" {
		t.Fatalf("Model = %q", agent.Config.Model)
	}
}

func TestSystemPromptForAppendsRules(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		rules  string
		want   string
	}{
		{"both", "You write haikus.", "Answer in English.", "You write haikus.\n\nAnswer in English."},
		{"rules only", "", "Answer in English.", "Answer in English."},
		{"prompt only", "You write haikus.", "", "You write haikus."},
		{"neither", "", "", ""},
	}
	for _, tt := range tests {
		agent := &runner.Agent{Config: runner.AgentConfig{SystemPrompt: tt.prompt}}
		if got := systemPromptFor(agent, tt.rules); got != tt.want {
			t.Fatalf("%s: systemPromptFor = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestMaxTokensForPrefersAgentLimit(t *testing.T) {
	client := newTestClient(t)

	agent := &runner.Agent{Config: runner.AgentConfig{MaxTokens: 1024}}
	if got := client.maxTokensFor(agent); got != 1024 {
		t.Fatalf("maxTokensFor = %d, want 1024", got)
	}

	agent = &runner.Agent{Config: runner.AgentConfig{}}
	if got := client.maxTokensFor(agent); got != 8192 {
		t.Fatalf("maxTokensFor = %d, want the 8192 default", got)
	}
}
