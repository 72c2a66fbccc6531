package swarm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"SwarmGate/internal/errors"
	"SwarmGate/internal/runner"
)

// fakeRunner 记录调用并按预设脚本返回结果。
type fakeRunner struct {
	mu           sync.Mutex
	constructed  atomic.Int64
	executeCalls atomic.Int64
	failFirst    int // 前 N 次 Execute 返回资源饱和
	executeErr   error
	result       *runner.Result
	configs      []runner.AgentConfig
	lastRequest  runner.ExecuteRequest
}

func (f *fakeRunner) Construct(_ context.Context, cfg runner.AgentConfig) (*runner.Agent, error) {
	if err := runner.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	f.constructed.Add(1)
	f.mu.Lock()
	f.configs = append(f.configs, cfg)
	f.mu.Unlock()
	return &runner.Agent{Config: cfg}, nil
}

func (f *fakeRunner) Execute(_ context.Context, req runner.ExecuteRequest) (*runner.Result, error) {
	f.mu.Lock()
	f.lastRequest = req
	f.mu.Unlock()
	call := f.executeCalls.Add(1)
	if f.executeErr != nil {
		return nil, f.executeErr
	}
	if int(call) <= f.failFirst {
		return nil, errors.New(errors.CodeResourceExhausted, "")
	}
	if f.result != nil {
		return f.result, nil
	}
	return &runner.Result{Output: "done"}, nil
}

func executorJob(agents int) *JobSpec {
	job := &JobSpec{
		Name:      "test",
		SwarmType: "SequentialWorkflow",
		Task:      "do the thing",
	}
	for i := 0; i < agents; i++ {
		job.Agents = append(job.Agents, AgentSpec{
			AgentName: "agent",
			ModelName: "claude-sonnet-4-5",
		})
	}
	return job
}

func TestRunConstructsAllAgents(t *testing.T) {
	fake := &fakeRunner{}
	exec := NewExecutor(fake)
	exec.sleep = func(time.Duration) {}

	result, agents, err := exec.Run(context.Background(), executorJob(4))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Output != "done" {
		t.Fatalf("Output = %v", result.Output)
	}
	if len(agents) != 4 || fake.constructed.Load() != 4 {
		t.Fatalf("constructed %d agents, want 4", fake.constructed.Load())
	}
}

func TestRunThreadsAgentLimitsAndRules(t *testing.T) {
	fake := &fakeRunner{}
	exec := NewExecutor(fake)

	job := executorJob(1)
	job.Rules = "answer in English"
	job.Agents[0].Role = "worker"
	job.Agents[0].MaxTokens = 1024

	if _, _, err := exec.Run(context.Background(), job); err != nil {
		t.Fatalf("Run: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.configs) != 1 {
		t.Fatalf("constructed %d agents, want 1", len(fake.configs))
	}
	cfg := fake.configs[0]
	if cfg.Role != "worker" {
		t.Fatalf("Role = %q, want worker", cfg.Role)
	}
	if cfg.MaxTokens != 1024 {
		t.Fatalf("MaxTokens = %d, want 1024", cfg.MaxTokens)
	}
	if fake.lastRequest.Rules != "answer in English" {
		t.Fatalf("Rules = %q, want the job rules", fake.lastRequest.Rules)
	}
}

func TestRunInvalidAgentFailsWholeJob(t *testing.T) {
	fake := &fakeRunner{}
	exec := NewExecutor(fake)

	job := executorJob(3)
	job.Agents[1].ModelName = "" // 缺少模型

	_, _, err := exec.Run(context.Background(), job)
	if errors.CodeOf(err) != errors.CodeValidationFailed {
		t.Fatalf("err = %v, want VALIDATION_FAILED", err)
	}
	if fake.executeCalls.Load() != 0 {
		t.Fatal("execution must not start when construction fails")
	}
}

func TestRunNoAgents(t *testing.T) {
	exec := NewExecutor(&fakeRunner{})
	_, _, err := exec.Run(context.Background(), executorJob(0))
	if errors.CodeOf(err) != errors.CodeValidationFailed {
		t.Fatalf("err = %v, want VALIDATION_FAILED", err)
	}
}

func TestFlexRetriesWithBackoff(t *testing.T) {
	fake := &fakeRunner{failFirst: 2}
	exec := NewExecutor(fake)

	var slept []time.Duration
	exec.sleep = func(d time.Duration) { slept = append(slept, d) }

	job := executorJob(1)
	job.ServiceTier = "flex"

	result, _, err := exec.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Output != "done" {
		t.Fatalf("Output = %v", result.Output)
	}
	if fake.executeCalls.Load() != 3 {
		t.Fatalf("execute calls = %d, want 3", fake.executeCalls.Load())
	}
	want := []time.Duration{5 * time.Second, 10 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("slept %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("backoff[%d] = %v, want %v", i, slept[i], want[i])
		}
	}
}

func TestFlexRetriesExhausted(t *testing.T) {
	fake := &fakeRunner{failFirst: 10}
	exec := NewExecutor(fake)
	exec.sleep = func(time.Duration) {}

	job := executorJob(1)
	job.ServiceTier = "flex"

	_, _, err := exec.Run(context.Background(), job)
	if errors.CodeOf(err) != errors.CodeRetriesExhausted {
		t.Fatalf("err = %v, want RETRIES_EXHAUSTED", err)
	}
	if fake.executeCalls.Load() != 3 {
		t.Fatalf("execute calls = %d, want 3", fake.executeCalls.Load())
	}
}

func TestStandardTierNeverRetries(t *testing.T) {
	fake := &fakeRunner{failFirst: 1}
	exec := NewExecutor(fake)
	exec.sleep = func(time.Duration) {}

	_, _, err := exec.Run(context.Background(), executorJob(1))
	if errors.CodeOf(err) != errors.CodeResourceExhausted {
		t.Fatalf("err = %v, want RESOURCE_EXHAUSTED", err)
	}
	if fake.executeCalls.Load() != 1 {
		t.Fatalf("execute calls = %d, want 1", fake.executeCalls.Load())
	}
}
