package swarm

import (
	"context"
	"sync"
	"time"

	"SwarmGate/internal/errors"
	"SwarmGate/internal/runner"
	"SwarmGate/pkg/logger"
)

const (
	// 单次任务内并行构造智能体的上限。
	maxConstructParallel = 10
	// flex 档在资源饱和时的最大重试次数。
	flexMaxRetries = 3
	// 第 n 次重试前等待 baseBackoff × 2^n。
	baseBackoff = 5 * time.Second
)

// Executor 负责把 JobSpec 变成一次真实执行：
// 并行构造智能体、按服务档位决定重试策略、驱动 Runner 完成任务。
type Executor struct {
	runner runner.Runner

	sleep func(time.Duration) // for testing
}

// NewExecutor 创建执行器。
func NewExecutor(r runner.Runner) *Executor {
	return &Executor{
		runner: r,
		sleep:  time.Sleep,
	}
}

// Run 执行一个任务，返回执行结果与构造出的智能体
// （后者携带执行期间累积的记忆，供计费使用）。
// 执行不会因调用方断开连接而中止：一旦开始就跑到结束并计费。
func (e *Executor) Run(ctx context.Context, job *JobSpec) (*runner.Result, []*runner.Agent, error) {
	ctx = context.WithoutCancel(ctx)

	agents, err := e.constructAgents(ctx, job)
	if err != nil {
		return nil, nil, err
	}

	req := runner.ExecuteRequest{
		Topology: job.SwarmType,
		Agents:   agents,
		Task:     job.Task,
		Tasks:    job.Tasks,
		Messages: job.Messages,
		Rules:    job.Rules,
	}

	flex := job.ServiceTier == "flex"
	attempts := 1
	if flex {
		attempts = flexMaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff * (1 << (attempt - 1))
			logger.L().Info("资源饱和，等待后重试",
				"attempt", attempt, "backoff", backoff.String(), "swarm", job.Name)
			e.sleep(backoff)
		}

		result, err := e.runner.Execute(ctx, req)
		if err == nil {
			return result, agents, nil
		}
		lastErr = err

		if !flex || errors.CodeOf(err) != errors.CodeResourceExhausted {
			return nil, nil, err
		}
	}

	return nil, nil, errors.Wrap(errors.CodeRetriesExhausted, lastErr, "重试次数耗尽",
		errors.WithMetadata("attempts", "3"))
}

// constructAgents 并行构造全部智能体。任何一个校验失败都会
// 使整个任务失败，返回第一个遇到的错误。
func (e *Executor) constructAgents(ctx context.Context, job *JobSpec) ([]*runner.Agent, error) {
	if len(job.Agents) == 0 {
		return nil, errors.New(errors.CodeValidationFailed, "任务未声明任何智能体")
	}

	parallel := len(job.Agents)
	if parallel > maxConstructParallel {
		parallel = maxConstructParallel
	}

	agents := make([]*runner.Agent, len(job.Agents))
	errs := make([]error, len(job.Agents))
	sem := make(chan struct{}, parallel)
	var wg sync.WaitGroup

	for i, spec := range job.Agents {
		wg.Add(1)
		go func(i int, spec AgentSpec) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			maxLoops := spec.MaxLoops
			if maxLoops <= 0 {
				maxLoops = job.MaxLoops
			}
			agent, err := e.runner.Construct(ctx, runner.AgentConfig{
				Name:         spec.AgentName,
				Description:  spec.Description,
				SystemPrompt: spec.SystemPrompt,
				Model:        spec.ModelName,
				Role:         spec.Role,
				Temperature:  spec.Temperature,
				MaxLoops:     maxLoops,
				MaxTokens:    spec.MaxTokens,
			})
			agents[i], errs[i] = agent, err
		}(i, spec)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return agents, nil
}
