package swarm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"SwarmGate/internal/billing"
	"SwarmGate/internal/cache"
	"SwarmGate/internal/errors"
	"SwarmGate/internal/observability/alerting"
	"SwarmGate/internal/observability/metrics"
	"SwarmGate/internal/runner"
	"SwarmGate/pkg/logger"
)

// 批量请求的并行上限。
const maxBatchParallel = 10

// AgentCompletion 是单智能体补全请求。
type AgentCompletion struct {
	AgentConfig AgentSpec        `json:"agent_config"`
	Task        string           `json:"task"`
	History     []runner.Message `json:"history,omitempty"`
}

// Orchestrator 串起一次请求的完整生命周期：
// 校验、缓存查找、执行、计费、扣款、缓存回填。
type Orchestrator struct {
	executor *Executor
	calc     *billing.Calculator
	ledger   *billing.Ledger
	cache    *cache.Cache
	agentTTL time.Duration
	alerts   alerting.Dispatcher
}

// Option 配置 Orchestrator 的可选组件。
type Option func(*Orchestrator)

// WithCache 启用结果缓存。agentTTL 为单智能体补全结果的存活时长。
func WithCache(c *cache.Cache, agentTTL time.Duration) Option {
	return func(o *Orchestrator) {
		o.cache = c
		if agentTTL > 0 {
			o.agentTTL = agentTTL
		}
	}
}

// WithAlerts 启用告警派发。
func WithAlerts(d alerting.Dispatcher) Option {
	return func(o *Orchestrator) {
		o.alerts = d
	}
}

// NewOrchestrator 创建编排器。
func NewOrchestrator(executor *Executor, calc *billing.Calculator, ledger *billing.Ledger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		executor: executor,
		calc:     calc,
		ledger:   ledger,
		agentTTL: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunSwarm 执行一次多智能体任务并完成计费。
// 命中缓存时直接返回缓存结果，不重复执行也不重复扣费。
// 扣费失败会使整个请求失败，且结果不进入缓存。
func (o *Orchestrator) RunSwarm(ctx context.Context, accountID string, job *JobSpec) (*Response, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if job.ServiceTier == "" {
		job.ServiceTier = "standard"
	}

	fingerprint := job.Fingerprint()
	if o.cache != nil {
		if cached, ok := o.cache.Get(fingerprint); ok {
			if resp, ok := cached.(*Response); ok {
				metrics.ObserveCacheLookup(true)
				logger.L().Info("结果缓存命中", "swarm", job.Name, "job_id", resp.JobID)
				return resp, nil
			}
		}
		metrics.ObserveCacheLookup(false)
	}

	jobID := NewJobID()
	started := time.Now()

	result, agents, err := o.executor.Run(ctx, job)
	if err != nil {
		metrics.ObserveJob(job.SwarmType, "error")
		o.dispatchAlert(ctx, err, jobID, accountID)
		return nil, err
	}

	breakdown, err := o.calc.SwarmCost(o.agentWorks(job, agents), result.Output, billing.ServiceTier(job.ServiceTier))
	if err != nil {
		metrics.ObserveJob(job.SwarmType, "error")
		o.dispatchAlert(ctx, err, jobID, accountID)
		return nil, err
	}

	if _, err := o.ledger.Deduct(ctx, accountID, breakdown.Total, jobID,
		"swarm completion: "+job.Name); err != nil {
		metrics.ObserveJob(job.SwarmType, "billing_failed")
		o.dispatchAlert(ctx, err, jobID, accountID)
		return nil, err
	}
	metrics.ObserveJob(job.SwarmType, "success")

	resp := &Response{
		JobID:          jobID,
		Status:         "success",
		SwarmName:      job.Name,
		Description:    job.Description,
		SwarmType:      job.SwarmType,
		Output:         result.Output,
		NumberOfAgents: job.NumberOfAgents(),
		ServiceTier:    job.ServiceTier,
		Tasks:          job.Tasks,
		Usage: &Usage{
			InputTokens:  breakdown.InputTokens,
			OutputTokens: breakdown.OutputTokens,
			PerAgent:     breakdown.PerAgent,
			TotalCost:    breakdown.Total.String(),
		},
	}
	if job.ReturnHistory {
		resp.Messages = result.Messages
	}

	if o.cache != nil {
		o.cache.Set(fingerprint, resp)
	}

	logger.Audit().Info("swarm completed",
		"job_id", jobID,
		"account_id", accountID,
		"swarm_type", job.SwarmType,
		"agents", job.NumberOfAgents(),
		"cost", breakdown.Total.String(),
		"duration", time.Since(started).String(),
	)
	return resp, nil
}

// RunAgent 执行单智能体补全。结果缓存的存活时间比整群任务短得多。
func (o *Orchestrator) RunAgent(ctx context.Context, accountID string, req *AgentCompletion) (*Response, error) {
	if req.Task == "" {
		return nil, errors.New(errors.CodeValidationFailed, "task 不能为空")
	}
	if req.AgentConfig.AgentName == "" {
		return nil, errors.New(errors.CodeValidationFailed, "智能体缺少 agent_name")
	}

	fingerprint := agentFingerprint(req)
	if o.cache != nil {
		if cached, ok := o.cache.Get(fingerprint); ok {
			if resp, ok := cached.(*Response); ok {
				return resp, nil
			}
		}
	}

	job := &JobSpec{
		Name:        req.AgentConfig.AgentName,
		Agents:      []AgentSpec{req.AgentConfig},
		Task:        req.Task,
		Messages:    req.History,
		ServiceTier: "standard",
	}
	jobID := NewJobID()

	result, agents, err := o.executor.Run(ctx, job)
	if err != nil {
		o.dispatchAlert(ctx, err, jobID, accountID)
		return nil, err
	}

	work := billing.AgentWork{
		Name:         req.AgentConfig.AgentName,
		Task:         req.Task,
		SystemPrompt: req.AgentConfig.SystemPrompt,
	}
	if len(agents) > 0 {
		work.Memory = agents[0].Memory
	}
	breakdown, err := o.calc.AgentCost(work, result.Output, billing.TierStandard)
	if err != nil {
		o.dispatchAlert(ctx, err, jobID, accountID)
		return nil, err
	}

	if _, err := o.ledger.Deduct(ctx, accountID, breakdown.Total, jobID,
		"agent completion: "+req.AgentConfig.AgentName); err != nil {
		o.dispatchAlert(ctx, err, jobID, accountID)
		return nil, err
	}

	resp := &Response{
		JobID:          jobID,
		Status:         "success",
		SwarmName:      req.AgentConfig.AgentName,
		Description:    req.AgentConfig.Description,
		Output:         result.Output,
		NumberOfAgents: 1,
		ServiceTier:    "standard",
		Usage: &Usage{
			InputTokens:  breakdown.InputTokens,
			OutputTokens: breakdown.OutputTokens,
			PerAgent:     breakdown.PerAgent,
			TotalCost:    breakdown.Total.String(),
		},
	}
	if o.cache != nil {
		o.cache.SetWithTTL(fingerprint, resp, o.agentTTL)
	}
	return resp, nil
}

// RunBatch 并行处理一批任务，单个任务失败不影响其余任务。
func (o *Orchestrator) RunBatch(ctx context.Context, accountID string, jobs []*JobSpec) []*Response {
	parallel := len(jobs)
	if parallel > maxBatchParallel {
		parallel = maxBatchParallel
	}

	responses := make([]*Response, len(jobs))
	sem := make(chan struct{}, parallel)
	var wg sync.WaitGroup

	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job *JobSpec) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			resp, err := o.RunSwarm(ctx, accountID, job)
			if err != nil {
				responses[i] = &Response{
					JobID:       NewJobID(),
					Status:      "error",
					SwarmName:   job.Name,
					SwarmType:   job.SwarmType,
					Output:      err.Error(),
					ServiceTier: job.ServiceTier,
				}
				return
			}
			responses[i] = resp
		}(i, job)
	}
	wg.Wait()
	return responses
}

// agentWorks 把任务与各智能体的输入文本整理成计费单元。
func (o *Orchestrator) agentWorks(job *JobSpec, agents []*runner.Agent) []billing.AgentWork {
	task := job.Task
	if len(job.Tasks) > 0 {
		task = strings.Join(job.Tasks, "\n")
	}
	if len(job.Messages) > 0 {
		var sb strings.Builder
		for _, m := range job.Messages {
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		}
		task = sb.String()
	}

	works := make([]billing.AgentWork, len(job.Agents))
	for i, spec := range job.Agents {
		works[i] = billing.AgentWork{
			Name:         spec.AgentName,
			Task:         task,
			SystemPrompt: spec.SystemPrompt,
		}
		if i < len(agents) && agents[i] != nil {
			works[i].Memory = agents[i].Memory
		}
	}
	return works
}

func (o *Orchestrator) dispatchAlert(ctx context.Context, err error, jobID, accountID string) {
	if o.alerts == nil || !errors.ShouldAlert(err) {
		return
	}
	event := alerting.Event{
		Code:       errors.CodeOf(err),
		Message:    err.Error(),
		Severity:   errors.SeverityOf(err),
		JobID:      jobID,
		AccountID:  accountID,
		OccurredAt: time.Now(),
	}
	if e, ok := errors.From(err); ok {
		event.Metadata = e.Metadata()
	}
	if notifyErr := o.alerts.Notify(ctx, event); notifyErr != nil {
		logger.L().Warn("告警派发失败", "error", notifyErr)
	}
}

// agentFingerprint 生成单智能体补全请求的缓存键。
func agentFingerprint(req *AgentCompletion) string {
	parts := []string{
		"agent",
		req.AgentConfig.AgentName,
		req.AgentConfig.ModelName,
		req.AgentConfig.SystemPrompt,
		strconv.FormatFloat(req.AgentConfig.Temperature, 'f', -1, 64),
		strconv.Itoa(req.AgentConfig.MaxLoops),
		req.Task,
	}
	for _, m := range req.History {
		parts = append(parts, m.Role, m.Content)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
