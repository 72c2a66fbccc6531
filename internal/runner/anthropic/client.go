package anthropic

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"SwarmGate/internal/errors"
	"SwarmGate/internal/runner"
	"SwarmGate/pkg/logger"
)

// Config 是 Anthropic 执行后端的配置。
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// Client 基于 Anthropic Messages API 实现 runner.Runner。
type Client struct {
	client       *sdk.Client
	defaultModel string
	maxTokens    int64
}

var _ runner.Runner = (*Client)(nil)

// New 创建 Anthropic 执行后端。
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New(errors.CodeInitializationFailure, "缺少 Anthropic API Key")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := sdk.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = string(sdk.ModelClaudeSonnet4_5)
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	return &Client{
		client:       &client,
		defaultModel: model,
		maxTokens:    maxTokens,
	}, nil
}

// Construct 校验配置并返回可执行的智能体。
func (c *Client) Construct(_ context.Context, cfg runner.AgentConfig) (*runner.Agent, error) {
	if err := runner.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.MaxLoops <= 0 {
		cfg.MaxLoops = 1
	}
	return &runner.Agent{Config: cfg}, nil
}

// Execute 按拓扑驱动智能体完成任务。
// 顺序类拓扑把前一个智能体的输出拼入下一个的上下文，
// 并发类拓扑让所有智能体独立处理同一任务并汇总。
func (c *Client) Execute(ctx context.Context, req runner.ExecuteRequest) (*runner.Result, error) {
	if len(req.Agents) == 0 {
		return nil, errors.New(errors.CodeExecutionFailed, "没有可执行的智能体")
	}

	tasks := req.Tasks
	if len(tasks) == 0 {
		task := req.Task
		if task == "" && len(req.Messages) > 0 {
			task = req.Messages[len(req.Messages)-1].Content
		}
		tasks = []string{task}
	}

	result := &runner.Result{Model: c.defaultModel}
	var outputs []any
	for _, task := range tasks {
		var (
			out any
			err error
		)
		if concurrentTopology(req.Topology) {
			out, err = c.runConcurrent(ctx, req, task, result)
		} else {
			out, err = c.runSequential(ctx, req, task, result)
		}
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}

	if len(outputs) == 1 {
		result.Output = outputs[0]
	} else {
		result.Output = outputs
	}
	return result, nil
}

// concurrentTopology 返回该拓扑是否让全部智能体并行处理同一任务。
func concurrentTopology(topology string) bool {
	switch topology {
	case "ConcurrentWorkflow", "SpreadSheetSwarm", "MixtureOfAgents",
		"MajorityVoting", "MALT", "DeepResearchSwarm":
		return true
	default:
		return false
	}
}

func (c *Client) runSequential(ctx context.Context, req runner.ExecuteRequest, task string, result *runner.Result) (any, error) {
	current := task
	for _, agent := range req.Agents {
		out, used, err := c.runAgent(ctx, agent, current, req.Messages, req.Rules)
		if err != nil {
			return nil, err
		}
		result.InputTokens += used.inputTokens
		result.OutputTokens += used.outputTokens
		if used.model != "" {
			result.Model = used.model
		}
		result.Messages = append(result.Messages, runner.Message{
			Role:    agent.Config.Name,
			Content: out,
		})
		current = out
	}
	return current, nil
}

func (c *Client) runConcurrent(ctx context.Context, req runner.ExecuteRequest, task string, result *runner.Result) (any, error) {
	type agentOutput struct {
		text string
		used usage
		err  error
	}

	outputs := make([]agentOutput, len(req.Agents))
	var wg sync.WaitGroup
	for i, agent := range req.Agents {
		wg.Add(1)
		go func(i int, agent *runner.Agent) {
			defer wg.Done()
			out, used, err := c.runAgent(ctx, agent, task, req.Messages, req.Rules)
			outputs[i] = agentOutput{text: out, used: used, err: err}
		}(i, agent)
	}
	wg.Wait()

	messages := make([]runner.Message, 0, len(req.Agents))
	for i, out := range outputs {
		if out.err != nil {
			return nil, out.err
		}
		result.InputTokens += out.used.inputTokens
		result.OutputTokens += out.used.outputTokens
		if out.used.model != "" {
			result.Model = out.used.model
		}
		messages = append(messages, runner.Message{
			Role:    req.Agents[i].Config.Name,
			Content: out.text,
		})
	}
	result.Messages = append(result.Messages, messages...)

	if req.Topology == "MajorityVoting" {
		return majority(messages), nil
	}
	return messages, nil
}

// majority 返回出现次数最多的输出，平局时取最先出现者。
func majority(messages []runner.Message) string {
	counts := make(map[string]int, len(messages))
	best := ""
	for _, m := range messages {
		counts[m.Content]++
		if best == "" || counts[m.Content] > counts[best] {
			best = m.Content
		}
	}
	return best
}

type usage struct {
	inputTokens  int64
	outputTokens int64
	model        string
}

// systemPromptFor 拼装智能体的系统提示词，全局 rules 追加在末尾。
func systemPromptFor(agent *runner.Agent, rules string) string {
	prompt := agent.Config.SystemPrompt
	if rules == "" {
		return prompt
	}
	if prompt == "" {
		return rules
	}
	return prompt + "\n\n" + rules
}

// maxTokensFor 返回智能体的输出上限，未声明时用全局默认值。
func (c *Client) maxTokensFor(agent *runner.Agent) int64 {
	if agent.Config.MaxTokens > 0 {
		return int64(agent.Config.MaxTokens)
	}
	return c.maxTokens
}

// runAgent 对单个智能体执行最多 MaxLoops 轮推理，返回最终文本与用量。
func (c *Client) runAgent(ctx context.Context, agent *runner.Agent, task string, history []runner.Message, rules string) (string, usage, error) {
	messages := make([]sdk.MessageParam, 0, len(history)+1)
	for _, m := range history {
		switch m.Role {
		case "assistant":
			messages = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(task)))

	output := ""
	var used usage
	for loop := 0; loop < agent.Config.MaxLoops; loop++ {
		params := sdk.MessageNewParams{
			Model:     sdk.Model(agent.Config.Model),
			MaxTokens: c.maxTokensFor(agent),
			Messages:  messages,
		}
		if system := systemPromptFor(agent, rules); system != "" {
			params.System = []sdk.TextBlockParam{{Text: system}}
		}
		if agent.Config.Temperature > 0 {
			params.Temperature = sdk.Float(agent.Config.Temperature)
		}

		resp, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return "", used, classifyError(err, agent.Config.Name)
		}

		var text strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		output = text.String()

		used.inputTokens += resp.Usage.InputTokens
		used.outputTokens += resp.Usage.OutputTokens
		used.model = string(resp.Model)

		agent.Memory += fmt.Sprintf("user: %s\nassistant: %s\n", task, output)
		if resp.StopReason != "max_tokens" {
			break
		}
		// 输出被截断时续写一轮。
		messages = append(messages,
			sdk.NewAssistantMessage(sdk.NewTextBlock(output)),
			sdk.NewUserMessage(sdk.NewTextBlock("continue")))
	}
	return output, used, nil
}

// classifyError 把 SDK 错误翻译成统一错误码。
// 429 与 529 属于资源暂时不可用，标记为可重试。
func classifyError(err error, agentName string) error {
	var apierr *sdk.Error
	if stderrors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 429, 529:
			logger.L().Warn("模型服务暂时饱和", "agent", agentName, "status", apierr.StatusCode)
			return errors.Wrap(errors.CodeResourceExhausted, err, "模型服务暂时不可用",
				errors.WithMetadata("agent_name", agentName))
		case 400:
			return errors.Wrap(errors.CodeInvalidArgument, err, "模型请求参数无效",
				errors.WithMetadata("agent_name", agentName))
		}
	}
	return errors.Wrap(errors.CodeExecutionFailed, err, "智能体执行失败",
		errors.WithMetadata("agent_name", agentName))
}
