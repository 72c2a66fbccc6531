package runner

import (
	"context"

	"SwarmGate/internal/errors"
)

// AgentConfig 描述构造一个智能体所需的配置。
type AgentConfig struct {
	Name         string
	Description  string
	SystemPrompt string
	Model        string
	Role         string
	Temperature  float64
	MaxLoops     int
	MaxTokens    int // 为 0 时由 Runner 取全局默认值
}

// Agent 是已构造完成、可被执行的智能体。
// Memory 在执行过程中累积该智能体的上下文，供计费与调试使用。
type Agent struct {
	Config AgentConfig
	Memory string
}

// Message 是一条对话消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExecuteRequest 描述一次编排执行。
// Task、Tasks、Messages 互斥，由上层保证只填其中一个。
// Rules 是对全体智能体生效的行为约束，追加到各自的系统提示词之后。
type ExecuteRequest struct {
	Topology string
	Agents   []*Agent
	Task     string
	Tasks    []string
	Messages []Message
	Rules    string
}

// Result 汇总一次执行的产物与用量。
type Result struct {
	Output       any       `json:"output"`
	Messages     []Message `json:"messages,omitempty"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Model        string    `json:"model,omitempty"`
}

// Runner 把智能体配置变成可执行实例，并按拓扑驱动它们完成任务。
type Runner interface {
	Construct(ctx context.Context, cfg AgentConfig) (*Agent, error)
	Execute(ctx context.Context, req ExecuteRequest) (*Result, error)
}

// ValidateConfig 检查智能体配置的必填字段。
func ValidateConfig(cfg AgentConfig) error {
	if cfg.Name == "" {
		return errors.New(errors.CodeValidationFailed, "智能体缺少 agent_name")
	}
	if cfg.Model == "" {
		return errors.New(errors.CodeValidationFailed, "智能体缺少 model_name",
			errors.WithMetadata("agent_name", cfg.Name))
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return errors.New(errors.CodeValidationFailed, "temperature 超出 [0,1] 范围",
			errors.WithMetadata("agent_name", cfg.Name))
	}
	return nil
}
