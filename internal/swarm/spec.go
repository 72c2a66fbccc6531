package swarm

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"SwarmGate/internal/billing"
	"SwarmGate/internal/errors"
	"SwarmGate/internal/runner"
)

// Topologies 列出全部可用的编排拓扑。
var Topologies = []string{
	"AgentRearrange",
	"MixtureOfAgents",
	"SpreadSheetSwarm",
	"SequentialWorkflow",
	"ConcurrentWorkflow",
	"GroupChat",
	"MultiAgentRouter",
	"AutoSwarmBuilder",
	"HiearchicalSwarm",
	"auto",
	"MajorityVoting",
	"MALT",
	"DeepResearchSwarm",
}

// MALT 拓扑内部固定展开为 14 个智能体，对外按该数量报告与计费。
const maltAgentCount = 14

// AgentSpec 描述请求中声明的单个智能体。
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

// JobSpec 是一次多智能体执行请求。
// Task、Tasks、Messages 三者必须恰好填写一个。
type JobSpec struct {
	Name          string           `json:"name,omitempty"`
	Description   string           `json:"description,omitempty"`
	Agents        []AgentSpec      `json:"agents,omitempty"`
	MaxLoops      int              `json:"max_loops,omitempty"`
	SwarmType     string           `json:"swarm_type,omitempty"`
	Task          string           `json:"task,omitempty"`
	Tasks         []string         `json:"tasks,omitempty"`
	Messages      []runner.Message `json:"messages,omitempty"`
	ReturnHistory bool             `json:"return_history,omitempty"`
	Rules         string           `json:"rules,omitempty"`
	ServiceTier   string           `json:"service_tier,omitempty"`
}

// Response 是一次执行的完整应答。
type Response struct {
	JobID          string           `json:"job_id"`
	Status         string           `json:"status"`
	SwarmName      string           `json:"swarm_name,omitempty"`
	Description    string           `json:"description,omitempty"`
	SwarmType      string           `json:"swarm_type,omitempty"`
	Output         any              `json:"output"`
	NumberOfAgents int              `json:"number_of_agents"`
	ServiceTier    string           `json:"service_tier"`
	Tasks          []string         `json:"tasks,omitempty"`
	Messages       []runner.Message `json:"messages,omitempty"`
	Usage          *Usage           `json:"usage,omitempty"`
}

// Usage 汇总一次执行的 token 用量与扣费金额。
type Usage struct {
	InputTokens  int64                          `json:"input_tokens"`
	OutputTokens int64                          `json:"output_tokens"`
	PerAgent     map[string]billing.AgentTokens `json:"per_agent_tokens,omitempty"`
	TotalCost    string                         `json:"total_cost"`
}

// Validate 检查请求的结构合法性。
func (j *JobSpec) Validate() error {
	sources := 0
	if j.Task != "" {
		sources++
	}
	if len(j.Tasks) > 0 {
		sources++
	}
	if len(j.Messages) > 0 {
		sources++
	}
	if sources == 0 {
		return errors.New(errors.CodeValidationFailed, "task、tasks、messages 必须填写其一")
	}
	if sources > 1 {
		return errors.New(errors.CodeValidationFailed, "task、tasks、messages 只能填写其一")
	}

	if j.SwarmType != "" && !knownTopology(j.SwarmType) {
		return errors.New(errors.CodeValidationFailed, "未知的 swarm_type",
			errors.WithMetadata("swarm_type", j.SwarmType))
	}

	tier := j.ServiceTier
	if tier != "" && tier != "standard" && tier != "flex" {
		return errors.New(errors.CodeValidationFailed, "service_tier 只支持 standard 或 flex")
	}

	for _, agent := range j.Agents {
		if agent.AgentName == "" {
			return errors.New(errors.CodeValidationFailed, "智能体缺少 agent_name")
		}
		if agent.ModelName == "" {
			return errors.New(errors.CodeValidationFailed, "智能体缺少 model_name",
				errors.WithMetadata("agent_name", agent.AgentName))
		}
		if agent.Temperature < 0 || agent.Temperature > 1 {
			return errors.New(errors.CodeValidationFailed, "temperature 超出 [0,1] 范围",
				errors.WithMetadata("agent_name", agent.AgentName))
		}
	}
	return nil
}

func knownTopology(name string) bool {
	for _, t := range Topologies {
		if t == name {
			return true
		}
	}
	return false
}

// NumberOfAgents 返回对外报告与计费使用的智能体数量。
func (j *JobSpec) NumberOfAgents() int {
	if j.SwarmType == "MALT" {
		return maltAgentCount
	}
	return len(j.Agents)
}

// Fingerprint 生成请求的确定性指纹，作为结果缓存的键。
// 覆盖所有影响执行结果的字段，字段顺序固定。
func (j *JobSpec) Fingerprint() string {
	parts := []string{
		j.Name,
		j.Task,
		j.SwarmType,
		j.Rules,
		strconv.Itoa(j.MaxLoops),
		strconv.FormatBool(j.ReturnHistory),
	}
	for _, agent := range j.Agents {
		parts = append(parts,
			agent.AgentName,
			agent.ModelName,
			agent.SystemPrompt,
			agent.Role,
			strconv.FormatFloat(agent.Temperature, 'f', -1, 64),
			strconv.Itoa(agent.MaxLoops),
			strconv.Itoa(agent.MaxTokens),
		)
	}
	parts = append(parts, j.Tasks...)
	for _, m := range j.Messages {
		parts = append(parts, m.Role, m.Content)
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// NewJobID 生成形如 swarms-<28 位随机串> 的任务 ID。
func NewJobID() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "swarms-" + random[:28]
}
