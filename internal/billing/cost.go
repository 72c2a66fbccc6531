package billing

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"SwarmGate/internal/errors"
	"SwarmGate/pkg/logger"
)

// ServiceTier 标识请求的服务档位，flex 档享受折扣但可能被延迟或重试。
type ServiceTier string

const (
	TierStandard ServiceTier = "standard"
	TierFlex     ServiceTier = "flex"
)

// 计费费率。token 费率以每百万 token 计。
var (
	costPerAgent        = decimal.NewFromFloat(0.01)
	costPer1MInput      = decimal.NewFromFloat(2.00)
	costPer1MOutput     = decimal.NewFromFloat(4.50)
	discountMultiplier  = decimal.NewFromFloat(0.25)
	million             = decimal.NewFromInt(1_000_000)
	outputEstimateRatio = 2.5
)

// 夜间折扣窗口，按太平洋时区判断。
const (
	nightStartHour = 20
	nightEndHour   = 6
)

// AgentWork 描述单个智能体在一次任务中的输入文本，用于 token 估算。
type AgentWork struct {
	Name         string
	Task         string
	SystemPrompt string
	Memory       string
}

// AgentTokens 是单个智能体的 token 用量。
type AgentTokens struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Breakdown 是一次计费的完整拆分结果。
type Breakdown struct {
	NumAgents       int                    `json:"number_of_agents"`
	InputTokens     int64                  `json:"input_tokens"`
	OutputTokens    int64                  `json:"output_tokens"`
	PerAgent        map[string]AgentTokens `json:"per_agent_tokens"`
	AgentCost       decimal.Decimal        `json:"agent_cost"`
	InputTokenCost  decimal.Decimal        `json:"input_token_cost"`
	OutputTokenCost decimal.Decimal        `json:"output_token_cost"`
	Total           decimal.Decimal        `json:"total_cost"`
	NightDiscount   bool                   `json:"night_discount_applied"`
	FlexDiscount    bool                   `json:"flex_discount_applied"`
}

// Calculator 负责把一次执行折算成金额。
type Calculator struct {
	counter TokenCounter
	loc     *time.Location

	nowFunc func() time.Time // for testing
}

// CalcOption 配置 Calculator 的可选参数。
type CalcOption func(*Calculator)

// WithNowFunc 替换时间源，便于测试夜间折扣逻辑。
func WithNowFunc(now func() time.Time) CalcOption {
	return func(c *Calculator) {
		if now != nil {
			c.nowFunc = now
		}
	}
}

// WithLocation 替换判断夜间窗口所用的时区。
func WithLocation(loc *time.Location) CalcOption {
	return func(c *Calculator) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// NewCalculator 创建计费器。counter 为空时使用内置估算器。
func NewCalculator(counter TokenCounter, opts ...CalcOption) *Calculator {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		logger.L().Warn("载入计费时区失败，退回 UTC", "error", err)
		loc = time.UTC
	}
	c := &Calculator{
		counter: counter,
		loc:     loc,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SwarmCost 计算一次多智能体执行的费用。
// token 费用会再乘以智能体数量，体现编排层的放大开销。
func (c *Calculator) SwarmCost(agents []AgentWork, output any, tier ServiceTier) (*Breakdown, error) {
	if len(agents) == 0 {
		return nil, errors.New(errors.CodeCostCalculationFailed, "智能体列表为空，无法计费")
	}
	return c.cost(agents, output, tier, int64(len(agents)))
}

// AgentCost 计算单智能体执行的费用，不乘放大系数。
func (c *Calculator) AgentCost(agent AgentWork, output any, tier ServiceTier) (*Breakdown, error) {
	return c.cost([]AgentWork{agent}, output, tier, 1)
}

func (c *Calculator) cost(agents []AgentWork, output any, tier ServiceTier, multiplier int64) (*Breakdown, error) {
	var inputTokens int64
	agentInputs := make([]int64, len(agents))
	for i, agent := range agents {
		taskTokens, err := c.counter.CountTokens(agent.Task)
		if err != nil {
			return nil, errors.Wrap(errors.CodeCostCalculationFailed, err, "统计任务 token 失败")
		}
		promptTokens, err := c.counter.CountTokens(agent.SystemPrompt)
		if err != nil {
			return nil, errors.Wrap(errors.CodeCostCalculationFailed, err, "统计系统提示词 token 失败")
		}
		agentInputs[i] = int64(taskTokens + promptTokens)

		// 记忆缺失时按 0 计；统计失败也只记日志不阻断计费。
		// 任务与系统提示词不同：它们的统计失败是致命的（见上）。
		memTokens, err := c.counter.CountTokens(agent.Memory)
		if err != nil {
			logger.L().Warn("统计智能体记忆 token 失败", "error", err)
		} else {
			agentInputs[i] += int64(memTokens)
		}
		inputTokens += agentInputs[i]
	}

	measuredOutput, measured, err := c.countOutputTokens(output)
	if err != nil {
		return nil, err
	}

	// 输出按智能体逐个累计：真实输出对每个智能体各计一次，
	// 没有输出时按该智能体输入的 outputEstimateRatio 倍估算。
	var outputTokens int64
	perAgent := make(map[string]AgentTokens, len(agents))
	for i, agent := range agents {
		agentOutput := measuredOutput
		if !measured {
			agentOutput = int64(float64(agentInputs[i]) * outputEstimateRatio)
		}
		outputTokens += agentOutput

		tokens := perAgent[agent.Name]
		tokens.InputTokens += agentInputs[i]
		tokens.OutputTokens += agentOutput
		perAgent[agent.Name] = tokens
	}

	now := c.nowFunc().In(c.loc)
	night := now.Hour() >= nightStartHour || now.Hour() < nightEndHour
	flex := tier == TierFlex

	mult := decimal.NewFromInt(multiplier)
	agentCost := costPerAgent.Mul(decimal.NewFromInt(int64(len(agents))))
	inputCost := decimal.NewFromInt(inputTokens).Div(million).Mul(costPer1MInput).Mul(mult)
	outputCost := decimal.NewFromInt(outputTokens).Div(million).Mul(costPer1MOutput).Mul(mult)

	if flex {
		inputCost = inputCost.Mul(discountMultiplier)
		outputCost = outputCost.Mul(discountMultiplier)
	}
	if night {
		inputCost = inputCost.Mul(discountMultiplier)
		outputCost = outputCost.Mul(discountMultiplier)
	}

	total := agentCost.Add(inputCost).Add(outputCost).Round(6)

	return &Breakdown{
		NumAgents:       len(agents),
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		PerAgent:        perAgent,
		AgentCost:       agentCost,
		InputTokenCost:  inputCost,
		OutputTokenCost: outputCost,
		Total:           total,
		NightDiscount:   night,
		FlexDiscount:    flex,
	}, nil
}

// countOutputTokens 统计执行输出占用的 token 数。
// 输出可能是字符串、消息列表或任意 JSON 结构，返回值第二项
// 表示是否真实统计到了输出（false 时调用方按输入估算）。
func (c *Calculator) countOutputTokens(output any) (int64, bool, error) {
	if output == nil {
		return 0, false, nil
	}

	if s, ok := output.(string); ok {
		n, err := c.counter.CountTokens(s)
		if err != nil {
			return 0, false, errors.Wrap(errors.CodeCostCalculationFailed, err, "统计输出 token 失败")
		}
		return int64(n), true, nil
	}

	raw, err := json.Marshal(output)
	if err != nil {
		return 0, false, errors.Wrap(errors.CodeCostCalculationFailed, err, "序列化执行输出失败")
	}

	parsed := gjson.ParseBytes(raw)
	var texts []string
	switch {
	case parsed.IsArray():
		parsed.ForEach(func(_, item gjson.Result) bool {
			if content := item.Get("content"); content.Exists() {
				texts = append(texts, content.String())
			} else {
				texts = append(texts, item.String())
			}
			return true
		})
	case parsed.IsObject():
		if content := parsed.Get("content"); content.Exists() {
			texts = append(texts, content.String())
		} else {
			texts = append(texts, parsed.Raw)
		}
	default:
		texts = append(texts, parsed.String())
	}

	var total int64
	for _, text := range texts {
		n, err := c.counter.CountTokens(text)
		if err != nil {
			return 0, false, errors.Wrap(errors.CodeCostCalculationFailed, err, "统计输出 token 失败")
		}
		total += int64(n)
	}
	return total, true, nil
}
