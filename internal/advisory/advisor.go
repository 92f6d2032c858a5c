package advisory

// 中文说明：
// 顾问子系统：将市场上下文交给大模型（或本地规则），解析为 decision.Verdict。
// 任何失败都以 ErrUnavailable 包装返回，由决策引擎统一回退到纯技术面。

import (
	"context"
	"errors"
	"fmt"

	"dcaengine/internal/decision"
	"dcaengine/internal/gateway/provider"
	"dcaengine/internal/market"
)

// ErrUnavailable 顾问不可用（网络、超时、格式错误、被禁用）。
var ErrUnavailable = errors.New("顾问不可用")

// DefaultSystemPrompt 要求模型扮演加密货币分析师并只输出 JSON。
const DefaultSystemPrompt = `你是一名专业的加密货币交易分析师，擅长技术分析与风险控制。
根据给定的市场数据给出交易建议，只输出一个 JSON 对象，不要输出其他内容。
action 取值 BUY/SELL/HOLD/STRONG_BUY/STRONG_SELL；confidence 为 0~1；risk_level 取值 LOW/MEDIUM/HIGH/VERY_HIGH。`

// ModelAdvisor 基于单个模型提供方的顾问。
type ModelAdvisor struct {
	Model        provider.ModelProvider
	SystemPrompt string
}

func NewModelAdvisor(m provider.ModelProvider, systemPrompt string) *ModelAdvisor {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &ModelAdvisor{Model: m, SystemPrompt: systemPrompt}
}

func (a *ModelAdvisor) Name() string {
	if a == nil || a.Model == nil {
		return "model"
	}
	return a.Model.ID()
}

func (a *ModelAdvisor) Advise(ctx context.Context, mc market.Context) (decision.Verdict, error) {
	if a == nil || a.Model == nil || !a.Model.Enabled() {
		return decision.Verdict{}, fmt.Errorf("%w: 模型未配置或未启用", ErrUnavailable)
	}
	raw, err := a.Model.Call(ctx, provider.ChatPayload{
		System:     a.SystemPrompt,
		User:       mc.Prompt(),
		ExpectJSON: true,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return decision.Verdict{}, fmt.Errorf("%w: %s: %w", ErrUnavailable, a.Name(), ctxErr)
		}
		return decision.Verdict{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, a.Name(), err)
	}
	v, err := ParseVerdict(raw)
	if err != nil {
		return decision.Verdict{}, err
	}
	v.Source = a.Name()
	v.DecidedAt = mc.Time
	return v, nil
}
