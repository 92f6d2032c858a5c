package advisory

import (
	"context"
	"fmt"

	"dcaengine/internal/decision"
	"dcaengine/internal/market"
)

// RulesAdvisor 不依赖网络的本地规则顾问：RSI + 布林带，其次看单根涨跌幅。
type RulesAdvisor struct{}

func (RulesAdvisor) Name() string { return "rules" }

func (RulesAdvisor) Advise(ctx context.Context, mc market.Context) (decision.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return decision.Verdict{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	ind := mc.Indicators
	v := decision.Verdict{Action: decision.ActionHold, Source: "rules", DecidedAt: mc.Time}
	switch {
	case ind.RSI14 < 30 && mc.Price < ind.BollLower:
		v.Action = decision.ActionBuy
		v.Reasoning = fmt.Sprintf("RSI %.1f 超卖且价格跌破布林下轨 %.2f", ind.RSI14, ind.BollLower)
	case ind.RSI14 > 70 && mc.Price > ind.BollUpper:
		v.Action = decision.ActionSell
		v.Reasoning = fmt.Sprintf("RSI %.1f 超买且价格突破布林上轨 %.2f", ind.RSI14, ind.BollUpper)
	case mc.ChangePct < -5:
		v.Action = decision.ActionBuy
		v.Reasoning = fmt.Sprintf("单根跌幅 %.2f%%，逢低买入", mc.ChangePct)
	case mc.ChangePct > 5:
		v.Action = decision.ActionSell
		v.Reasoning = fmt.Sprintf("单根涨幅 %.2f%%，逢高卖出", mc.ChangePct)
	default:
		v.Reasoning = "规则未触发，保持观望"
	}
	if v.Action == decision.ActionHold {
		v.Confidence = 0.4
	} else {
		v.Confidence = 0.6
	}
	v.Risk = rulesRisk(mc)
	return v, nil
}

// rulesRisk 波动率（标准差占价格百分比）映射为风险等级。
func rulesRisk(mc market.Context) decision.RiskLevel {
	if mc.Price <= 0 {
		return decision.RiskMedium
	}
	pct := mc.Volatility / mc.Price * 100
	switch {
	case pct > 5:
		return decision.RiskVeryHigh
	case pct > 3:
		return decision.RiskHigh
	case pct > 1:
		return decision.RiskMedium
	default:
		return decision.RiskLow
	}
}
