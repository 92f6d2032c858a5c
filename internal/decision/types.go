package decision

import (
	"fmt"
	"strings"
	"time"
)

// Action 交易动作。
type Action string

const (
	ActionStrongBuy  Action = "STRONG_BUY"
	ActionBuy        Action = "BUY"
	ActionHold       Action = "HOLD"
	ActionSell       Action = "SELL"
	ActionStrongSell Action = "STRONG_SELL"
)

// ParseAction 大小写不敏感，未知值返回 Hold。
func ParseAction(s string) Action {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")) {
	case "STRONG_BUY", "STRONGBUY":
		return ActionStrongBuy
	case "BUY":
		return ActionBuy
	case "SELL":
		return ActionSell
	case "STRONG_SELL", "STRONGSELL":
		return ActionStrongSell
	default:
		return ActionHold
	}
}

// Score 映射为 +2..-2。
func (a Action) Score() float64 {
	switch a {
	case ActionStrongBuy:
		return 2
	case ActionBuy:
		return 1
	case ActionSell:
		return -1
	case ActionStrongSell:
		return -2
	default:
		return 0
	}
}

func (a Action) IsBuy() bool  { return a == ActionBuy || a == ActionStrongBuy }
func (a Action) IsSell() bool { return a == ActionSell || a == ActionStrongSell }

// ActionFromScore 将加权分数映射回动作。
func ActionFromScore(score float64) Action {
	switch {
	case score >= 1.5:
		return ActionStrongBuy
	case score >= 0.5:
		return ActionBuy
	case score <= -1.5:
		return ActionStrongSell
	case score <= -0.5:
		return ActionSell
	default:
		return ActionHold
	}
}

// RiskLevel 全序：Low < Medium < High < VeryHigh。
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskVeryHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskVeryHigh:
		return "VERY_HIGH"
	default:
		return fmt.Sprintf("RISK(%d)", int(r))
	}
}

// ParseRiskLevel 解析风险等级；ok=false 表示无法识别。
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")) {
	case "LOW":
		return RiskLow, true
	case "MEDIUM":
		return RiskMedium, true
	case "HIGH":
		return RiskHigh, true
	case "VERY_HIGH", "VERYHIGH":
		return RiskVeryHigh, true
	default:
		return RiskMedium, false
	}
}

func (r RiskLevel) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *RiskLevel) UnmarshalText(b []byte) error {
	lvl, ok := ParseRiskLevel(string(b))
	if !ok {
		return fmt.Errorf("非法风险等级: %s", string(b))
	}
	*r = lvl
	return nil
}

// Accepts 判断容忍度是否接受给定风险：Low 只接受 Low，Medium/High 拒绝 VeryHigh，VeryHigh 全部接受。
func (r RiskLevel) Accepts(level RiskLevel) bool {
	switch r {
	case RiskLow:
		return level == RiskLow
	case RiskMedium, RiskHigh:
		return level < RiskVeryHigh
	default:
		return true
	}
}

// Verdict 外部顾问给出的独立意见。
type Verdict struct {
	Action          Action    `json:"action"`
	Confidence      float64   `json:"confidence"`
	Risk            RiskLevel `json:"risk_level"`
	Reasoning       string    `json:"reasoning"`
	PricePrediction *float64  `json:"price_prediction,omitempty"`
	Source          string    `json:"source,omitempty"`
	DecidedAt       time.Time `json:"decided_at"`
}

// TradeDecision 单次评估的最终结果，创建后不再修改。
type TradeDecision struct {
	Action              Action           `json:"action"`
	Confidence          float64          `json:"confidence"`
	Risk                RiskLevel        `json:"risk"`
	ShouldExecute       bool             `json:"should_execute"`
	SuggestedFraction   *float64         `json:"suggested_fraction,omitempty"`
	Reasoning           string           `json:"reasoning"`
	Signals             TechnicalSignals `json:"signals"`
	TechnicalAction     Action           `json:"technical_action"`
	TechnicalConfidence float64          `json:"technical_confidence"`
	Advisory            *Verdict         `json:"advisory,omitempty"`
	TechnicalOnly       bool             `json:"technical_only"`
	Time                time.Time        `json:"time"`
}

func clamp01(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// ClampConfidence 将置信度限制在 [0,1]，NaN 视为 0。
func ClampConfidence(v float64) float64 { return clamp01(v) }
