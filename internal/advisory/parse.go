package advisory

import (
	"encoding/json"
	"fmt"
	"strings"

	"dcaengine/internal/decision"
	"dcaengine/internal/pkg/text"
)

type rawVerdict struct {
	Action          *string  `json:"action"`
	Confidence      *float64 `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	RiskLevel       string   `json:"risk_level"`
	PricePrediction *float64 `json:"price_prediction"`
}

// ParseVerdict 从模型文本中截取首个 '{' 到最后一个 '}' 并解析。
// action 缺失视为格式错误；未知 action 取 HOLD；confidence 缺省 0.5 并限制在 [0,1]；
// risk_level 缺省或未知取 MEDIUM。
func ParseVerdict(raw string) (decision.Verdict, error) {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return decision.Verdict{}, fmt.Errorf("%w: 未找到 JSON 对象: %s", ErrUnavailable, text.Truncate(raw, 120))
	}
	var rv rawVerdict
	if err := json.Unmarshal([]byte(obj), &rv); err != nil {
		return decision.Verdict{}, fmt.Errorf("%w: 解析 JSON 失败: %v", ErrUnavailable, err)
	}
	if rv.Action == nil {
		return decision.Verdict{}, fmt.Errorf("%w: 缺少 action 字段", ErrUnavailable)
	}
	v := decision.Verdict{
		Action:          decision.ParseAction(*rv.Action),
		Confidence:      0.5,
		Reasoning:       strings.TrimSpace(rv.Reasoning),
		PricePrediction: rv.PricePrediction,
	}
	if rv.Confidence != nil {
		v.Confidence = decision.ClampConfidence(*rv.Confidence)
	}
	v.Risk, _ = decision.ParseRiskLevel(rv.RiskLevel)
	if v.Reasoning == "" {
		v.Reasoning = "无分析说明"
	}
	return v, nil
}

func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", false
	}
	return strings.TrimSpace(s[start : end+1]), true
}
