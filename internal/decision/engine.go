package decision

// 中文说明：
// 融合技术面与可选的外部顾问意见，输出带置信度/风险/仓位建议的最终决策。
// 顾问调用超时或失败时退化为纯技术面，不向调用方返回错误。

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"dcaengine/internal/logger"
	"dcaengine/internal/market"
)

// Advisor 外部顾问端口，输入为市场上下文（模型顾问将其渲染为提示词）。
// 任何错误（网络、超时、格式）都会触发回退。
type Advisor interface {
	Advise(ctx context.Context, mc market.Context) (Verdict, error)
}

// Observer 接收顾问调用结果（ok / error / timeout / cached）。
type Observer interface {
	ObserveAdvisory(result string)
}

// Decider 决策器接口：将当前 K 线与历史转为决策结果
type Decider interface {
	Decide(ctx context.Context, current market.Bar, history market.Bars) TradeDecision
}

// Params 融合参数，启动时构造一次。
type Params struct {
	TechnicalWeight float64
	AdvisoryWeight  float64
	MinConfidence   float64
	RiskTolerance   RiskLevel
}

func DefaultParams() Params {
	return Params{TechnicalWeight: 0.3, AdvisoryWeight: 0.7, MinConfidence: 0.6, RiskTolerance: RiskMedium}
}

const maxSuggestedFraction = 0.20

type Engine struct {
	params   Params
	symbol   string
	advisor  Advisor
	timeout  time.Duration
	cache    *VerdictCache
	observer Observer

	mu   sync.RWMutex
	last *TradeDecision
}

type Option func(*Engine)

// WithAdvisor 设置顾问与单次调用超时。
func WithAdvisor(a Advisor, timeout time.Duration) Option {
	return func(e *Engine) {
		e.advisor = a
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

func WithCache(c *VerdictCache) Option {
	return func(e *Engine) { e.cache = c }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func NewEngine(symbol string, p Params, opts ...Option) *Engine {
	e := &Engine{params: p, symbol: symbol, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide 计算技术信号，按需咨询顾问，返回融合后的决策。
func (e *Engine) Decide(ctx context.Context, current market.Bar, history market.Bars) TradeDecision {
	signals := ComputeSignals(current, history)
	verdict := e.consult(ctx, current, history)
	d := e.Fuse(signals, verdict, current.Time)
	e.mu.Lock()
	e.last = &d
	e.mu.Unlock()
	return d
}

// Last 返回最近一次决策。
func (e *Engine) Last() (TradeDecision, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return TradeDecision{}, false
	}
	return *e.last, true
}

func (e *Engine) consult(ctx context.Context, current market.Bar, history market.Bars) *Verdict {
	if e.advisor == nil {
		return nil
	}
	if v, ok := e.cache.Get(e.symbol, current.Time); ok {
		e.observe("cached")
		return &v
	}
	mc := market.BuildContext(e.symbol, current, history)
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	v, err := e.advisor.Advise(cctx, mc)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
			e.observe("timeout")
			logger.Warnf("顾问调用超时（%s），回退为纯技术面", e.timeout)
		} else {
			e.observe("error")
			logger.Warnf("顾问不可用，回退为纯技术面: %v", err)
		}
		return nil
	}
	e.observe("ok")
	v.Confidence = ClampConfidence(v.Confidence)
	if v.DecidedAt.IsZero() {
		v.DecidedAt = current.Time
	}
	e.cache.Set(e.symbol, v)
	return &v
}

func (e *Engine) observe(result string) {
	if e.observer != nil {
		e.observer.ObserveAdvisory(result)
	}
}

// Fuse 纯函数：融合技术信号与可选顾问意见。
func (e *Engine) Fuse(signals TechnicalSignals, verdict *Verdict, at time.Time) TradeDecision {
	techAction := signals.Action()
	techConf := signals.Confidence()
	d := TradeDecision{
		Signals:             signals,
		TechnicalAction:     techAction,
		TechnicalConfidence: techConf,
		Time:                at,
	}
	if verdict != nil {
		v := *verdict
		v.Confidence = ClampConfidence(v.Confidence)
		wt, wa := e.params.TechnicalWeight, e.params.AdvisoryWeight
		d.Action = ActionFromScore(techAction.Score()*wt + v.Action.Score()*wa)
		d.Confidence = ClampConfidence(techConf*wt + v.Confidence*wa)
		d.Reasoning = fmt.Sprintf("综合判断: %s；顾问 %s: %s", signals.Summary(), v.Action, strings.TrimSpace(v.Reasoning))
		d.Advisory = &v
	} else {
		d.Action = techAction
		d.Confidence = techConf
		d.TechnicalOnly = true
		d.Reasoning = "仅技术面: " + signals.Summary()
	}
	d.Risk = AssessRisk(signals, verdict)
	d.ShouldExecute = ShouldExecute(e.params, d.Confidence, d.Risk, d.Action)
	if d.ShouldExecute {
		f := SuggestFraction(d.Action, d.Confidence, d.Risk)
		d.SuggestedFraction = &f
	}
	return d
}

// AssessRisk 波动与顾问风险各贡献 0~2 点：0→Low，1→Medium，2~3→High，≥4→VeryHigh。
func AssessRisk(signals TechnicalSignals, verdict *Verdict) RiskLevel {
	points := 0
	switch signals.Volatility {
	case VolatilityVeryHigh:
		points += 2
	case VolatilityHigh:
		points++
	}
	if verdict != nil {
		switch verdict.Risk {
		case RiskVeryHigh:
			points += 2
		case RiskHigh:
			points++
		}
	}
	switch {
	case points == 0:
		return RiskLow
	case points == 1:
		return RiskMedium
	case points <= 3:
		return RiskHigh
	default:
		return RiskVeryHigh
	}
}

// ShouldExecute 置信度不足、风险超出容忍度或动作为 Hold 时拒绝。
func ShouldExecute(p Params, confidence float64, risk RiskLevel, action Action) bool {
	if confidence < p.MinConfidence {
		return false
	}
	if !p.RiskTolerance.Accepts(risk) {
		return false
	}
	return action != ActionHold
}

// SuggestFraction 基础比例 × 置信度 × 风险折扣，上限 20%。
func SuggestFraction(action Action, confidence float64, risk RiskLevel) float64 {
	base := 0.0
	switch action {
	case ActionStrongBuy, ActionStrongSell:
		base = 0.15
	case ActionBuy, ActionSell:
		base = 0.10
	}
	factor := 1.0
	switch risk {
	case RiskMedium:
		factor = 0.8
	case RiskHigh:
		factor = 0.6
	case RiskVeryHigh:
		factor = 0.4
	}
	return math.Min(base*ClampConfidence(confidence)*factor, maxSuggestedFraction)
}
