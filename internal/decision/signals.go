package decision

import (
	"fmt"

	"dcaengine/internal/market"
)

type Trend string

const (
	TrendStrongBullish Trend = "strong_bullish"
	TrendBullish       Trend = "bullish"
	TrendNeutral       Trend = "neutral"
	TrendBearish       Trend = "bearish"
	TrendStrongBearish Trend = "strong_bearish"
)

type Volume string

const (
	VolumeHigh   Volume = "high"
	VolumeNormal Volume = "normal"
	VolumeLow    Volume = "low"
)

type Volatility string

const (
	VolatilityVeryHigh Volatility = "very_high"
	VolatilityHigh     Volatility = "high"
	VolatilityNormal   Volatility = "normal"
	VolatilityLow      Volatility = "low"
)

type Momentum string

const (
	MomentumStrongPositive Momentum = "strong_positive"
	MomentumPositive       Momentum = "positive"
	MomentumNeutral        Momentum = "neutral"
	MomentumNegative       Momentum = "negative"
	MomentumStrongNegative Momentum = "strong_negative"
)

const (
	trendMinBars      = 5
	trendWindow       = 10
	volumeWindow      = 20
	volatilityWindow  = 10
	momentumMinBars   = 3
	trendStrongPct    = 3.0
	trendWeakPct      = 1.0
	volumeHighRatio   = 1.5
	volumeLowRatio    = 0.7
	volVeryHighFactor = 2.0
	volHighFactor     = 1.5
	volLowFactor      = 0.5
)

// TechnicalSignals 四个相互独立的离散信号，每次调用重新计算。
type TechnicalSignals struct {
	Trend      Trend      `json:"trend"`
	Volume     Volume     `json:"volume"`
	Volatility Volatility `json:"volatility"`
	Momentum   Momentum   `json:"momentum"`
}

// ComputeSignals 根据当前 K 线与历史（从旧到新）计算信号。
func ComputeSignals(current market.Bar, history market.Bars) TechnicalSignals {
	return TechnicalSignals{
		Trend:      trendSignal(history),
		Volume:     volumeSignal(current, history),
		Volatility: volatilitySignal(current, history),
		Momentum:   momentumSignal(current, history),
	}
}

// trendSignal 比较最近 10 根收盘中较新 5 根与较旧部分的均值。
// 恰好 5 根时没有更早的收盘，对半切分（旧 2 根，新 3 根）。
func trendSignal(history market.Bars) Trend {
	if len(history) < trendMinBars {
		return TrendNeutral
	}
	closes := history.Tail(trendWindow).Closes()
	split := len(closes) - trendMinBars
	if split == 0 {
		split = len(closes) / 2
	}
	older, newer := closes[:split], closes[split:]
	avgOld, avgNew := avg(older), avg(newer)
	if avgOld == 0 {
		return TrendNeutral
	}
	change := (avgNew - avgOld) / avgOld * 100
	switch {
	case change > trendStrongPct:
		return TrendStrongBullish
	case change > trendWeakPct:
		return TrendBullish
	case change < -trendStrongPct:
		return TrendStrongBearish
	case change < -trendWeakPct:
		return TrendBearish
	default:
		return TrendNeutral
	}
}

func volumeSignal(current market.Bar, history market.Bars) Volume {
	if len(history) == 0 {
		return VolumeNormal
	}
	mean := avg(history.Tail(volumeWindow).Volumes())
	if mean <= 0 {
		return VolumeNormal
	}
	ratio := current.Volume / mean
	switch {
	case ratio > volumeHighRatio:
		return VolumeHigh
	case ratio < volumeLowRatio:
		return VolumeLow
	default:
		return VolumeNormal
	}
}

func volatilitySignal(current market.Bar, history market.Bars) Volatility {
	if len(history) < volatilityWindow {
		return VolatilityNormal
	}
	window := history.Tail(volatilityWindow)
	ranges := make([]float64, len(window))
	for i, b := range window {
		ranges[i] = b.RangePct()
	}
	mean := avg(ranges)
	cur := current.RangePct()
	switch {
	case cur > mean*volVeryHighFactor:
		return VolatilityVeryHigh
	case cur > mean*volHighFactor:
		return VolatilityHigh
	case cur < mean*volLowFactor:
		return VolatilityLow
	default:
		return VolatilityNormal
	}
}

// momentumSignal 最近 3 根历史收盘加当前收盘，按时间顺序统计 3 次涨跌，持平记 0。
func momentumSignal(current market.Bar, history market.Bars) Momentum {
	if len(history) < momentumMinBars {
		return MomentumNeutral
	}
	closes := append(history.Tail(momentumMinBars).Closes(), current.Close)
	score := 0
	for i := 1; i < len(closes); i++ {
		switch {
		case closes[i] > closes[i-1]:
			score++
		case closes[i] < closes[i-1]:
			score--
		}
	}
	switch {
	case score >= 2:
		return MomentumStrongPositive
	case score >= 1:
		return MomentumPositive
	case score <= -2:
		return MomentumStrongNegative
	case score <= -1:
		return MomentumNegative
	default:
		return MomentumNeutral
	}
}

// Action 将信号打分转为动作；放量时给领先一方加 1 分，持平不加。
func (s TechnicalSignals) Action() Action {
	buy, sell := 0, 0
	switch s.Trend {
	case TrendStrongBullish:
		buy += 3
	case TrendBullish:
		buy++
	case TrendStrongBearish:
		sell += 3
	case TrendBearish:
		sell++
	}
	switch s.Momentum {
	case MomentumStrongPositive:
		buy += 2
	case MomentumPositive:
		buy++
	case MomentumStrongNegative:
		sell += 2
	case MomentumNegative:
		sell++
	}
	if s.Volume == VolumeHigh {
		switch {
		case buy > sell:
			buy++
		case sell > buy:
			sell++
		}
	}
	switch net := buy - sell; {
	case net >= 3:
		return ActionStrongBuy
	case net >= 1:
		return ActionBuy
	case net <= -3:
		return ActionStrongSell
	case net <= -1:
		return ActionSell
	default:
		return ActionHold
	}
}

// Confidence 基础 0.5，按信号强度累加，上限 1。
func (s TechnicalSignals) Confidence() float64 {
	c := 0.5
	switch s.Trend {
	case TrendStrongBullish, TrendStrongBearish:
		c += 0.2
	case TrendBullish, TrendBearish:
		c += 0.1
	}
	switch s.Momentum {
	case MomentumStrongPositive, MomentumStrongNegative:
		c += 0.15
	case MomentumPositive, MomentumNegative:
		c += 0.1
	}
	if s.Volume == VolumeHigh {
		c += 0.1
	}
	return clamp01(c)
}

// Summary 技术面说明文字。
func (s TechnicalSignals) Summary() string {
	return fmt.Sprintf("技术面 %s（趋势=%s，动量=%s，成交量=%s，波动=%s）", s.Action(), s.Trend, s.Momentum, s.Volume, s.Volatility)
}

func avg(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
