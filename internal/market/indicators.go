package market

import (
	"fmt"
	"math"
	"strings"

	talib "github.com/markcheno/go-talib"

	"dcaengine/internal/pkg/format"
)

// Indicators 基于收盘价序列的常用指标；数据不足时取中性值。
type Indicators struct {
	SMA20      float64 `json:"sma_20"`
	RSI14      float64 `json:"rsi_14"`
	BollUpper  float64 `json:"boll_upper"`
	BollMiddle float64 `json:"boll_middle"`
	BollLower  float64 `json:"boll_lower"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_hist"`
	Support    float64 `json:"support"`
	Resistance float64 `json:"resistance"`
	Samples    int     `json:"samples"`
}

const (
	smaPeriod   = 20
	rsiPeriod   = 14
	bollPeriod  = 20
	macdFast    = 12
	macdSlow    = 26
	macdSignal  = 9
	levelWindow = 50
)

// ComputeIndicators 使用 go-talib 计算指标，history 从旧到新。
func ComputeIndicators(history Bars) Indicators {
	closes := history.Closes()
	ind := Indicators{Samples: len(closes), RSI14: 50}
	if len(closes) == 0 {
		return ind
	}

	if len(closes) >= smaPeriod {
		ind.SMA20 = last(talib.Sma(closes, smaPeriod))
	} else {
		ind.SMA20 = mean(closes)
	}

	if len(closes) > rsiPeriod {
		ind.RSI14 = last(talib.Rsi(closes, rsiPeriod))
	}

	if len(closes) >= bollPeriod {
		up, mid, low := talib.BBands(closes, bollPeriod, 2, 2, talib.SMA)
		ind.BollUpper, ind.BollMiddle, ind.BollLower = last(up), last(mid), last(low)
	} else {
		ind.BollMiddle = ind.SMA20
		ind.BollUpper = ind.SMA20 * 1.02
		ind.BollLower = ind.SMA20 * 0.98
	}

	switch {
	case len(closes) >= macdSlow+macdSignal-1:
		m, s, h := talib.Macd(closes, macdFast, macdSlow, macdSignal)
		ind.MACD, ind.MACDSignal, ind.MACDHist = last(m), last(s), last(h)
	case len(closes) >= macdSlow:
		ind.MACD = last(talib.Ema(closes, macdFast)) - last(talib.Ema(closes, macdSlow))
	}

	window := history.Tail(levelWindow)
	ind.Support, ind.Resistance = math.MaxFloat64, 0
	for _, b := range window {
		ind.Support = math.Min(ind.Support, b.Close)
		ind.Resistance = math.Max(ind.Resistance, b.Close)
	}
	return ind
}

// RSILabel 超买/超卖标签。
func (ind Indicators) RSILabel() string {
	switch {
	case ind.RSI14 > 70:
		return "超买"
	case ind.RSI14 < 30:
		return "超卖"
	default:
		return "中性"
	}
}

func (ind Indicators) String() string {
	macd := "空头"
	if ind.MACD > 0 {
		macd = "多头"
	}
	var sb strings.Builder
	sb.WriteString("技术指标:\n")
	sb.WriteString(fmt.Sprintf("- SMA20: %s\n", format.Float(ind.SMA20, 2)))
	sb.WriteString(fmt.Sprintf("- RSI14: %.1f (%s)\n", ind.RSI14, ind.RSILabel()))
	sb.WriteString(fmt.Sprintf("- 布林带: %s / %s / %s\n", format.Float(ind.BollUpper, 2), format.Float(ind.BollMiddle, 2), format.Float(ind.BollLower, 2)))
	sb.WriteString(fmt.Sprintf("- MACD: %.2f (%s)\n", ind.MACD, macd))
	sb.WriteString(fmt.Sprintf("- 支撑/阻力: %s / %s", format.Float(ind.Support, 2), format.Float(ind.Resistance, 2)))
	return sb.String()
}

func last(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[len(xs)-1]
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
