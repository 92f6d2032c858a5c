package market

import (
	"fmt"
	"math"
	"strings"
	"time"

	"dcaengine/internal/pkg/format"
)

const contextWindow = 20

// Context 提供给顾问模型的市场快照。
type Context struct {
	Symbol     string
	Price      float64
	Change     float64 // 相对上一根收盘的变化额
	ChangePct  float64
	RecentHigh float64
	RecentLow  float64
	Volume     float64
	Volatility float64 // 最近收盘价的标准差
	Prices     []float64
	Volumes    []float64
	Summary    string // 窗口概览，见 Bars.Snapshot
	Time       time.Time
	Indicators Indicators
}

// BuildContext 由当前 K 线与历史窗口构造上下文。
func BuildContext(symbol string, current Bar, history Bars) Context {
	ctx := Context{
		Symbol:     symbol,
		Price:      current.Close,
		Volume:     current.Volume,
		Time:       current.Time,
		RecentHigh: current.High,
		RecentLow:  current.Low,
		Indicators: ComputeIndicators(history),
	}
	prev := current.Close
	if len(history) > 0 {
		prev = history[len(history)-1].Close
	}
	ctx.Change = current.Close - prev
	if prev != 0 {
		ctx.ChangePct = ctx.Change / prev * 100
	}
	window := history.Tail(contextWindow)
	if len(window) > 0 {
		low, _ := format.RangeSummary(window.Lows())
		_, high := format.RangeSummary(window.Highs())
		ctx.RecentHigh = math.Max(ctx.RecentHigh, high)
		ctx.RecentLow = math.Min(ctx.RecentLow, low)
		span := make(Bars, 0, len(window)+1)
		ctx.Summary = append(append(span, window...), current).Snapshot("", "")
	}
	ctx.Prices = window.Closes()
	ctx.Volumes = window.Volumes()
	if len(ctx.Prices) > 0 {
		m := mean(ctx.Prices)
		variance := 0.0
		for _, p := range ctx.Prices {
			variance += (p - m) * (p - m)
		}
		ctx.Volatility = math.Sqrt(variance / float64(len(ctx.Prices)))
	}
	return ctx
}

// TrendLabel 按涨跌幅给出趋势描述。
func (c Context) TrendLabel() string {
	switch {
	case c.ChangePct > 2:
		return "强势上涨"
	case c.ChangePct > 0.5:
		return "上涨"
	case c.ChangePct < -2:
		return "强势下跌"
	case c.ChangePct < -0.5:
		return "下跌"
	default:
		return "横盘"
	}
}

// DistanceFromHigh 距区间高点百分比。
func (c Context) DistanceFromHigh() float64 {
	if c.RecentHigh == 0 {
		return 0
	}
	return (c.RecentHigh - c.Price) / c.RecentHigh * 100
}

func (c Context) DistanceFromLow() float64 {
	if c.RecentLow == 0 {
		return 0
	}
	return (c.Price - c.RecentLow) / c.RecentLow * 100
}

// RangePosition 当前价在区间中的位置（0~100）。
func (c Context) RangePosition() float64 {
	span := c.RecentHigh - c.RecentLow
	if span <= 0 {
		return 50
	}
	return (c.Price - c.RecentLow) / span * 100
}

// Prompt 渲染用户提示词，要求模型只返回 JSON。
func (c Context) Prompt() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s 市场分析\n\n", c.Symbol))
	sb.WriteString(fmt.Sprintf("当前价格: %s\n", format.Float(c.Price, 2)))
	sb.WriteString(fmt.Sprintf("区间变化: %+.2f (%+.2f%%)\n", c.Change, c.ChangePct))
	sb.WriteString(fmt.Sprintf("趋势: %s\n\n", c.TrendLabel()))
	sb.WriteString("统计:\n")
	sb.WriteString(fmt.Sprintf("- 近期高点: %s\n", format.Float(c.RecentHigh, 2)))
	sb.WriteString(fmt.Sprintf("- 近期低点: %s\n", format.Float(c.RecentLow, 2)))
	sb.WriteString(fmt.Sprintf("- 成交量: %.2f\n", c.Volume))
	sb.WriteString(fmt.Sprintf("- 波动率(标准差): %.2f\n\n", c.Volatility))
	sb.WriteString(fmt.Sprintf("最近 %d 根收盘价: %s\n", len(c.Prices), formatPrices(c.Prices)))
	if len(c.Volumes) > 0 {
		sb.WriteString(fmt.Sprintf("最近成交量: %s\n", format.VolumeSlice(c.Volumes)))
	}
	if c.Summary != "" {
		sb.WriteString(fmt.Sprintf("窗口概览: %s\n", c.Summary))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("- 距高点: %.2f%%\n", c.DistanceFromHigh()))
	sb.WriteString(fmt.Sprintf("- 距低点: %.2f%%\n", c.DistanceFromLow()))
	sb.WriteString(fmt.Sprintf("- 区间位置: %.1f%%\n\n", c.RangePosition()))
	sb.WriteString(c.Indicators.String())
	sb.WriteString("\n\n")
	if !c.Time.IsZero() {
		sb.WriteString(fmt.Sprintf("时间: %s\n\n", c.Time.UTC().Format("2006-01-02 15:04:05 UTC")))
	}
	sb.WriteString(verdictSchema)
	return sb.String()
}

const verdictSchema = `请只返回如下 JSON：
{"action": "BUY|SELL|HOLD|STRONG_BUY|STRONG_SELL", "confidence": 0.0-1.0, "reasoning": "...", "risk_level": "LOW|MEDIUM|HIGH|VERY_HIGH", "price_prediction": 12345.6}`

func formatPrices(ps []float64) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = format.Float(p, 2)
	}
	return strings.Join(parts, ", ")
}
