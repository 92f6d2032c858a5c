package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"dcaengine/internal/backtest"
	"dcaengine/internal/ledger"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const chartTimeLayout = "2006-01-02 15:04"

type chartPoint struct {
	at    time.Time
	price float64
	value float64
}

// RenderChart 输出价格与权益曲线（HTML），买卖点以标注显示。
func RenderChart(w io.Writer, st *backtest.SimulationState) error {
	if st == nil || st.Ledger == nil {
		return fmt.Errorf("模拟状态为空")
	}
	points := chartPoints(st)
	if len(points) == 0 {
		return fmt.Errorf("没有可绘制的数据")
	}
	xs := make([]string, len(points))
	prices := make([]opts.LineData, len(points))
	values := make([]opts.LineData, len(points))
	for i, p := range points {
		xs[i] = p.at.Format(chartTimeLayout)
		prices[i] = opts.LineData{Value: p.price}
		values[i] = opts.LineData{Value: p.value}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "DCA 回测", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s 回测", st.Symbol),
			Subtitle: fmt.Sprintf("run %s · 买 %d 卖 %d", st.RunID, st.Ledger.Stats.Buys, st.Ledger.Stats.Sells),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
		charts.WithYAxisOpts(opts.YAxis{Name: "价格", Scale: opts.Bool(true)}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "权益", Scale: opts.Bool(true)})
	line.SetXAxis(xs).
		AddSeries("价格", prices, charts.WithMarkPointNameCoordItemOpts(tradeMarks(st.Ledger.Transactions)...)).
		AddSeries("权益", values, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1}))
	return line.Render(w)
}

// chartPoints 合并采样权益点与成交点，按时间排序去重。
func chartPoints(st *backtest.SimulationState) []chartPoint {
	seen := make(map[int64]int)
	var out []chartPoint
	add := func(p chartPoint) {
		key := p.at.Unix()
		if i, ok := seen[key]; ok {
			out[i] = p
			return
		}
		seen[key] = len(out)
		out = append(out, p)
	}
	for _, e := range st.Equity {
		add(chartPoint{at: e.Time, price: e.Price, value: e.Value})
	}
	if st.LastPrice > 0 && !st.LastBarTime.IsZero() {
		add(chartPoint{at: st.LastBarTime, price: st.LastPrice, value: st.Ledger.TotalValue(st.LastPrice)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out
}

func tradeMarks(txs []ledger.Transaction) []opts.MarkPointNameCoordItem {
	marks := make([]opts.MarkPointNameCoordItem, 0, len(txs))
	for _, tx := range txs {
		item := opts.MarkPointNameCoordItem{
			Name:       fmt.Sprintf("#%d", tx.ID),
			Coordinate: []interface{}{tx.Time.Format(chartTimeLayout), tx.Price},
			Symbol:     "pin",
			SymbolSize: 28,
		}
		if tx.Side == ledger.SideBuy {
			item.Value = "B"
			item.ItemStyle = &opts.ItemStyle{Color: "#2f9e44"}
		} else {
			item.Value = "S"
			item.ItemStyle = &opts.ItemStyle{Color: "#e03131"}
		}
		marks = append(marks, item)
	}
	return marks
}
