// Package metrics 暴露模拟运行的 Prometheus 指标。
//
//   - dca_trades_total{side}              成交笔数（BUY|SELL）
//   - dca_bar_misses_total                缺失的 K 线索引
//   - dca_advisory_calls_total{result}    顾问调用结果（ok|error|timeout|cached）
//   - dca_buy_rejections_total{reason}    被拒绝的买入（cap|cash|gated）
//   - dca_total_value / dca_drawdown_pct / dca_open_lots / dca_bar_index
//
// 指标注册在独立的 Registry 上，由 HTTP 服务挂载到 /metrics。
package metrics

import (
	"net/http"

	"dcaengine/internal/backtest"
	"dcaengine/internal/decision"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	trades     *prometheus.CounterVec
	misses     prometheus.Counter
	advisory   *prometheus.CounterVec
	rejections *prometheus.CounterVec

	totalValue prometheus.Gauge
	drawdown   prometheus.Gauge
	openLots   prometheus.Gauge
	barIndex   prometheus.Gauge
}

var (
	_ backtest.Observer = (*Metrics)(nil)
	_ decision.Observer = (*Metrics)(nil)
)

// New 创建指标并注册到新的 Registry（附带 Go 运行时与进程指标）。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dca_trades_total",
				Help: "Executed trades by side",
			},
			[]string{"side"},
		),
		misses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dca_bar_misses_total",
				Help: "Bar indices with no stored bar",
			},
		),
		advisory: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dca_advisory_calls_total",
				Help: "Advisory calls by result (ok|error|timeout|cached)",
			},
			[]string{"result"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dca_buy_rejections_total",
				Help: "Requested buys that were not executed, by reason",
			},
			[]string{"reason"},
		),
		totalValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dca_total_value",
			Help: "Cash plus asset marked at the last price",
		}),
		drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dca_drawdown_pct",
			Help: "Current drawdown from the initial balance in percent",
		}),
		openLots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dca_open_lots",
			Help: "Number of open lots",
		}),
		barIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dca_bar_index",
			Help: "Last processed bar index",
		}),
	}
	m.registry.MustRegister(
		m.trades, m.misses, m.advisory, m.rejections,
		m.totalValue, m.drawdown, m.openLots, m.barIndex,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry 供测试与自定义 exporter 使用。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 Prometheus 文本格式的 HTTP handler。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveAdvisory 实现 decision.Observer。
func (m *Metrics) ObserveAdvisory(result string) {
	if m == nil || result == "" {
		return
	}
	m.advisory.WithLabelValues(result).Inc()
}

// OnProgress 实现 backtest.Observer：计数成交、缺失与拒绝，并刷新组合状态。
func (m *Metrics) OnProgress(p backtest.Progress) {
	if m == nil {
		return
	}
	if p.Missed {
		m.misses.Inc()
	}
	for _, tx := range p.Trades {
		m.trades.WithLabelValues(string(tx.Side)).Inc()
	}
	if p.Rejection != "" {
		m.rejections.WithLabelValues(p.Rejection).Inc()
	}
	if p.RunID == "" {
		return
	}
	m.barIndex.Set(float64(p.Index))
	m.totalValue.Set(p.TotalValue)
	m.drawdown.Set(p.Drawdown)
	m.openLots.Set(float64(p.OpenLots))
}
