package report

import (
	"fmt"

	"dcaengine/internal/backtest"

	"github.com/charmbracelet/lipgloss"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("86")).
			Padding(0, 1)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))
	gainStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	lossStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// StatusBanner 终端状态框，用于 status 命令与周期性进度输出。
func StatusBanner(p backtest.Progress, initial float64) string {
	change := 0.0
	if initial > 0 {
		change = (p.TotalValue - initial) / initial * 100
	}
	valueStyle := gainStyle
	if change < 0 {
		valueStyle = lossStyle
	}
	state := "运行中"
	if p.Done {
		state = "已结束"
	}
	title := titleStyle.Render(fmt.Sprintf("%s %s", p.Symbol, state))
	body := lipgloss.JoinVertical(lipgloss.Left,
		title,
		fmt.Sprintf("进度 %s  索引 %d  %s", Pct(p.ProgressPct), p.Index, p.Time.Format("2006-01-02 15:04")),
		fmt.Sprintf("价格 %s  现金 %s  持仓 %s", Money(p.Price), Money(p.Cash), Qty(p.Asset)),
		fmt.Sprintf("总值 %s (%s)", Money(p.TotalValue), valueStyle.Render(Pct(change))),
		fmt.Sprintf("回撤 %s / 最大 %s", Pct(p.Drawdown), Pct(p.MaxDrawdown)),
		dimStyle.Render(fmt.Sprintf("批次 %d  买 %d  卖 %d  连续缺失 %d", p.OpenLots, p.Buys, p.Sells, p.Misses)),
	)
	return bannerStyle.Render(body)
}
