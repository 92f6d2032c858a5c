package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"dcaengine/internal/ledger"
	"dcaengine/internal/pkg/format"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
)

// TextOptions 控制文本报告中流水的行数，0 表示全部。
type TextOptions struct {
	MaxTransactions int
}

// Money 两位小数的金额字符串。
func Money(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	if d.IsNegative() {
		return "-$" + d.Abs().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}

// Qty 数量保留 6 位。
func Qty(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(6)
}

func Pct(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2) + "%"
}

func signedMoney(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	if d.IsPositive() {
		return "+" + Money(v)
	}
	return Money(v)
}

// RenderText 输出汇总、未平仓批次与交易流水三张表。
func RenderText(w io.Writer, s Summary, opt TextOptions) error {
	var b strings.Builder
	b.WriteString(renderSummaryTable(s))
	b.WriteString("\n")
	if len(s.OpenLots) > 0 {
		b.WriteString(renderOpenLots(s))
		b.WriteString("\n")
	}
	b.WriteString(renderTransactions(s.Transactions, opt.MaxTransactions))
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func renderSummaryTable(s Summary) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("回测结果 %s", s.Symbol))
	t.AppendHeader(table.Row{"指标", "数值"})
	period := "-"
	if !s.Start.IsZero() {
		period = fmt.Sprintf("%s ~ %s", s.Start.Format("2006-01-02 15:04"), s.End.Format("2006-01-02 15:04"))
	}
	t.AppendRows([]table.Row{
		{"运行 ID", s.RunID},
		{"区间", period},
		{"处理 K 线", fmt.Sprintf("%d（缺失 %d）", s.Bars, s.Misses)},
		{"初始资金", Money(s.InitialBalance)},
		{"最终总值", Money(s.FinalValue)},
		{"净收益率", Pct(s.NetReturnPct)},
		{"现金", Money(s.Cash)},
		{"持仓", fmt.Sprintf("%s @ %s = %s", Qty(s.AssetQuantity), Money(s.MarkPrice), Money(s.AssetValue))},
		{"仍在投入", Money(s.TotalInvested)},
		{"买入 / 卖出", fmt.Sprintf("%d / %d", s.Buys, s.Sells)},
		{"盈利 / 亏损", fmt.Sprintf("%d / %d", s.Wins, s.Losses)},
		{"胜率", Pct(s.WinRatePct)},
		{"平均盈利 / 平均亏损", fmt.Sprintf("%s / %s", Money(s.AvgWin), Money(s.AvgLoss))},
		{"已实现净利润", signedMoney(s.NetProfit)},
		{"浮动盈亏", signedMoney(s.UnrealizedPnL)},
		{"最大回撤", Pct(s.MaxDrawdown)},
		{"参数", fmt.Sprintf("每笔 %s%% 止盈 %s%% 上限 %s",
			format.Float(s.Params.TradePct, 2), format.Float(s.Params.TakeProfitPct, 2), format.Percent(s.Params.InvestmentCap, 2))},
	})
	if s.StopReason != "" {
		t.AppendRow(table.Row{"结束原因", s.StopReason})
	}
	return t.Render()
}

func renderOpenLots(s Summary) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("未平仓批次（%d）", len(s.OpenLots)))
	t.AppendHeader(table.Row{"#", "买入时间", "数量", "买入价", "投入", "市值", "浮盈", "涨跌"})
	for _, lot := range s.OpenLots {
		t.AppendRow(table.Row{
			lot.ID,
			lot.EntryTime.Format("2006-01-02 15:04"),
			Qty(lot.Quantity),
			Money(lot.EntryPrice),
			Money(lot.InvestedAmount),
			Money(lot.MarkValue),
			signedMoney(lot.UnrealizedPnL),
			Pct(lot.GainPct),
		})
	}
	return t.Render()
}

func renderTransactions(txs []ledger.Transaction, max int) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	shown := txs
	if max > 0 && len(txs) > max {
		shown = txs[len(txs)-max:]
	}
	t.SetTitle(fmt.Sprintf("交易流水（显示 %d / %d）", len(shown), len(txs)))
	t.AppendHeader(table.Row{"#", "方向", "批次", "时间", "数量", "价格", "金额", "盈亏", "持有"})
	buyTimes := make(map[uint64]time.Time)
	for _, tx := range txs {
		if tx.Side == ledger.SideBuy {
			buyTimes[tx.LotID] = tx.Time
		}
	}
	for _, tx := range shown {
		pnl, held := "-", "-"
		if tx.RealizedPnL != nil {
			pnl = signedMoney(*tx.RealizedPnL)
		}
		if tx.Side == ledger.SideSell {
			if bt, ok := buyTimes[tx.LotID]; ok {
				held = format.Duration(tx.Time.Sub(bt).Milliseconds())
			}
		}
		t.AppendRow(table.Row{
			tx.ID, string(tx.Side), tx.LotID, tx.Time.Format("2006-01-02 15:04"),
			Qty(tx.Quantity), Money(tx.Price), Money(tx.Amount), pnl, held,
		})
	}
	return t.Render()
}

// RenderJSON 输出缩进 JSON。
func RenderJSON(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
