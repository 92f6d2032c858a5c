package report

import (
	"time"

	"dcaengine/internal/backtest"
	"dcaengine/internal/ledger"
)

// 中文说明：
// 回测结束（或任意检查点）时的汇总。持仓按最后观测价估值。

// OpenLot 未平仓批次及其浮动盈亏。
type OpenLot struct {
	ledger.Lot
	MarkValue     float64 `json:"mark_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	GainPct       float64 `json:"gain_pct"`
}

type Summary struct {
	RunID           string               `json:"run_id"`
	Symbol          string               `json:"symbol"`
	Start           time.Time            `json:"start"`
	End             time.Time            `json:"end"`
	LastBarTime     time.Time            `json:"last_bar_time"`
	Bars            int                  `json:"bars"`
	Misses          int                  `json:"misses"`
	Finished        bool                 `json:"finished"`
	StopReason      string               `json:"stop_reason,omitempty"`
	Params          ledger.Params        `json:"params"`
	InitialBalance  float64              `json:"initial_balance"`
	FinalValue      float64              `json:"final_value"`
	Cash            float64              `json:"cash"`
	AssetQuantity   float64              `json:"asset_quantity"`
	AssetValue      float64              `json:"asset_value"`
	MarkPrice       float64              `json:"mark_price"`
	TotalInvested   float64              `json:"total_invested"`
	NetReturnPct    float64              `json:"net_return_pct"`
	Buys            int                  `json:"buys"`
	Sells           int                  `json:"sells"`
	Wins            int                  `json:"wins"`
	Losses          int                  `json:"losses"`
	WinRatePct      float64              `json:"win_rate_pct"`
	AvgWin          float64              `json:"avg_win"`
	AvgLoss         float64              `json:"avg_loss"`
	TotalProfit     float64              `json:"total_profit"`
	TotalLoss       float64              `json:"total_loss"`
	NetProfit       float64              `json:"net_profit"`
	UnrealizedPnL   float64              `json:"unrealized_pnl"`
	MaxDrawdown     float64              `json:"max_drawdown_pct"`
	CurrentDrawdown float64              `json:"current_drawdown_pct"`
	OpenLots        []OpenLot            `json:"open_lots"`
	Transactions    []ledger.Transaction `json:"transactions"`
	GeneratedAt     time.Time            `json:"generated_at"`
}

// Build 由模拟状态生成汇总；st 为 nil 时返回零值。
func Build(st *backtest.SimulationState) Summary {
	if st == nil || st.Ledger == nil {
		return Summary{GeneratedAt: time.Now()}
	}
	lg := st.Ledger
	mark := st.MarkPrice()
	s := Summary{
		RunID:           st.RunID,
		Symbol:          st.Symbol,
		Start:           st.Start,
		End:             st.End,
		LastBarTime:     st.LastBarTime,
		Bars:            st.Bars,
		Misses:          st.TotalMisses,
		Finished:        st.Finished,
		StopReason:      st.StopReason,
		Params:          lg.Params,
		InitialBalance:  lg.Params.InitialBalance,
		Cash:            lg.Cash,
		AssetQuantity:   lg.Asset,
		AssetValue:      lg.Asset * mark,
		MarkPrice:       mark,
		TotalInvested:   lg.TotalInvested,
		Buys:            lg.Stats.Buys,
		Sells:           lg.Stats.Sells,
		Wins:            lg.Stats.WinningTrades,
		Losses:          lg.Stats.LosingTrades,
		WinRatePct:      lg.Stats.WinRate(),
		AvgWin:          lg.Stats.AvgWin(),
		AvgLoss:         lg.Stats.AvgLoss(),
		TotalProfit:     lg.Stats.TotalProfit,
		TotalLoss:       lg.Stats.TotalLoss,
		NetProfit:       lg.Stats.NetProfit(),
		MaxDrawdown:     lg.Stats.MaxDrawdown,
		CurrentDrawdown: ledger.Drawdown(lg.Params.InitialBalance, lg.TotalValue(mark)),
		Transactions:    append([]ledger.Transaction(nil), lg.Transactions...),
		GeneratedAt:     time.Now(),
	}
	s.FinalValue = lg.TotalValue(mark)
	if s.InitialBalance > 0 {
		s.NetReturnPct = (s.FinalValue - s.InitialBalance) / s.InitialBalance * 100
	}
	s.OpenLots = make([]OpenLot, 0, len(lg.Lots))
	for _, lot := range lg.Lots {
		ol := OpenLot{
			Lot:           lot,
			MarkValue:     lot.Quantity * mark,
			UnrealizedPnL: lot.UnrealizedPnL(mark),
			GainPct:       lot.GainPct(mark),
		}
		s.UnrealizedPnL += ol.UnrealizedPnL
		s.OpenLots = append(s.OpenLots, ol)
	}
	return s
}
