package ledger

import "math"

// Stats 组合统计，每根 K 线后重算。胜率按卖出笔数计算。
type Stats struct {
	Buys            int     `json:"buys"`
	Sells           int     `json:"sells"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	TotalProfit     float64 `json:"total_profit"`
	TotalLoss       float64 `json:"total_loss"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	CurrentDrawdown float64 `json:"current_drawdown"`
	TotalValue      float64 `json:"total_value"`
	MarkPrice       float64 `json:"mark_price"`
}

func (s *Stats) recordSell(pnl float64) {
	s.Sells++
	switch {
	case pnl > 0:
		s.WinningTrades++
		s.TotalProfit += pnl
	case pnl < 0:
		s.LosingTrades++
		s.TotalLoss += -pnl
	default:
		s.LosingTrades++
	}
}

func (s *Stats) mark(initial, cash, asset, price float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	s.MarkPrice = price
	s.TotalValue = cash + asset*price
	s.CurrentDrawdown = Drawdown(initial, s.TotalValue)
	if s.CurrentDrawdown > s.MaxDrawdown {
		s.MaxDrawdown = s.CurrentDrawdown
	}
}

// Drawdown 当前总值低于初始资金的百分比，不为负。
func Drawdown(initial, total float64) float64 {
	if initial <= 0 {
		return 0
	}
	return math.Max(0, (initial-total)/initial*100)
}

// TotalTrades 买入与卖出笔数之和。
func (s Stats) TotalTrades() int { return s.Buys + s.Sells }

// WinRate 盈利卖出占全部卖出的百分比。
func (s Stats) WinRate() float64 {
	if s.Sells == 0 {
		return 0
	}
	return float64(s.WinningTrades) / float64(s.Sells) * 100
}

func (s Stats) NetProfit() float64 { return s.TotalProfit - s.TotalLoss }

func (s Stats) AvgWin() float64 {
	if s.WinningTrades == 0 {
		return 0
	}
	return s.TotalProfit / float64(s.WinningTrades)
}

func (s Stats) AvgLoss() float64 {
	if s.LosingTrades == 0 {
		return 0
	}
	return s.TotalLoss / float64(s.LosingTrades)
}
