package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dcaengine/internal/coins"
	"dcaengine/internal/config"
	"dcaengine/internal/decision"
	"dcaengine/internal/ledger"
	"dcaengine/internal/logger"
	"dcaengine/internal/market"
	"dcaengine/internal/strategy/dip"
)

// 策略模式
const (
	ModeDCA   = "dca"   // 逢跌触发器说了算，融合决策只记录
	ModeGated = "gated" // 触发器请求的买入还需融合决策放行
)

// 买入被拒原因
const (
	RejectCap   = "cap"
	RejectCash  = "cash"
	RejectGated = "gated"
)

// Settings 回测参数，启动时由配置构造一次。
type Settings struct {
	Symbol           string
	Ledger           ledger.Params
	Dip              dip.Params
	Mode             string
	DecisionInterval int
	HistoryBars      int
	MaxLossPct       float64
	HaltOnMaxLoss    bool
	Start, End       time.Time
	Tick             time.Duration
	MissCeiling      int
	StatusEvery      int
	CheckpointEvery  int
}

// SettingsFromConfig 将配置映射为回测参数。
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	if cfg == nil {
		return Settings{}, fmt.Errorf("配置未初始化")
	}
	start, end, err := cfg.Simulation.Range()
	if err != nil {
		return Settings{}, err
	}
	t := cfg.Trading
	symbol, err := coins.Normalize(t.Symbol)
	if err != nil {
		return Settings{}, err
	}
	s := Settings{
		Symbol: symbol,
		Ledger: ledger.Params{
			InitialBalance: t.InitialBalance,
			TradePct:       t.TradePct,
			TakeProfitPct:  t.TakeProfitPct,
			InvestmentCap:  t.InvestmentCap,
		},
		Dip:              dip.Params{TriggerPct: t.DipTriggerPct, DipTarget: t.DipTarget},
		Mode:             t.StrategyMode,
		DecisionInterval: cfg.Decision.IntervalBars,
		HistoryBars:      cfg.Decision.HistoryBars,
		MaxLossPct:       t.MaxLossPct,
		HaltOnMaxLoss:    t.HaltOnMaxLoss,
		Start:            start,
		End:              end,
		Tick:             cfg.Simulation.Tick(),
		MissCeiling:      cfg.Simulation.MissCeiling,
		StatusEvery:      cfg.Simulation.StatusEvery,
		CheckpointEvery:  cfg.Simulation.CheckpointEvery,
	}
	if err := s.Dip.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// HistoryFunc 按需读取当前 K 线之前的历史窗口（从旧到新）。
type HistoryFunc func(ctx context.Context) (market.Bars, error)

// StepResult 单步结果，供观察者与日志使用。
type StepResult struct {
	Signal    dip.Signal
	Trades    []ledger.Transaction
	Decision  *decision.TradeDecision
	Rejection string
	Halt      bool
}

// Step 处理一根有效 K 线：逢跌触发 → 买入/止盈 → 统计。状态原地更新。
func Step(ctx context.Context, st *SimulationState, bar market.Bar, s Settings, decider decision.Decider, history HistoryFunc) (StepResult, error) {
	var res StepResult
	if st == nil || st.Ledger == nil {
		return res, fmt.Errorf("模拟状态未初始化")
	}
	price := bar.Close
	at := bar.Time
	if at.IsZero() {
		at = st.Clock
	}
	st.LastPrice = price
	st.LastBarTime = at
	st.Misses = 0
	st.Bars++

	if st.Ledger.Cash > 0 {
		st.Dip, res.Signal = dip.Evaluate(st.Dip, price, st.Ledger.HasLots(), s.Dip)
		if res.Signal.Dip && !res.Signal.Buy {
			logger.Debugf("下跌 #%d: -%.2f%%（峰值 %.2f → %.2f），等待 %d/%d",
				res.Signal.DipCount, res.Signal.DropPct, res.Signal.Peak, price, res.Signal.DipCount, s.Dip.DipTarget)
		}
	} else {
		st.Dip = dip.Track(st.Dip, price)
	}

	due := s.DecisionInterval > 0 && st.Bars%s.DecisionInterval == 0
	gate := s.Mode == ModeGated && res.Signal.Buy
	if decider != nil && (due || gate) {
		var hist market.Bars
		if history != nil {
			h, err := history(ctx)
			if err != nil {
				return res, fmt.Errorf("读取历史窗口失败: %w", err)
			}
			hist = h
		}
		d := decider.Decide(ctx, bar, hist)
		res.Decision = &d
		st.Decision = &d
		logger.Infof("决策 %s 置信度=%.2f 风险=%s 执行=%v | %s", d.Action, d.Confidence, d.Risk, d.ShouldExecute, d.Reasoning)
	}

	if res.Signal.Buy {
		switch {
		case gate && res.Decision != nil && !(res.Decision.Action.IsBuy() && res.Decision.ShouldExecute):
			res.Rejection = RejectGated
			logger.Infof("⏸ %s 被决策拦截: %s", res.Signal.Reason.Label(), res.Decision.Action)
		default:
			tx, err := st.Ledger.Buy(price, at, string(res.Signal.Reason))
			switch {
			case err == nil:
				st.Dip = st.Dip.MarkBought()
				res.Trades = append(res.Trades, tx)
				logger.Infof("✅ %s 成交 批次#%d 数量=%.6f 价格=%.2f 金额=%.2f 剩余现金=%.2f 已投入=%.2f/%.2f",
					res.Signal.Reason.Label(), tx.LotID, tx.Quantity, tx.Price, tx.Amount,
					st.Ledger.Cash, st.Ledger.TotalInvested, st.Ledger.Params.CapLimit())
			case errors.Is(err, ledger.ErrInvestmentCap):
				res.Rejection = RejectCap
				logger.Warnf("🚫 买入取消: %v", err)
			case errors.Is(err, ledger.ErrInsufficientCash):
				res.Rejection = RejectCash
				logger.Warnf("🚫 买入取消: %v", err)
			default:
				return res, err
			}
		}
	}

	for _, tx := range st.Ledger.EvaluateSells(price, at) {
		res.Trades = append(res.Trades, tx)
		pnl := 0.0
		if tx.RealizedPnL != nil {
			pnl = *tx.RealizedPnL
		}
		logger.Infof("💰 止盈卖出 批次#%d 数量=%.6f 价格=%.2f 收入=%.2f 盈亏=%.2f",
			tx.LotID, tx.Quantity, tx.Price, tx.Amount, pnl)
	}

	st.Ledger.Mark(price)
	if len(res.Trades) > 0 {
		st.recordEquity(at)
	}
	if s.HaltOnMaxLoss && s.MaxLossPct > 0 && st.Ledger.Stats.CurrentDrawdown >= s.MaxLossPct {
		res.Halt = true
		st.StopReason = fmt.Sprintf("回撤 %.2f%% 达到最大亏损 %.2f%%", st.Ledger.Stats.CurrentDrawdown, s.MaxLossPct)
	}
	return res, nil
}
