package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dcaengine/internal/decision"
	"dcaengine/internal/gateway/database"
	"dcaengine/internal/ledger"
	"dcaengine/internal/logger"
	"dcaengine/internal/market"
	"dcaengine/internal/store"
)

// 中文说明：
// 模拟循环按固定步长推进时钟，每步读取一个索引的 K 线。
// 缺失计数并继续；连续缺失达到上限时保存检查点并以 ErrMissCeiling 结束。
// 取消（ctx）时同样先保存检查点，下次从检查点继续。

// ErrMissCeiling 连续缺失达到上限，属于受控停止。
var ErrMissCeiling = errors.New("连续缺失 K 线达到上限")

const missLogEvery = 100

// CheckpointStore 检查点存取（sqlite 或文件）。
type CheckpointStore interface {
	Save(ctx context.Context, cp database.Checkpoint) error
	Load(ctx context.Context) (database.Checkpoint, error)
	Clear(ctx context.Context) error
}

// TransactionSink 接收新产生的流水。
type TransactionSink interface {
	AppendTransactions(ctx context.Context, runID string, txs []ledger.Transaction) error
}

// Progress 每步发布的快照。
type Progress struct {
	RunID         string                  `json:"run_id"`
	Symbol        string                  `json:"symbol"`
	Index         uint64                  `json:"index"`
	Time          time.Time               `json:"time"`
	Price         float64                 `json:"price"`
	Cash          float64                 `json:"cash"`
	Asset         float64                 `json:"asset"`
	TotalInvested float64                 `json:"total_invested"`
	TotalValue    float64                 `json:"total_value"`
	Drawdown      float64                 `json:"drawdown_pct"`
	MaxDrawdown   float64                 `json:"max_drawdown_pct"`
	OpenLots      int                     `json:"open_lots"`
	Buys          int                     `json:"buys"`
	Sells         int                     `json:"sells"`
	Misses        int                     `json:"misses"`
	ProgressPct   float64                 `json:"progress_pct"`
	Missed        bool                    `json:"missed,omitempty"`
	Rejection     string                  `json:"rejection,omitempty"`
	Trades        []ledger.Transaction    `json:"trades,omitempty"`
	Decision      *decision.TradeDecision `json:"decision,omitempty"`
	Done          bool                    `json:"done,omitempty"`
}

// Observer 进度监听者（指标、websocket 推送）。
type Observer interface {
	OnProgress(p Progress)
}

type Loop struct {
	settings    Settings
	bars        store.BarSource
	decider     decision.Decider
	checkpoints CheckpointStore
	sink        TransactionSink
	observers   []Observer

	mu       sync.RWMutex
	state    *SimulationState
	progress Progress
	flushed  uint64 // 已写入 sink 的最大流水 id
}

type LoopOption func(*Loop)

func WithDecider(d decision.Decider) LoopOption {
	return func(l *Loop) { l.decider = d }
}

func WithCheckpoints(c CheckpointStore) LoopOption {
	return func(l *Loop) { l.checkpoints = c }
}

func WithTransactionSink(s TransactionSink) LoopOption {
	return func(l *Loop) { l.sink = s }
}

func WithObserver(o Observer) LoopOption {
	return func(l *Loop) {
		if o != nil {
			l.observers = append(l.observers, o)
		}
	}
}

func NewLoop(s Settings, bars store.BarSource, opts ...LoopOption) *Loop {
	l := &Loop{settings: s, bars: bars}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddObserver 在 Run 之前追加监听者。
func (l *Loop) AddObserver(o Observer) {
	if o == nil {
		return
	}
	l.mu.Lock()
	l.observers = append(l.observers, o)
	l.mu.Unlock()
}

// Snapshot 返回当前状态的深拷贝；尚未开始时返回 nil。
func (l *Loop) Snapshot() *SimulationState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Clone()
}

// LastProgress 最近一次发布的进度。
func (l *Loop) LastProgress() (Progress, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.progress, l.state != nil
}

// Run 从检查点（若有）或新状态开始推进，直到结束、缺失上限、最大亏损或取消。
func (l *Loop) Run(ctx context.Context) (*SimulationState, error) {
	if l == nil || l.bars == nil {
		return nil, fmt.Errorf("模拟循环未初始化")
	}
	st, err := l.prepare(ctx)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.state = st
	l.flushed = 0 // 恢复后重放全部流水，写入按 run_id+id 幂等
	l.mu.Unlock()

	s := l.settings
	tick := st.Tick()
	logger.Infof("✓ 开始模拟 run=%s 标的=%s 区间=%s ~ %s 步长=%s 初始资金=%.2f",
		st.RunID, st.Symbol, st.Start.Format(time.RFC3339), st.End.Format(time.RFC3339), tick, st.Ledger.Params.InitialBalance)

	for st.Clock.Before(st.End) {
		if err := ctx.Err(); err != nil {
			l.checkpoint(context.WithoutCancel(ctx), st)
			logger.Warnf("模拟被取消，已保存检查点 index=%d", st.Index)
			return st.Clone(), err
		}
		bar, ok, err := l.bars.Get(ctx, st.Index)
		if err != nil {
			l.checkpoint(context.WithoutCancel(ctx), st)
			return st.Clone(), fmt.Errorf("读取 K 线 %d 失败: %w", st.Index, err)
		}
		if !ok {
			if stop := l.onMiss(ctx, st); stop != nil {
				return st.Clone(), stop
			}
			continue
		}
		l.mu.Lock()
		res, err := Step(ctx, st, bar, s, l.decider, l.historyFor(st.Index))
		idx := st.Index
		if err == nil {
			l.advance(st, tick)
		}
		l.mu.Unlock()
		if err != nil {
			l.checkpoint(context.WithoutCancel(ctx), st)
			return st.Clone(), err
		}
		l.publish(st, idx, res, false)

		if s.StatusEvery > 0 && st.Bars%s.StatusEvery == 0 {
			l.logStatus(st)
			l.mu.Lock()
			st.recordEquity(st.LastBarTime)
			l.mu.Unlock()
		}
		if s.CheckpointEvery > 0 && st.Bars%s.CheckpointEvery == 0 {
			l.checkpoint(ctx, st)
		}
		if res.Halt {
			logger.Warnf("🛑 模拟停止: %s", st.StopReason)
			break
		}
	}

	l.mu.Lock()
	st.Finished = true
	if st.StopReason == "" {
		st.StopReason = "到达结束时间"
	}
	l.mu.Unlock()
	l.checkpoint(ctx, st)
	l.publishDone(st)
	logger.Infof("✓ 模拟结束: %s，共处理 %d 根 K 线", st.StopReason, st.Bars)
	return st.Clone(), nil
}

// onMiss 处理缺失索引；返回非 nil 表示终止。
func (l *Loop) onMiss(ctx context.Context, st *SimulationState) error {
	l.mu.Lock()
	idx := st.Index
	st.Misses++
	st.TotalMisses++
	l.advance(st, st.Tick())
	misses := st.Misses
	l.mu.Unlock()
	if misses%missLogEvery == 0 {
		logger.Warnf("⚠️ 连续 %d 次无数据 index=%d 时间=%s 进度=%.1f%%",
			misses, idx, st.Clock.Format("2006-01-02 15:04"), st.Progress())
	}
	l.publish(st, idx, StepResult{}, true)
	if l.settings.MissCeiling > 0 && misses >= l.settings.MissCeiling {
		l.mu.Lock()
		st.StopReason = fmt.Sprintf("连续 %d 次无数据", misses)
		l.mu.Unlock()
		l.checkpoint(context.WithoutCancel(ctx), st)
		logger.Warnf("🛑 模拟停止: 连续 %d 次无数据，最后索引 %d，最后时间 %s", misses, idx, st.Clock.Format(time.RFC3339))
		return fmt.Errorf("%w: 最后索引 %d, 最后时间 %s", ErrMissCeiling, idx, st.Clock.Format(time.RFC3339))
	}
	return nil
}

func (l *Loop) advance(st *SimulationState, tick time.Duration) {
	st.Clock = st.Clock.Add(tick)
	st.Index++
	st.UpdatedAt = time.Now()
}

func (l *Loop) historyFor(index uint64) HistoryFunc {
	n := l.settings.HistoryBars
	return func(ctx context.Context) (market.Bars, error) {
		return store.Window(ctx, l.bars, index, n)
	}
}

func (l *Loop) prepare(ctx context.Context) (*SimulationState, error) {
	s := l.settings
	if l.checkpoints != nil {
		cp, err := l.checkpoints.Load(ctx)
		switch {
		case err == nil:
			st, derr := DecodeState(cp.State)
			if derr != nil {
				return nil, derr
			}
			if st.Finished {
				logger.Infof("检查点 run=%s 已完成，重新开始", st.RunID)
				break
			}
			// 初始资金沿用检查点，其余交易参数使用当前配置
			st.Ledger.Params.TradePct = s.Ledger.TradePct
			st.Ledger.Params.TakeProfitPct = s.Ledger.TakeProfitPct
			st.Ledger.Params.InvestmentCap = s.Ledger.InvestmentCap
			logger.Infof("✓ 从检查点恢复 run=%s index=%d 时间=%s 批次=%d",
				st.RunID, st.Index, st.Clock.Format(time.RFC3339), len(st.Ledger.Lots))
			return st, nil
		case errors.Is(err, database.ErrNoCheckpoint):
		default:
			return nil, fmt.Errorf("加载检查点失败: %w", err)
		}
	}
	start, end, err := ResolveRange(ctx, l.bars, s.Start, s.End, s.Tick)
	if err != nil {
		return nil, err
	}
	return NewState(s.Symbol, s.Ledger, start, end, s.Tick), nil
}

// ResolveRange 起止时间缺省时由数据推导：起点为索引 0 的时间，终点为起点 + 条数 × 步长。
func ResolveRange(ctx context.Context, src store.BarSource, start, end time.Time, tick time.Duration) (time.Time, time.Time, error) {
	if tick <= 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("tick 必须大于 0")
	}
	if !start.IsZero() && !end.IsZero() {
		return start, end, nil
	}
	n, err := src.Len(ctx)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("读取 K 线数量失败: %w", err)
	}
	if n == 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("没有可用的 K 线数据，请先导入")
	}
	if start.IsZero() {
		first, ok, err := src.Get(ctx, 0)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		if !ok || first.Time.IsZero() {
			return time.Time{}, time.Time{}, fmt.Errorf("无法确定模拟起点，请配置 simulation.start")
		}
		start = first.Time
	}
	if end.IsZero() {
		end = start.Add(time.Duration(n) * tick)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("模拟结束时间必须晚于开始时间")
	}
	return start, end, nil
}

func (l *Loop) checkpoint(ctx context.Context, st *SimulationState) {
	l.mu.Lock()
	st.UpdatedAt = time.Now()
	raw, err := st.Encode()
	var pending []ledger.Transaction
	if l.sink != nil {
		pending = st.Ledger.TransactionsSince(l.flushed)
	}
	cp := database.Checkpoint{RunID: st.RunID, Symbol: st.Symbol, Index: st.Index, Clock: st.Clock, State: raw, SavedAt: st.UpdatedAt}
	l.mu.Unlock()
	if err != nil {
		logger.Errorf("保存检查点失败: %v", err)
		return
	}
	if l.sink != nil && len(pending) > 0 {
		if err := l.sink.AppendTransactions(ctx, st.RunID, pending); err != nil {
			logger.Errorf("写入交易流水失败: %v", err)
		} else {
			l.mu.Lock()
			l.flushed = pending[len(pending)-1].ID
			l.mu.Unlock()
		}
	}
	if l.checkpoints == nil {
		return
	}
	if err := l.checkpoints.Save(ctx, cp); err != nil {
		logger.Errorf("保存检查点失败: %v", err)
		return
	}
	logger.Debugf("检查点已保存 index=%d", cp.Index)
}

func (l *Loop) publish(st *SimulationState, idx uint64, res StepResult, missed bool) {
	l.mu.Lock()
	p := progressOf(st, idx)
	p.Missed = missed
	p.Rejection = res.Rejection
	p.Trades = res.Trades
	p.Decision = res.Decision
	l.progress = p
	observers := l.observers
	l.mu.Unlock()
	for _, o := range observers {
		o.OnProgress(p)
	}
}

func (l *Loop) publishDone(st *SimulationState) {
	l.mu.Lock()
	p := progressOf(st, st.Index)
	p.Done = true
	l.progress = p
	observers := l.observers
	l.mu.Unlock()
	for _, o := range observers {
		o.OnProgress(p)
	}
}

// ProgressOf 由状态生成进度快照（status 命令读取检查点时使用）。
func ProgressOf(st *SimulationState) Progress {
	p := progressOf(st, st.Index)
	p.Done = st.Finished
	return p
}

func progressOf(st *SimulationState, idx uint64) Progress {
	lg := st.Ledger
	return Progress{
		RunID:         st.RunID,
		Symbol:        st.Symbol,
		Index:         idx,
		Time:          st.Clock,
		Price:         st.LastPrice,
		Cash:          lg.Cash,
		Asset:         lg.Asset,
		TotalInvested: lg.TotalInvested,
		TotalValue:    lg.Stats.TotalValue,
		Drawdown:      lg.Stats.CurrentDrawdown,
		MaxDrawdown:   lg.Stats.MaxDrawdown,
		OpenLots:      len(lg.Lots),
		Buys:          lg.Stats.Buys,
		Sells:         lg.Stats.Sells,
		Misses:        st.Misses,
		ProgressPct:   st.Progress(),
	}
}

func (l *Loop) logStatus(st *SimulationState) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lg := st.Ledger
	logger.Infof("📊 进度 %.1f%% index=%d 时间=%s 价格=%.2f 现金=%.2f 持仓=%.6f 总值=%.2f 回撤=%.2f%% 批次=%d 买/卖=%d/%d",
		st.Progress(), st.Index, st.LastBarTime.Format("2006-01-02 15:04"), st.LastPrice,
		lg.Cash, lg.Asset, lg.Stats.TotalValue, lg.Stats.CurrentDrawdown, len(lg.Lots), lg.Stats.Buys, lg.Stats.Sells)
}
