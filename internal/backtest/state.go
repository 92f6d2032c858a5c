package backtest

import (
	"encoding/json"
	"fmt"
	"time"

	"dcaengine/internal/decision"
	"dcaengine/internal/ledger"
	"dcaengine/internal/strategy/dip"

	"github.com/google/uuid"
)

// 中文说明：
// SimulationState 是一次回测的全部可变状态，单一所有者（模拟循环）。
// 可整体序列化为 JSON 作为检查点，恢复后继续推进时钟与索引。

// EquityPoint 采样的权益曲线点。
type EquityPoint struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
	Value float64   `json:"value"`
}

type SimulationState struct {
	RunID       string                  `json:"run_id"`
	Symbol      string                  `json:"symbol"`
	Index       uint64                  `json:"index"` // 下一个待处理的索引
	Clock       time.Time               `json:"clock"`
	Start       time.Time               `json:"start"`
	End         time.Time               `json:"end"`
	TickSeconds int64                   `json:"tick_seconds"`
	Ledger      *ledger.Ledger          `json:"ledger"`
	Dip         dip.State               `json:"dip"`
	Bars        int                     `json:"bars"`         // 已处理的有效 K 线数
	Misses      int                     `json:"misses"`       // 连续缺失次数
	TotalMisses int                     `json:"total_misses"` // 累计缺失
	LastPrice   float64                 `json:"last_price"`
	LastBarTime time.Time               `json:"last_bar_time"`
	Decision    *decision.TradeDecision `json:"last_decision,omitempty"`
	Equity      []EquityPoint           `json:"equity,omitempty"`
	StopReason  string                  `json:"stop_reason,omitempty"`
	Finished    bool                    `json:"finished"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// NewState 创建新的回测状态并分配 run id。
func NewState(symbol string, p ledger.Params, start, end time.Time, tick time.Duration) *SimulationState {
	return &SimulationState{
		RunID:       uuid.NewString(),
		Symbol:      symbol,
		Clock:       start,
		Start:       start,
		End:         end,
		TickSeconds: int64(tick / time.Second),
		Ledger:      ledger.New(p),
	}
}

func (s *SimulationState) Tick() time.Duration {
	return time.Duration(s.TickSeconds) * time.Second
}

// Progress 已推进时间占总区间的百分比。
func (s *SimulationState) Progress() float64 {
	total := s.End.Sub(s.Start)
	if total <= 0 {
		return 0
	}
	done := s.Clock.Sub(s.Start)
	if done >= total {
		return 100
	}
	return float64(done) / float64(total) * 100
}

// MarkPrice 报告使用的估值价：最后观测到的价格。
func (s *SimulationState) MarkPrice() float64 {
	return s.LastPrice
}

// Clone 深拷贝。
func (s *SimulationState) Clone() *SimulationState {
	if s == nil {
		return nil
	}
	out := *s
	out.Ledger = s.Ledger.Clone()
	out.Equity = append([]EquityPoint(nil), s.Equity...)
	if s.Decision != nil {
		d := *s.Decision
		out.Decision = &d
	}
	return &out
}

func (s *SimulationState) Encode() ([]byte, error) {
	buf, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("序列化模拟状态失败: %w", err)
	}
	return buf, nil
}

// DecodeState 解析检查点中的状态。
func DecodeState(raw []byte) (*SimulationState, error) {
	var s SimulationState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("解析模拟状态失败: %w", err)
	}
	if s.Ledger == nil {
		return nil, fmt.Errorf("检查点缺少账本")
	}
	if s.TickSeconds <= 0 {
		return nil, fmt.Errorf("检查点缺少 tick")
	}
	return &s, nil
}

func (s *SimulationState) recordEquity(at time.Time) {
	if s.LastPrice <= 0 {
		return
	}
	s.Equity = append(s.Equity, EquityPoint{Time: at, Price: s.LastPrice, Value: s.Ledger.TotalValue(s.LastPrice)})
}
