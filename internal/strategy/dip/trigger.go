package dip

import (
	"encoding/json"
	"fmt"
	"math"
)

// 中文说明：
// 逢跌加仓触发器。状态只有两个计数：运行峰值与连续下跌次数。
// 每根 K 线：先更新峰值；从未买入且无持仓时立即首买；
// 跌幅达到 2 倍触发阈值为紧急买入；否则累计下跌次数，达到目标次数才买入。
// 只要判定为一次下跌（计数或紧急），峰值重置为当前收盘价。

// Reason 买入信号来源。
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonFirst     Reason = "first"
	ReasonEmergency Reason = "emergency"
	ReasonCounted   Reason = "dip"
)

func (r Reason) Label() string {
	switch r {
	case ReasonFirst:
		return "首次买入"
	case ReasonEmergency:
		return "紧急买入"
	case ReasonCounted:
		return "逢跌买入"
	default:
		return "无"
	}
}

// Params 触发参数。
type Params struct {
	TriggerPct float64
	DipTarget  int
}

// Validate 检查阈值与目标次数。
func (p Params) Validate() error {
	if math.IsNaN(p.TriggerPct) || math.IsInf(p.TriggerPct, 0) || p.TriggerPct <= 0 {
		return fmt.Errorf("dip: trigger_pct 必须为正数")
	}
	if p.DipTarget < 1 {
		return fmt.Errorf("dip: dip_target 至少为 1")
	}
	return nil
}

// State 可序列化，随检查点一起保存。
type State struct {
	Peak      float64 `json:"peak"`
	DipCount  int     `json:"dip_count"`
	HasBought bool    `json:"has_bought"`
}

// Signal 单根 K 线的判定结果。
type Signal struct {
	Buy      bool
	Reason   Reason
	DropPct  float64
	Peak     float64 // 判定时使用的峰值（重置前）
	DipCount int     // 判定后的计数
	Dip      bool    // 是否构成一次下跌事件
}

// Evaluate 纯函数：返回新状态与信号。hasLots 表示当前是否有未平仓批次。
func Evaluate(s State, price float64, hasLots bool, p Params) (State, Signal) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return s, Signal{Peak: s.Peak, DipCount: s.DipCount}
	}
	if price > s.Peak {
		s.Peak = price
	}
	sig := Signal{Peak: s.Peak, DipCount: s.DipCount}
	if !hasLots && !s.HasBought {
		sig.Buy = true
		sig.Reason = ReasonFirst
		return s, sig
	}
	if s.Peak <= 0 {
		return s, sig
	}
	drop := (s.Peak - price) / s.Peak * 100
	sig.DropPct = drop
	if drop < p.TriggerPct {
		return s, sig
	}
	sig.Dip = true
	if drop >= 2*p.TriggerPct {
		s.DipCount = 0
		sig.Buy = true
		sig.Reason = ReasonEmergency
	} else {
		s.DipCount++
		target := p.DipTarget
		if target < 1 {
			target = 1
		}
		if s.DipCount >= target {
			s.DipCount = 0
			sig.Buy = true
			sig.Reason = ReasonCounted
		}
	}
	s.Peak = price
	sig.DipCount = s.DipCount
	return s, sig
}

// Track 只更新峰值，用于现金不足时跳过买入判定的 K 线。
func Track(s State, price float64) State {
	if price > s.Peak && !math.IsInf(price, 0) {
		s.Peak = price
	}
	return s
}

// MarkBought 在买入成交后调用。
func (s State) MarkBought() State {
	s.HasBought = true
	return s
}

func EncodeState(s State) string {
	buf, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(buf)
}

func DecodeState(raw string) (State, error) {
	var s State
	if raw == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return State{}, fmt.Errorf("dip: 解析状态失败: %w", err)
	}
	return s, nil
}
