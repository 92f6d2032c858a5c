package market

import "time"

// Bar 单根 K 线，读取后不可变。
type Bar struct {
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	Time   time.Time `json:"timestamp"`
}

// RangePct 返回 (high-low)/close*100，close 为 0 时返回 0。
func (b Bar) RangePct() float64 {
	if b.Close == 0 {
		return 0
	}
	return (b.High - b.Low) / b.Close * 100
}

// Valid 粗略校验价格字段。
func (b Bar) Valid() bool {
	return b.Close > 0 && b.High >= b.Low && b.Open >= 0 && b.Volume >= 0
}

// Bars 按时间从旧到新排列。
type Bars []Bar

// Tail 返回最后 n 根（不足则全部），不复制底层数组。
func (bs Bars) Tail(n int) Bars {
	if n <= 0 {
		return nil
	}
	if n >= len(bs) {
		return bs
	}
	return bs[len(bs)-n:]
}

func (bs Bars) Closes() []float64 {
	out := make([]float64, len(bs))
	for i, b := range bs {
		out[i] = b.Close
	}
	return out
}

func (bs Bars) Volumes() []float64 {
	out := make([]float64, len(bs))
	for i, b := range bs {
		out[i] = b.Volume
	}
	return out
}

func (bs Bars) Lows() []float64 {
	out := make([]float64, len(bs))
	for i, b := range bs {
		out[i] = b.Low
	}
	return out
}

func (bs Bars) Highs() []float64 {
	out := make([]float64, len(bs))
	for i, b := range bs {
		out[i] = b.High
	}
	return out
}
