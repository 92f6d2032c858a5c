package format

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Percent 将比例（0.9）渲染为百分比（"90%"），小数位按 decimals 截取后去掉尾零。
func Percent(ratio float64, decimals int) string {
	if ratio == 0 || math.IsNaN(ratio) {
		return "0%"
	}
	return Float(ratio*100, decimals) + "%"
}

// Float 固定小数位后去掉尾零；decimals < 0 时取 4 位。
func Float(val float64, decimals int) string {
	if decimals < 0 {
		decimals = 4
	}
	out := fmt.Sprintf("%.*f", decimals, val)
	if strings.Contains(out, ".") {
		out = strings.TrimRight(strings.TrimRight(out, "0"), ".")
	}
	if out == "" || out == "-0" {
		return "0"
	}
	return out
}

// Compact 成交量等大数缩写为 K/M/B。
func Compact(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1e9:
		return Float(v/1e9, 2) + "B"
	case abs >= 1e6:
		return Float(v/1e6, 2) + "M"
	case abs >= 1e3:
		return Float(v/1e3, 2) + "K"
	default:
		return Float(v, 2)
	}
}

// VolumeSlice 渲染成交量序列，如 "[1.2K, 950, 3.4M]"。
func VolumeSlice(volumes []float64) string {
	parts := make([]string, len(volumes))
	for i, v := range volumes {
		parts[i] = Compact(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Duration 毫秒转为 "1h5m" / "5m0s" / "12s"，非正数返回 "-"。
func Duration(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	d := time.Duration(ms) * time.Millisecond
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	switch {
	case h >= 24:
		return fmt.Sprintf("%dd%dh", h/24, h%24)
	case h > 0:
		return fmt.Sprintf("%dh%dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%ds", m, d/time.Second)
	}
	return fmt.Sprintf("%ds", d/time.Second)
}

// RangeSummary 返回序列的最小值与最大值；空序列返回 (0, 0)。
func RangeSummary(values []float64) (low, high float64) {
	if len(values) == 0 {
		return 0, 0
	}
	low, high = values[0], values[0]
	for _, v := range values[1:] {
		low = math.Min(low, v)
		high = math.Max(high, v)
	}
	return low, high
}
