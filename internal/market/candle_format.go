package market

import (
	"fmt"
	"strings"

	"dcaengine/internal/pkg/format"
	"dcaengine/internal/pkg/text"
)

// TimeString formats the bar time in UTC.
func (b Bar) TimeString() string {
	if b.Time.IsZero() {
		return "-"
	}
	return b.Time.UTC().Format("01-02 15:04") + "Z"
}

// Snapshot summarizes a window of bars for prompt display.
func (bs Bars) Snapshot(interval, trend string) string {
	if len(bs) == 0 {
		return ""
	}
	first := bs[0]
	last := bs[len(bs)-1]
	base := first.Close
	if base == 0 {
		base = first.Open
	}
	changePct := 0.0
	if base != 0 {
		changePct = (last.Close - base) / base * 100
	}
	low, _ := format.RangeSummary(bs.Lows())
	_, high := format.RangeSummary(bs.Highs())
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("close≈%s", format.Float(last.Close, 2)))
	iv := strings.TrimSpace(interval)
	if iv == "" {
		iv = "window"
	}
	if base != 0 {
		sb.WriteString(fmt.Sprintf(" (%+.2f%%/%s)", changePct, iv))
	}
	sb.WriteString(fmt.Sprintf(", 区间 %s–%s", format.Float(low, 2), format.Float(high, 2)))
	if t := strings.TrimSpace(trend); t != "" {
		sb.WriteString(", " + text.Truncate(t, 200))
	}
	return sb.String()
}
