package market

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
)

func TestReadCSV(t *testing.T) {
	in := `open,high,low,close,volume,timestamp
101,103,99,102,10,2024-01-01T00:01:00Z
100,101,98,100,12,2024-01-01T00:00:00Z
bad,row
100,101,98,notanumber,12,2024-01-01T00:02:00Z
99,100,97,98,8,1704067380
`
	bars, skipped, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
	if len(bars) != 3 {
		t.Fatalf("len = %d, want 3", len(bars))
	}
	if bars[0].Close != 100 || bars[2].Close != 98 {
		t.Errorf("bars not sorted by time: %+v", bars)
	}
	if !bars[2].Time.Equal(time.Date(2024, 1, 1, 0, 3, 0, 0, time.UTC)) {
		t.Errorf("unix timestamp parsed as %v", bars[2].Time)
	}
}

func TestReadCSVMissingColumns(t *testing.T) {
	if _, _, err := ReadCSV(strings.NewReader("a,b\n1,2\n")); err == nil {
		t.Fatal("expected error for missing columns")
	}
	if _, _, err := ReadCSV(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestGlobCSV(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "2024", "01")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	write := func(p, body string) {
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write(filepath.Join(dir, "a.csv"), "close,timestamp\n10,2024-01-01 00:00:00\n11,2024-01-01 00:01:00\n")
	write(filepath.Join(sub, "b.csv"), "close,timestamp\n11,2024-01-01 00:01:00\n12,2024-01-01 00:02:00\n")

	bars, files, err := GlobCSV(filepath.Join(dir, "**", "*.csv"))
	if err != nil {
		t.Fatalf("GlobCSV: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("files = %v", files)
	}
	if len(bars) != 3 {
		t.Fatalf("expected duplicate timestamp removed, got %d bars", len(bars))
	}
	if bars[2].Close != 12 {
		t.Errorf("last close = %v", bars[2].Close)
	}
}

func TestParseTimeFlexibleMillis(t *testing.T) {
	ts, err := ParseTimeFlexible("1704067200000")
	if err != nil {
		t.Fatal(err)
	}
	if ts.Year() != 2024 {
		t.Errorf("millis parsed as %v", ts)
	}
}

func series(n int, f func(i int) float64) Bars {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make(Bars, n)
	for i := range out {
		c := f(i)
		out[i] = Bar{Open: c, High: c * 1.01, Low: c * 0.99, Close: c, Volume: 1, Time: base.Add(time.Duration(i) * time.Minute)}
	}
	return out
}

func TestComputeIndicatorsShortHistory(t *testing.T) {
	ind := ComputeIndicators(series(5, func(i int) float64 { return 100 }))
	if ind.RSI14 != 50 {
		t.Errorf("RSI default = %v, want 50", ind.RSI14)
	}
	if ind.SMA20 != 100 {
		t.Errorf("SMA fallback = %v", ind.SMA20)
	}
	if math.Abs(ind.BollUpper-102) > 1e-9 || math.Abs(ind.BollLower-98) > 1e-9 {
		t.Errorf("boll fallback = %v/%v", ind.BollUpper, ind.BollLower)
	}
	if ind.MACD != 0 {
		t.Errorf("MACD = %v, want 0", ind.MACD)
	}
}

func TestComputeIndicatorsRising(t *testing.T) {
	ind := ComputeIndicators(series(60, func(i int) float64 { return 100 + float64(i) }))
	if ind.RSI14 < 70 {
		t.Errorf("steadily rising series RSI = %v, want overbought", ind.RSI14)
	}
	if ind.MACD <= 0 {
		t.Errorf("MACD = %v, want positive", ind.MACD)
	}
	if ind.Support != 110 || ind.Resistance != 159 {
		t.Errorf("levels = %v/%v", ind.Support, ind.Resistance)
	}
	if ind.SMA20 != 149.5 {
		t.Errorf("SMA20 = %v", ind.SMA20)
	}
}

func TestBuildContextPrompt(t *testing.T) {
	hist := series(30, func(i int) float64 { return 100 })
	cur := Bar{Open: 100, High: 104, Low: 100, Close: 103, Volume: 5, Time: hist[29].Time.Add(time.Minute)}
	ctx := BuildContext("BTCUSDT", cur, hist)
	if math.Abs(ctx.ChangePct-3) > 1e-9 {
		t.Errorf("change pct = %v", ctx.ChangePct)
	}
	if ctx.TrendLabel() != "强势上涨" {
		t.Errorf("trend = %s", ctx.TrendLabel())
	}
	if len(ctx.Prices) != 20 {
		t.Errorf("prices window = %d", len(ctx.Prices))
	}
	if ctx.RecentHigh != 104 || ctx.RecentLow != 99 {
		t.Errorf("range = %v/%v", ctx.RecentLow, ctx.RecentHigh)
	}
	p := ctx.Prompt()
	for _, want := range []string{"BTCUSDT", "risk_level", "RSI14", "最近成交量: [1, 1,", "窗口概览: close≈103 (+3.00%/window), 区间 99–104"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBarsSnapshot(t *testing.T) {
	bs := series(3, func(i int) float64 { return 100 + float64(i) })
	got := bs.Snapshot("1m", "")
	if !strings.Contains(got, "close≈102") || !strings.Contains(got, "+2.00%/1m") {
		t.Errorf("snapshot = %q", got)
	}
}

func TestConvertKline(t *testing.T) {
	bar, err := convertKline(&binance.Kline{OpenTime: 1704067200000, Open: "1", High: "2", Low: "0.5", Close: "1.5", Volume: "10"})
	if err != nil {
		t.Fatal(err)
	}
	if bar.Close != 1.5 || bar.Time.Year() != 2024 {
		t.Errorf("bar = %+v", bar)
	}
	if _, err := convertKline(&binance.Kline{Open: "x"}); err == nil {
		t.Error("expected parse error")
	}
}
