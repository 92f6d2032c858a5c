package report

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"dcaengine/internal/backtest"
	"dcaengine/internal/config"
	"dcaengine/internal/ledger"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func sampleState(t *testing.T) *backtest.SimulationState {
	t.Helper()
	st := backtest.NewState("BTCUSDT", ledger.Params{InitialBalance: 100, TradePct: 5, TakeProfitPct: 6, InvestmentCap: 0.9},
		t0, t0.Add(time.Hour), time.Minute)
	lg := st.Ledger
	if _, err := lg.Buy(100, t0, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := lg.Buy(90, t0.Add(5*time.Minute), "emergency"); err != nil {
		t.Fatal(err)
	}
	lg.EvaluateSells(96, t0.Add(10*time.Minute))
	st.LastPrice = 95
	st.LastBarTime = t0.Add(20 * time.Minute)
	st.Bars = 21
	st.Equity = []backtest.EquityPoint{
		{Time: t0, Price: 100, Value: 100},
		{Time: t0.Add(10 * time.Minute), Price: 96, Value: 99.9},
	}
	lg.Mark(95)
	return st
}

func TestBuildMarksAtLastPrice(t *testing.T) {
	st := sampleState(t)
	s := Build(st)
	lg := st.Ledger
	want := lg.Cash + lg.Asset*95
	if math.Abs(s.FinalValue-want) > 1e-9 || s.MarkPrice != 95 {
		t.Fatalf("final value = %v want %v", s.FinalValue, want)
	}
	if math.Abs(s.NetReturnPct-(want-100)) > 1e-9 {
		t.Fatalf("net return = %v", s.NetReturnPct)
	}
	if s.Buys != 2 || s.Sells != 1 || s.Wins != 1 || s.WinRatePct != 100 {
		t.Fatalf("counts = %+v", s)
	}
	if len(s.OpenLots) != 1 || s.OpenLots[0].EntryPrice != 100 {
		t.Fatalf("open lots = %+v", s.OpenLots)
	}
	if math.Abs(s.UnrealizedPnL-s.OpenLots[0].UnrealizedPnL) > 1e-12 || s.UnrealizedPnL >= 0 {
		t.Fatalf("unrealized = %v", s.UnrealizedPnL)
	}
	if len(s.Transactions) != 3 {
		t.Fatalf("transactions = %d", len(s.Transactions))
	}
}

func TestBuildNilState(t *testing.T) {
	if s := Build(nil); s.RunID != "" || s.GeneratedAt.IsZero() {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestRenderText(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderText(&buf, Build(sampleState(t)), TextOptions{MaxTransactions: 2}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"BTCUSDT", "$100.00", "未平仓批次（1）", "显示 2 / 3", "SELL", "5m0s"} {
		if !strings.Contains(out, want) {
			t.Errorf("text report missing %q\n%s", want, out)
		}
	}
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderJSON(&buf, Build(sampleState(t))); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"final_value", "win_rate_pct", "max_drawdown_pct", "open_lots", "transactions"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("json missing %s", key)
		}
	}
}

func TestRenderChart(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderChart(&buf, sampleState(t)); err != nil {
		t.Fatal(err)
	}
	html := buf.String()
	if !strings.Contains(html, "echarts") || !strings.Contains(html, "2024-01-01 00:20") {
		t.Fatalf("chart html missing content")
	}
	empty := backtest.NewState("X", ledger.DefaultParams(), t0, t0.Add(time.Hour), time.Minute)
	if err := RenderChart(&buf, empty); err == nil {
		t.Fatal("expected error for empty state")
	}
}

func TestMoneyFormatting(t *testing.T) {
	cases := map[string]string{
		Money(1234.5):       "$1234.50",
		Money(0.005):        "$0.01",
		Qty(0.0523):         "0.052300",
		Pct(-2.345):         "-2.35%",
		signedMoney(1.2):    "+$1.20",
		signedMoney(-1.2):   "-$1.20",
		signedMoney(0.0001): "$0.00",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("got %q want %q", got, want)
		}
	}
}

func TestStatusBanner(t *testing.T) {
	p := backtest.Progress{Symbol: "BTCUSDT", Index: 42, TotalValue: 95, Price: 100, OpenLots: 2, Done: true}
	out := StatusBanner(p, 100)
	for _, want := range []string{"BTCUSDT", "已结束", "-5.00%", "批次 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("banner missing %q:\n%s", want, out)
		}
	}
}

func TestWriteFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := config.ReportConfig{OutputDir: dir, JSON: true, Chart: true}
	paths, err := WriteFiles(context.Background(), cfg, sampleState(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 {
		t.Fatalf("paths = %v", paths)
	}
	for _, p := range paths {
		if info, err := os.Stat(p); err != nil || info.Size() == 0 {
			t.Errorf("file %s missing or empty: %v", p, err)
		}
	}
	if paths, err := WriteFiles(context.Background(), config.ReportConfig{OutputDir: dir}, sampleState(t)); err != nil || paths != nil {
		t.Fatalf("disabled outputs should write nothing: %v %v", paths, err)
	}
}
