package ledger

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func smallParams() Params {
	return Params{InitialBalance: 100, TradePct: 5, TakeProfitPct: 6, InvestmentCap: 0.9}
}

func sumInvested(l *Ledger) float64 {
	s := 0.0
	for _, lot := range l.Lots {
		s += lot.InvestedAmount
	}
	return s
}

func TestBuyCreatesLotAndTransaction(t *testing.T) {
	l := New(smallParams())
	tx, err := l.Buy(100, t0, "first")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if tx.Side != SideBuy || tx.Amount != 5 || tx.LotID != 1 || tx.ID != 1 {
		t.Fatalf("unexpected tx %+v", tx)
	}
	if l.Cash != 95 || math.Abs(l.Asset-0.05) > 1e-12 || l.TotalInvested != 5 {
		t.Fatalf("balances cash=%v asset=%v invested=%v", l.Cash, l.Asset, l.TotalInvested)
	}
	lot, ok := l.Lot(1)
	if !ok || math.Abs(lot.Quantity*lot.EntryPrice-lot.InvestedAmount) > 1e-12 {
		t.Fatalf("lot = %+v", lot)
	}
}

func TestTakeProfitClosesLot(t *testing.T) {
	l := New(smallParams())
	if _, err := l.Buy(100, t0, "first"); err != nil {
		t.Fatal(err)
	}
	if sold := l.EvaluateSells(105, t0.Add(time.Minute)); len(sold) != 0 {
		t.Fatalf("lot at +5%% should stay open, sold %d", len(sold))
	}
	sold := l.EvaluateSells(106.5, t0.Add(2*time.Minute))
	if len(sold) != 1 {
		t.Fatalf("expected one sell, got %d", len(sold))
	}
	tx := sold[0]
	want := tx.Quantity*106.5 - tx.Quantity*100
	if tx.RealizedPnL == nil || math.Abs(*tx.RealizedPnL-want) > 1e-9 || *tx.RealizedPnL <= 0 {
		t.Fatalf("realized pnl = %v, want %v", tx.RealizedPnL, want)
	}
	if tx.LotID != 1 || tx.ID != 2 {
		t.Fatalf("unexpected ids %+v", tx)
	}
	if l.HasLots() || l.TotalInvested != 0 || l.Asset != 0 {
		t.Fatalf("lot should be removed: %+v", l.Lots)
	}
	if l.Stats.Sells != 1 || l.Stats.WinningTrades != 1 || l.Stats.WinRate() != 100 {
		t.Fatalf("stats = %+v", l.Stats)
	}
	if again := l.EvaluateSells(200, t0.Add(3*time.Minute)); len(again) != 0 {
		t.Fatal("closed lot must not reappear")
	}
}

func TestMultipleLotsCloseIndependently(t *testing.T) {
	p := smallParams()
	p.InitialBalance = 1000
	l := New(p)
	for _, price := range []float64{100, 90, 80} {
		if _, err := l.Buy(price, t0, "dip"); err != nil {
			t.Fatal(err)
		}
	}
	sold := l.EvaluateSells(95.5, t0.Add(time.Hour))
	if len(sold) != 2 {
		t.Fatalf("expected lots at 90 and 80 to close, got %d", len(sold))
	}
	if len(l.Lots) != 1 || l.Lots[0].EntryPrice != 100 {
		t.Fatalf("remaining lots = %+v", l.Lots)
	}
	if sold[0].ID >= sold[1].ID {
		t.Fatalf("transaction ids must increase: %d, %d", sold[0].ID, sold[1].ID)
	}
	if l.TotalInvested != sumInvested(l) {
		t.Fatalf("total invested drift: %v vs %v", l.TotalInvested, sumInvested(l))
	}
}

func TestInvestmentCapNeverBreached(t *testing.T) {
	p := smallParams()
	p.TradePct = 40
	l := New(p)
	var rejected int
	price := 100.0
	for i := 0; i < 20; i++ {
		_, err := l.Buy(price, t0.Add(time.Duration(i)*time.Minute), "dip")
		if errors.Is(err, ErrInvestmentCap) {
			rejected++
		} else if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if l.TotalInvested > p.CapLimit()+1e-9 {
			t.Fatalf("step %d: invested %.4f exceeds cap %.4f", i, l.TotalInvested, p.CapLimit())
		}
		if l.TotalInvested != sumInvested(l) {
			t.Fatalf("step %d: invariant broken", i)
		}
		price *= 0.97
	}
	if rejected == 0 {
		t.Fatal("expected cap rejections")
	}
}

func TestBuyRejectsWithoutCashOrPrice(t *testing.T) {
	l := New(smallParams())
	if _, err := l.Buy(0, t0, ""); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("err = %v", err)
	}
	l.Cash = 0
	if _, err := l.Buy(100, t0, ""); !errors.Is(err, ErrInsufficientCash) {
		t.Fatalf("err = %v", err)
	}
}

func TestMarkDrawdown(t *testing.T) {
	l := New(smallParams())
	if _, err := l.Buy(100, t0, ""); err != nil {
		t.Fatal(err)
	}
	l.Mark(50)
	// 95 + 0.05*50 = 97.5
	if math.Abs(l.Stats.TotalValue-97.5) > 1e-9 || math.Abs(l.Stats.CurrentDrawdown-2.5) > 1e-9 {
		t.Fatalf("stats = %+v", l.Stats)
	}
	l.Mark(200)
	if l.Stats.CurrentDrawdown != 0 || math.Abs(l.Stats.MaxDrawdown-2.5) > 1e-9 {
		t.Fatalf("drawdown should floor at 0 and keep max: %+v", l.Stats)
	}
}

func TestLedgerSnapshotRoundTrip(t *testing.T) {
	l := New(smallParams())
	_, _ = l.Buy(100, t0, "first")
	_, _ = l.Buy(90, t0.Add(time.Minute), "dip")
	l.EvaluateSells(96, t0.Add(2*time.Minute))
	buf, err := json.Marshal(l)
	if err != nil {
		t.Fatal(err)
	}
	var restored Ledger
	if err := json.Unmarshal(buf, &restored); err != nil {
		t.Fatal(err)
	}
	if restored.NextLotID != l.NextLotID || restored.NextTxID != l.NextTxID || len(restored.Lots) != 1 {
		t.Fatalf("restored = %+v", restored)
	}
	tx, err := restored.Buy(80, t0.Add(3*time.Minute), "dip")
	if err != nil {
		t.Fatal(err)
	}
	if tx.LotID != 3 || tx.ID != 4 {
		t.Fatalf("ids must continue after restore: %+v", tx)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	l := New(smallParams())
	_, _ = l.Buy(100, t0, "")
	l.EvaluateSells(110, t0)
	c := l.Clone()
	*c.Transactions[1].RealizedPnL = -1
	c.Lots = append(c.Lots, Lot{ID: 99})
	if *l.Transactions[1].RealizedPnL < 0 || len(l.Lots) != 0 {
		t.Fatal("clone shares memory with source")
	}
	if got := l.TransactionsSince(1); len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("since = %+v", got)
	}
}

func TestStatsAverages(t *testing.T) {
	var s Stats
	s.recordSell(10)
	s.recordSell(20)
	s.recordSell(-6)
	if s.WinningTrades != 2 || s.LosingTrades != 1 || s.AvgWin() != 15 || s.AvgLoss() != 6 {
		t.Fatalf("stats = %+v", s)
	}
	if s.NetProfit() != 24 || math.Abs(s.WinRate()-200.0/3) > 1e-9 {
		t.Fatalf("net=%v win=%v", s.NetProfit(), s.WinRate())
	}
}
