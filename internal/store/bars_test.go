package store

import (
	"context"
	"testing"
	"time"

	"dcaengine/internal/market"
)

func bar(c float64, i int) market.Bar {
	return market.Bar{Open: c, High: c, Low: c, Close: c, Volume: 1, Time: time.Unix(int64(i)*60, 0).UTC()}
}

func TestKey(t *testing.T) {
	if got := Key("", 42); got != "btc_42" {
		t.Errorf("Key = %s", got)
	}
	if got := Key("eth", 0); got != "eth_0" {
		t.Errorf("Key = %s", got)
	}
}

func TestMemoryBarStoreSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBarStore()
	w, sk, err := s.PutBatch(ctx, 0, []market.Bar{bar(1, 0), bar(2, 1)})
	if err != nil || w != 2 || sk != 0 {
		t.Fatalf("first batch: w=%d sk=%d err=%v", w, sk, err)
	}
	w, sk, _ = s.PutBatch(ctx, 0, []market.Bar{bar(1, 0), bar(3, 1), bar(4, 2)})
	if w != 2 || sk != 1 {
		t.Errorf("second batch: w=%d sk=%d, want 2/1", w, sk)
	}
	n, _ := s.Len(ctx)
	if n != 3 {
		t.Errorf("Len = %d", n)
	}
	b, ok, _ := s.Get(ctx, 1)
	if !ok || b.Close != 3 {
		t.Errorf("Get(1) = %+v %v", b, ok)
	}
	if _, ok, _ := s.Get(ctx, 9); ok {
		t.Error("Get(9) should miss")
	}
	_ = s.Clear(ctx)
	if n, _ := s.Len(ctx); n != 0 {
		t.Errorf("Len after clear = %d", n)
	}
}

func TestWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBarStore()
	bars := make([]market.Bar, 10)
	for i := range bars {
		bars[i] = bar(float64(i), i)
	}
	_, _, _ = s.PutBatch(ctx, 0, bars)

	w, err := Window(ctx, s, 5, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(w) != 3 || w[0].Close != 2 || w[2].Close != 4 {
		t.Errorf("window = %+v", w.Closes())
	}
	w, _ = Window(ctx, s, 2, 10)
	if len(w) != 2 {
		t.Errorf("short window len = %d", len(w))
	}
	w, _ = Window(ctx, s, 0, 10)
	if len(w) != 0 {
		t.Errorf("window at 0 len = %d", len(w))
	}
}
