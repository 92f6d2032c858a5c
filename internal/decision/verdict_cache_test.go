package decision

import (
	"testing"
	"time"
)

func TestVerdictCacheTTL(t *testing.T) {
	c := NewVerdictCache(time.Hour)
	c.Set(" btcusdt ", Verdict{Action: ActionSell, DecidedAt: t0})
	if _, ok := c.Get("BTCUSDT", t0.Add(59*time.Minute)); !ok {
		t.Fatal("expected cache hit within ttl")
	}
	if _, ok := c.Get("BTCUSDT", t0.Add(61*time.Minute)); ok {
		t.Error("expected miss after ttl")
	}
	if _, ok := c.Get("BTCUSDT", t0.Add(-time.Minute)); ok {
		t.Error("expected miss when clock moves backwards")
	}
	if snap := c.Snapshot(t0); len(snap) != 1 || snap["BTCUSDT"].Action != ActionSell {
		t.Errorf("snapshot = %+v", snap)
	}
	var nilCache *VerdictCache
	nilCache.Set("X", Verdict{})
	if _, ok := nilCache.Get("X", t0); ok {
		t.Error("nil cache should always miss")
	}
}
