package decision

import (
	"strings"
	"sync"
	"time"
)

// VerdictCache 缓存最近一次顾问意见，按 K 线时间判断过期，避免每根 K 线都调用顾问。
type VerdictCache struct {
	mu   sync.RWMutex
	data map[string]Verdict // key: symbol upper
	ttl  time.Duration
}

func NewVerdictCache(ttl time.Duration) *VerdictCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &VerdictCache{data: make(map[string]Verdict), ttl: ttl}
}

// Get 返回未过期的意见；now 早于决策时间（回放倒退）视为过期。
func (c *VerdictCache) Get(symbol string, now time.Time) (Verdict, bool) {
	if c == nil {
		return Verdict{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Verdict{}, false
	}
	age := now.Sub(v.DecidedAt)
	if age < 0 || age > c.ttl {
		return Verdict{}, false
	}
	return v, true
}

func (c *VerdictCache) Set(symbol string, v Verdict) {
	if c == nil {
		return
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return
	}
	c.mu.Lock()
	c.data[sym] = v
	c.mu.Unlock()
}

// Snapshot 返回所有未过期意见。
func (c *VerdictCache) Snapshot(now time.Time) map[string]Verdict {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Verdict, len(c.data))
	for k, v := range c.data {
		if age := now.Sub(v.DecidedAt); age < 0 || age > c.ttl {
			continue
		}
		out[k] = v
	}
	return out
}
