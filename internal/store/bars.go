package store

import (
	"context"
	"fmt"
	"sync"

	"dcaengine/internal/market"
)

// 中文说明：
// K 线按写入顺序分配稠密的从 0 开始的索引，键形如 btc_{index}。
// 模拟循环只读；写入只发生在导入路径。

// DefaultKeyPrefix 与历史数据键保持一致。
const DefaultKeyPrefix = "btc"

// Key 返回索引对应的存储键。
func Key(prefix string, index uint64) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return fmt.Sprintf("%s_%d", prefix, index)
}

// BarSource 模拟所需的只读视图。
type BarSource interface {
	Get(ctx context.Context, index uint64) (market.Bar, bool, error)
	Len(ctx context.Context) (uint64, error)
}

// BarStore 可写的 K 线仓库。
type BarStore interface {
	BarSource
	// PutBatch 从 start 开始连续写入，值未变化的记录跳过。
	PutBatch(ctx context.Context, start uint64, bars []market.Bar) (written, skipped int, err error)
	Clear(ctx context.Context) error
}

// MemoryBarStore 内存实现
type MemoryBarStore struct {
	mu   sync.RWMutex
	data map[uint64]market.Bar
	size uint64
}

func NewMemoryBarStore() *MemoryBarStore {
	return &MemoryBarStore{data: make(map[uint64]market.Bar)}
}

func (s *MemoryBarStore) Get(ctx context.Context, index uint64) (market.Bar, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[index]
	return b, ok, nil
}

func (s *MemoryBarStore) Len(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size, nil
}

func (s *MemoryBarStore) PutBatch(ctx context.Context, start uint64, bars []market.Bar) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	written, skipped := 0, 0
	for i, b := range bars {
		idx := start + uint64(i)
		if cur, ok := s.data[idx]; ok && cur == b {
			skipped++
			continue
		}
		s.data[idx] = b
		written++
		if idx+1 > s.size {
			s.size = idx + 1
		}
	}
	return written, skipped, nil
}

func (s *MemoryBarStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.data = make(map[uint64]market.Bar)
	s.size = 0
	s.mu.Unlock()
	return nil
}

// Window 读取 [index-n, index) 的历史，缺失的索引跳过，结果从旧到新。
func Window(ctx context.Context, src BarSource, index uint64, n int) (market.Bars, error) {
	if n <= 0 || index == 0 {
		return nil, nil
	}
	from := uint64(0)
	if index > uint64(n) {
		from = index - uint64(n)
	}
	out := make(market.Bars, 0, index-from)
	for i := from; i < index; i++ {
		b, ok, err := src.Get(ctx, i)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, b)
		}
	}
	return out, nil
}
