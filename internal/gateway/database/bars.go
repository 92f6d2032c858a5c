package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dcaengine/internal/market"
	"dcaengine/internal/store"
)

// BarStore K 线仓库的 SQLite 实现，索引稠密且从 0 开始。
type BarStore struct {
	db     *DB
	prefix string
}

var _ store.BarStore = (*BarStore)(nil)

func NewBarStore(db *DB, prefix string) *BarStore {
	if prefix == "" {
		prefix = store.DefaultKeyPrefix
	}
	return &BarStore{db: db, prefix: prefix}
}

func (s *BarStore) Get(ctx context.Context, index uint64) (market.Bar, bool, error) {
	if s == nil {
		return market.Bar{}, false, fmt.Errorf("bar store 未初始化")
	}
	db, err := s.db.conn()
	if err != nil {
		return market.Bar{}, false, err
	}
	var b market.Bar
	var ts int64
	err = db.QueryRowContext(ctx, `
		SELECT open, high, low, close, volume, timestamp
		FROM bars WHERE idx=?`, int64(index)).Scan(&b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Bar{}, false, nil
	}
	if err != nil {
		return market.Bar{}, false, err
	}
	b.Time = time.UnixMilli(ts).UTC()
	return b, true, nil
}

func (s *BarStore) Len(ctx context.Context) (uint64, error) {
	if s == nil {
		return 0, fmt.Errorf("bar store 未初始化")
	}
	db, err := s.db.conn()
	if err != nil {
		return 0, err
	}
	var n sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(idx) FROM bars`).Scan(&n); err != nil {
		return 0, err
	}
	if !n.Valid {
		return 0, nil
	}
	return uint64(n.Int64) + 1, nil
}

// PutBatch 在一个事务内写入；内容未变化的行不计入 written。
func (s *BarStore) PutBatch(ctx context.Context, start uint64, bars []market.Bar) (written, skipped int, err error) {
	if s == nil {
		return 0, 0, fmt.Errorf("bar store 未初始化")
	}
	db, err := s.db.conn()
	if err != nil {
		return 0, 0, err
	}
	if len(bars) == 0 {
		return 0, 0, nil
	}
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for i, b := range bars {
		idx := start + uint64(i)
		var changed bool
		changed, err = s.upsertWithExec(ctx, tx, idx, b)
		if err != nil {
			return 0, 0, fmt.Errorf("写入 %s 失败: %w", store.Key(s.prefix, idx), err)
		}
		if changed {
			written++
		} else {
			skipped++
		}
	}
	err = tx.Commit()
	return written, skipped, err
}

func (s *BarStore) upsertWithExec(ctx context.Context, exec execContext, idx uint64, b market.Bar) (bool, error) {
	res, err := exec.ExecContext(ctx, `
		INSERT INTO bars (idx, key, open, high, low, close, volume, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idx) DO UPDATE SET
			key=excluded.key,
			open=excluded.open,
			high=excluded.high,
			low=excluded.low,
			close=excluded.close,
			volume=excluded.volume,
			timestamp=excluded.timestamp
		WHERE bars.open IS NOT excluded.open
			OR bars.high IS NOT excluded.high
			OR bars.low IS NOT excluded.low
			OR bars.close IS NOT excluded.close
			OR bars.volume IS NOT excluded.volume
			OR bars.timestamp IS NOT excluded.timestamp`,
		int64(idx), store.Key(s.prefix, idx), b.Open, b.High, b.Low, b.Close, b.Volume, b.Time.UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *BarStore) Clear(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("bar store 未初始化")
	}
	db, err := s.db.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM bars`)
	return err
}
