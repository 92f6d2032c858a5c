package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dcaengine/internal/ledger"
)

// ErrNoCheckpoint 尚无检查点。
var ErrNoCheckpoint = errors.New("没有检查点")

// Checkpoint 模拟时钟位置 + 状态快照（JSON）。
type Checkpoint struct {
	RunID   string          `json:"run_id"`
	Symbol  string          `json:"symbol"`
	Index   uint64          `json:"index"`
	Clock   time.Time       `json:"clock"`
	State   json.RawMessage `json:"state"`
	SavedAt time.Time       `json:"saved_at"`
}

// CheckpointStore 检查点与交易流水的 SQLite 实现。只保留最新一个检查点。
type CheckpointStore struct {
	db *DB
}

func NewCheckpointStore(db *DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

func (s *CheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	if s == nil {
		return fmt.Errorf("checkpoint store 未初始化")
	}
	db, err := s.db.conn()
	if err != nil {
		return err
	}
	if strings.TrimSpace(cp.RunID) == "" {
		return fmt.Errorf("run_id 必填")
	}
	if len(cp.State) == 0 {
		return fmt.Errorf("检查点状态为空")
	}
	if cp.SavedAt.IsZero() {
		cp.SavedAt = time.Now()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, run_id, symbol, idx, clock, state, saved_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id=excluded.run_id,
			symbol=excluded.symbol,
			idx=excluded.idx,
			clock=excluded.clock,
			state=excluded.state,
			saved_at=excluded.saved_at`,
		cp.RunID, cp.Symbol, int64(cp.Index), cp.Clock.UnixMilli(), string(cp.State), cp.SavedAt.UnixMilli())
	return err
}

func (s *CheckpointStore) Load(ctx context.Context) (Checkpoint, error) {
	if s == nil {
		return Checkpoint{}, fmt.Errorf("checkpoint store 未初始化")
	}
	db, err := s.db.conn()
	if err != nil {
		return Checkpoint{}, err
	}
	var cp Checkpoint
	var idx, clock, saved int64
	var state string
	err = db.QueryRowContext(ctx, `
		SELECT run_id, symbol, idx, clock, state, saved_at
		FROM checkpoints WHERE id=1`).Scan(&cp.RunID, &cp.Symbol, &idx, &clock, &state, &saved)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNoCheckpoint
	}
	if err != nil {
		return Checkpoint{}, err
	}
	cp.Index = uint64(idx)
	cp.Clock = time.UnixMilli(clock).UTC()
	cp.State = json.RawMessage(state)
	cp.SavedAt = time.UnixMilli(saved)
	return cp, nil
}

// Clear 删除检查点与全部交易流水。
func (s *CheckpointStore) Clear(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("checkpoint store 未初始化")
	}
	db, err := s.db.conn()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM checkpoints`); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM transactions`); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// AppendTransactions 按 (run_id, id) 幂等写入。
func (s *CheckpointStore) AppendTransactions(ctx context.Context, runID string, txs []ledger.Transaction) error {
	if s == nil {
		return fmt.Errorf("checkpoint store 未初始化")
	}
	db, err := s.db.conn()
	if err != nil {
		return err
	}
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run_id 必填")
	}
	if len(txs) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, t := range txs {
		if err = upsertTransactionWithExec(ctx, tx, runID, t); err != nil {
			return fmt.Errorf("写入流水 #%d 失败: %w", t.ID, err)
		}
	}
	err = tx.Commit()
	return err
}

func upsertTransactionWithExec(ctx context.Context, exec execContext, runID string, t ledger.Transaction) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO transactions
			(run_id, id, side, lot_id, quantity, price, amount, realized_pnl, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, id) DO UPDATE SET
			side=excluded.side,
			lot_id=excluded.lot_id,
			quantity=excluded.quantity,
			price=excluded.price,
			amount=excluded.amount,
			realized_pnl=excluded.realized_pnl,
			reason=excluded.reason,
			timestamp=excluded.timestamp`,
		runID, int64(t.ID), string(t.Side), int64(t.LotID), t.Quantity, t.Price, t.Amount,
		nullableFloat(t.RealizedPnL), nullIfEmptyString(t.Reason), t.Time.UnixMilli())
	return err
}

// ListTransactions 返回流水（按 id 倒序），limit 缺省 200、上限 5000。
func (s *CheckpointStore) ListTransactions(ctx context.Context, runID string, limit int) ([]ledger.Transaction, error) {
	if s == nil {
		return nil, fmt.Errorf("checkpoint store 未初始化")
	}
	db, err := s.db.conn()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run_id 必填")
	}
	if limit <= 0 || limit > 5000 {
		limit = 200
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, side, lot_id, quantity, price, amount, realized_pnl, reason, timestamp
		FROM transactions
		WHERE run_id=?
		ORDER BY id DESC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []ledger.Transaction
	for rows.Next() {
		var t ledger.Transaction
		var id, lotID, ts int64
		var side string
		var pnl sql.NullFloat64
		var reason sql.NullString
		if err := rows.Scan(&id, &side, &lotID, &t.Quantity, &t.Price, &t.Amount, &pnl, &reason, &ts); err != nil {
			return nil, err
		}
		t.ID = uint64(id)
		t.LotID = uint64(lotID)
		t.Side = ledger.Side(side)
		if pnl.Valid {
			v := pnl.Float64
			t.RealizedPnL = &v
		}
		t.Reason = reason.String
		t.Time = time.UnixMilli(ts).UTC()
		list = append(list, t)
	}
	return list, rows.Err()
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullIfEmptyString(v string) interface{} {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

// FileCheckpointStore 将检查点写入 JSON 文件（临时文件 + rename 原子替换）。
type FileCheckpointStore struct {
	path string
}

func NewFileCheckpointStore(path string) *FileCheckpointStore {
	return &FileCheckpointStore{path: path}
}

func (s *FileCheckpointStore) Path() string { return s.path }

func (s *FileCheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	if s == nil || strings.TrimSpace(s.path) == "" {
		return fmt.Errorf("file checkpoint store 未初始化")
	}
	if cp.SavedAt.IsZero() {
		cp.SavedAt = time.Now()
	}
	buf, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("序列化检查点失败: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建检查点目录失败: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("替换检查点文件失败: %w", err)
	}
	return nil
}

func (s *FileCheckpointStore) Load(ctx context.Context) (Checkpoint, error) {
	if s == nil || strings.TrimSpace(s.path) == "" {
		return Checkpoint{}, fmt.Errorf("file checkpoint store 未初始化")
	}
	buf, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Checkpoint{}, ErrNoCheckpoint
	}
	if err != nil {
		return Checkpoint{}, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(buf, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("解析检查点文件失败: %w", err)
	}
	return cp, nil
}

func (s *FileCheckpointStore) Clear(ctx context.Context) error {
	if s == nil || strings.TrimSpace(s.path) == "" {
		return fmt.Errorf("file checkpoint store 未初始化")
	}
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
