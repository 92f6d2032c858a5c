package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// 中文说明：
// 单个 SQLite 文件承载 K 线、检查点与交易流水三张表。
// 连接池限制为 1，保证 PRAGMA 对所有语句生效。

type execContext interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
}

// DB 共享的 SQLite 句柄。
type DB struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open 打开（必要时创建）数据库并初始化表结构。
func Open(dbPath string) (*DB, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path 必填")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开 sqlite 失败: %w", err)
	}
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("设置 pragma %s 失败: %w", p, err)
		}
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db, path: dbPath}, nil
}

func (d *DB) Path() string {
	if d == nil {
		return ""
	}
	return d.path
}

func (d *DB) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

func (d *DB) conn() (*sql.DB, error) {
	if d == nil {
		return nil, fmt.Errorf("数据库未初始化")
	}
	d.mu.Lock()
	db := d.db
	d.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("数据库未初始化")
	}
	return db, nil
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS bars (
    idx       INTEGER PRIMARY KEY,
    key       TEXT NOT NULL UNIQUE,
    open      REAL NOT NULL,
    high      REAL NOT NULL,
    low       REAL NOT NULL,
    close     REAL NOT NULL,
    volume    REAL NOT NULL,
    timestamp INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
    id        INTEGER PRIMARY KEY CHECK (id = 1),
    run_id    TEXT NOT NULL,
    symbol    TEXT NOT NULL,
    idx       INTEGER NOT NULL,
    clock     INTEGER NOT NULL,
    state     TEXT NOT NULL,
    saved_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
    run_id       TEXT NOT NULL,
    id           INTEGER NOT NULL,
    side         TEXT NOT NULL,
    lot_id       INTEGER NOT NULL,
    quantity     REAL NOT NULL,
    price        REAL NOT NULL,
    amount       REAL NOT NULL,
    realized_pnl REAL,
    reason       TEXT,
    timestamp    INTEGER NOT NULL,
    PRIMARY KEY (run_id, id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_time ON transactions(run_id, timestamp);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("初始化表结构失败: %w", err)
	}
	return nil
}
