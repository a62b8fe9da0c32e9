package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// 中文说明：
// 交易操作流水：append-only 的 SQLite 表，记录入场、分批止盈、止损、
// 追踪/保本出场、手动卖出与对账修复。状态机的真相源仍是状态文件，
// 这张表只做审计与报表，不参与决策。

// OperationType 交易操作类型。
type OperationType string

const (
	OperationEntry           OperationType = "ENTRY"
	OperationTP1             OperationType = "TP1"
	OperationStopLoss        OperationType = "STOP_LOSS"
	OperationTrailingStop    OperationType = "TRAILING_STOP"
	OperationBreakEven       OperationType = "BREAK_EVEN"
	OperationManualSell      OperationType = "MANUAL_SELL"
	OperationReconcileClose  OperationType = "RECONCILE_CLOSE"
	OperationReconcileRepair OperationType = "RECONCILE_REPAIR"
	OperationReconcileAdopt  OperationType = "RECONCILE_ADOPT"
	OperationFailed          OperationType = "FAILED"
)

// TradeOperationRecord 一条操作流水。
type TradeOperationRecord struct {
	ID        int64          `json:"id"`
	TraceID   string         `json:"trace_id,omitempty"`
	Symbol    string         `json:"symbol"`
	Operation OperationType  `json:"operation"`
	Price     float64        `json:"price,omitempty"`
	Quantity  float64        `json:"quantity,omitempty"`
	Remaining float64        `json:"remaining,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// TradeLog 交易流水的读写能力。
type TradeLog interface {
	AppendOperation(ctx context.Context, op TradeOperationRecord) error
	ListOperations(ctx context.Context, limit int) ([]TradeOperationRecord, error)
	Close() error
}

// TradeLogStore 基于 SQLite 的 TradeLog 实现。
type TradeLogStore struct {
	db *sql.DB
}

var _ TradeLog = (*TradeLogStore)(nil)

// NewTradeLogStore 打开（必要时创建）流水数据库。
func NewTradeLogStore(path string) (*TradeLogStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开流水数据库失败: %w", err)
	}
	// 单写者即可，限制连接数避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS trade_operations (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    trace_id   TEXT,
    symbol     TEXT NOT NULL,
    operation  TEXT NOT NULL,
    price      REAL,
    quantity   REAL,
    remaining  REAL,
    details    TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_operations_created ON trade_operations(created_at);
`); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化流水表失败: %w", err)
	}
	return &TradeLogStore{db: db}, nil
}

// AppendOperation 追加一条流水。Details 序列化失败时降级为空。
func (s *TradeLogStore) AppendOperation(ctx context.Context, op TradeOperationRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("trade log 未初始化")
	}
	details := ""
	if len(op.Details) > 0 {
		if raw, err := json.Marshal(op.Details); err == nil {
			details = string(raw)
		}
	}
	ts := op.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO trade_operations (trace_id, symbol, operation, price, quantity, remaining, details, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.TraceID, op.Symbol, string(op.Operation), op.Price, op.Quantity, op.Remaining, details, ts.UTC())
	if err != nil {
		return fmt.Errorf("写入流水失败: %w", err)
	}
	return nil
}

// ListOperations 按时间倒序返回最近 limit 条流水。
func (s *TradeLogStore) ListOperations(ctx context.Context, limit int) ([]TradeOperationRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("trade log 未初始化")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, trace_id, symbol, operation, price, quantity, remaining, details, created_at
FROM trade_operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询流水失败: %w", err)
	}
	defer rows.Close()

	var out []TradeOperationRecord
	for rows.Next() {
		var (
			rec     TradeOperationRecord
			opStr   string
			details sql.NullString
			trace   sql.NullString
		)
		if err := rows.Scan(&rec.ID, &trace, &rec.Symbol, &opStr, &rec.Price, &rec.Quantity, &rec.Remaining, &details, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.Operation = OperationType(opStr)
		rec.TraceID = trace.String
		if details.Valid && details.String != "" {
			_ = json.Unmarshal([]byte(details.String), &rec.Details)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close 关闭数据库。
func (s *TradeLogStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
