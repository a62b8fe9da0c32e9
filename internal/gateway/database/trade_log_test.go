package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestLog(t *testing.T) *TradeLogStore {
	t.Helper()
	s, err := NewTradeLogStore(filepath.Join(t.TempDir(), "trades.db"))
	if err != nil {
		t.Fatalf("打开流水数据库失败: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndListOperations(t *testing.T) {
	s := newTestLog(t)
	ctx := context.Background()

	ops := []TradeOperationRecord{
		{TraceID: "t-1", Symbol: "BTCUSDC", Operation: OperationEntry, Price: 50000, Quantity: 1, Remaining: 1,
			Details: map[string]any{"uid": "sig-1", "stop_loss": 49500.0}},
		{Symbol: "BTCUSDC", Operation: OperationTP1, Price: 50250, Quantity: 0.5, Remaining: 0.5},
		{Symbol: "BTCUSDC", Operation: OperationTrailingStop, Price: 50400, Quantity: 0.5},
	}
	for _, op := range ops {
		if err := s.AppendOperation(ctx, op); err != nil {
			t.Fatalf("追加流水失败: %v", err)
		}
	}

	got, err := s.ListOperations(ctx, 10)
	if err != nil {
		t.Fatalf("查询流水失败: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("应返回 3 条, got %d", len(got))
	}
	// 倒序：最新的在前。
	if got[0].Operation != OperationTrailingStop || got[2].Operation != OperationEntry {
		t.Fatalf("应按时间倒序: %v %v %v", got[0].Operation, got[1].Operation, got[2].Operation)
	}
	if got[2].TraceID != "t-1" || got[2].Price != 50000 {
		t.Fatalf("字段应完整保留: %+v", got[2])
	}
	if got[2].Details["uid"] != "sig-1" {
		t.Fatalf("details 应往返保留: %+v", got[2].Details)
	}
	if got[1].Details != nil {
		t.Fatalf("空 details 应为 nil: %+v", got[1].Details)
	}
}

func TestListOperationsLimit(t *testing.T) {
	s := newTestLog(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.AppendOperation(ctx, TradeOperationRecord{Symbol: "BTCUSDC", Operation: OperationTP1}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.ListOperations(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("limit=2 应返回 2 条, got %d", len(got))
	}
	// limit<=0 退回默认上限。
	got, err = s.ListOperations(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("默认上限应返回全部 5 条, got %d", len(got))
	}
}

func TestAppendFillsTimestamp(t *testing.T) {
	s := newTestLog(t)
	ctx := context.Background()
	before := time.Now().UTC().Add(-time.Second)
	if err := s.AppendOperation(ctx, TradeOperationRecord{Symbol: "BTCUSDC", Operation: OperationEntry}); err != nil {
		t.Fatal(err)
	}
	got, err := s.ListOperations(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Timestamp.Before(before) {
		t.Fatalf("缺省时间戳应自动填充: %v", got[0].Timestamp)
	}
}
