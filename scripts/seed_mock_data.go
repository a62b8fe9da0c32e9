package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuxilozano/bot-binance/internal/gateway/database"
)

// Seed a SQLite database with a mock trade lifecycle for the /report page.
// Usage: go run scripts/seed_mock_data.go [db_path]
// Default db_path: data/trades.db
func main() {
	dbPath := "data/trades.db"
	if len(os.Args) > 1 && strings.TrimSpace(os.Args[1]) != "" {
		dbPath = strings.TrimSpace(os.Args[1])
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		panic(err)
	}

	store, err := database.NewTradeLogStore(dbPath)
	if err != nil {
		panic(err)
	}
	defer store.Close()

	if err := seedOperations(context.Background(), store); err != nil {
		panic(err)
	}
	fmt.Printf("✓ mock data seeded into %s\n", dbPath)
}

// 一条完整的生命周期：入场 → 第一止盈 → 峰值回撤全平 → 对账修复。
func seedOperations(ctx context.Context, store *database.TradeLogStore) error {
	now := time.Now()
	samples := []database.TradeOperationRecord{
		{
			TraceID:   "mock-trace-entry",
			Symbol:    "BTCUSDC",
			Operation: database.OperationEntry,
			Price:     50000,
			Quantity:  0.02,
			Remaining: 0.02,
			Details: map[string]any{
				"uid":         "mock-signal-1",
				"stop_loss":   49500.0,
				"take_profit": 50250.0,
				"spent_quote": 999.0,
			},
			Timestamp: now.Add(-3 * time.Hour),
		},
		{
			Symbol:    "BTCUSDC",
			Operation: database.OperationTP1,
			Price:     50250,
			Quantity:  0.01,
			Remaining: 0.01,
			Timestamp: now.Add(-2 * time.Hour),
		},
		{
			Symbol:    "BTCUSDC",
			Operation: database.OperationTrailingStop,
			Price:     50400,
			Quantity:  0.01,
			Remaining: 0,
			Timestamp: now.Add(-90 * time.Minute),
		},
		{
			Symbol:    "BTCUSDC",
			Operation: database.OperationReconcileRepair,
			Details:   map[string]any{"repair": "orphan_buy_lock"},
			Timestamp: now.Add(-time.Hour),
		},
		{
			TraceID:   "mock-trace-entry-2",
			Symbol:    "BTCUSDC",
			Operation: database.OperationEntry,
			Price:     49800,
			Quantity:  0.02,
			Remaining: 0.02,
			Details: map[string]any{
				"uid":         "mock-signal-2",
				"stop_loss":   49302.0,
				"take_profit": 50049.0,
			},
			Timestamp: now.Add(-30 * time.Minute),
		},
		{
			Symbol:    "BTCUSDC",
			Operation: database.OperationStopLoss,
			Price:     49302,
			Quantity:  0.02,
			Remaining: 0,
			Timestamp: now.Add(-10 * time.Minute),
		},
	}

	for _, rec := range samples {
		if err := store.AppendOperation(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
