package position

import (
	"context"
	"testing"
	"time"

	"github.com/cuxilozano/bot-binance/internal/market"
	"github.com/cuxilozano/bot-binance/internal/state"
)

// 监控循环启动时必须先对账（孤儿锁在首轮 tick 前就被修掉）。
func TestMonitorReconcilesOnStartup(t *testing.T) {
	cfg := testConfig(t)
	client := &fakeClient{
		price: 50000,
		lot:   market.LotConstraints{StepSize: 0.00001, MinQty: 0.0001},
	}
	ctrl, store, _ := newTestController(t, cfg, client)
	if err := store.Save(state.Position{BuyLock: true, CooldownUntil: time.Now().Add(time.Hour).UnixMilli()}); err != nil {
		t.Fatal(err)
	}

	m := NewMonitor(ctrl, 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("监控循环退出出错: %v", err)
	}
	if store.Load().BuyLock {
		t.Fatalf("启动对账应释放孤儿买入锁")
	}
}

// tick 错误只记日志不终止循环。
func TestMonitorSurvivesTickErrors(t *testing.T) {
	cfg := testConfig(t)
	client := &fakeClient{
		priceErr: context.DeadlineExceeded,
		balances: map[string]float64{"BTC": 1},
		lot:      market.LotConstraints{StepSize: 0.00001, MinQty: 0.0001},
	}
	ctrl, store, _ := newTestController(t, cfg, client)
	openPosition(t, store, 50000, 1.0)

	m := NewMonitor(ctrl, 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("tick 错误不应终止循环: %v", err)
	}
	if !store.Load().IsOpen {
		t.Fatalf("失败的 tick 不应改动持仓")
	}
}

func TestNewMonitorDefaultsInterval(t *testing.T) {
	cfg := testConfig(t)
	client := &fakeClient{}
	ctrl, _, _ := newTestController(t, cfg, client)
	m := NewMonitor(ctrl, 0)
	if m.interval != 5*time.Second {
		t.Fatalf("非法间隔应退回 5s, got %s", m.interval)
	}
}
