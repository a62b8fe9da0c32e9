package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	return s, path
}

// save(load(x)) 必须是不动点：任何字段都不能在往返中丢失。
func TestSaveLoadRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	want := Position{
		IsOpen:            true,
		EntryTime:         time.Now().UnixMilli(),
		EntryPrice:        50000.5,
		TotalQuantity:     1.23456,
		RemainingQuantity: 0.61728,
		StopLossPrice:     49500,
		TakeProfit1Price:  50250,
		TakeProfit1Frac:   0.5,
		TakeProfit1Done:   true,
		TrailingActive:    true,
		TrailingPeakPrice: 50500,
		BuyLock:           true,
		CooldownUntil:     time.Now().Add(3 * time.Minute).UnixMilli(),
		LastSignalID:      "sig-42",
		StepSize:          0.00001,
		MinQty:            0.0001,
	}
	if err := s.Save(want); err != nil {
		t.Fatalf("保存失败: %v", err)
	}
	if got := s.Load(); got != want {
		t.Fatalf("往返后字段不一致:\n got=%+v\nwant=%+v", got, want)
	}
	// 再保存一次读出的结果仍然一致。
	if err := s.Save(s.Load()); err != nil {
		t.Fatalf("二次保存失败: %v", err)
	}
	if got := s.Load(); got != want {
		t.Fatalf("二次往返后字段不一致: %+v", got)
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	s, _ := newStore(t)
	if got := s.Load(); got != (Position{}) {
		t.Fatalf("缺失文件应返回默认记录: %+v", got)
	}
}

// 损坏/半写入的文件按未开仓处理，绝不崩溃。
func TestLoadCorruptFileReturnsDefault(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{name: "非JSON", data: "not json at all"},
		{name: "截断", data: `{"is_open": true, "entry_pr`},
		{name: "空文件", data: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, path := newStore(t)
			if err := os.WriteFile(path, []byte(tc.data), 0o644); err != nil {
				t.Fatal(err)
			}
			if got := s.Load(); got != (Position{}) {
				t.Fatalf("损坏文件应返回默认记录: %+v", got)
			}
		})
	}
}

// 旧版本文件缺字段：缺的按零值解释，不报错。
func TestLoadMissingFieldsDefaultToZero(t *testing.T) {
	s, path := newStore(t)
	if err := os.WriteFile(path, []byte(`{"is_open": true, "entry_price": 100}`), 0o644); err != nil {
		t.Fatal(err)
	}
	got := s.Load()
	if !got.IsOpen || got.EntryPrice != 100 {
		t.Fatalf("已有字段应保留: %+v", got)
	}
	if got.TrailingActive || got.RemainingQuantity != 0 || got.LastSignalID != "" {
		t.Fatalf("缺失字段应为零值: %+v", got)
	}
}

// 保存经过临时文件原子替换，目录里不残留 .tmp。
func TestSaveLeavesNoTempFile(t *testing.T) {
	s, path := newStore(t)
	if err := s.Save(Position{IsOpen: true}); err != nil {
		t.Fatalf("保存失败: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("不应残留临时文件")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("状态文件应存在: %v", err)
	}
}

func TestCooldownHelpers(t *testing.T) {
	now := time.Now()
	var p Position
	if p.InCooldown(now) {
		t.Fatalf("零值不应处于冷却")
	}
	p.StartCooldown(now, 3*time.Minute)
	if !p.InCooldown(now.Add(time.Minute)) {
		t.Fatalf("冷却期内应返回 true")
	}
	if p.InCooldown(now.Add(4 * time.Minute)) {
		t.Fatalf("冷却期过后应返回 false")
	}
}

func TestCloseKeepsCooldownAndSignalID(t *testing.T) {
	p := Position{
		IsOpen:            true,
		RemainingQuantity: 0.5,
		BuyLock:           true,
		TrailingActive:    true,
		TrailingPeakPrice: 50500,
		LastSignalID:      "sig-1",
		CooldownUntil:     12345,
	}
	p.Close()
	if p.IsOpen || p.BuyLock || p.TrailingActive {
		t.Fatalf("关闭应清掉持仓标记: %+v", p)
	}
	if p.RemainingQuantity != 0 {
		t.Fatalf("关闭后剩余应为 0")
	}
	if p.LastSignalID != "sig-1" || p.CooldownUntil != 12345 {
		t.Fatalf("uid 与冷却信息必须保留: %+v", p)
	}
}
