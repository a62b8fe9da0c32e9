package position

import (
	"context"
)

// StatusSnapshot 状态查询接口返回的数据结构（只读，不产生任何副作用）。
type StatusSnapshot struct {
	Symbol       string  `json:"symbol"`
	CurrentPrice float64 `json:"current_price,omitempty"`

	IsOpen            bool    `json:"is_open"`
	EntryTime         int64   `json:"entry_time,omitempty"`
	EntryPrice        float64 `json:"entry_price,omitempty"`
	TotalQuantity     float64 `json:"total_quantity,omitempty"`
	RemainingQuantity float64 `json:"remaining_quantity,omitempty"`
	StopLoss          float64 `json:"stop_loss,omitempty"`
	TakeProfit1       float64 `json:"take_profit1,omitempty"`
	TakeProfit1Done   bool    `json:"take_profit1_done,omitempty"`
	TrailingActive    bool    `json:"trailing_active,omitempty"`
	TrailingPeak      float64 `json:"trailing_peak,omitempty"`
	BuyLock           bool    `json:"buy_lock,omitempty"`
	CooldownUntil     int64   `json:"cooldown_until,omitempty"`
	HoldingMs         int64   `json:"holding_ms,omitempty"`

	Thresholds StatusThresholds `json:"thresholds"`
}

// StatusThresholds 当前生效的策略参数回显。
type StatusThresholds struct {
	TP1Pct       float64 `json:"tp1_pct"`
	TP1Fraction  float64 `json:"tp1_fraction"`
	StopLossCap  float64 `json:"stop_loss_cap_pct"`
	TrailPct     float64 `json:"trail_pct"`
	ExitMode     string  `json:"exit_mode"`
	CooldownBars int     `json:"cooldown_bars"`
	BarSeconds   int     `json:"bar_seconds"`
}

// Status 汇总现价、持仓全量快照与配置阈值。行情失败时价格字段缺省，
// 不让状态查询因网络抖动而失败。
func (c *Controller) Status(ctx context.Context) StatusSnapshot {
	pos := c.store.Load()
	snap := StatusSnapshot{
		Symbol:            c.cfg.Trading.Symbol,
		IsOpen:            pos.IsOpen,
		EntryTime:         pos.EntryTime,
		EntryPrice:        pos.EntryPrice,
		TotalQuantity:     pos.TotalQuantity,
		RemainingQuantity: pos.RemainingQuantity,
		StopLoss:          pos.StopLossPrice,
		TakeProfit1:       pos.TakeProfit1Price,
		TakeProfit1Done:   pos.TakeProfit1Done,
		TrailingActive:    pos.TrailingActive,
		TrailingPeak:      pos.TrailingPeakPrice,
		BuyLock:           pos.BuyLock,
		CooldownUntil:     pos.CooldownUntil,
		Thresholds: StatusThresholds{
			TP1Pct:       c.cfg.Strategy.TP1Pct,
			TP1Fraction:  c.cfg.Strategy.TP1Fraction,
			StopLossCap:  c.cfg.Strategy.StopLossCapPct,
			TrailPct:     c.cfg.Strategy.TrailPct,
			ExitMode:     c.cfg.Strategy.ExitMode,
			CooldownBars: c.cfg.Strategy.CooldownBars,
			BarSeconds:   c.cfg.Strategy.BarSeconds,
		},
	}
	if pos.IsOpen && pos.EntryTime > 0 {
		snap.HoldingMs = c.nowFn().UnixMilli() - pos.EntryTime
	}
	if price, err := c.client.GetPrice(ctx, c.cfg.Trading.Symbol); err == nil {
		snap.CurrentPrice = price
	}
	return snap
}
