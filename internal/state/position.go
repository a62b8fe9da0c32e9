package state

import "time"

// 中文说明：
// Position 是唯一的持仓记录，整个进程只有一份，由 Store 持久化。
// 运行期可变数据绝不放进程环境变量或包级变量。

// Position 单笔持仓的全量快照。字段缺省时按零值（未开仓）解释，
// 旧版本状态文件缺字段不报错，保证向前兼容。
type Position struct {
	IsOpen            bool    `json:"is_open"`
	EntryTime         int64   `json:"entry_time,omitempty"` // Unix 毫秒
	EntryPrice        float64 `json:"entry_price,omitempty"`
	TotalQuantity     float64 `json:"total_quantity,omitempty"`
	RemainingQuantity float64 `json:"remaining_quantity,omitempty"`

	StopLossPrice      float64 `json:"stop_loss_price,omitempty"`
	TakeProfit1Price   float64 `json:"take_profit1_price,omitempty"`
	TakeProfit1Frac    float64 `json:"take_profit1_fraction,omitempty"`
	TakeProfit1Done    bool    `json:"take_profit1_done,omitempty"`
	TrailingActive     bool    `json:"trailing_active,omitempty"`
	TrailingPeakPrice  float64 `json:"trailing_peak_price,omitempty"`

	BuyLock       bool   `json:"buy_lock,omitempty"`
	CooldownUntil int64  `json:"cooldown_until,omitempty"` // Unix 毫秒，0 表示无冷却
	LastSignalID  string `json:"last_signal_id,omitempty"`

	// 入场时快照的交易对步进约束，避免每轮都拉 exchangeInfo。
	StepSize float64 `json:"step_size,omitempty"`
	MinQty   float64 `json:"min_qty,omitempty"`
}

// InCooldown 判断 now 时刻是否仍处于冷却期。
func (p Position) InCooldown(now time.Time) bool {
	return p.CooldownUntil > 0 && now.UnixMilli() < p.CooldownUntil
}

// StartCooldown 以 now 为起点设置冷却截止时间。
func (p *Position) StartCooldown(now time.Time, d time.Duration) {
	p.CooldownUntil = now.Add(d).UnixMilli()
}

// Close 把持仓标记为已平：清空锁与追踪状态，保留 LastSignalID 与冷却。
func (p *Position) Close() {
	p.IsOpen = false
	p.BuyLock = false
	p.RemainingQuantity = 0
	p.TrailingActive = false
	p.TrailingPeakPrice = 0
}
