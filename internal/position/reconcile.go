package position

import (
	"context"
	"math"

	"github.com/cuxilozano/bot-binance/internal/gateway/database"
	"github.com/cuxilozano/bot-binance/internal/logger"
	"github.com/cuxilozano/bot-binance/internal/quant"
	"github.com/cuxilozano/bot-binance/internal/state"
)

// 中文说明：
// 对账守卫：以账户实际余额为真相源，修复状态文件的漂移。
// 进程启动时跑一次，之后在无持仓期间周期性复查。
// 修复动作全部只改状态文件，除收编外不提交任何交易所订单。

// Reconcile 执行一轮对账：
//  1. 孤儿买入锁（无持仓却锁着）→ 释放；
//  2. 有持仓但余额为零 → 强制关闭（交易所侧已被平掉）；
//  3. 余额与记录偏差超过容忍 → 以余额覆盖记录；
//  4. 无持仓、冷却已过、账户却持有可交易余额 → 收编为受管持仓。
func (c *Controller) Reconcile(ctx context.Context) error {
	now := c.nowFn()
	pos := c.store.Load()

	if pos.BuyLock && !pos.IsOpen {
		pos.BuyLock = false
		if err := c.store.Save(pos); err != nil {
			return err
		}
		c.journal(ctx, database.TradeOperationRecord{
			Symbol:    c.cfg.Trading.Symbol,
			Operation: database.OperationReconcileRepair,
			Details:   map[string]any{"repair": "orphan_buy_lock"},
		})
		logger.Warnf("对账：释放孤儿买入锁")
	}

	if pos.IsOpen {
		bal, err := c.client.GetFreeBalance(ctx, c.cfg.Trading.BaseAsset)
		if err != nil {
			return err
		}
		step, minQty := c.lotOf(pos)

		// 交易所侧已清仓：直接关闭记录，不提交任何订单。
		if quant.Normalize(bal, step, minQty) <= 0 {
			pos.Close()
			pos.StartCooldown(now, c.cooldown())
			if err := c.store.Save(pos); err != nil {
				return err
			}
			c.journal(ctx, database.TradeOperationRecord{
				Symbol:    c.cfg.Trading.Symbol,
				Operation: database.OperationReconcileClose,
				Details:   map[string]any{"free_balance": bal},
			})
			logger.Warnf("对账：账户余额为零，强制关闭持仓记录")
			return nil
		}

		// 偏差超容忍时以账户余额为准覆盖。
		if pos.RemainingQuantity > 0 {
			drift := math.Abs(bal-pos.RemainingQuantity) / pos.RemainingQuantity
			if drift > c.cfg.Reconcile.DriftTolerance {
				old := pos.RemainingQuantity
				pos.RemainingQuantity = bal
				if bal > pos.TotalQuantity {
					pos.TotalQuantity = bal
				}
				if err := c.store.Save(pos); err != nil {
					return err
				}
				c.journal(ctx, database.TradeOperationRecord{
					Symbol:    c.cfg.Trading.Symbol,
					Operation: database.OperationReconcileRepair,
					Remaining: bal,
					Details:   map[string]any{"repair": "quantity_drift", "recorded": old, "actual": bal},
				})
				logger.Warnf("对账：剩余数量漂移 %.8f -> %.8f，以账户为准", old, bal)
			}
		}
		return nil
	}

	if pos.InCooldown(now) {
		return nil
	}
	return c.adoptExternal(ctx, pos)
}

// adoptExternal 收编外部持仓：手动买入或崩溃遗留的余额重新纳入管理，
// 入场价用账户最近买入成交加权估算，止损/止盈按当前策略重算。
func (c *Controller) adoptExternal(ctx context.Context, pos state.Position) error {
	bal, err := c.client.GetFreeBalance(ctx, c.cfg.Trading.BaseAsset)
	if err != nil {
		return err
	}
	if bal <= 0 {
		return nil
	}
	lc, err := c.client.GetLotConstraints(ctx, c.cfg.Trading.Symbol)
	if err != nil {
		return err
	}
	if quant.Normalize(bal, lc.StepSize, lc.MinQty) <= 0 {
		return nil
	}
	price, err := c.client.GetPrice(ctx, c.cfg.Trading.Symbol)
	if err != nil {
		return err
	}
	if bal*price < c.cfg.Reconcile.AdoptMinUSD {
		return nil
	}

	entry := c.estimateEntryPrice(ctx, price)
	now := c.nowFn()
	adopted := state.Position{
		IsOpen:            true,
		EntryTime:         now.UnixMilli(),
		EntryPrice:        entry,
		TotalQuantity:     bal,
		RemainingQuantity: bal,
		StopLossPrice:     c.computeStopLoss(ctx, entry),
		TakeProfit1Price:  entry * (1 + c.cfg.Strategy.TP1Pct),
		TakeProfit1Frac:   c.cfg.Strategy.TP1Fraction,
		BuyLock:           true,
		LastSignalID:      pos.LastSignalID,
		StepSize:          lc.StepSize,
		MinQty:            lc.MinQty,
	}
	if err := c.store.Save(adopted); err != nil {
		return err
	}
	c.journal(ctx, database.TradeOperationRecord{
		Symbol:    c.cfg.Trading.Symbol,
		Operation: database.OperationReconcileAdopt,
		Price:     entry,
		Quantity:  bal,
		Remaining: bal,
		Details:   map[string]any{"mark_price": price, "value_usd": bal * price},
	})
	logger.Infof("✓ 对账：收编外部持仓 数量=%.8f 估算入场=%.4f 止损=%.4f",
		bal, entry, adopted.StopLossPrice)
	return nil
}

// estimateEntryPrice 用最近买入成交的数量加权均价估算入场价，
// 无成交记录时退回当前标记价。
func (c *Controller) estimateEntryPrice(ctx context.Context, fallback float64) float64 {
	trades, err := c.client.GetRecentTrades(ctx, c.cfg.Trading.Symbol, c.cfg.Reconcile.TradeLookback)
	if err != nil {
		logger.Warnf("获取成交历史失败，入场价退回现价: %v", err)
		return fallback
	}
	var qtySum, costSum float64
	for _, t := range trades {
		if !t.IsBuyer || t.Qty <= 0 || t.Price <= 0 {
			continue
		}
		qtySum += t.Qty
		costSum += t.Qty * t.Price
	}
	if qtySum <= 0 {
		return fallback
	}
	return costSum / qtySum
}
