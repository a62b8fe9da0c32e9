package position

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	talib "github.com/markcheno/go-talib"

	brcfg "github.com/cuxilozano/bot-binance/internal/config"
	"github.com/cuxilozano/bot-binance/internal/gateway/database"
	"github.com/cuxilozano/bot-binance/internal/logger"
	"github.com/cuxilozano/bot-binance/internal/market"
	"github.com/cuxilozano/bot-binance/internal/quant"
	"github.com/cuxilozano/bot-binance/internal/state"
)

// 中文说明：
// 持仓控制器：退出策略状态机本体。
// 每轮 tick 按固定顺序评估：止损 → 第一止盈 → 追踪/保本。
// 止损永远先于止盈，同一轮同时满足时按止损处理。
// 所有阈值比较取闭区间（>=/<=），恰好触线即触发。
//
// 并发模型：状态文件的锁只覆盖单次读写；卖出执行由独立的
// sellMu 非阻塞保护，抢不到锁视作平仓已在进行，直接放弃。

// 余额不足重试时额外收缩的安全边际。
const sellSafetyMargin = 0.001

// LotRefresher 可强制刷新步进约束的客户端（步进违规重试路径）。
type LotRefresher interface {
	RefreshLotConstraints(ctx context.Context, symbol string) (market.LotConstraints, error)
}

// Controller 单一持仓的买入/退出控制器。
type Controller struct {
	cfg    *brcfg.Config
	client market.Client
	store  state.Store
	tlog   database.TradeLog // 可为 nil（未配置流水库）

	sellMu sync.Mutex
	nowFn  func() time.Time
}

// NewController 创建控制器。tlog 传 nil 时不写流水。
func NewController(cfg *brcfg.Config, client market.Client, store state.Store, tlog database.TradeLog) *Controller {
	return &Controller{
		cfg:    cfg,
		client: client,
		store:  store,
		tlog:   tlog,
		nowFn:  time.Now,
	}
}

// SignalResult 入站信号的处理结果。
type SignalResult struct {
	OK      bool   `json:"ok"`
	Msg     string `json:"msg"`
	TraceID string `json:"trace_id,omitempty"`
}

// OnBuySignal 处理入场信号。接受条件：无冷却、无买入锁、未开仓、uid 非重复。
// 任一条件不满足只返回拒绝原因，绝不产生副作用。
func (c *Controller) OnBuySignal(ctx context.Context, uid string) SignalResult {
	now := c.nowFn()
	pos := c.store.Load()

	if pos.InCooldown(now) {
		return SignalResult{OK: false, Msg: "冷却期内，拒绝入场"}
	}
	if pos.BuyLock {
		return SignalResult{OK: false, Msg: "买入锁定中，已有订单在途"}
	}
	if pos.IsOpen {
		return SignalResult{OK: false, Msg: "已有持仓，忽略重复入场"}
	}
	if uid != "" && uid == pos.LastSignalID {
		return SignalResult{OK: false, Msg: "重复信号 uid，已忽略"}
	}

	quote, err := c.client.GetFreeBalance(ctx, c.cfg.Trading.QuoteAsset)
	if err != nil {
		logger.Warnf("入场前查询余额失败: %v", err)
		return SignalResult{OK: false, Msg: "查询余额失败"}
	}
	if quote < c.cfg.Trading.MinQuoteBalance {
		return SignalResult{OK: false, Msg: fmt.Sprintf("%s 余额不足 (%.2f < %.2f)", c.cfg.Trading.QuoteAsset, quote, c.cfg.Trading.MinQuoteBalance)}
	}

	lc, err := c.client.GetLotConstraints(ctx, c.cfg.Trading.Symbol)
	if err != nil {
		logger.Warnf("入场前获取交易规则失败: %v", err)
		return SignalResult{OK: false, Msg: "获取交易规则失败"}
	}

	traceID := uuid.NewString()

	// 下单前先持久化买入锁与 uid：并发信号在这里被挡住。
	pos.BuyLock = true
	pos.LastSignalID = uid
	pos.StepSize = lc.StepSize
	pos.MinQty = lc.MinQty
	if err := c.store.Save(pos); err != nil {
		return SignalResult{OK: false, Msg: "写入状态失败"}
	}

	spend := quote - c.cfg.Trading.QuoteFeeBuffer
	fill, err := c.client.MarketBuy(ctx, c.cfg.Trading.Symbol, spend)
	if err != nil || fill.ExecutedQty <= 0 {
		// 入场失败不重试，释放买入锁等待下一个信号。
		pos.BuyLock = false
		if saveErr := c.store.Save(pos); saveErr != nil {
			logger.Errorf("入场失败后释放买入锁失败: %v", saveErr)
		}
		reason := "订单无成交"
		if err != nil {
			reason = err.Error()
		}
		c.journal(ctx, database.TradeOperationRecord{
			TraceID:   traceID,
			Symbol:    c.cfg.Trading.Symbol,
			Operation: database.OperationFailed,
			Details:   map[string]any{"stage": "entry", "uid": uid, "error": reason},
		})
		if err != nil {
			logger.Warnf("入场下单失败: %v", err)
			if market.IsInsufficientBalance(err) {
				return SignalResult{OK: false, Msg: "余额不足，入场中止", TraceID: traceID}
			}
			return SignalResult{OK: false, Msg: "入场下单失败", TraceID: traceID}
		}
		return SignalResult{OK: false, Msg: "入场订单无成交", TraceID: traceID}
	}

	entry := fill.AvgPrice
	if entry <= 0 {
		if p, perr := c.client.GetPrice(ctx, c.cfg.Trading.Symbol); perr == nil {
			entry = p
		}
	}
	stopLoss := c.computeStopLoss(ctx, entry)
	tp1 := entry * (1 + c.cfg.Strategy.TP1Pct)

	pos = state.Position{
		IsOpen:            true,
		EntryTime:         now.UnixMilli(),
		EntryPrice:        entry,
		TotalQuantity:     fill.ExecutedQty,
		RemainingQuantity: fill.ExecutedQty,
		StopLossPrice:     stopLoss,
		TakeProfit1Price:  tp1,
		TakeProfit1Frac:   c.cfg.Strategy.TP1Fraction,
		BuyLock:           true,
		LastSignalID:      uid,
		StepSize:          lc.StepSize,
		MinQty:            lc.MinQty,
	}
	if err := c.store.Save(pos); err != nil {
		logger.Errorf("入场后写入持仓失败: %v", err)
	}
	c.journal(ctx, database.TradeOperationRecord{
		TraceID:   traceID,
		Symbol:    c.cfg.Trading.Symbol,
		Operation: database.OperationEntry,
		Price:     entry,
		Quantity:  fill.ExecutedQty,
		Remaining: fill.ExecutedQty,
		Details: map[string]any{
			"uid":         uid,
			"stop_loss":   stopLoss,
			"take_profit": tp1,
			"spent_quote": spend,
		},
	})
	logger.Infof("✓ 入场成交 %s 数量=%.8f 均价=%.4f 止损=%.4f 止盈=%.4f",
		c.cfg.Trading.Symbol, fill.ExecutedQty, entry, stopLoss, tp1)
	return SignalResult{OK: true, Msg: "入场成交", TraceID: traceID}
}

// OnSellSignal 手动全平当前持仓。
func (c *Controller) OnSellSignal(ctx context.Context) SignalResult {
	pos := c.store.Load()
	if !pos.IsOpen || pos.RemainingQuantity <= 0 {
		return SignalResult{OK: false, Msg: "当前无持仓可卖"}
	}
	price, err := c.client.GetPrice(ctx, c.cfg.Trading.Symbol)
	if err != nil {
		return SignalResult{OK: false, Msg: "获取行情失败"}
	}
	closed, err := c.closeRemainder(ctx, &pos, price, database.OperationManualSell)
	if err != nil {
		return SignalResult{OK: false, Msg: "卖出失败"}
	}
	if !closed {
		return SignalResult{OK: false, Msg: "平仓已在进行或仅部分成交"}
	}
	return SignalResult{OK: true, Msg: "手动平仓完成"}
}

// Tick 执行一轮状态机评估。任何错误都让本轮整体作废，由监控循环下轮重试。
func (c *Controller) Tick(ctx context.Context) error {
	pos := c.store.Load()
	if !pos.IsOpen {
		return nil
	}
	price, err := c.client.GetPrice(ctx, c.cfg.Trading.Symbol)
	if err != nil {
		return fmt.Errorf("获取最新价失败: %w", err)
	}

	// 规则顺序固定：止损 → 第一止盈 → 追踪/保本。
	if price <= pos.StopLossPrice && pos.StopLossPrice > 0 {
		_, err := c.closeRemainder(ctx, &pos, price, database.OperationStopLoss)
		return err
	}

	if !pos.TakeProfit1Done {
		if price >= pos.TakeProfit1Price && pos.TakeProfit1Price > 0 {
			return c.takeProfit1(ctx, &pos, price)
		}
		return nil
	}

	switch strings.ToLower(c.cfg.Strategy.ExitMode) {
	case "breakeven":
		be := c.breakevenPrice(pos.EntryPrice)
		if price <= be {
			_, err := c.closeRemainder(ctx, &pos, price, database.OperationBreakEven)
			return err
		}
	default: // trailing
		if !pos.TrailingActive {
			return nil
		}
		if price > pos.TrailingPeakPrice {
			pos.TrailingPeakPrice = price
			return c.store.Save(pos)
		}
		if price <= pos.TrailingPeakPrice*(1-c.cfg.Strategy.TrailPct) {
			_, err := c.closeRemainder(ctx, &pos, price, database.OperationTrailingStop)
			return err
		}
	}
	return nil
}

// takeProfit1 命中第一止盈：量化后卖出 remaining × fraction，
// 低于最小量时退避到更小的固定占比；仍不可卖则放弃分批但照常进入追踪，
// 绝不因粉尘量卡死在 OPEN_PRE_TP1。
// 与全平路径共用 sellMu：抢不到锁说明另一侧正在卖同一份剩余，
// 本轮跳过，状态不动，下一轮重新评估。
func (c *Controller) takeProfit1(ctx context.Context, pos *state.Position, price float64) error {
	if !c.sellMu.TryLock() {
		logger.Debugf("平仓已在进行，放弃本次 TP1 分批")
		return nil
	}
	defer c.sellMu.Unlock()

	step, minQty := c.lotOf(*pos)
	qty := quant.Normalize(pos.RemainingQuantity*pos.TakeProfit1Frac, step, minQty)
	if qty <= 0 {
		qty = quant.Normalize(pos.RemainingQuantity*c.cfg.Strategy.TP1FallbackFrac, step, minQty)
	}

	if qty > 0 {
		fill, err := c.sellWithRetry(ctx, pos, qty)
		if err != nil {
			c.journal(ctx, database.TradeOperationRecord{
				Symbol:    c.cfg.Trading.Symbol,
				Operation: database.OperationFailed,
				Details:   map[string]any{"stage": "tp1", "error": err.Error()},
			})
			return fmt.Errorf("TP1 卖出失败: %w", err)
		}
		pos.RemainingQuantity -= fill.ExecutedQty
		if pos.RemainingQuantity < 0 {
			pos.RemainingQuantity = 0
		}
		c.journal(ctx, database.TradeOperationRecord{
			Symbol:    c.cfg.Trading.Symbol,
			Operation: database.OperationTP1,
			Price:     price,
			Quantity:  fill.ExecutedQty,
			Remaining: pos.RemainingQuantity,
		})
		logger.Infof("✓ TP1 部分止盈 数量=%.8f 价格=%.4f 剩余=%.8f", fill.ExecutedQty, price, pos.RemainingQuantity)
	} else {
		logger.Warnf("TP1 数量低于最小可卖量，放弃分批直接进入追踪")
	}

	pos.TakeProfit1Done = true
	if strings.EqualFold(c.cfg.Strategy.ExitMode, "breakeven") {
		pos.TrailingActive = false
	} else {
		pos.TrailingActive = true
		pos.TrailingPeakPrice = price
	}
	return c.store.Save(*pos)
}

// closeRemainder 卖出全部剩余并关闭持仓。
// sellMu 抢不到说明另一条路径（超时平仓/阈值平仓）正在执行，直接放弃。
// 返回 closed=true 表示持仓已完全关闭（冷却已启动）。
func (c *Controller) closeRemainder(ctx context.Context, pos *state.Position, price float64, op database.OperationType) (bool, error) {
	if !c.sellMu.TryLock() {
		logger.Debugf("平仓已在进行，放弃本次 %s", op)
		return false, nil
	}
	defer c.sellMu.Unlock()

	step, minQty := c.lotOf(*pos)
	var executed float64
	if quant.Normalize(pos.RemainingQuantity, step, minQty) > 0 {
		fill, err := c.sellWithRetry(ctx, pos, pos.RemainingQuantity)
		if err != nil {
			c.journal(ctx, database.TradeOperationRecord{
				Symbol:    c.cfg.Trading.Symbol,
				Operation: database.OperationFailed,
				Details:   map[string]any{"stage": string(op), "error": err.Error()},
			})
			return false, fmt.Errorf("平仓卖出失败: %w", err)
		}
		executed = fill.ExecutedQty
	}

	remaining := pos.RemainingQuantity - executed
	if remaining < 0 {
		remaining = 0
	}
	// 低于最小可卖量的残渣视作已平。
	if remaining > 0 && quant.Normalize(remaining, step, minQty) > 0 {
		// 部分成交：保持持仓与买入锁，等待下一轮继续。
		pos.RemainingQuantity = remaining
		if err := c.store.Save(*pos); err != nil {
			return false, err
		}
		c.journal(ctx, database.TradeOperationRecord{
			Symbol:    c.cfg.Trading.Symbol,
			Operation: op,
			Price:     price,
			Quantity:  executed,
			Remaining: remaining,
			Details:   map[string]any{"partial": true},
		})
		logger.Warnf("平仓仅部分成交 %s 卖出=%.8f 剩余=%.8f，保持买入锁", op, executed, remaining)
		return false, nil
	}

	now := c.nowFn()
	pos.Close()
	pos.StartCooldown(now, c.cooldown())
	if err := c.store.Save(*pos); err != nil {
		return false, err
	}
	c.journal(ctx, database.TradeOperationRecord{
		Symbol:    c.cfg.Trading.Symbol,
		Operation: op,
		Price:     price,
		Quantity:  executed,
		Remaining: 0,
	})
	logger.Infof("✓ 持仓关闭 (%s) 卖出=%.8f 价格=%.4f 冷却至 %s", op, executed, price,
		time.UnixMilli(pos.CooldownUntil).Format(time.RFC3339))
	return true, nil
}

// sellWithRetry 带类型化重试策略的市价卖出：
//   - 余额不足：按实际可用余额收缩安全边际并再退一个步进，重试一次；
//   - 步进违规：强制刷新交易规则后重试一次，仍失败按粉尘放弃；
//   - 瞬时错误：直接上抛，本轮作废。
func (c *Controller) sellWithRetry(ctx context.Context, pos *state.Position, qty float64) (market.Fill, error) {
	step, minQty := c.lotOf(*pos)
	q := quant.Normalize(qty, step, minQty)
	if q <= 0 {
		return market.Fill{}, nil
	}
	fill, err := c.client.MarketSell(ctx, c.cfg.Trading.Symbol, q)
	if err == nil {
		return fill, nil
	}

	switch {
	case market.IsInsufficientBalance(err):
		free, balErr := c.client.GetFreeBalance(ctx, c.cfg.Trading.BaseAsset)
		if balErr != nil {
			return market.Fill{}, err
		}
		retry := free
		if q < retry {
			retry = q
		}
		retry = retry*(1-sellSafetyMargin) - step
		retry = quant.Normalize(retry, step, minQty)
		if retry <= 0 {
			// 可卖量归零，按粉尘放弃。
			return market.Fill{}, nil
		}
		logger.Warnf("卖出余额不足，收缩数量重试 %.8f -> %.8f", q, retry)
		return c.client.MarketSell(ctx, c.cfg.Trading.Symbol, retry)

	case market.IsStepViolation(err):
		refresher, ok := c.client.(LotRefresher)
		if !ok {
			return market.Fill{}, nil
		}
		lc, refErr := refresher.RefreshLotConstraints(ctx, c.cfg.Trading.Symbol)
		if refErr != nil {
			return market.Fill{}, err
		}
		pos.StepSize = lc.StepSize
		pos.MinQty = lc.MinQty
		retry := quant.Normalize(qty, lc.StepSize, lc.MinQty)
		if retry <= 0 {
			return market.Fill{}, nil
		}
		logger.Warnf("数量步进违规，刷新规则后重试 数量=%.8f", retry)
		fill, err = c.client.MarketSell(ctx, c.cfg.Trading.Symbol, retry)
		if err != nil {
			// 规则刷新后仍违规，按粉尘放弃而不是搞挂整轮。
			if market.IsStepViolation(err) {
				return market.Fill{}, nil
			}
			return market.Fill{}, err
		}
		return fill, nil
	}
	return market.Fill{}, err
}

// computeStopLoss 计算入场止损价：
// 百分比上限距离与 ATR 波动距离里取更小者（更紧、更保守）。
// ATR 拉取失败只记日志，退回纯百分比距离。
func (c *Controller) computeStopLoss(ctx context.Context, entry float64) float64 {
	dist := entry * c.cfg.Strategy.StopLossCapPct
	if c.cfg.Strategy.ATREnabled {
		if atrDist, ok := c.atrDistance(ctx); ok && atrDist > 0 && atrDist < dist {
			dist = atrDist
		}
	}
	return entry - dist
}

// atrDistance 基于最近 K 线算 ATR×mult 的止损距离。
func (c *Controller) atrDistance(ctx context.Context) (float64, bool) {
	period := c.cfg.Strategy.ATRPeriod
	klines, err := c.client.GetKlines(ctx, c.cfg.Trading.Symbol, c.cfg.Strategy.ATRInterval, period*3)
	if err != nil {
		logger.Warnf("获取 ATR K线失败，退回百分比止损: %v", err)
		return 0, false
	}
	if len(klines) <= period {
		return 0, false
	}
	highs := make([]float64, len(klines))
	lows := make([]float64, len(klines))
	closes := make([]float64, len(klines))
	for i, k := range klines {
		highs[i] = k.High
		lows[i] = k.Low
		closes[i] = k.Close
	}
	atr := talib.Atr(highs, lows, closes, period)
	last := atr[len(atr)-1]
	if last <= 0 {
		return 0, false
	}
	return last * c.cfg.Strategy.ATRMult, true
}

// breakevenPrice 保本出场价：开启手续费感知时把入场价上浮一轮往返费率。
func (c *Controller) breakevenPrice(entry float64) float64 {
	if c.cfg.Strategy.BreakevenFeeAware {
		return entry * (1 + 2*c.cfg.Strategy.FeeRatePct)
	}
	return entry
}

// lotOf 返回持仓记录里的步进约束，缺失时同步拉取一次。
func (c *Controller) lotOf(pos state.Position) (step, minQty float64) {
	if pos.StepSize > 0 {
		return pos.StepSize, pos.MinQty
	}
	if lc, err := c.client.GetLotConstraints(context.Background(), c.cfg.Trading.Symbol); err == nil {
		return lc.StepSize, lc.MinQty
	}
	return quant.DefaultStep, 0
}

// cooldown 返回配置的冷却时长。
func (c *Controller) cooldown() time.Duration {
	return time.Duration(c.cfg.Strategy.CooldownBars*c.cfg.Strategy.BarSeconds) * time.Second
}

// HasOpenPosition 当前是否存在认定的持仓。
func (c *Controller) HasOpenPosition() bool {
	return c.store.Load().IsOpen
}

// journal 写一条操作流水，失败只记日志。
func (c *Controller) journal(ctx context.Context, op database.TradeOperationRecord) {
	if c.tlog == nil {
		return
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = c.nowFn()
	}
	if err := c.tlog.AppendOperation(ctx, op); err != nil {
		logger.Warnf("写入交易流水失败: %v", err)
	}
}
