package market

import (
	"context"
	"time"
)

// 中文说明：
// 交易所能力抽象。核心逻辑只依赖这里的签名，不关心任何交易所私有格式。
// 实现方必须把交易所错误映射为 errors.go 的类型化错误，
// 调用方按错误种类（而不是错误文本）决定重试策略。

// LotConstraints 交易对的下单约束（LOT_SIZE / NOTIONAL 过滤器）。
type LotConstraints struct {
	StepSize    float64 // 最小数量步进
	MinQty      float64 // 最小下单数量
	MinNotional float64 // 最小名义金额（计价币）
}

// Fill 市价单的成交结果。
type Fill struct {
	AvgPrice    float64
	ExecutedQty float64
}

// Trade 账户成交记录（用于估算外部持仓的平均入场价）。
type Trade struct {
	Price   float64
	Qty     float64
	IsBuyer bool
	Time    time.Time
}

// Kline 行情 K 线（用于 ATR 波动率止损）。
type Kline struct {
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Client 核心消费的交易所能力面。
type Client interface {
	// GetPrice 返回交易对最新成交价。
	GetPrice(ctx context.Context, symbol string) (float64, error)
	// GetFreeBalance 返回某资产的可用余额。
	GetFreeBalance(ctx context.Context, asset string) (float64, error)
	// GetLotConstraints 返回交易对的步进/最小量约束。
	GetLotConstraints(ctx context.Context, symbol string) (LotConstraints, error)
	// MarketBuy 以计价币金额市价买入，返回均价与成交数量。
	MarketBuy(ctx context.Context, symbol string, quoteAmount float64) (Fill, error)
	// MarketSell 以基础币数量市价卖出，数量由实现方按步进精度格式化。
	MarketSell(ctx context.Context, symbol string, qty float64) (Fill, error)
	// GetRecentTrades 返回账户最近成交（时间升序或降序均可，调用方自行加权）。
	GetRecentTrades(ctx context.Context, symbol string, limit int) ([]Trade, error)
	// GetKlines 返回最近 limit 根 K 线，供 ATR 计算。
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
}
