package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"github.com/cuxilozano/bot-binance/internal/logger"
	"github.com/cuxilozano/bot-binance/internal/market"
	"github.com/cuxilozano/bot-binance/internal/quant"
)

// 中文说明：
// Binance 现货网关：market.Client 的真实现。
// 交易所错误在这里统一映射为类型化错误，上层只按种类分支，
// 绝不解析错误文本。步进约束带本地缓存，可强制刷新。

// Source 基于 go-binance 的现货客户端。
type Source struct {
	client *gobinance.Client

	mu   sync.Mutex
	lots map[string]market.LotConstraints
}

// NewSource 创建现货网关。testnet=true 时走币安测试网。
func NewSource(apiKey, apiSecret string, testnet bool) *Source {
	gobinance.UseTestnet = testnet
	return &Source{
		client: gobinance.NewClient(apiKey, apiSecret),
		lots:   make(map[string]market.LotConstraints),
	}
}

// GetPrice 返回最新成交价。
func (s *Source) GetPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := s.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, mapErr("获取最新价", err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("%w: %s 无报价", market.ErrInvalidSymbol, symbol)
	}
	v, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: 解析报价失败: %v", market.ErrTransient, err)
	}
	return v, nil
}

// GetFreeBalance 返回资产可用余额。
func (s *Source) GetFreeBalance(ctx context.Context, asset string) (float64, error) {
	acct, err := s.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, mapErr("获取账户余额", err)
	}
	for _, b := range acct.Balances {
		if b.Asset == asset {
			v, _ := strconv.ParseFloat(b.Free, 64)
			return v, nil
		}
	}
	return 0, nil
}

// GetLotConstraints 返回交易对步进约束，命中缓存则直接返回。
func (s *Source) GetLotConstraints(ctx context.Context, symbol string) (market.LotConstraints, error) {
	s.mu.Lock()
	if lc, ok := s.lots[symbol]; ok {
		s.mu.Unlock()
		return lc, nil
	}
	s.mu.Unlock()
	return s.RefreshLotConstraints(ctx, symbol)
}

// RefreshLotConstraints 强制重拉 exchangeInfo（步进违规重试路径使用）。
func (s *Source) RefreshLotConstraints(ctx context.Context, symbol string) (market.LotConstraints, error) {
	info, err := s.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return market.LotConstraints{}, mapErr("获取交易规则", err)
	}
	for _, sym := range info.Symbols {
		if sym.Symbol != symbol {
			continue
		}
		var lc market.LotConstraints
		if f := sym.LotSizeFilter(); f != nil {
			lc.StepSize, _ = strconv.ParseFloat(f.StepSize, 64)
			lc.MinQty, _ = strconv.ParseFloat(f.MinQuantity, 64)
		}
		if f := sym.NotionalFilter(); f != nil {
			lc.MinNotional, _ = strconv.ParseFloat(f.MinNotional, 64)
		}
		if lc.StepSize <= 0 {
			logger.Warnf("交易对 %s 无 LOT_SIZE 过滤器，使用兜底步进 %v", symbol, quant.DefaultStep)
			lc.StepSize = quant.DefaultStep
		}
		s.mu.Lock()
		s.lots[symbol] = lc
		s.mu.Unlock()
		return lc, nil
	}
	return market.LotConstraints{}, fmt.Errorf("%w: %s", market.ErrInvalidSymbol, symbol)
}

// MarketBuy 以计价币金额市价买入，从成交明细汇总均价。
func (s *Source) MarketBuy(ctx context.Context, symbol string, quoteAmount float64) (market.Fill, error) {
	res, err := s.client.NewCreateOrderService().
		Symbol(symbol).
		Side(gobinance.SideTypeBuy).
		Type(gobinance.OrderTypeMarket).
		QuoteOrderQty(quant.Format(quoteAmount, 8)).
		Do(ctx)
	if err != nil {
		return market.Fill{}, mapErr("市价买入", err)
	}
	return fillFromOrder(res)
}

// MarketSell 以基础币数量市价卖出，数量按步进精度截断格式化。
func (s *Source) MarketSell(ctx context.Context, symbol string, qty float64) (market.Fill, error) {
	lc, err := s.GetLotConstraints(ctx, symbol)
	if err != nil {
		return market.Fill{}, err
	}
	res, err := s.client.NewCreateOrderService().
		Symbol(symbol).
		Side(gobinance.SideTypeSell).
		Type(gobinance.OrderTypeMarket).
		Quantity(quant.Format(qty, quant.StepDecimals(lc.StepSize))).
		Do(ctx)
	if err != nil {
		return market.Fill{}, mapErr("市价卖出", err)
	}
	return fillFromOrder(res)
}

// GetRecentTrades 返回账户最近成交。
func (s *Source) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]market.Trade, error) {
	raws, err := s.client.NewListTradesService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil, mapErr("获取账户成交", err)
	}
	trades := make([]market.Trade, 0, len(raws))
	for _, t := range raws {
		price, _ := strconv.ParseFloat(t.Price, 64)
		qty, _ := strconv.ParseFloat(t.Quantity, 64)
		trades = append(trades, market.Trade{
			Price:   price,
			Qty:     qty,
			IsBuyer: t.IsBuyer,
			Time:    time.UnixMilli(t.Time),
		})
	}
	return trades, nil
}

// GetKlines 返回最近 limit 根 K 线。
func (s *Source) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]market.Kline, error) {
	raws, err := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, mapErr("获取K线", err)
	}
	ks := make([]market.Kline, 0, len(raws))
	for _, k := range raws {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closeP, _ := strconv.ParseFloat(k.Close, 64)
		vol, _ := strconv.ParseFloat(k.Volume, 64)
		ks = append(ks, market.Kline{
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closeP,
			Volume:    vol,
		})
	}
	return ks, nil
}

// fillFromOrder 从下单响应汇总均价与成交量。
func fillFromOrder(res *gobinance.CreateOrderResponse) (market.Fill, error) {
	executed, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)
	quote, _ := strconv.ParseFloat(res.CummulativeQuoteQuantity, 64)
	fill := market.Fill{ExecutedQty: executed}
	if executed > 0 && quote > 0 {
		fill.AvgPrice = quote / executed
	} else if len(res.Fills) > 0 {
		// 部分响应不带累计成交额，退回用首笔成交价。
		fill.AvgPrice, _ = strconv.ParseFloat(res.Fills[0].Price, 64)
	}
	return fill, nil
}

// mapErr 把 go-binance 错误映射为类型化错误。
//
//	-2010 下单被拒（余额不足等）   -> ErrInsufficientBalance
//	-1013 数量/名义金额过滤器不通过 -> ErrStepViolation
//	-1121 无效交易对               -> ErrInvalidSymbol
//	其余（网络、限频、时钟偏移）    -> ErrTransient
func mapErr(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -2010:
			return fmt.Errorf("%s: %w: %s", op, market.ErrInsufficientBalance, apiErr.Message)
		case -1013:
			return fmt.Errorf("%s: %w: %s", op, market.ErrStepViolation, apiErr.Message)
		case -1121:
			return fmt.Errorf("%s: %w: %s", op, market.ErrInvalidSymbol, apiErr.Message)
		}
		return fmt.Errorf("%s: %w: code=%d %s", op, market.ErrTransient, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%s: %w: %v", op, market.ErrTransient, err)
}

