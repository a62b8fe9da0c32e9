package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	brcfg "github.com/cuxilozano/bot-binance/internal/config"
	"github.com/cuxilozano/bot-binance/internal/gateway/binance"
	"github.com/cuxilozano/bot-binance/internal/gateway/database"
	"github.com/cuxilozano/bot-binance/internal/logger"
	"github.com/cuxilozano/bot-binance/internal/position"
	"github.com/cuxilozano/bot-binance/internal/state"
	transhttp "github.com/cuxilozano/bot-binance/internal/transport/http"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 入口与监控循环。
type App struct {
	cfg      *brcfg.Config
	monitor  *position.Monitor
	httpSrv  *transhttp.Server
	tradeLog *database.TradeLogStore
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *brcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 并行启动 HTTP 服务与监控循环，任一退出即整体收敛。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.monitor == nil {
		return fmt.Errorf("monitor not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.httpSrv != nil {
		group.Go(func() error {
			if err := a.httpSrv.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Warnf("HTTP 停止: %v", err)
				return err
			}
			return nil
		})
	}

	group.Go(func() error {
		defer a.Close()
		return a.monitor.Run(ctx)
	})

	return group.Wait()
}

// Close 释放持有的资源。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.tradeLog != nil {
		_ = a.tradeLog.Close()
	}
}

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppFromBuilder(b appBuilderDeps, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}

func provideAppBuilder(cfg *brcfg.Config) *AppBuilder {
	return NewAppBuilder(cfg)
}

// AppBuilder 按依赖顺序组装 App。
type AppBuilder struct {
	cfg *brcfg.Config
}

// NewAppBuilder 创建构建器。
func NewAppBuilder(cfg *brcfg.Config) *AppBuilder {
	return &AppBuilder{cfg: cfg}
}

// Build 组装全部依赖。
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	cfg := b.cfg

	store, err := state.NewFileStore(cfg.App.StatePath)
	if err != nil {
		return nil, fmt.Errorf("初始化状态存储失败: %w", err)
	}
	logger.Infof("✓ 状态文件: %s", cfg.App.StatePath)

	var tradeLog *database.TradeLogStore
	if cfg.App.TradeLogPath != "" {
		tradeLog, err = database.NewTradeLogStore(cfg.App.TradeLogPath)
		if err != nil {
			return nil, fmt.Errorf("初始化交易流水库失败: %w", err)
		}
		logger.Infof("✓ 交易流水写入 %s", cfg.App.TradeLogPath)
	}

	source := binance.NewSource(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.Testnet)
	logger.Infof("✓ Binance 现货网关就绪（testnet=%v，交易对=%s）", cfg.Exchange.Testnet, cfg.Trading.Symbol)

	var tlog database.TradeLog
	if tradeLog != nil {
		tlog = tradeLog
	}
	ctrl := position.NewController(cfg, source, store, tlog)
	monitor := position.NewMonitor(ctrl, time.Duration(cfg.Strategy.PollSeconds)*time.Second)

	httpSrv := transhttp.NewServer(transhttp.ServerConfig{
		Addr:   cfg.App.HTTPAddr,
		Secret: cfg.Trading.WebhookSecret,
		Ctrl:   ctrl,
		Logs:   tlog,
	})
	logger.Infof("✓ HTTP 接口监听 %s", httpSrv.Addr())

	return &App{
		cfg:      cfg,
		monitor:  monitor,
		httpSrv:  httpSrv,
		tradeLog: tradeLog,
	}, nil
}
