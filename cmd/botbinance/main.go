package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuxilozano/bot-binance/internal/app"
	brcfg "github.com/cuxilozano/bot-binance/internal/config"
	"github.com/cuxilozano/bot-binance/internal/logger"
)

// 入口程序：
// 1) 加载 TOML 配置（路径可由 BOT_CONFIG 覆盖）
// 2) 组装应用（状态存储、交易网关、控制器、HTTP 入口）
// 3) 运行至收到 SIGINT/SIGTERM
func main() {
	cfgPath := os.Getenv("BOT_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.toml"
	}

	cfg, err := brcfg.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logger.Infof("✓ 配置加载成功（环境=%s，交易对=%s，轮询=%ds）",
		cfg.App.Env, cfg.Trading.Symbol, cfg.Strategy.PollSeconds)

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
}
