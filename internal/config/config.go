package config

import (
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// 配置结构体。环境变量只允许覆盖密钥类字段，运行期持仓数据一律走状态文件。
type Config struct {
	App struct {
		Env          string `toml:"env"`
		LogLevel     string `toml:"log_level"`
		HTTPAddr     string `toml:"http_addr"`
		StatePath    string `toml:"state_path"`
		TradeLogPath string `toml:"trade_log_path"` // 为空则不落 SQLite 流水
	} `toml:"app"`

	Exchange struct {
		APIKey    string `toml:"api_key"`
		APISecret string `toml:"api_secret"`
		Testnet   bool   `toml:"testnet"`
	} `toml:"exchange"`

	Trading struct {
		Symbol     string `toml:"symbol"`      // 如 BTCUSDC
		BaseAsset  string `toml:"base_asset"`  // 如 BTC
		QuoteAsset string `toml:"quote_asset"` // 如 USDC
		// 入场时从可用计价币里扣除的手续费缓冲
		QuoteFeeBuffer float64 `toml:"quote_fee_buffer"`
		// 低于该计价币余额拒绝入场
		MinQuoteBalance float64 `toml:"min_quote_balance"`
		WebhookSecret   string  `toml:"webhook_secret"`
	} `toml:"trading"`

	Strategy struct {
		TP1Pct          float64 `toml:"tp1_pct"`               // 第一止盈距离（比例）
		TP1Fraction     float64 `toml:"tp1_fraction"`          // 第一止盈卖出占比 (0,1]
		TP1FallbackFrac float64 `toml:"tp1_fallback_fraction"` // 量化后低于最小量时的退避占比
		StopLossCapPct  float64 `toml:"stop_loss_cap_pct"`     // 止损距离上限（比例）
		TrailPct        float64 `toml:"trail_pct"`             // 追踪止损回撤比例
		// TP1 之后的模式：trailing（追踪止损）或 breakeven（保本出场）
		ExitMode          string  `toml:"exit_mode"`
		BreakevenFeeAware bool    `toml:"breakeven_fee_aware"`
		FeeRatePct        float64 `toml:"fee_rate_pct"` // 单边手续费率（比例），保本加价用

		ATREnabled  bool    `toml:"atr_enabled"`
		ATRPeriod   int     `toml:"atr_period"`
		ATRInterval string  `toml:"atr_interval"`
		ATRMult     float64 `toml:"atr_mult"`

		CooldownBars int `toml:"cooldown_bars"`
		BarSeconds   int `toml:"bar_seconds"`
		PollSeconds  int `toml:"poll_seconds"`
	} `toml:"strategy"`

	Reconcile struct {
		DriftTolerance float64 `toml:"drift_tolerance"` // 余额与记录的相对偏差容忍
		AdoptMinUSD    float64 `toml:"adopt_min_usd"`   // 收编外部持仓的最小美元价值
		TradeLookback  int     `toml:"trade_lookback"`  // 估算入场价回看的成交笔数
	} `toml:"reconcile"`
}

// Load 读取并解析 TOML 配置文件，随后套用缺省值、环境变量覆盖与基本校验。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 TOML 失败: %w", err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// 环境变量覆盖：仅限密钥，部署时注入，避免把密钥写进 TOML。
func applyEnvOverrides(c *Config) {
	if v := strings.TrimSpace(os.Getenv("BINANCE_API_KEY")); v != "" {
		c.Exchange.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("BINANCE_API_SECRET")); v != "" {
		c.Exchange.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv("BOT_WEBHOOK_SECRET")); v != "" {
		c.Trading.WebhookSecret = v
	}
}

// 默认值设置
func applyDefaults(c *Config) {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":8080"
	}
	if c.App.StatePath == "" {
		c.App.StatePath = "state.json"
	}
	if c.Trading.Symbol == "" {
		c.Trading.Symbol = "BTCUSDC"
	}
	if c.Trading.BaseAsset == "" {
		c.Trading.BaseAsset = "BTC"
	}
	if c.Trading.QuoteAsset == "" {
		c.Trading.QuoteAsset = "USDC"
	}
	if c.Trading.QuoteFeeBuffer <= 0 {
		c.Trading.QuoteFeeBuffer = 1
	}
	if c.Trading.MinQuoteBalance <= 0 {
		c.Trading.MinQuoteBalance = 10
	}
	if c.Strategy.TP1Pct <= 0 {
		c.Strategy.TP1Pct = 0.005
	}
	if c.Strategy.TP1Fraction <= 0 || c.Strategy.TP1Fraction > 1 {
		c.Strategy.TP1Fraction = 0.5
	}
	if c.Strategy.TP1FallbackFrac <= 0 {
		c.Strategy.TP1FallbackFrac = 0.25
	}
	if c.Strategy.StopLossCapPct <= 0 {
		c.Strategy.StopLossCapPct = 0.01
	}
	if c.Strategy.TrailPct <= 0 {
		c.Strategy.TrailPct = 0.0015
	}
	if c.Strategy.ExitMode == "" {
		c.Strategy.ExitMode = "trailing"
	}
	if c.Strategy.FeeRatePct <= 0 {
		c.Strategy.FeeRatePct = 0.001
	}
	if c.Strategy.ATRPeriod <= 0 {
		c.Strategy.ATRPeriod = 14
	}
	if c.Strategy.ATRInterval == "" {
		c.Strategy.ATRInterval = "1m"
	}
	if c.Strategy.ATRMult <= 0 {
		c.Strategy.ATRMult = 1.5
	}
	if c.Strategy.CooldownBars <= 0 {
		c.Strategy.CooldownBars = 3
	}
	if c.Strategy.BarSeconds <= 0 {
		c.Strategy.BarSeconds = 60
	}
	if c.Strategy.PollSeconds <= 0 {
		c.Strategy.PollSeconds = 5
	}
	if c.Reconcile.DriftTolerance <= 0 {
		c.Reconcile.DriftTolerance = 0.02
	}
	if c.Reconcile.AdoptMinUSD <= 0 {
		c.Reconcile.AdoptMinUSD = 50
	}
	if c.Reconcile.TradeLookback <= 0 {
		c.Reconcile.TradeLookback = 20
	}
}

// 基础校验
func validate(c *Config) error {
	if c.Trading.Symbol == "" {
		return fmt.Errorf("trading.symbol 不能为空")
	}
	if c.Strategy.TP1Fraction <= 0 || c.Strategy.TP1Fraction > 1 {
		return fmt.Errorf("strategy.tp1_fraction 需在 (0,1]")
	}
	if c.Strategy.TrailPct <= 0 || c.Strategy.TrailPct >= 1 {
		return fmt.Errorf("strategy.trail_pct 需在 (0,1)")
	}
	if c.Strategy.StopLossCapPct <= 0 || c.Strategy.StopLossCapPct >= 1 {
		return fmt.Errorf("strategy.stop_loss_cap_pct 需在 (0,1)")
	}
	switch strings.ToLower(c.Strategy.ExitMode) {
	case "trailing", "breakeven":
	default:
		return fmt.Errorf("strategy.exit_mode 仅支持 trailing/breakeven")
	}
	if c.Strategy.PollSeconds <= 0 {
		return fmt.Errorf("strategy.poll_seconds 需为正数")
	}
	return nil
}
