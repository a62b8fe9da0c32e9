package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	brcfg "github.com/cuxilozano/bot-binance/internal/config"
	"github.com/cuxilozano/bot-binance/internal/market"
	"github.com/cuxilozano/bot-binance/internal/position"
	"github.com/cuxilozano/bot-binance/internal/state"
)

// stubClient 最小行情替身：固定价格与余额。
type stubClient struct {
	price    float64
	balances map[string]float64
}

func (s *stubClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return s.price, nil
}

func (s *stubClient) GetFreeBalance(ctx context.Context, asset string) (float64, error) {
	return s.balances[asset], nil
}

func (s *stubClient) GetLotConstraints(ctx context.Context, symbol string) (market.LotConstraints, error) {
	return market.LotConstraints{StepSize: 0.00001, MinQty: 0.0001}, nil
}

func (s *stubClient) MarketBuy(ctx context.Context, symbol string, quoteAmount float64) (market.Fill, error) {
	return market.Fill{AvgPrice: s.price, ExecutedQty: quoteAmount / s.price}, nil
}

func (s *stubClient) MarketSell(ctx context.Context, symbol string, qty float64) (market.Fill, error) {
	return market.Fill{AvgPrice: s.price, ExecutedQty: qty}, nil
}

func (s *stubClient) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]market.Trade, error) {
	return nil, nil
}

func (s *stubClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]market.Kline, error) {
	return nil, nil
}

func newTestServer(t *testing.T, secret string) *Server {
	t.Helper()
	cfg := &brcfg.Config{}
	cfg.Trading.Symbol = "BTCUSDC"
	cfg.Trading.BaseAsset = "BTC"
	cfg.Trading.QuoteAsset = "USDC"
	cfg.Trading.QuoteFeeBuffer = 1
	cfg.Trading.MinQuoteBalance = 10
	cfg.Strategy.TP1Pct = 0.005
	cfg.Strategy.TP1Fraction = 0.5
	cfg.Strategy.StopLossCapPct = 0.01
	cfg.Strategy.TrailPct = 0.0015
	cfg.Strategy.CooldownBars = 3
	cfg.Strategy.BarSeconds = 60

	store, err := state.NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	client := &stubClient{price: 50000, balances: map[string]float64{"USDC": 1000, "BTC": 1}}
	ctrl := position.NewController(cfg, client, store, nil)
	return NewServer(ServerConfig{Addr: ":0", Secret: secret, Ctrl: ctrl})
}

func doJSON(t *testing.T, s *Server, method, path, body, secret string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func TestWebhookSecretMismatch(t *testing.T) {
	s := newTestServer(t, "top-secret")
	w := doJSON(t, s, http.MethodPost, "/webhook", `{"action":"ping"}`, "wrong")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("密钥不匹配应返回 401, got %d", w.Code)
	}
	w = doJSON(t, s, http.MethodPost, "/webhook", `{"action":"ping"}`, "top-secret")
	if w.Code != http.StatusOK {
		t.Fatalf("密钥正确应返回 200, got %d", w.Code)
	}
}

func TestWebhookPing(t *testing.T) {
	s := newTestServer(t, "")
	w := doJSON(t, s, http.MethodPost, "/webhook", `{"action":"ping"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("ping 应返回 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["ok"] != true {
		t.Fatalf("ping 应返回 ok=true: %v", resp)
	}
}

func TestWebhookUnknownAction(t *testing.T) {
	s := newTestServer(t, "")
	w := doJSON(t, s, http.MethodPost, "/webhook", `{"action":"short"}`, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("未知 action 应返回 400, got %d", w.Code)
	}
}

func TestWebhookMalformedBody(t *testing.T) {
	s := newTestServer(t, "")
	w := doJSON(t, s, http.MethodPost, "/webhook", `{"action":`, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("非法 JSON 应返回 400, got %d", w.Code)
	}
}

func TestWebhookBuyFlow(t *testing.T) {
	s := newTestServer(t, "")
	w := doJSON(t, s, http.MethodPost, "/webhook", `{"action":"buy","uid":"sig-1"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("buy 应返回 200, got %d", w.Code)
	}
	var res position.SignalResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Fatalf("入场应成功: %+v", res)
	}

	// 重复 buy 被闸门拒绝，但仍是 200 + ok=false。
	w = doJSON(t, s, http.MethodPost, "/webhook", `{"action":"buy","uid":"sig-2"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("重复 buy 应返回 200, got %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatalf("持仓中重复入场应拒绝: %+v", res)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	// 健康检查不要求密钥。
	if w.Code != http.StatusOK {
		t.Fatalf("healthz 应返回 200, got %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status 应返回 200, got %d", w.Code)
	}
	var snap map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if open, ok := snap["is_open"].(bool); !ok || open {
		t.Fatalf("初始状态应为未开仓: %v", snap)
	}
}
