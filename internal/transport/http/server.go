package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuxilozano/bot-binance/internal/gateway/database"
	"github.com/cuxilozano/bot-binance/internal/logger"
	"github.com/cuxilozano/bot-binance/internal/pkg/text"
	"github.com/cuxilozano/bot-binance/internal/position"
)

// 中文说明：
// 信号入口与状态查询的 HTTP 接口。入站信号只做共享密钥比对，
// 更重的鉴权不在范围内。webhook 同步处理、同步应答，无后台续作。

// ServerConfig HTTP 服务配置。
type ServerConfig struct {
	Addr   string
	Secret string // 为空时不校验
	Ctrl   *position.Controller
	Logs   database.TradeLog // 可为 nil
}

// Server 基于 gin 的 HTTP 服务。
type Server struct {
	cfg    ServerConfig
	engine *gin.Engine
	srv    *http.Server
}

// 入站信号载荷。
type signalRequest struct {
	Action string `json:"action"`
	UID    string `json:"uid"`
}

// NewServer 构建路由。
func NewServer(cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{cfg: cfg, engine: engine}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	engine.POST("/webhook", s.handleWebhook)
	engine.GET("/api/status", s.handleStatus)
	engine.GET("/api/operations", s.handleOperations)
	engine.GET("/report", s.handleReport)
	return s
}

// Addr 返回监听地址。
func (s *Server) Addr() string { return s.cfg.Addr }

// Start 启动监听，ctx 取消时优雅关闭。
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.cfg.Addr, Handler: s.engine}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// authorized 共享密钥比对（常数时间）。未配置密钥时直接放行。
func (s *Server) authorized(c *gin.Context) bool {
	if s.cfg.Secret == "" {
		return true
	}
	got := c.GetHeader("X-Webhook-Secret")
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Secret)) == 1
}

func (s *Server) handleWebhook(c *gin.Context) {
	if !s.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "msg": "密钥不匹配"})
		return
	}
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "msg": "请求体不是合法 JSON"})
		return
	}
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "ping":
		// 存活探测，不触发任何状态变更。
		c.JSON(http.StatusOK, gin.H{"ok": true, "msg": "pong"})
	case "buy":
		// uid 来自外部信号源，截断后再进日志。
		uid := text.Truncate(req.UID, 64)
		res := s.cfg.Ctrl.OnBuySignal(c.Request.Context(), req.UID)
		logger.Infof("webhook buy uid=%s ok=%v msg=%s", uid, res.OK, res.Msg)
		c.JSON(http.StatusOK, res)
	case "sell":
		res := s.cfg.Ctrl.OnSellSignal(c.Request.Context())
		logger.Infof("webhook sell ok=%v msg=%s", res.OK, res.Msg)
		c.JSON(http.StatusOK, res)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "msg": "未知 action"})
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.cfg.Ctrl.Status(c.Request.Context())
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleOperations(c *gin.Context) {
	if s.cfg.Logs == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true, "operations": []any{}})
		return
	}
	ops, err := s.cfg.Logs.ListOperations(c.Request.Context(), 200)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "msg": "读取流水失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "operations": ops})
}
