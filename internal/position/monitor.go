package position

import (
	"context"
	"time"

	"github.com/cuxilozano/bot-binance/internal/logger"
)

// 中文说明：
// 监控循环：固定轮询间隔驱动状态机，进程关闭（ctx 取消）时退出。
// 每轮 tick 的任何错误都整轮作废、记日志、等下一轮，轮内不重试。
// 启动时先对账一次；之后仅在认定无持仓时按较低频率复查对账。

// 无持仓期间两次对账之间的最小间隔。
const reconcileEvery = time.Minute

// Monitor 驱动 Controller 的长生命周期循环。
type Monitor struct {
	ctrl     *Controller
	interval time.Duration

	lastReconcile time.Time
}

// NewMonitor 创建监控循环。
func NewMonitor(ctrl *Controller, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{ctrl: ctrl, interval: interval}
}

// Run 阻塞运行直到 ctx 取消。
func (m *Monitor) Run(ctx context.Context) error {
	// 首轮 tick 之前必须对账：修孤儿锁、修漂移、收编外部持仓。
	if err := m.ctrl.Reconcile(ctx); err != nil {
		logger.Warnf("启动对账失败（不致命）: %v", err)
	}
	m.lastReconcile = time.Now()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	logger.Infof("✓ 监控循环启动，轮询间隔 %s", m.interval)
	for {
		select {
		case <-ctx.Done():
			logger.Infof("监控循环退出")
			return nil
		case <-ticker.C:
			if err := m.ctrl.Tick(ctx); err != nil {
				// 本轮作废，不做轮内重试。
				logger.Warnf("tick 失败，等待下一轮: %v", err)
				continue
			}
			if !m.ctrl.HasOpenPosition() && time.Since(m.lastReconcile) >= reconcileEvery {
				if err := m.ctrl.Reconcile(ctx); err != nil {
					logger.Warnf("对账失败，等待下一轮: %v", err)
				}
				m.lastReconcile = time.Now()
			}
		}
	}
}
