package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/cuxilozano/bot-binance/internal/gateway/database"
	"github.com/cuxilozano/bot-binance/internal/pkg/format"
)

// handleReport 把交易流水渲染成一张入场/出场价格走势图（HTML）。
// 流水库未配置时返回提示页。
func (s *Server) handleReport(c *gin.Context) {
	if s.cfg.Logs == nil {
		c.String(http.StatusOK, "未配置交易流水库（app.trade_log_path），无报表可渲染")
		return
	}
	ops, err := s.cfg.Logs.ListOperations(c.Request.Context(), 500)
	if err != nil {
		c.String(http.StatusInternalServerError, "读取流水失败: %v", err)
		return
	}
	// ListOperations 按时间倒序，绘图按时间正序。
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}

	var (
		xAxis   []string
		entries []opts.LineData
		exits   []opts.LineData
	)
	for _, op := range ops {
		if op.Price <= 0 {
			continue
		}
		xAxis = append(xAxis, op.Timestamp.Format(time.DateTime))
		label := string(op.Operation) + " @ " + format.Float(op.Price, 2)
		if op.Operation == database.OperationEntry || op.Operation == database.OperationReconcileAdopt {
			entries = append(entries, opts.LineData{Value: op.Price, Name: label})
			exits = append(exits, opts.LineData{Value: nil})
		} else {
			exits = append(exits, opts.LineData{Value: op.Price, Name: label})
			entries = append(entries, opts.LineData{Value: nil})
		}
	}

	snap := s.cfg.Ctrl.Status(c.Request.Context())
	subtitle := snap.Symbol +
		" · TP1 " + format.Percent(snap.Thresholds.TP1Pct) +
		" · 追踪回撤 " + format.Percent(snap.Thresholds.TrailPct) +
		" · 持仓 " + format.Duration(snap.HoldingMs)
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "交易操作价格走势", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(xAxis).
		AddSeries("入场", entries).
		AddSeries("出场", exits)

	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := line.Render(c.Writer); err != nil {
		c.String(http.StatusInternalServerError, "渲染报表失败: %v", err)
	}
}
