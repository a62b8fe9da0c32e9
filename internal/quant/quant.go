package quant

import (
	"github.com/shopspring/decimal"
)

// 中文说明：
// 数量/价格规整工具。全部为纯函数：向下取整到步进倍数、固定小数位格式化。
// 浮点直接取模会放大二进制误差，这里统一走 decimal。

// DefaultStep 步进非法（<=0）时的兜底步进。
const DefaultStep = 0.00001

// Normalize 把 qty 向下规整到 step 的整数倍；结果低于 minQty 时返回 0。
// step<=0 时使用 DefaultStep，不会除零。
func Normalize(qty, step, minQty float64) float64 {
	if qty <= 0 {
		return 0
	}
	if step <= 0 {
		step = DefaultStep
	}
	dq := decimal.NewFromFloat(qty)
	ds := decimal.NewFromFloat(step)
	floored := dq.Div(ds).Floor().Mul(ds)
	out, _ := floored.Float64()
	if minQty > 0 && out < minQty {
		return 0
	}
	return out
}

// Format 以恰好 decimals 位小数渲染数量，向下截断，绝不进位。
func Format(qty float64, decimals int) string {
	if decimals < 0 {
		decimals = 0
	}
	d := decimal.NewFromFloat(qty)
	return d.RoundDown(int32(decimals)).StringFixed(int32(decimals))
}

// StepDecimals 返回步进对应的小数位数（0.00001 -> 5）。
// 非法步进按 DefaultStep 处理。
func StepDecimals(step float64) int {
	if step <= 0 {
		step = DefaultStep
	}
	d := decimal.NewFromFloat(step)
	exp := int(d.Exponent())
	if exp >= 0 {
		return 0
	}
	return -exp
}
