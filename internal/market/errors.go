package market

import "errors"

// 类型化错误：重试策略按种类分支，禁止匹配错误文本。

var (
	// ErrInsufficientBalance 余额不足（下单数量超过可用余额）
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrStepViolation 数量不满足步进/最小量规则
	ErrStepViolation = errors.New("quantity step violation")
	// ErrTransient 网络/超时/限频等瞬时错误，本轮放弃，下轮重试
	ErrTransient = errors.New("transient market error")
	// ErrInvalidSymbol 无效的交易对
	ErrInvalidSymbol = errors.New("invalid symbol")
)

// IsInsufficientBalance 判断是否余额不足。
func IsInsufficientBalance(err error) bool { return errors.Is(err, ErrInsufficientBalance) }

// IsStepViolation 判断是否步进违规。
func IsStepViolation(err error) bool { return errors.Is(err, ErrStepViolation) }

// IsTransient 判断是否瞬时错误。
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }
