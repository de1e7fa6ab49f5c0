package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameters 策略参数非法，创建时被拒绝，不会部分生效
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrBudgetExceeded 表示本次占用会使已占用资金超过预算。
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrUnknownOrder 表示订单 id 不存在或已不在挂单中。
	ErrUnknownOrder = errors.New("unknown order")

	// ErrUnauthorized 表示调用方不在授权列表中。
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStalePrice 表示最新报价超出了有效期。
	ErrStalePrice = errors.New("stale price")

	// ErrLowConfidence 表示报价置信度低于配置的下限。
	ErrLowConfidence = errors.New("low price confidence")

	// ErrAccountingInvariant 表示重复释放或账本将变为负数, 一定是程序错误。
	ErrAccountingInvariant = errors.New("accounting invariant violation")

	// ErrCancelIncomplete 表示至少有一个订单未能在协议中撤销。
	ErrCancelIncomplete = errors.New("cancel incomplete")

	ErrStrategyActive = errors.New("strategy already active")
	ErrInvalidState   = errors.New("invalid strategy state")
)

// ParamError 指明哪个策略字段未通过校验。
type ParamError struct {
	Field  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid parameters [%s]: %s", e.Field, e.Reason)
}

// Unwrap 使 errors.Is(err, ErrInvalidParameters) 成立。
func (e *ParamError) Unwrap() error {
	return ErrInvalidParameters
}

// NewParamError 用格式化的原因构建 ParamError。
func NewParamError(field, format string, args ...interface{}) *ParamError {
	return &ParamError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
