package execution

import (
	"errors"
	"fmt"
	"time"

	"kraken-assistant/internal/exchange"
)

// ErrExecutionFailed 表示交易所拒绝或未确认订单，账本不得因此变更。
var ErrExecutionFailed = errors.New("order execution failed")

// Fill 为已确认订单的成交结果。
type Fill struct {
	Pair          exchange.Pair
	Side          exchange.Side
	Volume        float64
	Price         float64
	PriceReported bool
	OrderIDs      []string
	Simulated     bool
	ExecutedAt    time.Time
}

// Failure 记录一次失败的下单及交易所返回的原始原因。
type Failure struct {
	Pair   exchange.Pair
	Side   exchange.Side
	Volume float64
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s %s %s volume=%v: %v", ErrExecutionFailed, f.Side, f.Pair, f.Volume, f.Err)
}

// Unwrap 使 errors.Is 同时匹配 ErrExecutionFailed 与上游错误。
func (f *Failure) Unwrap() []error {
	return []error{ErrExecutionFailed, f.Err}
}
