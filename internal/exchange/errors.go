package exchange

import (
	"errors"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrUnavailable 表示行情或账户数据暂不可用，调用方应跳过本轮并稍后重试，不能据此修改账本。
	ErrUnavailable = errors.New("exchange data unavailable")
	// ErrMaintenance 表示交易所处于维护状态，需要上层跳过交易。
	ErrMaintenance = errors.New("exchange on maintenance")
	// ErrInvalidPair 表示无法解析交易对。
	ErrInvalidPair = errors.New("invalid trading pair")
	// ErrInvalidSide 表示下单方向既不是 buy 也不是 sell。
	ErrInvalidSide = errors.New("invalid order side")
)

// IsRetryable 判断错误是否可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	return false
}
