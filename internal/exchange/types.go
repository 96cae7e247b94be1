package exchange

import (
	"fmt"
	"strings"
	"time"
)

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide 解析用户输入的方向，大小写不敏感。
func ParseSide(raw string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(raw))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, raw)
	}
}

// ccxt 使用的通用币种代码与 Kraken 原生代码不同。
var commonCodes = map[string]string{
	"XBT": "BTC",
	"XDG": "DOGE",
}

// Pair 表示基础资产与计价货币的组合，例如 ADA/EUR。
type Pair struct {
	Base  string
	Quote string
}

// ParsePair 解析 "ADAEUR" 或 "ADA/EUR"，无分隔符时按计价货币后缀拆分。
func ParsePair(raw, quote string) (Pair, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	quote = strings.ToUpper(strings.TrimSpace(quote))

	var base string
	switch {
	case strings.Contains(s, "/"):
		parts := strings.SplitN(s, "/", 2)
		base, quote = parts[0], parts[1]
	case quote != "" && strings.HasSuffix(s, quote) && len(s) > len(quote):
		base = strings.TrimSuffix(s, quote)
	default:
		return Pair{}, fmt.Errorf("%w: %q", ErrInvalidPair, raw)
	}

	base = strings.TrimSpace(base)
	quote = strings.TrimSpace(quote)
	if base == "" || quote == "" {
		return Pair{}, fmt.Errorf("%w: %q", ErrInvalidPair, raw)
	}

	return Pair{Base: commonCode(base), Quote: commonCode(quote)}, nil
}

// String 返回无分隔符形式，例如 ADAEUR。
func (p Pair) String() string {
	return p.Base + p.Quote
}

// Symbol 返回 ccxt 统一符号，例如 ADA/EUR。
func (p Pair) Symbol() string {
	return p.Base + "/" + p.Quote
}

func commonCode(code string) string {
	if mapped, ok := commonCodes[code]; ok {
		return mapped
	}
	return code
}

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Trade 为账户历史成交记录。
type Trade struct {
	ID        string
	OrderID   string
	Pair      string
	Side      Side
	Price     float64
	Volume    float64
	Timestamp time.Time
}

// OrderAck 为下单请求的即时回执。Kraken 通常只返回订单号，成交价格稍后才可查询。
type OrderAck struct {
	OrderIDs []string
	Status   string
	Filled   float64
	Average  float64
}
