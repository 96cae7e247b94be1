package position

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// quantityEpsilon 以下的剩余数量视为已清仓。
const quantityEpsilon = 1e-9

var (
	// ErrInvalidFill 表示成交数量或价格非法。
	ErrInvalidFill = errors.New("position: invalid fill")
	// ErrNoPosition 表示卖出成交对应的资产不在账本中。
	ErrNoPosition = errors.New("position: no open position")
)

// Position 记录单个资产的持仓数量与加权平均成本（计价货币）。
type Position struct {
	Symbol      string  `json:"symbol"`
	Quantity    float64 `json:"quantity"`
	AverageCost float64 `json:"average_cost"`
}

// Value 按给定价格估算持仓价值。
func (p Position) Value(price float64) float64 {
	return p.Quantity * price
}

// NormalizeSymbol 统一资产代码格式。
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ApplyBuy 将一笔买入成交计入持仓并重算加权平均成本。
// existing 为 nil 表示此前没有持仓。
func ApplyBuy(existing *Position, symbol string, quantity, price float64) (Position, error) {
	if err := validateFill(quantity, price); err != nil {
		return Position{}, err
	}

	if existing == nil || existing.Quantity <= quantityEpsilon {
		return Position{
			Symbol:      NormalizeSymbol(symbol),
			Quantity:    quantity,
			AverageCost: price,
		}, nil
	}

	total := existing.Quantity + quantity
	avg := (existing.Quantity*existing.AverageCost + quantity*price) / total

	return Position{
		Symbol:      existing.Symbol,
		Quantity:    total,
		AverageCost: avg,
	}, nil
}

// ApplySell 从持仓中扣减卖出数量，平均成本保持不变。
// 返回的 closed 为 true 时持仓应从账本中删除。卖出数量超过持有量时按清仓处理。
func ApplySell(existing *Position, quantity float64) (Position, bool, error) {
	if existing == nil || existing.Quantity <= quantityEpsilon {
		return Position{}, false, ErrNoPosition
	}
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) || quantity <= 0 {
		return Position{}, false, fmt.Errorf("%w: quantity=%v", ErrInvalidFill, quantity)
	}

	remaining := existing.Quantity - quantity
	if remaining <= quantityEpsilon {
		return Position{Symbol: existing.Symbol}, true, nil
	}

	return Position{
		Symbol:      existing.Symbol,
		Quantity:    remaining,
		AverageCost: existing.AverageCost,
	}, false, nil
}

func validateFill(quantity, price float64) error {
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) || quantity <= 0 {
		return fmt.Errorf("%w: quantity=%v", ErrInvalidFill, quantity)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return fmt.Errorf("%w: price=%v", ErrInvalidFill, price)
	}
	return nil
}
