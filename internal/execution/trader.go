package execution

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kraken-assistant/internal/exchange"
)

// Trader 抽象执行器接口，方便切换真实或模拟下单。
type Trader interface {
	Execute(ctx context.Context, pair exchange.Pair, volume float64, side exchange.Side) (Fill, error)
}

var (
	_ Trader = (*Executor)(nil)
	_ Trader = (*SimulatedExecutor)(nil)
)

// SimulatedExecutor 按当前行情价即时成交，不向交易所发送订单。
type SimulatedExecutor struct {
	prices exchange.PriceSource
	logger *zap.Logger
}

// NewSimulatedExecutor 创建模拟执行器。
func NewSimulatedExecutor(prices exchange.PriceSource, logger *zap.Logger) *SimulatedExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulatedExecutor{prices: prices, logger: logger}
}

// Execute 以最新价格模拟成交，价格不可用时视为执行失败。
func (s *SimulatedExecutor) Execute(ctx context.Context, pair exchange.Pair, volume float64, side exchange.Side) (Fill, error) {
	if err := validateOrder(volume, side); err != nil {
		return Fill{}, &Failure{Pair: pair, Side: side, Volume: volume, Err: err}
	}

	price, err := s.prices.GetPrice(ctx, pair)
	if err != nil {
		return Fill{}, &Failure{Pair: pair, Side: side, Volume: volume, Err: err}
	}

	fill := Fill{
		Pair:          pair,
		Side:          side,
		Volume:        volume,
		Price:         price,
		PriceReported: true,
		OrderIDs:      []string{"SIM-" + uuid.NewString()},
		Simulated:     true,
		ExecutedAt:    time.Now().UTC(),
	}
	s.logger.Info("模拟成交",
		zap.String("pair", pair.String()),
		zap.String("side", string(side)),
		zap.Float64("volume", volume),
		zap.Float64("price", price),
	)
	return fill, nil
}
