package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"kraken-assistant/internal/exchange"
)

type orderSubmitter interface {
	SubmitOrder(ctx context.Context, pair exchange.Pair, volume float64, side exchange.Side) (exchange.OrderAck, error)
}

// Executor 将交易意图转化为交易所市价单。下单不重试，失败由下一轮重新评估。
type Executor struct {
	client orderSubmitter
	logger *zap.Logger
}

// NewExecutor 创建执行器。
func NewExecutor(client orderSubmitter, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		client: client,
		logger: logger,
	}
}

// Execute 提交市价单并返回成交结果。
func (e *Executor) Execute(ctx context.Context, pair exchange.Pair, volume float64, side exchange.Side) (Fill, error) {
	if err := validateOrder(volume, side); err != nil {
		return Fill{}, &Failure{Pair: pair, Side: side, Volume: volume, Err: err}
	}

	ack, err := e.client.SubmitOrder(ctx, pair, volume, side)
	if err != nil {
		e.logger.Warn("订单执行失败",
			zap.String("pair", pair.String()),
			zap.String("side", string(side)),
			zap.Float64("volume", volume),
			zap.Error(err),
		)
		return Fill{}, &Failure{Pair: pair, Side: side, Volume: volume, Err: err}
	}
	if len(ack.OrderIDs) == 0 {
		return Fill{}, &Failure{Pair: pair, Side: side, Volume: volume, Err: errors.New("交易所未返回订单号")}
	}

	fill := Fill{
		Pair:       pair,
		Side:       side,
		Volume:     volume,
		OrderIDs:   ack.OrderIDs,
		ExecutedAt: time.Now().UTC(),
	}
	if ack.Filled > 0 {
		fill.Volume = ack.Filled
	}
	if ack.Average > 0 {
		fill.Price = ack.Average
		fill.PriceReported = true
	}

	e.logger.Info("订单已确认",
		zap.String("pair", pair.String()),
		zap.String("side", string(side)),
		zap.Float64("volume", fill.Volume),
		zap.Strings("order_ids", fill.OrderIDs),
		zap.Bool("price_reported", fill.PriceReported),
	)
	return fill, nil
}

func validateOrder(volume float64, side exchange.Side) error {
	if side != exchange.SideBuy && side != exchange.SideSell {
		return fmt.Errorf("%w: %q", exchange.ErrInvalidSide, side)
	}
	if !(volume > 0) || math.IsInf(volume, 0) {
		return fmt.Errorf("下单数量必须为有限正数, volume=%v", volume)
	}
	return nil
}
