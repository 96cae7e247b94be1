package oscillator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kraken-assistant/internal/config"
	"kraken-assistant/internal/exchange"
	"kraken-assistant/internal/execution"
	"kraken-assistant/internal/indicator"
)

const candleLimit = 720

type candleSource interface {
	GetCandles(ctx context.Context, pair exchange.Pair, timeframe string, limit int64) ([]exchange.Candle, error)
}

// Tick 为单次评估结果。
type Tick struct {
	Pair     exchange.Pair
	RSI      float64
	Close    float64
	Signal   Signal
	Executed bool
	Fill     *execution.Fill
}

// Runner 按固定周期拉取K线、计算 RSI 并给出买卖建议，live 模式下直接下单。
type Runner struct {
	cfg        config.OscillatorConfig
	pair       exchange.Pair
	candles    candleSource
	trader     execution.Trader
	calculator *indicator.Calculator
	thresholds Thresholds
	logger     *zap.Logger
}

// NewRunner 创建振荡器。trader 为 nil 时仅给出建议。
func NewRunner(cfg config.OscillatorConfig, pair exchange.Pair, candles candleSource, trader execution.Trader, logger *zap.Logger) (*Runner, error) {
	if candles == nil {
		return nil, errors.New("oscillator: 行情来源不能为空")
	}
	if cfg.Live && trader == nil {
		return nil, errors.New("oscillator: live 模式需要执行器")
	}
	if cfg.Oversold >= cfg.Overbought {
		return nil, fmt.Errorf("oscillator: 超卖阈值 %.2f 必须小于超买阈值 %.2f", cfg.Oversold, cfg.Overbought)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1m"
	}

	return &Runner{
		cfg:        cfg,
		pair:       pair,
		candles:    candles,
		trader:     trader,
		calculator: indicator.NewCalculator(cfg.Period),
		thresholds: Thresholds{Oversold: cfg.Oversold, Overbought: cfg.Overbought},
		logger:     logger.With(zap.String("pair", pair.String())),
	}, nil
}

// Run 阻塞运行直到 ctx 取消。单次失败只记录日志，等待下一个周期。
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("RSI 振荡器启动",
		zap.Duration("interval", r.cfg.Interval),
		zap.String("timeframe", r.cfg.Timeframe),
		zap.Bool("live", r.cfg.Live),
	)

	for {
		if _, err := r.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("振荡器本轮失败", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			r.logger.Info("RSI 振荡器退出")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Step 执行一次评估。
func (r *Runner) Step(ctx context.Context) (Tick, error) {
	candles, err := r.candles.GetCandles(ctx, r.pair, r.cfg.Timeframe, candleLimit)
	if err != nil {
		return Tick{}, err
	}
	result, err := r.calculator.Compute(r.cfg.Timeframe, candles)
	if err != nil {
		return Tick{}, err
	}

	tick := Tick{
		Pair:   r.pair,
		RSI:    result.RSI,
		Close:  result.Close,
		Signal: r.thresholds.Evaluate(result.RSI),
	}
	r.logger.Info("当前 RSI",
		zap.Float64("rsi", tick.RSI),
		zap.Float64("close", tick.Close),
		zap.String("signal", string(tick.Signal)),
	)

	if tick.Signal == SignalNone {
		return tick, nil
	}
	if !r.cfg.Live {
		r.logger.Info("振荡器建议", zap.String("recommendation", string(tick.Signal)), zap.Float64("volume", r.cfg.Volume))
		return tick, nil
	}

	side := exchange.SideBuy
	if tick.Signal == SignalSell {
		side = exchange.SideSell
	}
	fill, err := r.trader.Execute(ctx, r.pair, r.cfg.Volume, side)
	if err != nil {
		return tick, err
	}
	tick.Executed = true
	tick.Fill = &fill
	return tick, nil
}
