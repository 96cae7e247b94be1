package oscillator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kraken-assistant/internal/config"
	"kraken-assistant/internal/exchange"
	"kraken-assistant/internal/execution"
)

var adaEUR = exchange.Pair{Base: "ADA", Quote: "EUR"}

func testConfig(live bool) config.OscillatorConfig {
	return config.OscillatorConfig{
		Pair:       "ADAEUR",
		Timeframe:  "1m",
		Period:     14,
		Oversold:   30,
		Overbought: 70,
		Volume:     1,
		Interval:   time.Minute,
		Live:       live,
	}
}

type staticCandles struct {
	candles []exchange.Candle
	err     error
}

func (s staticCandles) GetCandles(ctx context.Context, pair exchange.Pair, timeframe string, limit int64) ([]exchange.Candle, error) {
	return s.candles, s.err
}

type recordingTrader struct {
	sides []exchange.Side
}

func (r *recordingTrader) Execute(ctx context.Context, pair exchange.Pair, volume float64, side exchange.Side) (execution.Fill, error) {
	r.sides = append(r.sides, side)
	return execution.Fill{Pair: pair, Side: side, Volume: volume, OrderIDs: []string{"O1"}}, nil
}

func trend(step float64) []exchange.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]exchange.Candle, 40)
	for i := range out {
		c := 1 + step*float64(i)
		out[i] = exchange.Candle{Timestamp: start.Add(time.Duration(i) * time.Minute), Close: c, Open: c, High: c, Low: c}
	}
	return out
}

func TestThresholds_Evaluate(t *testing.T) {
	th := Thresholds{Oversold: 30, Overbought: 70}
	assert.Equal(t, SignalBuy, th.Evaluate(29.9))
	assert.Equal(t, SignalNone, th.Evaluate(30))
	assert.Equal(t, SignalNone, th.Evaluate(70))
	assert.Equal(t, SignalSell, th.Evaluate(70.1))
}

func TestRunnerStep_RecommendOnly(t *testing.T) {
	runner, err := NewRunner(testConfig(false), adaEUR, staticCandles{candles: trend(-0.01)}, nil, nil)
	require.NoError(t, err)

	tick, err := runner.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SignalBuy, tick.Signal)
	assert.False(t, tick.Executed)
}

func TestRunnerStep_LiveExecutes(t *testing.T) {
	trader := &recordingTrader{}
	runner, err := NewRunner(testConfig(true), adaEUR, staticCandles{candles: trend(0.01)}, trader, nil)
	require.NoError(t, err)

	tick, err := runner.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SignalSell, tick.Signal)
	assert.True(t, tick.Executed)
	assert.Equal(t, []exchange.Side{exchange.SideSell}, trader.sides)
}

func TestRunnerStep_PropagatesUnavailable(t *testing.T) {
	runner, err := NewRunner(testConfig(false), adaEUR, staticCandles{err: exchange.ErrUnavailable}, nil, nil)
	require.NoError(t, err)

	_, err = runner.Step(context.Background())
	assert.True(t, errors.Is(err, exchange.ErrUnavailable))
}

func TestNewRunner_LiveRequiresTrader(t *testing.T) {
	_, err := NewRunner(testConfig(true), adaEUR, staticCandles{}, nil, nil)
	assert.Error(t, err)
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	runner, err := NewRunner(testConfig(false), adaEUR, staticCandles{err: exchange.ErrUnavailable}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, runner.Run(ctx), context.Canceled)
}
