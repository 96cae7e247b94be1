package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kraken-assistant/internal/exchange"
)

func candlesFromCloses(closes []float64) []exchange.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]exchange.Candle, len(closes))
	for i, c := range closes {
		out[i] = exchange.Candle{Timestamp: start.Add(time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c}
	}
	return out
}

func TestCalculator_RisingSeriesIsOverbought(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 1 + float64(i)*0.01
	}

	result, err := NewCalculator(14).Compute("1m", candlesFromCloses(closes))
	require.NoError(t, err)
	assert.InDelta(t, 100, result.RSI, 1e-9)
	assert.Equal(t, closes[29], result.Close)
}

func TestCalculator_FallingSeriesIsOversold(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 2 - float64(i)*0.01
	}

	result, err := NewCalculator(14).Compute("1m", candlesFromCloses(closes))
	require.NoError(t, err)
	assert.Less(t, result.RSI, 1.0)
}

func TestCalculator_MixedSeriesInRange(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 1 + 0.05*math.Sin(float64(i))
	}

	result, err := NewCalculator(14).Compute("1m", candlesFromCloses(closes))
	require.NoError(t, err)
	assert.Greater(t, result.RSI, 0.0)
	assert.Less(t, result.RSI, 100.0)
}

func TestCalculator_InsufficientCandles(t *testing.T) {
	_, err := NewCalculator(14).Compute("1m", candlesFromCloses(make([]float64, 14)))
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestCalculator_ReportsLastTwoCloses(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = float64(i + 1)
	}

	result, err := NewCalculator(14).Compute("1m", candlesFromCloses(closes))
	require.NoError(t, err)
	assert.Equal(t, 30.0, result.Close)
	assert.Equal(t, 29.0, result.PreviousClose)
	assert.Equal(t, 30, result.Series.Len())
}
