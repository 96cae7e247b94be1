package indicator

import (
	"errors"
	"fmt"
	"math"
	"sync"

	talib "github.com/markcheno/go-talib"

	"kraken-assistant/internal/exchange"
)

// ErrInsufficientData 表示K线数量不足以计算指标。
var ErrInsufficientData = errors.New("indicator: insufficient candles")

// Result 为一次指标计算的汇总。
type Result struct {
	Timeframe     string
	Period        int
	Series        Series
	RSI           float64
	PrevRSI       float64
	Close         float64
	PreviousClose float64
}

type cacheEntry struct {
	key    string
	result Result
}

// Calculator 计算 RSI 并按周期缓存最近一次结果。
type Calculator struct {
	period int

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewCalculator 创建 Calculator，period 非正数时使用 14。
func NewCalculator(period int) *Calculator {
	if period <= 0 {
		period = 14
	}
	return &Calculator{
		period: period,
		cache:  make(map[string]cacheEntry),
	}
}

// Compute 依据给定K线计算 RSI。
func (c *Calculator) Compute(timeframe string, candles []exchange.Candle) (Result, error) {
	if len(candles) <= c.period {
		return Result{}, fmt.Errorf("%w: 需要至少 %d 根K线，实际 %d", ErrInsufficientData, c.period+1, len(candles))
	}

	series := NewSeries(candles)
	cacheKey := series.key(timeframe)

	c.mu.Lock()
	if entry, ok := c.cache[timeframe]; ok && entry.key == cacheKey {
		c.mu.Unlock()
		return entry.result, nil
	}
	c.mu.Unlock()

	rsi := RSI(series.Close, c.period)
	last := Last(rsi)
	if math.IsNaN(last) || math.IsInf(last, 0) {
		return Result{}, fmt.Errorf("%w: RSI 结果无效", ErrInsufficientData)
	}

	result := Result{
		Timeframe:     timeframe,
		Period:        c.period,
		Series:        series,
		RSI:           last,
		PrevRSI:       Prev(rsi),
		Close:         Last(series.Close),
		PreviousClose: Prev(series.Close),
	}

	c.mu.Lock()
	c.cache[timeframe] = cacheEntry{key: cacheKey, result: result}
	c.mu.Unlock()

	return result, nil
}

// RSI 返回 Wilder 平滑的相对强弱指数序列，前 period 个值为 0。
func RSI(closes []float64, period int) []float64 {
	if len(closes) <= period || period < 2 {
		return nil
	}
	return talib.Rsi(closes, period)
}
