package indicator

import (
	"fmt"
	"math"
	"time"

	"kraken-assistant/internal/exchange"
)

// Series 为按时间升序排列的收盘价序列，RSI 只依赖收盘价。
type Series struct {
	Timestamps []time.Time
	Close      []float64
}

// NewSeries 从交易所K线提取收盘价。
func NewSeries(candles []exchange.Candle) Series {
	series := Series{
		Timestamps: make([]time.Time, len(candles)),
		Close:      make([]float64, len(candles)),
	}
	for i, candle := range candles {
		series.Timestamps[i] = candle.Timestamp.UTC()
		series.Close[i] = candle.Close
	}
	return series
}

// Len 返回序列长度。
func (s Series) Len() int {
	return len(s.Close)
}

// key 标识一段序列：K线数量与最后一根K线的时间相同即视为未变化。
func (s Series) key(timeframe string) string {
	var last int64
	if n := len(s.Timestamps); n > 0 {
		last = s.Timestamps[n-1].Unix()
	}
	return fmt.Sprintf("%s:%d:%d", timeframe, s.Len(), last)
}

// Last 返回最后一个值，空序列返回 NaN。
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// Prev 返回倒数第二个值，不足两个时返回 NaN。
func Prev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	return values[len(values)-2]
}
