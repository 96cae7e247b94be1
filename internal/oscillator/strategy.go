package oscillator

// Signal 为振荡器给出的建议。
type Signal string

const (
	SignalBuy  Signal = "buy"
	SignalSell Signal = "sell"
	SignalNone Signal = "none"
)

// Thresholds 为超卖与超买边界，边界值本身不触发信号。
type Thresholds struct {
	Oversold   float64
	Overbought float64
}

// Evaluate 根据 RSI 返回信号。
func (t Thresholds) Evaluate(rsi float64) Signal {
	switch {
	case rsi < t.Oversold:
		return SignalBuy
	case rsi > t.Overbought:
		return SignalSell
	default:
		return SignalNone
	}
}
