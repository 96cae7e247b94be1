package monitor

import (
	"time"

	"kraken-assistant/internal/decision"
	"kraken-assistant/internal/execution"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventCycle            EventType = "cycle"
	EventDecision         EventType = "decision"
	EventExecution        EventType = "execution"
	EventExecutionFailure EventType = "execution_failure"
	EventError            EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	CycleID   string      `json:"cycle_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// CyclePayload 汇总一轮对账。
type CyclePayload struct {
	Trigger   string        `json:"trigger"`
	Pairs     int           `json:"pairs"`
	Skipped   int           `json:"skipped"`
	Executed  int           `json:"executed"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration_ns"`
	StartedAt time.Time     `json:"started_at"`
}

// DecisionPayload 记录决策输入与结果。
type DecisionPayload struct {
	Intent       decision.Intent `json:"intent"`
	Price        float64         `json:"price"`
	QuoteBalance float64         `json:"quote_balance"`
}

// ExecutionPayload 记录确认成交。
type ExecutionPayload struct {
	Pair          string    `json:"pair"`
	Side          string    `json:"side"`
	Volume        float64   `json:"volume"`
	Price         float64   `json:"price"`
	PriceReported bool      `json:"price_reported"`
	OrderIDs      []string  `json:"order_ids"`
	Simulated     bool      `json:"simulated"`
	ExecutedAt    time.Time `json:"executed_at"`
}

// ExecutionFailurePayload 记录被拒绝的订单。
type ExecutionFailurePayload struct {
	Pair   string  `json:"pair"`
	Side   string  `json:"side"`
	Volume float64 `json:"volume"`
	Error  string  `json:"error"`
}

// ErrorPayload 记录异常信息。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func executionPayload(fill execution.Fill) ExecutionPayload {
	return ExecutionPayload{
		Pair:          fill.Pair.String(),
		Side:          string(fill.Side),
		Volume:        fill.Volume,
		Price:         fill.Price,
		PriceReported: fill.PriceReported,
		OrderIDs:      fill.OrderIDs,
		Simulated:     fill.Simulated,
		ExecutedAt:    fill.ExecutedAt,
	}
}
