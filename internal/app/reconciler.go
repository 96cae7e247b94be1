package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kraken-assistant/internal/decision"
	"kraken-assistant/internal/exchange"
	"kraken-assistant/internal/execution"
	"kraken-assistant/internal/favorites"
	"kraken-assistant/internal/metrics"
	"kraken-assistant/internal/monitor"
	"kraken-assistant/internal/position"
)

var (
	// ErrCycleInProgress 表示已有对账或手工交易正在进行。
	ErrCycleInProgress = errors.New("reconciliation cycle already in progress")
	// ErrInvalidVolume 表示手工交易数量不是正数。
	ErrInvalidVolume = errors.New("trade volume must be positive")
	// ErrPriceUnknown 表示订单已成交但无法确定成交价，账本未更新。
	ErrPriceUnknown = errors.New("fill price unknown")
)

// State 为对账循环所处阶段。
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateDeciding
	StateExecuting
	StateUpdating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDeciding:
		return "deciding"
	case StateExecuting:
		return "executing"
	case StateUpdating:
		return "updating"
	default:
		return "unknown"
	}
}

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// Gateway 为对账与报表所需的交易所读能力。
type Gateway interface {
	GetPrice(ctx context.Context, pair exchange.Pair) (float64, error)
	GetBalance(ctx context.Context, assets ...string) (map[string]float64, error)
	GetTradeHistory(ctx context.Context, pair exchange.Pair) ([]exchange.Trade, error)
}

// Journal 记录对账事件，写入失败不影响交易流程。
type Journal interface {
	RecordCycle(ctx context.Context, cycleID string, summary monitor.CyclePayload)
	RecordDecision(ctx context.Context, cycleID string, intent decision.Intent, price, quoteBalance float64)
	RecordExecution(ctx context.Context, cycleID string, fill execution.Fill)
	RecordExecutionFailure(ctx context.Context, cycleID string, failure *execution.Failure)
	RecordError(ctx context.Context, cycleID, msg string, err error, ctxMap map[string]interface{})
}

// PairOutcome 为单个交易对在一轮对账中的结果。
type PairOutcome struct {
	Pair     string          `json:"pair"`
	Stage    string          `json:"stage"`
	Action   decision.Action `json:"action,omitempty"`
	Volume   float64         `json:"volume,omitempty"`
	Price    float64         `json:"price,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Executed bool            `json:"executed"`
	Skipped  bool            `json:"skipped"`
	Error    string          `json:"error,omitempty"`
}

// CycleReport 为一轮对账的汇总。
type CycleReport struct {
	CycleID   string        `json:"cycle_id"`
	Trigger   string        `json:"trigger"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Pairs     []PairOutcome `json:"pairs"`
}

type reconciler struct {
	gateway   Gateway
	market    *exchange.MarketDataService
	trader    execution.Trader
	ledger    *position.Ledger
	favorites *favorites.Set
	strategy  decision.Config
	quote     string
	journal   Journal
	metrics   *metrics.Collector
	logger    *zap.Logger

	guard sync.Mutex
	state atomic.Int32

	pricesMu   sync.Mutex
	lastPrices map[string]observation
	priceTTL   time.Duration
}

// observation 为某交易对最近一次观测到的价格。
type observation struct {
	price float64
	at    time.Time
}

func (r *reconciler) State() State {
	return State(r.state.Load())
}

func (r *reconciler) setState(s State) {
	r.state.Store(int32(s))
}

// runCycle 依次处理每个自选交易对。单个交易对的失败或 panic 只会跳过该交易对。
func (r *reconciler) runCycle(ctx context.Context, trigger string) (CycleReport, error) {
	if !r.guard.TryLock() {
		return CycleReport{}, ErrCycleInProgress
	}
	defer r.guard.Unlock()
	defer r.setState(StateIdle)

	report := CycleReport{
		CycleID:   uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}
	logger := r.logger.With(zap.String("cycle_id", report.CycleID), zap.String("trigger", trigger))
	r.metrics.CycleStarted(report.StartedAt)

	pairs := r.favorites.List()
	logger.Info("开始对账", zap.Int("pairs", len(pairs)))

	quotes := r.prefetchQuotes(ctx, pairs)

	for _, raw := range pairs {
		if ctx.Err() != nil {
			break
		}
		report.Pairs = append(report.Pairs, r.reconcilePair(ctx, logger, report.CycleID, raw, quotes))
	}

	report.Duration = time.Since(report.StartedAt)
	summary := monitor.CyclePayload{
		Trigger:   trigger,
		Pairs:     len(report.Pairs),
		Duration:  report.Duration,
		StartedAt: report.StartedAt,
	}
	for _, p := range report.Pairs {
		switch {
		case p.Executed:
			summary.Executed++
		case p.Error != "" && p.Stage != StateFetching.String():
			summary.Failed++
		case p.Skipped:
			summary.Skipped++
		}
	}

	outcome := "ok"
	if ctx.Err() != nil {
		outcome = "canceled"
	} else if summary.Failed > 0 {
		outcome = "partial"
	}
	r.metrics.CycleFinished(trigger, outcome, report.Duration)
	r.metrics.OpenPositions(len(r.ledger.Symbols()))
	r.journal.RecordCycle(ctx, report.CycleID, summary)

	logger.Info("对账完成",
		zap.Int("pairs", summary.Pairs),
		zap.Int("executed", summary.Executed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", report.Duration),
	)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// prefetchQuotes 并发获取本轮全部可解析交易对的价格。
func (r *reconciler) prefetchQuotes(ctx context.Context, raw []string) map[string]exchange.Quote {
	r.setState(StateFetching)

	pairs := make([]exchange.Pair, 0, len(raw))
	for _, p := range raw {
		if pair, err := exchange.ParsePair(p, r.quote); err == nil {
			pairs = append(pairs, pair)
		}
	}

	quotes := make(map[string]exchange.Quote, len(pairs))
	for _, q := range r.market.Quotes(ctx, pairs) {
		quotes[q.Pair.String()] = q
	}
	return quotes
}

func (r *reconciler) reconcilePair(ctx context.Context, logger *zap.Logger, cycleID, raw string, quotes map[string]exchange.Quote) (out PairOutcome) {
	out = PairOutcome{Pair: raw}

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic: %v", rec)
			out.Skipped = true
			out.Error = err.Error()
			logger.Error("交易对处理异常",
				zap.String("pair", raw),
				zap.String("stage", out.Stage),
				zap.Error(err),
				zap.ByteString("stack", debug.Stack()),
			)
			r.journal.RecordError(ctx, cycleID, "交易对处理异常", err, map[string]interface{}{"pair": raw, "stage": out.Stage})
		}
	}()

	fail := func(stage State, msg string, err error) PairOutcome {
		out.Stage = stage.String()
		out.Skipped = true
		out.Error = err.Error()
		logger.Warn(msg,
			zap.String("pair", raw),
			zap.String("stage", out.Stage),
			zap.Error(err),
		)
		r.metrics.PairSkipped(out.Stage)
		r.journal.RecordError(ctx, cycleID, msg, err, map[string]interface{}{"pair": raw, "stage": out.Stage})
		return out
	}

	r.setState(StateFetching)
	out.Stage = StateFetching.String()

	pair, err := exchange.ParsePair(raw, r.quote)
	if err != nil {
		return fail(StateFetching, "交易对无法解析，跳过", err)
	}
	out.Pair = pair.String()

	quote, ok := quotes[pair.String()]
	if !ok {
		return fail(StateFetching, "价格不可用，跳过交易对", fmt.Errorf("%w: %s 未获取行情", exchange.ErrUnavailable, pair.String()))
	}
	if quote.Err != nil {
		return fail(StateFetching, "价格不可用，跳过交易对", quote.Err)
	}
	price := quote.Price
	out.Price = price
	r.rememberPrice(pair, price, quote.RetrievedAt)

	balances, err := r.gateway.GetBalance(ctx, pair.Quote)
	if err != nil {
		return fail(StateFetching, "余额不可用，跳过交易对", err)
	}
	quoteBalance := balances[pair.Quote]

	r.setState(StateDeciding)
	out.Stage = StateDeciding.String()

	input := decision.Input{
		Pair:             pair.String(),
		Price:            price,
		PriceAvailable:   true,
		QuoteBalance:     quoteBalance,
		BalanceAvailable: true,
	}
	if pos, ok := r.ledger.Get(pair.Base); ok {
		input.Position = &pos
	}

	intent := decision.Decide(r.strategy, input)
	out.Action = intent.Action
	out.Volume = intent.Volume
	out.Reason = intent.Reason
	r.metrics.Decision(string(intent.Action))
	r.journal.RecordDecision(ctx, cycleID, intent, price, quoteBalance)

	logger.Debug("决策完成",
		zap.String("pair", out.Pair),
		zap.String("action", string(intent.Action)),
		zap.Float64("price", price),
		zap.Float64("quote_balance", quoteBalance),
		zap.String("reason", intent.Reason),
	)

	if intent.Action == decision.ActionHold {
		return out
	}

	side := exchange.SideBuy
	if intent.Action == decision.ActionSell {
		side = exchange.SideSell
	}

	r.setState(StateExecuting)
	out.Stage = StateExecuting.String()

	if _, err := r.executeAndRecord(ctx, logger, cycleID, pair, intent.Volume, side); err != nil {
		out.Error = err.Error()
		var failure *execution.Failure
		if errors.As(err, &failure) {
			return out
		}
		out.Stage = StateUpdating.String()
		return out
	}

	out.Stage = StateUpdating.String()
	out.Executed = true
	return out
}

// executeAndRecord 下单并将成交计入账本。执行失败时账本保持不变。
func (r *reconciler) executeAndRecord(ctx context.Context, logger *zap.Logger, cycleID string, pair exchange.Pair, volume float64, side exchange.Side) (execution.Fill, error) {
	fill, err := r.trader.Execute(ctx, pair, volume, side)
	if err != nil {
		r.metrics.Order(string(side), "failed")
		var failure *execution.Failure
		if errors.As(err, &failure) {
			r.journal.RecordExecutionFailure(ctx, cycleID, failure)
		} else {
			r.journal.RecordError(ctx, cycleID, "订单执行异常", err, map[string]interface{}{"pair": pair.String(), "stage": StateExecuting.String()})
		}
		logger.Error("订单执行失败",
			zap.String("pair", pair.String()),
			zap.String("stage", StateExecuting.String()),
			zap.String("side", string(side)),
			zap.Float64("volume", volume),
			zap.Error(err),
		)
		return execution.Fill{}, err
	}
	r.metrics.Order(string(side), "filled")

	// 订单已成交，之后的记账不再受调用方取消影响。
	ctx = context.WithoutCancel(ctx)
	r.journal.RecordExecution(ctx, cycleID, fill)

	r.setState(StateUpdating)

	price := fill.Price
	if !fill.PriceReported || price <= 0 {
		observed, ok := r.observedPrice(ctx, pair)
		if !ok {
			err := fmt.Errorf("%w: %s 订单 %v", ErrPriceUnknown, pair.String(), fill.OrderIDs)
			r.journal.RecordError(ctx, cycleID, "成交价未知，账本未更新", err, map[string]interface{}{"pair": pair.String(), "stage": StateUpdating.String()})
			logger.Error("成交价未知，账本未更新", zap.String("pair", pair.String()), zap.Error(err))
			return fill, err
		}
		price = observed
		fill.Price = observed
	}

	posSide := position.SideBuy
	if side == exchange.SideSell {
		posSide = position.SideSell
	}
	if _, err := r.ledger.Apply(ctx, position.Fill{
		Symbol:   pair.Base,
		Side:     posSide,
		Quantity: fill.Volume,
		Price:    price,
	}); err != nil {
		r.journal.RecordError(ctx, cycleID, "账本更新失败", err, map[string]interface{}{"pair": pair.String(), "stage": StateUpdating.String()})
		logger.Error("账本更新失败",
			zap.String("pair", pair.String()),
			zap.String("stage", StateUpdating.String()),
			zap.Error(err),
		)
		return fill, err
	}
	return fill, nil
}

// manualTrade 与对账共用同一把锁，避免与进行中的循环交错修改账本。
func (r *reconciler) manualTrade(ctx context.Context, pair exchange.Pair, volume float64, side exchange.Side) (execution.Fill, error) {
	if !r.guard.TryLock() {
		return execution.Fill{}, ErrCycleInProgress
	}
	defer r.guard.Unlock()
	defer r.setState(StateIdle)

	cycleID := uuid.NewString()
	logger := r.logger.With(zap.String("cycle_id", cycleID), zap.String("trigger", TriggerManual))
	logger.Info("手工交易",
		zap.String("pair", pair.String()),
		zap.String("side", string(side)),
		zap.Float64("volume", volume),
	)

	r.setState(StateExecuting)
	return r.executeAndRecord(ctx, logger, cycleID, pair, volume, side)
}

func (r *reconciler) rememberPrice(pair exchange.Pair, price float64, at time.Time) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	r.pricesMu.Lock()
	defer r.pricesMu.Unlock()
	r.lastPrices[pair.String()] = observation{price: price, at: at}
}

// observedPrice 优先使用一个循环间隔内观测到的价格，过期或缺失时重新查询。
func (r *reconciler) observedPrice(ctx context.Context, pair exchange.Pair) (float64, bool) {
	r.pricesMu.Lock()
	obs, ok := r.lastPrices[pair.String()]
	r.pricesMu.Unlock()
	if ok && obs.price > 0 && time.Since(obs.at) <= r.priceTTL {
		return obs.price, true
	}

	price, err := r.gateway.GetPrice(ctx, pair)
	if err != nil || price <= 0 {
		return 0, false
	}
	r.rememberPrice(pair, price, time.Now().UTC())
	return price, true
}

type nopJournal struct{}

func (nopJournal) RecordCycle(context.Context, string, monitor.CyclePayload)                  {}
func (nopJournal) RecordDecision(context.Context, string, decision.Intent, float64, float64)  {}
func (nopJournal) RecordExecution(context.Context, string, execution.Fill)                    {}
func (nopJournal) RecordExecutionFailure(context.Context, string, *execution.Failure)         {}
func (nopJournal) RecordError(context.Context, string, string, error, map[string]interface{}) {}
