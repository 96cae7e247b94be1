package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sort"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"kraken-assistant/internal/config"
)

const defaultDustThreshold = 0.0001

// krakenAPI 为客户端实际用到的 ccxt 方法子集。
type krakenAPI interface {
	FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error)
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
	FetchMyTrades(options ...ccxt.FetchMyTradesOptions) ([]ccxt.Trade, error)
	FetchOHLCV(symbol string, options ...ccxt.FetchOHLCVOptions) ([]ccxt.OHLCV, error)
	CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error)
}

// Client 负责与 Kraken 交互：只读调用带重试，所有失败统一归类为 ErrUnavailable。
type Client struct {
	cfg     config.ExchangeConfig
	logger  *zap.Logger
	api     krakenAPI
	limiter *rate.Limiter
	dust    float64
}

// NewClient 构造 Kraken 客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.Timeout > 0 {
		userConfig["timeout"] = cfg.Timeout.Milliseconds()
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewKraken(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return newClient(cfg, ex, logger), nil
}

func newClient(cfg config.ExchangeConfig, api krakenAPI, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	dust := cfg.DustThreshold
	if dust <= 0 {
		dust = defaultDustThreshold
	}

	return &Client{
		cfg:     cfg,
		logger:  logger,
		api:     api,
		limiter: rate.NewLimiter(limit, burst),
		dust:    dust,
	}
}

// QuoteCurrency 返回配置的计价货币。
func (c *Client) QuoteCurrency() string {
	return c.cfg.QuoteCurrency
}

// GetPrice 返回交易对最新成交价（缺失时使用收盘价）。
func (c *Client) GetPrice(ctx context.Context, pair Pair) (float64, error) {
	var ticker ccxt.Ticker
	err := c.callWithRetry(ctx, "fetch_ticker", func() error {
		result, err := c.api.FetchTicker(pair.Symbol())
		if err != nil {
			return err
		}
		ticker = result
		return nil
	})
	if err != nil {
		return 0, unavailable("fetch_ticker", pair, err)
	}

	price := derefFloat(ticker.Last)
	if price <= 0 {
		price = derefFloat(ticker.Close)
	}
	if price <= 0 {
		return 0, unavailable("fetch_ticker", pair, errors.New("行情缺少有效价格"))
	}
	return price, nil
}

// GetTradeHistory 返回交易对的历史成交，按时间倒序排列。
func (c *Client) GetTradeHistory(ctx context.Context, pair Pair) ([]Trade, error) {
	var raw []ccxt.Trade
	err := c.callWithRetry(ctx, "fetch_my_trades", func() error {
		result, err := c.api.FetchMyTrades(ccxt.WithFetchMyTradesSymbol(pair.Symbol()))
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, unavailable("fetch_my_trades", pair, err)
	}

	trades := make([]Trade, 0, len(raw))
	for _, item := range raw {
		side, sideErr := ParseSide(derefString(item.Side))
		if sideErr != nil {
			c.logger.Debug("忽略方向未知的成交", zap.String("pair", pair.String()), zap.String("side", derefString(item.Side)))
			continue
		}
		var ts time.Time
		if item.Timestamp != nil {
			ts = time.UnixMilli(*item.Timestamp).UTC()
		}
		trades = append(trades, Trade{
			ID:        derefString(item.Id),
			OrderID:   derefString(item.Order),
			Pair:      strings.ReplaceAll(strings.ToUpper(derefString(item.Symbol)), "/", ""),
			Side:      side,
			Price:     derefFloat(item.Price),
			Volume:    derefFloat(item.Amount),
			Timestamp: ts,
		})
	}

	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp.After(trades[j].Timestamp)
	})
	return trades, nil
}

// GetBalance 返回可用余额，低于粉尘阈值的资产被过滤。assets 为空时返回全部资产。
func (c *Client) GetBalance(ctx context.Context, assets ...string) (map[string]float64, error) {
	var balances ccxt.Balances
	err := c.callWithRetry(ctx, "fetch_balance", func() error {
		result, err := c.api.FetchBalance()
		if err != nil {
			return err
		}
		balances = result
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fetch_balance: %w", ErrUnavailable, err)
	}
	if balances.Free == nil && balances.Total == nil {
		return nil, fmt.Errorf("%w: fetch_balance: 余额响应为空", ErrUnavailable)
	}

	wanted := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		wanted[commonCode(strings.ToUpper(strings.TrimSpace(a)))] = struct{}{}
	}

	result := make(map[string]float64)
	codes := make(map[string]struct{})
	for code := range balances.Total {
		codes[code] = struct{}{}
	}
	for code := range balances.Free {
		codes[code] = struct{}{}
	}

	for code := range codes {
		key := commonCode(strings.ToUpper(code))
		if len(wanted) > 0 {
			if _, ok := wanted[key]; !ok {
				continue
			}
		}
		amount, ok := pickAmount(balances.Free, code)
		if !ok {
			amount, ok = pickAmount(balances.Total, code)
		}
		if !ok || amount < c.dust {
			continue
		}
		result[key] = amount
	}

	c.logger.Debug("余额查询完成", zap.Int("assets", len(result)))
	return result, nil
}

// GetCandles 获取指定周期的K线数据。
func (c *Client) GetCandles(ctx context.Context, pair Pair, timeframe string, limit int64) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}

	var raw []ccxt.OHLCV
	err := c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
		result, err := c.api.FetchOHLCV(
			pair.Symbol(),
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(limit),
		)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, unavailable("fetch_ohlcv", pair, err)
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})

	return candles, nil
}

// SubmitOrder 提交市价单。下单不重试，结果不确定时由调用方决定后续处理。
func (c *Client) SubmitOrder(ctx context.Context, pair Pair, volume float64, side Side) (OrderAck, error) {
	if side != SideBuy && side != SideSell {
		return OrderAck{}, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	if !(volume > 0) || math.IsInf(volume, 0) {
		return OrderAck{}, fmt.Errorf("exchange: 下单数量必须为有限正数, volume=%v", volume)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return OrderAck{}, fmt.Errorf("exchange: 等待限流失败: %w", err)
	}

	var order ccxt.Order
	err := safeCall(func() error {
		result, err := c.api.CreateMarketOrder(pair.Symbol(), string(side), volume)
		if err != nil {
			return err
		}
		order = result
		return nil
	})
	if err != nil {
		normalized, _ := c.classifyError(err)
		c.logger.Error("下单失败",
			zap.String("pair", pair.String()),
			zap.String("side", string(side)),
			zap.Float64("volume", volume),
			zap.Error(normalized),
		)
		return OrderAck{}, normalized
	}

	ack := OrderAck{
		Status:  derefString(order.Status),
		Filled:  derefFloat(order.Filled),
		Average: derefFloat(order.Average),
	}
	if ack.Average <= 0 {
		ack.Average = derefFloat(order.Price)
	}
	if id := derefString(order.Id); id != "" {
		ack.OrderIDs = strings.Split(id, ",")
	}

	c.logger.Info("下单已提交",
		zap.String("pair", pair.String()),
		zap.String("side", string(side)),
		zap.Float64("volume", volume),
		zap.Strings("order_ids", ack.OrderIDs),
	)
	return ack, nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		attempt++
		start := time.Now()
		err := safeCall(fn)
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := c.classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= maxAttempts {
			c.logger.Warn("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Client) classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		default:
			return err, IsRetryable(err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}

// safeCall 将 ccxt 内部的 panic 转换为错误，避免异常响应击穿调用方。
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("exchange: 响应处理异常: %v", r)
		}
	}()
	return fn()
}

func unavailable(operation string, pair Pair, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, operation, pair.String(), err)
}

func pickAmount(values map[string]*float64, code string) (float64, bool) {
	if values == nil {
		return 0, false
	}
	v, ok := values[code]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
