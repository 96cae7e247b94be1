package portfolio

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kraken-assistant/internal/exchange"
)

const reportConcurrency = 4

// Gateway 为报表所需的只读行情能力。
type Gateway interface {
	GetPrice(ctx context.Context, pair exchange.Pair) (float64, error)
	GetTradeHistory(ctx context.Context, pair exchange.Pair) ([]exchange.Trade, error)
	GetBalance(ctx context.Context, assets ...string) (map[string]float64, error)
}

// Row 为单个自选交易对的报表行，指针字段为 nil 表示数据不可用。
type Row struct {
	Pair        string   `json:"pair"`
	Available   *float64 `json:"available,omitempty"`
	MarketPrice *float64 `json:"market_price,omitempty"`
	BuyPrice    *float64 `json:"buy_price,omitempty"`
	Value       *float64 `json:"value,omitempty"`
	Deviation   *float64 `json:"deviation_pct,omitempty"`
}

// Report 汇总持仓报表。
type Report struct {
	Rows        []Row     `json:"rows"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Builder 生成持仓报表，只读，不修改账本。
type Builder struct {
	gateway Gateway
	logger  *zap.Logger
}

// NewBuilder 创建报表生成器。
func NewBuilder(gateway Gateway, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{gateway: gateway, logger: logger}
}

// Build 并发查询每个交易对的价格与买入价。单个交易对失败只影响该行。
func (b *Builder) Build(ctx context.Context, pairs []exchange.Pair) (Report, error) {
	assets := make([]string, 0, len(pairs))
	for _, p := range pairs {
		assets = append(assets, p.Base)
	}

	balances, err := b.gateway.GetBalance(ctx, assets...)
	if err != nil {
		b.logger.Warn("余额不可用，报表中可用数量留空", zap.Error(err))
		balances = nil
	}

	rows := make([]Row, len(pairs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(reportConcurrency)

	for i, pair := range pairs {
		group.Go(func() error {
			rows[i] = b.buildRow(groupCtx, pair, balances)
			return nil
		})
	}
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	return Report{Rows: rows, GeneratedAt: time.Now().UTC()}, nil
}

func (b *Builder) buildRow(ctx context.Context, pair exchange.Pair, balances map[string]float64) Row {
	row := Row{Pair: pair.String()}

	if balances != nil {
		available := balances[pair.Base]
		row.Available = &available
	}

	price, err := b.gateway.GetPrice(ctx, pair)
	if err != nil {
		b.logger.Warn("市场价格不可用", zap.String("pair", pair.String()), zap.Error(err))
	} else {
		row.MarketPrice = &price
	}

	buy, err := BuyPrice(ctx, b.gateway, pair)
	if err != nil {
		b.logger.Warn("买入价不可用", zap.String("pair", pair.String()), zap.Error(err))
	} else {
		row.BuyPrice = &buy
	}

	if row.MarketPrice != nil && row.Available != nil {
		value := RoundCents(*row.MarketPrice * *row.Available)
		row.Value = &value
	}
	if row.MarketPrice != nil && row.BuyPrice != nil {
		if dev, ok := Deviation(*row.MarketPrice, *row.BuyPrice); ok {
			row.Deviation = &dev
		}
	}
	return row
}

// BuyPrice 返回该交易对最近一次买入成交价；没有买入记录时退回当前市场价。
func BuyPrice(ctx context.Context, gateway Gateway, pair exchange.Pair) (float64, error) {
	trades, err := gateway.GetTradeHistory(ctx, pair)
	if err != nil {
		return 0, err
	}
	for _, trade := range trades {
		if trade.Side == exchange.SideBuy && trade.Pair == pair.String() && trade.Price > 0 {
			return trade.Price, nil
		}
	}
	price, err := gateway.GetPrice(ctx, pair)
	if err != nil {
		return 0, fmt.Errorf("无买入记录且市场价不可用: %w", err)
	}
	return price, nil
}

// Deviation 返回市场价相对买入价的百分比偏差。
func Deviation(market, buy float64) (float64, bool) {
	if buy <= 0 || market <= 0 {
		return 0, false
	}
	return (market - buy) / buy * 100, true
}

// RoundCents 四舍五入到小数点后两位。
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
