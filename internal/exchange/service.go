package exchange

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultQuoteConcurrency = 4

// Quote 为单个交易对的价格查询结果，Err 非空时 Price 无意义。
type Quote struct {
	Pair        Pair
	Price       float64
	Err         error
	RetrievedAt time.Time
}

// PriceSource 为按交易对查询价格的能力。
type PriceSource interface {
	GetPrice(ctx context.Context, pair Pair) (float64, error)
}

// MarketDataService 并发拉取多个交易对的行情，单个交易对失败不影响其他交易对。
type MarketDataService struct {
	source      PriceSource
	logger      *zap.Logger
	concurrency int
}

// NewMarketDataService 创建市场数据服务。
func NewMarketDataService(source PriceSource, logger *zap.Logger) *MarketDataService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketDataService{
		source:      source,
		logger:      logger,
		concurrency: defaultQuoteConcurrency,
	}
}

// Quotes 拉取一组交易对的最新价格，结果顺序与输入一致。
func (s *MarketDataService) Quotes(ctx context.Context, pairs []Pair) []Quote {
	quotes := make([]Quote, len(pairs))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)

	for i, pair := range pairs {
		group.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					quotes[i] = Quote{Pair: pair, Err: fmt.Errorf("%w: panic: %v", ErrUnavailable, r), RetrievedAt: time.Now().UTC()}
				}
			}()
			price, priceErr := s.source.GetPrice(groupCtx, pair)
			quotes[i] = Quote{
				Pair:        pair,
				Price:       price,
				Err:         priceErr,
				RetrievedAt: time.Now().UTC(),
			}
			return nil
		})
	}
	_ = group.Wait()

	failed := 0
	for _, q := range quotes {
		if q.Err != nil {
			failed++
		}
	}
	s.logger.Debug("行情批量获取完成",
		zap.Int("pairs", len(pairs)),
		zap.Int("failed", failed),
	)

	return quotes
}
