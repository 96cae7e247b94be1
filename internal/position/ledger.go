package position

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Side 表示成交方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Repository 持久化账本。每次变更后都会整体写入。
type Repository interface {
	LoadPositions(ctx context.Context) (map[string]Position, error)
	SavePositions(ctx context.Context, positions map[string]Position) error
}

// Fill 为一笔已确认的成交，是唯一允许改变账本的输入。
type Fill struct {
	Symbol   string
	Side     Side
	Quantity float64
	Price    float64
}

// Ledger 维护资产到持仓的映射，只接受已确认成交。
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]Position
	repo      Repository
	logger    *zap.Logger
}

// LoadLedger 从仓库读取账本，读取失败时直接返回错误。
func LoadLedger(ctx context.Context, repo Repository, logger *zap.Logger) (*Ledger, error) {
	if repo == nil {
		return nil, errors.New("position: repository 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	loaded, err := repo.LoadPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("position: 加载账本失败: %w", err)
	}

	positions := make(map[string]Position, len(loaded))
	for symbol, pos := range loaded {
		key := NormalizeSymbol(symbol)
		if pos.Quantity <= quantityEpsilon {
			logger.Warn("忽略数量为零的持仓记录", zap.String("symbol", key))
			continue
		}
		pos.Symbol = key
		positions[key] = pos
	}

	logger.Info("账本已加载", zap.Int("positions", len(positions)))

	return &Ledger{
		positions: positions,
		repo:      repo,
		logger:    logger,
	}, nil
}

// Get 返回指定资产的持仓。
func (l *Ledger) Get(symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[NormalizeSymbol(symbol)]
	return pos, ok
}

// Snapshot 返回账本的副本。
func (l *Ledger) Snapshot() map[string]Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return clonePositions(l.positions)
}

// Symbols 返回按字母排序的资产列表。
func (l *Ledger) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	symbols := make([]string, 0, len(l.positions))
	for symbol := range l.positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Apply 将成交计入账本并立即持久化。持久化失败时回滚内存状态。
func (l *Ledger) Apply(ctx context.Context, fill Fill) (Position, error) {
	symbol := NormalizeSymbol(fill.Symbol)
	if symbol == "" {
		return Position{}, fmt.Errorf("%w: 资产代码为空", ErrInvalidFill)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var current *Position
	if pos, ok := l.positions[symbol]; ok {
		current = &pos
	}

	next := clonePositions(l.positions)
	var updated Position

	switch fill.Side {
	case SideBuy:
		pos, err := ApplyBuy(current, symbol, fill.Quantity, fill.Price)
		if err != nil {
			return Position{}, err
		}
		next[symbol] = pos
		updated = pos
	case SideSell:
		pos, closed, err := ApplySell(current, fill.Quantity)
		if err != nil {
			return Position{}, err
		}
		if closed {
			delete(next, symbol)
		} else {
			next[symbol] = pos
		}
		updated = pos
	default:
		return Position{}, fmt.Errorf("%w: 未知方向 %q", ErrInvalidFill, fill.Side)
	}

	if err := l.repo.SavePositions(ctx, clonePositions(next)); err != nil {
		return Position{}, fmt.Errorf("position: 保存账本失败: %w", err)
	}
	l.positions = next

	l.logger.Info("账本已更新",
		zap.String("symbol", symbol),
		zap.String("side", string(fill.Side)),
		zap.Float64("fill_quantity", fill.Quantity),
		zap.Float64("fill_price", fill.Price),
		zap.Float64("quantity", updated.Quantity),
		zap.Float64("average_cost", updated.AverageCost),
	)

	return updated, nil
}

// Forget 手工删除某资产的持仓记录，用于修正与交易所不一致的账本。
func (l *Ledger) Forget(ctx context.Context, symbol string) error {
	key := NormalizeSymbol(symbol)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.positions[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNoPosition, key)
	}

	next := clonePositions(l.positions)
	delete(next, key)
	if err := l.repo.SavePositions(ctx, clonePositions(next)); err != nil {
		return fmt.Errorf("position: 保存账本失败: %w", err)
	}
	l.positions = next

	l.logger.Info("已删除持仓记录", zap.String("symbol", key))
	return nil
}

func clonePositions(src map[string]Position) map[string]Position {
	dst := make(map[string]Position, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
