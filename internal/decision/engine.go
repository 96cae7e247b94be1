package decision

import (
	"fmt"

	"kraken-assistant/internal/position"
)

// Action 表示一次评估给出的操作。
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Config 为决策参数。
type Config struct {
	SellThresholdRatio float64
	BuyVolume          float64
	BudgetRatio        float64
	FeeRate            float64
}

// Input 为单个交易对的一次评估输入。
type Input struct {
	Pair             string
	Price            float64
	PriceAvailable   bool
	Position         *position.Position
	QuoteBalance     float64
	BalanceAvailable bool
}

// Intent 为评估结果，Action 为 hold 时 Volume 为 0。
type Intent struct {
	Pair   string
	Action Action
	Volume float64
	Reason string
}

// EffectiveSellThreshold 返回覆盖买卖双边手续费后的卖出倍数。
func EffectiveSellThreshold(cfg Config) float64 {
	if cfg.FeeRate <= 0 || cfg.FeeRate >= 1 {
		return cfg.SellThresholdRatio
	}
	return cfg.SellThresholdRatio * (1 + cfg.FeeRate) / (1 - cfg.FeeRate)
}

// Decide 根据价格、持仓与余额给出交易意图，不产生任何副作用。
func Decide(cfg Config, in Input) Intent {
	if !in.PriceAvailable || in.Price <= 0 {
		return hold(in.Pair, "价格不可用")
	}
	if !in.BalanceAvailable {
		return hold(in.Pair, "余额不可用")
	}

	if in.Position != nil && in.Position.Quantity > 0 {
		target := in.Position.AverageCost * EffectiveSellThreshold(cfg)
		if in.Price > target {
			return Intent{
				Pair:   in.Pair,
				Action: ActionSell,
				Volume: in.Position.Quantity,
				Reason: fmt.Sprintf("价格 %.8g 高于卖出阈值 %.8g", in.Price, target),
			}
		}
		return hold(in.Pair, fmt.Sprintf("持仓中，价格 %.8g 未超过卖出阈值 %.8g", in.Price, target))
	}

	if cfg.BuyVolume <= 0 {
		return hold(in.Pair, "买入数量未配置")
	}

	cost := in.Price * cfg.BuyVolume
	budget := in.QuoteBalance * cfg.BudgetRatio
	if budget >= cost {
		return Intent{
			Pair:   in.Pair,
			Action: ActionBuy,
			Volume: cfg.BuyVolume,
			Reason: fmt.Sprintf("无持仓，预算 %.8g 覆盖买入成本 %.8g", budget, cost),
		}
	}
	return hold(in.Pair, fmt.Sprintf("预算 %.8g 不足以买入，需要 %.8g", budget, cost))
}

func hold(pair, reason string) Intent {
	return Intent{Pair: pair, Action: ActionHold, Reason: reason}
}
