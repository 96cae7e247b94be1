package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kraken-assistant/internal/position"
)

var defaultCfg = Config{SellThresholdRatio: 1.02, BuyVolume: 10, BudgetRatio: 1}

func held(avg, qty float64) *position.Position {
	return &position.Position{Symbol: "ADA", Quantity: qty, AverageCost: avg}
}

func TestDecide_SellBoundary(t *testing.T) {
	cases := []struct {
		name   string
		price  float64
		action Action
	}{
		{name: "exactly at threshold holds", price: 102.0, action: ActionHold},
		{name: "just above threshold sells", price: 102.01, action: ActionSell},
		{name: "below threshold holds", price: 101.5, action: ActionHold},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intent := Decide(defaultCfg, Input{
				Pair:             "ADAEUR",
				Price:            tc.price,
				PriceAvailable:   true,
				Position:         held(100, 4),
				BalanceAvailable: true,
			})
			assert.Equal(t, tc.action, intent.Action)
			if tc.action == ActionSell {
				assert.Equal(t, 4.0, intent.Volume)
			}
		})
	}
}

func TestDecide_BuyBoundary(t *testing.T) {
	cases := []struct {
		name    string
		balance float64
		action  Action
	}{
		{name: "short by a cent holds", balance: 99.99, action: ActionHold},
		{name: "exact budget buys", balance: 100.0, action: ActionBuy},
		{name: "surplus buys", balance: 250, action: ActionBuy},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intent := Decide(defaultCfg, Input{
				Pair:             "ADAEUR",
				Price:            10,
				PriceAvailable:   true,
				QuoteBalance:     tc.balance,
				BalanceAvailable: true,
			})
			assert.Equal(t, tc.action, intent.Action)
			if tc.action == ActionBuy {
				assert.Equal(t, 10.0, intent.Volume)
			}
		})
	}
}

func TestDecide_UnavailableInputsHold(t *testing.T) {
	intent := Decide(defaultCfg, Input{Pair: "ADAEUR", Position: held(100, 1)})
	assert.Equal(t, ActionHold, intent.Action)
	assert.Zero(t, intent.Volume)

	intent = Decide(defaultCfg, Input{Pair: "ADAEUR", Price: 1, PriceAvailable: true, QuoteBalance: 1000})
	assert.Equal(t, ActionHold, intent.Action)

	// 价格已越过卖出阈值，但余额未知时同样不卖出。
	intent = Decide(defaultCfg, Input{Pair: "ADAEUR", Price: 103, PriceAvailable: true, Position: held(100, 1)})
	assert.Equal(t, ActionHold, intent.Action)
	assert.Zero(t, intent.Volume)
}

func TestDecide_HeldPositionNeverBuys(t *testing.T) {
	intent := Decide(defaultCfg, Input{
		Pair:             "ADAEUR",
		Price:            50,
		PriceAvailable:   true,
		Position:         held(100, 1),
		QuoteBalance:     1e6,
		BalanceAvailable: true,
	})
	assert.Equal(t, ActionHold, intent.Action)
}

func TestDecide_BudgetRatioScalesBalance(t *testing.T) {
	cfg := defaultCfg
	cfg.BudgetRatio = 0.5

	intent := Decide(cfg, Input{Pair: "ADAEUR", Price: 10, PriceAvailable: true, QuoteBalance: 150, BalanceAvailable: true})
	assert.Equal(t, ActionHold, intent.Action)

	intent = Decide(cfg, Input{Pair: "ADAEUR", Price: 10, PriceAvailable: true, QuoteBalance: 200, BalanceAvailable: true})
	assert.Equal(t, ActionBuy, intent.Action)
}

func TestEffectiveSellThreshold_CoversFees(t *testing.T) {
	assert.Equal(t, 1.02, EffectiveSellThreshold(defaultCfg))

	cfg := defaultCfg
	cfg.FeeRate = 0.0026
	threshold := EffectiveSellThreshold(cfg)
	assert.Greater(t, threshold, 1.02)
	assert.InDelta(t, 1.02*1.0026/0.9974, threshold, 1e-12)

	intent := Decide(cfg, Input{Pair: "ADAEUR", Price: 102.01, PriceAvailable: true, Position: held(100, 1), BalanceAvailable: true})
	assert.Equal(t, ActionHold, intent.Action)

	intent = Decide(cfg, Input{Pair: "ADAEUR", Price: 102.6, PriceAvailable: true, Position: held(100, 1), BalanceAvailable: true})
	assert.Equal(t, ActionSell, intent.Action)
}
