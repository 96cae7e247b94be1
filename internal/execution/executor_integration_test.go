//go:build integration
// +build integration

package execution

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"kraken-assistant/internal/config"
	"kraken-assistant/internal/exchange"
)

func TestSimulatedExecutorIntegration_KrakenPrice(t *testing.T) {
	cfg := loadIntegrationConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := exchange.NewClient(cfg.Exchange, zap.NewNop())
	if err != nil {
		t.Fatalf("初始化行情客户端失败: %v", err)
	}
	pair, err := exchange.ParsePair(cfg.Oscillator.Pair, cfg.Exchange.QuoteCurrency)
	if err != nil {
		t.Fatalf("解析交易对失败: %v", err)
	}

	fill, err := NewSimulatedExecutor(client, zap.NewNop()).Execute(ctx, pair, 1, exchange.SideBuy)
	if err != nil {
		t.Fatalf("模拟成交失败: %v", err)
	}
	if fill.Price <= 0 {
		t.Fatalf("无法解析有效市场价格")
	}
	t.Logf("模拟成交 pair=%s price=%.6f", pair, fill.Price)
}

func TestExecutorIntegration_KrakenLiveOrder(t *testing.T) {
	cfg := loadIntegrationConfig(t)

	if os.Getenv("KRAKEN_INTEGRATION_LIVE_ORDER") != "1" {
		t.Skip("未设置 KRAKEN_INTEGRATION_LIVE_ORDER=1，出于安全考虑跳过真实下单测试")
	}
	if cfg.Exchange.APIKey == "" || cfg.Exchange.APISecret == "" {
		t.Skip("缺少 Kraken API 凭证，跳过测试")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := exchange.NewClient(cfg.Exchange, zap.NewNop())
	if err != nil {
		t.Fatalf("初始化交易客户端失败: %v", err)
	}
	pair, err := exchange.ParsePair(cfg.Oscillator.Pair, cfg.Exchange.QuoteCurrency)
	if err != nil {
		t.Fatalf("解析交易对失败: %v", err)
	}

	balances, err := client.GetBalance(ctx, pair.Quote)
	if err != nil {
		t.Fatalf("获取余额失败: %v", err)
	}
	price, err := client.GetPrice(ctx, pair)
	if err != nil {
		t.Fatalf("获取价格失败: %v", err)
	}
	volume := cfg.Strategy.BuyVolume
	if balances[pair.Quote] < price*volume*1.05 {
		t.Skipf("余额 %.2f 不足以买入 %.4f %s", balances[pair.Quote], volume, pair.Base)
	}

	fill, err := NewExecutor(client, zap.NewNop()).Execute(ctx, pair, volume, exchange.SideBuy)
	if err != nil {
		t.Fatalf("Execute 下单失败: %v", err)
	}
	t.Logf("成功提交订单 %v pair=%s volume=%.4f", fill.OrderIDs, pair, fill.Volume)
}

func loadIntegrationConfig(t *testing.T) *config.Config {
	t.Helper()

	configPath := os.Getenv("KRAKEN_CONFIG")
	if configPath == "" {
		configPath = "../../configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Skipf("加载配置失败，跳过集成测试: %v", err)
	}
	return cfg
}
