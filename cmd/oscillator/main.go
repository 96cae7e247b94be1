package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"kraken-assistant/internal/config"
	"kraken-assistant/internal/exchange"
	"kraken-assistant/internal/execution"
	"kraken-assistant/internal/log"
	"kraken-assistant/internal/oscillator"
)

func main() {
	var (
		configPath string
		live       bool
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.BoolVar(&live, "live", false, "按信号直接下单（默认仅给出建议）")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if live {
		cfg.Oscillator.Live = true
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	client, err := exchange.NewClient(cfg.Exchange, logger)
	if err != nil {
		logger.Error("初始化交易所客户端失败", zap.Error(err))
		os.Exit(1)
	}
	pair, err := exchange.ParsePair(cfg.Oscillator.Pair, cfg.Exchange.QuoteCurrency)
	if err != nil {
		logger.Error("交易对配置无效", zap.Error(err))
		os.Exit(1)
	}

	var trader execution.Trader
	if cfg.Oscillator.Live {
		if cfg.Execution.Simulation {
			trader = execution.NewSimulatedExecutor(client, logger)
		} else {
			trader = execution.NewExecutor(client, logger)
		}
	}

	runner, err := oscillator.NewRunner(cfg.Oscillator, pair, client, trader, logger)
	if err != nil {
		logger.Error("初始化振荡器失败", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("振荡器运行异常", zap.Error(err))
		os.Exit(1)
	}
}
