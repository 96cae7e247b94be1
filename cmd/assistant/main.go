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

	"kraken-assistant/internal/app"
	"kraken-assistant/internal/config"
	"kraken-assistant/internal/log"
)

const usage = `用法: assistant [-config path] [-daemon url] <command> [args]

命令:
  balance                         查询账户余额
  portfolio [-csv file]           自选交易对持仓报表，可导出 CSV
  ledger                          查看本地账本
  forget <ASSET>                  删除某资产的账本记录
  trade -pair P -volume V -side S 手工市价单 (S 为 buy 或 sell)
  cycle                           立即执行一轮对账
  favorites list|add|remove|clear|import|export [arg]

trader 运行中时账本由其独占，写入类命令会转发到它的监控接口。
`

func main() {
	var configPath, daemonURL string
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.StringVar(&daemonURL, "daemon", "", "trader 监控接口地址，默认 http://127.0.0.1:<monitor.port>")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg.Monitor.Enabled = false

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if daemonURL == "" {
		daemonURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Monitor.Port)
	}

	if err := dispatch(ctx, cfg, logger, daemonURL, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// dispatch 查询命令以只读方式打开账本；写入命令获取账本锁，锁被 trader 持有时转发给它。
func dispatch(ctx context.Context, cfg *config.Config, logger *zap.Logger, daemonURL string, args []string) error {
	open := app.BootstrapReadOnly
	if isMutating(args) {
		open = app.Bootstrap
	}

	assistant, err := open(ctx, cfg, logger)
	if errors.Is(err, app.ErrLedgerLocked) {
		logger.Info("账本由运行中的 trader 持有，命令转发至监控接口", zap.String("daemon", daemonURL))
		return runMutation(ctx, newDaemonClient(daemonURL), os.Stdout, args)
	}
	if err != nil {
		return fmt.Errorf("初始化失败: %w", err)
	}
	defer func() {
		if closeErr := assistant.Close(); closeErr != nil {
			logger.Warn("关闭资源失败", zap.Error(closeErr))
		}
	}()

	if isMutating(args) {
		return runMutation(ctx, assistant, os.Stdout, args)
	}
	return runQuery(ctx, assistant, os.Stdout, args)
}
