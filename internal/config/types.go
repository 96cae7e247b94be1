package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// ErrInvalidConfig 表示配置缺失或取值非法，启动阶段必须终止。
var ErrInvalidConfig = errors.New("invalid configuration")

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Oscillator OscillatorConfig `mapstructure:"oscillator"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name          string        `mapstructure:"name"`
	APIKey        string        `mapstructure:"api_key"`
	APISecret     string        `mapstructure:"api_secret"`
	QuoteCurrency string        `mapstructure:"quote_currency"`
	UseSandbox    bool          `mapstructure:"use_sandbox"`
	Timeout       time.Duration `mapstructure:"timeout"`
	DustThreshold float64       `mapstructure:"dust_threshold"`
	RateLimit     float64       `mapstructure:"rate_limit"`
	RateBurst     int           `mapstructure:"rate_burst"`
	Retry         RetryConfig   `mapstructure:"retry"`
}

// RetryConfig 统一控制只读调用的重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// StrategyConfig 控制买卖决策。
type StrategyConfig struct {
	SellThresholdRatio float64 `mapstructure:"sell_threshold_ratio"`
	BuyVolume          float64 `mapstructure:"buy_volume"`
	BudgetRatio        float64 `mapstructure:"budget_ratio"`
	FeeRate            float64 `mapstructure:"fee_rate"`
}

// ExecutionConfig 控制下单行为。
type ExecutionConfig struct {
	Simulation bool `mapstructure:"simulation"`
}

// StorageConfig 选择持仓与自选列表的持久化后端。
type StorageConfig struct {
	Driver        string `mapstructure:"driver"` // json | sqlite
	LedgerPath    string `mapstructure:"ledger_path"`
	FavoritesPath string `mapstructure:"favorites_path"`
	// LockPath 为账本写入方持有的进程间锁文件，为空时不加锁。
	LockPath string `mapstructure:"lock_path"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	LoopInterval time.Duration `mapstructure:"loop_interval"`
}

// MonitorConfig 控制监控接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// OscillatorConfig 控制 RSI 振荡器脚本。
type OscillatorConfig struct {
	Pair       string        `mapstructure:"pair"`
	Timeframe  string        `mapstructure:"timeframe"`
	Period     int           `mapstructure:"period"`
	Oversold   float64       `mapstructure:"oversold"`
	Overbought float64       `mapstructure:"overbought"`
	Volume     float64       `mapstructure:"volume"`
	Interval   time.Duration `mapstructure:"interval"`
	Live       bool          `mapstructure:"live"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if !c.Execution.Simulation {
		if strings.TrimSpace(c.Exchange.APIKey) == "" || strings.TrimSpace(c.Exchange.APISecret) == "" {
			err = multierr.Append(err, errors.New("exchange.api_key 与 exchange.api_secret 必须配置"))
		}
	}
	if c.Exchange.QuoteCurrency == "" {
		err = multierr.Append(err, errors.New("exchange.quote_currency 不能为空"))
	}
	if c.Exchange.Timeout <= 0 {
		err = multierr.Append(err, errors.New("exchange.timeout 必须大于0"))
	}
	if c.Exchange.DustThreshold < 0 {
		err = multierr.Append(err, errors.New("exchange.dust_threshold 不能为负"))
	}
	if c.Exchange.RateLimit <= 0 {
		err = multierr.Append(err, errors.New("exchange.rate_limit 必须大于0"))
	}
	if c.Exchange.RateBurst <= 0 {
		err = multierr.Append(err, errors.New("exchange.rate_burst 必须大于0"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Strategy.SellThresholdRatio <= 1 {
		err = multierr.Append(err, errors.New("strategy.sell_threshold_ratio 必须大于1"))
	}
	if c.Strategy.BuyVolume <= 0 {
		err = multierr.Append(err, errors.New("strategy.buy_volume 必须大于0"))
	}
	if c.Strategy.BudgetRatio <= 0 || c.Strategy.BudgetRatio > 1 {
		err = multierr.Append(err, errors.New("strategy.budget_ratio 必须位于(0,1]"))
	}
	if c.Strategy.FeeRate < 0 || c.Strategy.FeeRate >= 0.1 {
		err = multierr.Append(err, errors.New("strategy.fee_rate 应位于[0,0.1)"))
	}
	switch strings.ToLower(c.Storage.Driver) {
	case "json":
		if c.Storage.LedgerPath == "" || c.Storage.FavoritesPath == "" {
			err = multierr.Append(err, errors.New("storage.ledger_path 与 storage.favorites_path 不能为空"))
		}
	case "sqlite":
	default:
		err = multierr.Append(err, fmt.Errorf("storage.driver 不支持 %q", c.Storage.Driver))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Scheduler.LoopInterval < 10*time.Second {
		err = multierr.Append(err, errors.New("scheduler.loop_interval 不应小于10s"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 非法"))
	}
	if c.Oscillator.Period < 2 {
		err = multierr.Append(err, errors.New("oscillator.period 必须不小于2"))
	}
	if c.Oscillator.Oversold <= 0 || c.Oscillator.Overbought >= 100 || c.Oscillator.Oversold >= c.Oscillator.Overbought {
		err = multierr.Append(err, errors.New("oscillator.oversold 必须小于 overbought 且位于(0,100)"))
	}
	if c.Oscillator.Volume <= 0 {
		err = multierr.Append(err, errors.New("oscillator.volume 必须大于0"))
	}
	if c.Oscillator.Interval <= 0 {
		err = multierr.Append(err, errors.New("oscillator.interval 必须大于0"))
	}

	if err != nil {
		return fmt.Errorf("%w: 配置校验失败: %w", ErrInvalidConfig, err)
	}

	return nil
}
