package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "kraken"
)

// Load 读取配置文件并结合环境变量返回 Config。
// 当前目录存在 .env 时先加载，凭证通常放在那里。
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: 未找到配置文件 %q: %w", ErrInvalidConfig, path, err)
		}
		return nil, fmt.Errorf("%w: 读取配置文件失败: %w", ErrInvalidConfig, err)
	}

	return decode(v)
}

// LoadDefaults 仅使用默认值与环境变量构造配置，供测试及无配置文件场景使用。
func LoadDefaults() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("%w: 解析配置失败: %w", ErrInvalidConfig, err)
	}

	cfg.Exchange.QuoteCurrency = strings.ToUpper(strings.TrimSpace(cfg.Exchange.QuoteCurrency))
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("exchange.name", "kraken")
	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.api_secret", "")
	v.SetDefault("exchange.quote_currency", "EUR")
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.timeout", "10s")
	v.SetDefault("exchange.dust_threshold", 0.0001)
	v.SetDefault("exchange.rate_limit", 1.0)
	v.SetDefault("exchange.rate_burst", 3)
	v.SetDefault("exchange.retry.max_attempts", 3)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("strategy.sell_threshold_ratio", 1.02)
	v.SetDefault("strategy.buy_volume", 10.0)
	v.SetDefault("strategy.budget_ratio", 1.0)
	v.SetDefault("strategy.fee_rate", 0.0)

	v.SetDefault("execution.simulation", false)

	v.SetDefault("storage.driver", "json")
	v.SetDefault("storage.ledger_path", "data/portfolio.json")
	v.SetDefault("storage.favorites_path", "data/favorites.json")
	v.SetDefault("storage.lock_path", "data/kraken-assistant.lock")

	v.SetDefault("database.path", "data/kraken_assistant.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout", "kraken_bot.log"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("scheduler.loop_interval", "60s")

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.port", 8090)

	v.SetDefault("oscillator.pair", "ADAEUR")
	v.SetDefault("oscillator.timeframe", "1m")
	v.SetDefault("oscillator.period", 14)
	v.SetDefault("oscillator.oversold", 30.0)
	v.SetDefault("oscillator.overbought", 70.0)
	v.SetDefault("oscillator.volume", 1.0)
	v.SetDefault("oscillator.interval", "60s")
	v.SetDefault("oscillator.live", false)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
