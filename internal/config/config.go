package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"ladder-bot-go/internal/models"

	"github.com/spf13/viper"
)

// LoadConfig 加载配置文件(JSON/YAML 均可), 叠加默认值和 LADDER_ 前缀的环境变量, 然后校验。
// path 为空时在当前目录查找 config.json。
func LoadConfig(path string) (*models.Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LADDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &models.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot_id", "ladder-1")
	v.SetDefault("owner", "admin")
	v.SetDefault("db_path", "./data/state")
	v.SetDefault("ledger_path", "./data/ledger.db")

	v.SetDefault("exchange.mode", "paper")
	v.SetDefault("exchange.is_testnet", true)
	v.SetDefault("exchange.symbol", "ETHUSDC")
	v.SetDefault("exchange.price_precision", 2)
	v.SetDefault("exchange.quantity_precision", 4)
	v.SetDefault("exchange.requests_per_second", 5.0)
	v.SetDefault("exchange.request_burst", 10)

	v.SetDefault("oracle.source", "websocket")
	v.SetDefault("oracle.ws_base_url", "wss://stream.binance.com:9443")
	v.SetDefault("oracle.stream_symbol", "ethusdc")
	v.SetDefault("oracle.asset", "WETH")
	v.SetDefault("oracle.poll_interval_sec", 5)
	v.SetDefault("oracle.freshness_sec", 60)
	v.SetDefault("oracle.min_confidence", 0.0)
	v.SetDefault("oracle.websocket_ping_interval_sec", 30)
	v.SetDefault("oracle.websocket_pong_timeout_sec", 75)

	v.SetDefault("engine.price_precision", 8)
	v.SetDefault("engine.next_price_policy", "beyond_span")
	v.SetDefault("engine.risk_check_interval_sec", 10)
	v.SetDefault("engine.order_poll_interval_sec", 5)
	v.SetDefault("engine.status_interval_sec", 60)
	v.SetDefault("engine.event_buffer_size", 1024)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file", "./logs/ladder-bot.log")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", false)
}

// 密钥只从环境变量读取, 不写入配置文件
func overrideFromEnv(cfg *models.Config) {
	cfg.Exchange.APIKey = os.Getenv("BINANCE_API_KEY")
	cfg.Exchange.SecretKey = os.Getenv("BINANCE_SECRET_KEY")
	cfg.API.JWTSecret = os.Getenv("LADDER_JWT_SECRET")
}

// Validate 提前检查那些否则会在运行时才出错的配置。
func Validate(cfg *models.Config) error {
	var problems []string
	if cfg.BotID == "" {
		problems = append(problems, "bot_id is required")
	}
	if cfg.Owner == "" {
		problems = append(problems, "owner is required")
	}
	switch cfg.Exchange.Mode {
	case "paper":
	case "binance":
		if cfg.Exchange.APIKey == "" || cfg.Exchange.SecretKey == "" {
			problems = append(problems, "binance mode needs BINANCE_API_KEY and BINANCE_SECRET_KEY")
		}
	default:
		problems = append(problems, fmt.Sprintf("exchange.mode %q must be paper or binance", cfg.Exchange.Mode))
	}
	if cfg.Exchange.Symbol == "" {
		problems = append(problems, "exchange.symbol is required")
	}
	switch cfg.Oracle.Source {
	case "websocket", "rest", "none":
	default:
		problems = append(problems, fmt.Sprintf("oracle.source %q must be websocket, rest or none", cfg.Oracle.Source))
	}
	if cfg.Oracle.FreshnessSec < 0 {
		problems = append(problems, "oracle.freshness_sec must be >= 0")
	}
	if cfg.Oracle.Source == "websocket" && cfg.Oracle.PingIntervalSec >= cfg.Oracle.PongTimeoutSec {
		problems = append(problems, "oracle.websocket_ping_interval_sec must be below websocket_pong_timeout_sec")
	}
	if cfg.Oracle.MinConfidence < 0 || cfg.Oracle.MinConfidence > 1 {
		problems = append(problems, "oracle.min_confidence must be within [0, 1]")
	}
	switch cfg.Engine.NextPricePolicy {
	case "beyond_span", "step_from_fill":
	default:
		problems = append(problems, fmt.Sprintf("engine.next_price_policy %q is unknown", cfg.Engine.NextPricePolicy))
	}
	if cfg.Engine.PricePrecision < 0 {
		problems = append(problems, "engine.price_precision must be >= 0")
	}
	if cfg.API.Enabled && cfg.API.JWTSecret == "" {
		problems = append(problems, "api enabled but LADDER_JWT_SECRET is not set")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
