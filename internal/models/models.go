package models

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	BotID      string         `mapstructure:"bot_id" json:"bot_id"`           // 实例ID, 同时作为持久化键
	Owner      string         `mapstructure:"owner" json:"owner"`             // 策略所有者/管理员身份
	DBPath     string         `mapstructure:"db_path" json:"db_path"`         // badger 状态目录
	LedgerPath string         `mapstructure:"ledger_path" json:"ledger_path"` // sqlite 订单流水文件
	Exchange   ExchangeConfig `mapstructure:"exchange" json:"exchange"`
	Oracle     OracleConfig   `mapstructure:"oracle" json:"oracle"`
	Engine     EngineConfig   `mapstructure:"engine" json:"engine"`
	API        APIConfig      `mapstructure:"api" json:"api"`
	LogConfig  LogConfig      `mapstructure:"log" json:"log"`
}

// ExchangeConfig 定义了下单协议适配器的配置
type ExchangeConfig struct {
	Mode              string  `mapstructure:"mode" json:"mode"` // "paper" 或 "binance"
	IsTestnet         bool    `mapstructure:"is_testnet" json:"is_testnet"`
	Symbol            string  `mapstructure:"symbol" json:"symbol"` // 协议侧交易对, e.g. "ETHUSDC"
	PricePrecision    int32   `mapstructure:"price_precision" json:"price_precision"`
	QuantityPrecision int32   `mapstructure:"quantity_precision" json:"quantity_precision"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second"`
	RequestBurst      int     `mapstructure:"request_burst" json:"request_burst"`
	APIKey            string  `mapstructure:"-" json:"-"` // 从环境变量读取
	SecretKey         string  `mapstructure:"-" json:"-"`
}

// OracleConfig 定义了价格来源与新鲜度要求
type OracleConfig struct {
	Source          string  `mapstructure:"source" json:"source"` // "websocket", "rest" 或 "none"
	WSBaseURL       string  `mapstructure:"ws_base_url" json:"ws_base_url"`
	StreamSymbol    string  `mapstructure:"stream_symbol" json:"stream_symbol"`
	Asset           string  `mapstructure:"asset" json:"asset"` // 报价对应的 MakerAsset, e.g. "WETH"
	PollIntervalSec int     `mapstructure:"poll_interval_sec" json:"poll_interval_sec"`
	FreshnessSec    int     `mapstructure:"freshness_sec" json:"freshness_sec"`
	MinConfidence   float64 `mapstructure:"min_confidence" json:"min_confidence"`
	PingIntervalSec int     `mapstructure:"websocket_ping_interval_sec" json:"websocket_ping_interval_sec"`
	PongTimeoutSec  int     `mapstructure:"websocket_pong_timeout_sec" json:"websocket_pong_timeout_sec"`
}

// EngineConfig 定义了阶梯引擎的运行参数
type EngineConfig struct {
	PricePrecision       int32  `mapstructure:"price_precision" json:"price_precision"`
	NextPricePolicy      string `mapstructure:"next_price_policy" json:"next_price_policy"` // "beyond_span" 或 "step_from_fill"
	RiskCheckIntervalSec int    `mapstructure:"risk_check_interval_sec" json:"risk_check_interval_sec"`
	OrderPollIntervalSec int    `mapstructure:"order_poll_interval_sec" json:"order_poll_interval_sec"`
	StatusIntervalSec    int    `mapstructure:"status_interval_sec" json:"status_interval_sec"`
	EventBufferSize      int    `mapstructure:"event_buffer_size" json:"event_buffer_size"`
}

// APIConfig 定义了控制 API 的配置
type APIConfig struct {
	Enabled    bool   `mapstructure:"enabled" json:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	JWTSecret  string `mapstructure:"-" json:"-"` // 从 LADDER_JWT_SECRET 读取
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `mapstructure:"level" json:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `mapstructure:"output" json:"output"`           // 输出模式: "console", "file", "both"
	File       string `mapstructure:"file" json:"file"`               // 日志文件路径
	MaxSize    int    `mapstructure:"max_size" json:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `mapstructure:"max_age" json:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `mapstructure:"compress" json:"compress"`       // 是否压缩旧日志文件
}
