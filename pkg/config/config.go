// Package config loads the pipeline configuration from a YAML file with
// environment overrides. Secrets never live in the file: the exchange
// section names the environment variables holding them and the secret
// provider resolves the names at first use.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level configuration, mapping the YAML file structure.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Exchange    ExchangeConfig    `mapstructure:"exchange"`
	Symbols     []string          `mapstructure:"symbols"`
	Strategy    StrategyConfig    `mapstructure:"strategy"`
	Risk        RiskConfig        `mapstructure:"risk"`
	TradingMode TradingModeConfig `mapstructure:"tradingMode"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Store       StoreConfig       `mapstructure:"store"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds the operator API listener.
type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	JWTSecret string `mapstructure:"jwtSecret"`
}

// ExchangeConfig points at the venue. ApiKeyName/ApiSecretName are the
// names of the environment variables carrying the credentials.
type ExchangeConfig struct {
	BaseURL       string `mapstructure:"baseUrl"`
	WebSocketURL  string `mapstructure:"webSocketUrl"`
	UseTestnet    bool   `mapstructure:"useTestnet"`
	APIKeyName    string `mapstructure:"apiKeyName"`
	APISecretName string `mapstructure:"apiSecretName"`
}

// StrategyConfig selects and tunes the strategy pool.
type StrategyConfig struct {
	EnabledStrategies  []string `mapstructure:"enabledStrategies"`
	DefaultTimeframe   string   `mapstructure:"defaultTimeframe"`
	MinConfidenceScore float64  `mapstructure:"minConfidenceScore"`
}

// RiskConfig mirrors the runtime risk limits.
type RiskConfig struct {
	MaxRiskPerTradePercent float64 `mapstructure:"maxRiskPerTradePercent"`
	MaxDrawdownPercent     float64 `mapstructure:"maxDrawdownPercent"`
	MinRiskRewardRatio     float64 `mapstructure:"minRiskRewardRatio"`
	MaxOpenPositions       int     `mapstructure:"maxOpenPositions"`
	MaxDailyLoss           float64 `mapstructure:"maxDailyLoss"`
	KillSwitchEnabled      bool    `mapstructure:"killSwitchEnabled"`
	StartingEquity         string  `mapstructure:"startingEquity"`
}

// TradingModeConfig selects the execution mode.
type TradingModeConfig struct {
	Mode                             string `mapstructure:"mode"`
	AutoFallbackToPaperOnCircuitOpen bool   `mapstructure:"autoFallbackToPaperOnCircuitOpen"`
	PaperFillLatencyMs               int    `mapstructure:"paperFillLatencyMs"`
	OrderTimeoutSeconds              int    `mapstructure:"orderTimeoutSeconds"`
	ReplaySeed                       int64  `mapstructure:"replaySeed"`
}

// RedisConfig holds the shared cache/bus connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StoreConfig holds the SQLite persistence path.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig tunes the zerolog output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// PaperFillLatency converts the configured milliseconds.
func (c TradingModeConfig) PaperFillLatency() time.Duration {
	return time.Duration(c.PaperFillLatencyMs) * time.Millisecond
}

// OrderTimeout converts the configured seconds.
func (c TradingModeConfig) OrderTimeout() time.Duration {
	return time.Duration(c.OrderTimeoutSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("symbols", []string{"BTCUSDT"})
	v.SetDefault("exchange.baseUrl", "https://api.binance.com")
	v.SetDefault("exchange.webSocketUrl", "wss://stream.binance.com:9443/ws")
	v.SetDefault("exchange.apiKeyName", "EXCHANGE_API_KEY")
	v.SetDefault("exchange.apiSecretName", "EXCHANGE_API_SECRET")
	v.SetDefault("strategy.enabledStrategies", []string{"ma_cross"})
	v.SetDefault("strategy.defaultTimeframe", "1m")
	v.SetDefault("strategy.minConfidenceScore", 0.7)
	v.SetDefault("risk.maxRiskPerTradePercent", 1.0)
	v.SetDefault("risk.maxDrawdownPercent", 10.0)
	v.SetDefault("risk.minRiskRewardRatio", 1.5)
	v.SetDefault("risk.maxOpenPositions", 5)
	v.SetDefault("risk.maxDailyLoss", 5.0)
	v.SetDefault("risk.killSwitchEnabled", true)
	v.SetDefault("risk.startingEquity", "10000")
	v.SetDefault("tradingMode.mode", "PAPER")
	v.SetDefault("tradingMode.autoFallbackToPaperOnCircuitOpen", true)
	v.SetDefault("tradingMode.paperFillLatencyMs", 10)
	v.SetDefault("tradingMode.orderTimeoutSeconds", 60)
	v.SetDefault("tradingMode.replaySeed", 42)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("store.path", "./data/tradepipe.db")
	v.SetDefault("logging.level", "info")
}

// Load reads configuration from path (optional), layered under TRADEPIPE_*
// environment overrides. A .env file is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TRADEPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.Strategy.MinConfidenceScore < 0 || c.Strategy.MinConfidenceScore > 1 {
		return fmt.Errorf("minConfidenceScore %v outside [0,1]", c.Strategy.MinConfidenceScore)
	}
	if c.Risk.MaxOpenPositions <= 0 {
		return fmt.Errorf("maxOpenPositions must be positive")
	}
	switch strings.ToUpper(c.TradingMode.Mode) {
	case "LIVE", "PAPER", "BACKTEST", "SIMULATION":
	default:
		return fmt.Errorf("unknown trading mode %q", c.TradingMode.Mode)
	}
	return nil
}
