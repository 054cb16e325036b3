// Package config handles configuration management with validation.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete static configuration structure. Runtime
// tunables live in StrategySnapshot and are refreshed by the tuner; nothing
// in Config changes after startup.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Streams   StreamConfig    `yaml:"streams"`
	Trading   TradingConfig   `yaml:"trading"`
	Execution ExecutionConfig `yaml:"execution"`
	Risk      RiskConfig      `yaml:"risk"`
	Tuner     TunerConfig     `yaml:"tuner"`
	Journal   JournalConfig   `yaml:"journal"`
	Alert     AlertConfig     `yaml:"alert"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	System    SystemConfig    `yaml:"system"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Mode string `yaml:"mode"` // "sim" or "live"
}

// ExchangeConfig contains local exchange credentials and fees.
type ExchangeConfig struct {
	AccessKey Secret  `yaml:"access_key"`
	SecretKey Secret  `yaml:"secret_key"`
	BaseURL   string  `yaml:"base_url"`
	FeeRate   float64 `yaml:"fee_rate"`  // per-side taker fee, e.g. 0.0005
	SimCash   float64 `yaml:"sim_cash"`  // starting cash for paper mode
	QuoteCcy  string  `yaml:"quote_ccy"` // e.g. "KRW"
}

// StreamConfig contains the two streaming subscriptions.
type StreamConfig struct {
	LocalWSURL        string `yaml:"local_ws_url"`
	ReferenceWSURL    string `yaml:"reference_ws_url"`
	ReconnectDelaySec int    `yaml:"reconnect_delay_sec"`
	EpochCheckSec     int    `yaml:"epoch_check_sec"`
}

// TradingConfig contains decision-loop parameters.
type TradingConfig struct {
	OrderAmount    float64 `yaml:"order_amount"`    // quote value per entry
	MinOrderValue  float64 `yaml:"min_order_value"` // exchange minimum
	LoopDelayMS    int     `yaml:"loop_delay_ms"`
	CandleInterval string  `yaml:"candle_interval"`
	CandleCount    int     `yaml:"candle_count"`
	WarmupDelaySec int     `yaml:"warmup_delay_sec"` // wait for stream sync at start
}

// ExecutionConfig contains order-executor parameters.
type ExecutionConfig struct {
	BookDepth         int     `yaml:"book_depth"`
	MaxAssetRatio     float64 `yaml:"max_asset_ratio"`     // cap vs balance
	MaxBookRatio      float64 `yaml:"max_book_ratio"`      // cap vs top-N ask liquidity
	BadAskRatio       float64 `yaml:"bad_ask_ratio"`       // ask >= k1*bid -> BAD
	GoodBidRatio      float64 `yaml:"good_bid_ratio"`      // bid >= k2*ask -> GOOD
	SpoofBidDominance float64 `yaml:"spoof_bid_dominance"` // bid >= k*ask triggers spoof check
	SpoofWindowSec    int     `yaml:"spoof_window_sec"`
	MinRecentBuyValue float64 `yaml:"min_recent_buy_value"`
	BuyFillWaitMS     int     `yaml:"buy_fill_wait_ms"`
	SellFillWaitMS    int     `yaml:"sell_fill_wait_ms"`
	ProfitRounds      int     `yaml:"profit_rounds"`
	RateLimit         float64 `yaml:"rate_limit"`
	RateBurst         int     `yaml:"rate_burst"`
}

// RiskConfig contains static risk-engine parameters. The tunable thresholds
// (stop loss, trailing, partial sell) live in the strategy snapshot.
type RiskConfig struct {
	CostAllowancePct     float64 `yaml:"cost_allowance_pct"` // fees+slippage estimate, e.g. 0.15
	VWAPStopGraceSec     int     `yaml:"vwap_stop_grace_sec"`
	RSIPanicGraceSec     int     `yaml:"rsi_panic_grace_sec"`
	TimeStopAfterSec     int     `yaml:"time_stop_after_sec"`
	TimeStopMinProfitPct float64 `yaml:"time_stop_min_profit_pct"`
	StopLossCooldownSec  int     `yaml:"stop_loss_cooldown_sec"`
	VWAPStopCooldownSec  int     `yaml:"vwap_stop_cooldown_sec"`
	RSIPanicCooldownSec  int     `yaml:"rsi_panic_cooldown_sec"`
	TimeStopCooldownSec  int     `yaml:"time_stop_cooldown_sec"`
	MaxGlobalLossPct     float64 `yaml:"max_global_loss_pct"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
}

// TunerConfig points at the externally refreshed strategy file.
type TunerConfig struct {
	StrategyFile       string `yaml:"strategy_file"`
	RefreshIntervalSec int    `yaml:"refresh_interval_sec"`
}

// JournalConfig contains trade journal settings.
type JournalConfig struct {
	DBPath string `yaml:"db_path"`
}

// AlertConfig contains notification channel settings.
type AlertConfig struct {
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// SystemConfig contains system settings.
type SystemConfig struct {
	LogLevel     string `yaml:"log_level"`
	CancelOnExit bool   `yaml:"cancel_on_exit"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable
// expansion.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.App.Mode == "" {
		c.App.Mode = "sim"
	}
	if c.Exchange.FeeRate == 0 {
		c.Exchange.FeeRate = 0.0005
	}
	if c.Exchange.SimCash == 0 {
		c.Exchange.SimCash = 10_000_000
	}
	if c.Exchange.QuoteCcy == "" {
		c.Exchange.QuoteCcy = "KRW"
	}
	if c.Streams.ReconnectDelaySec == 0 {
		c.Streams.ReconnectDelaySec = 2
	}
	if c.Streams.EpochCheckSec == 0 {
		c.Streams.EpochCheckSec = 1
	}
	if c.Trading.LoopDelayMS == 0 {
		c.Trading.LoopDelayMS = 1000
	}
	if c.Trading.CandleInterval == "" {
		c.Trading.CandleInterval = "1m"
	}
	if c.Trading.CandleCount == 0 {
		c.Trading.CandleCount = 50
	}
	if c.Trading.MinOrderValue == 0 {
		c.Trading.MinOrderValue = 5000
	}
	if c.Trading.WarmupDelaySec == 0 {
		c.Trading.WarmupDelaySec = 3
	}
	if c.Execution.BookDepth == 0 {
		c.Execution.BookDepth = 5
	}
	if c.Execution.MaxAssetRatio == 0 {
		c.Execution.MaxAssetRatio = 0.3
	}
	if c.Execution.MaxBookRatio == 0 {
		c.Execution.MaxBookRatio = 0.1
	}
	if c.Execution.BadAskRatio == 0 {
		c.Execution.BadAskRatio = 1.5
	}
	if c.Execution.GoodBidRatio == 0 {
		c.Execution.GoodBidRatio = 2.0
	}
	if c.Execution.SpoofBidDominance == 0 {
		c.Execution.SpoofBidDominance = 2.0
	}
	if c.Execution.SpoofWindowSec == 0 {
		c.Execution.SpoofWindowSec = 3
	}
	if c.Execution.MinRecentBuyValue == 0 {
		c.Execution.MinRecentBuyValue = 1_000_000
	}
	if c.Execution.BuyFillWaitMS == 0 {
		c.Execution.BuyFillWaitMS = 2000
	}
	if c.Execution.SellFillWaitMS == 0 {
		c.Execution.SellFillWaitMS = 1000
	}
	if c.Execution.ProfitRounds == 0 {
		c.Execution.ProfitRounds = 3
	}
	if c.Execution.RateLimit == 0 {
		c.Execution.RateLimit = 8
	}
	if c.Execution.RateBurst == 0 {
		c.Execution.RateBurst = 10
	}
	if c.Risk.CostAllowancePct == 0 {
		c.Risk.CostAllowancePct = 0.15
	}
	if c.Risk.VWAPStopGraceSec == 0 {
		c.Risk.VWAPStopGraceSec = 60
	}
	if c.Risk.RSIPanicGraceSec == 0 {
		c.Risk.RSIPanicGraceSec = 120
	}
	if c.Risk.TimeStopAfterSec == 0 {
		c.Risk.TimeStopAfterSec = 180
	}
	if c.Risk.TimeStopMinProfitPct == 0 {
		c.Risk.TimeStopMinProfitPct = 0.2
	}
	if c.Risk.StopLossCooldownSec == 0 {
		c.Risk.StopLossCooldownSec = 3600
	}
	if c.Risk.VWAPStopCooldownSec == 0 {
		c.Risk.VWAPStopCooldownSec = 1800
	}
	if c.Risk.RSIPanicCooldownSec == 0 {
		c.Risk.RSIPanicCooldownSec = 3600
	}
	if c.Risk.TimeStopCooldownSec == 0 {
		c.Risk.TimeStopCooldownSec = 600
	}
	if c.Risk.MaxGlobalLossPct == 0 {
		c.Risk.MaxGlobalLossPct = 5.0
	}
	if c.Tuner.RefreshIntervalSec == 0 {
		c.Tuner.RefreshIntervalSec = 1800
	}
	if c.Journal.DBPath == "" {
		c.Journal.DBPath = "trades.db"
	}
	if c.Telemetry.MetricsPort == 0 {
		c.Telemetry.MetricsPort = 9090
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
}

// Validate performs validation of the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.App.Mode != "sim" && c.App.Mode != "live" {
		errs = append(errs, ValidationError{
			Field: "app.mode", Value: c.App.Mode,
			Message: "must be one of: sim, live",
		}.Error())
	}

	if c.App.Mode == "live" {
		if c.Exchange.AccessKey == "" || c.Exchange.SecretKey == "" {
			errs = append(errs, ValidationError{
				Field:   "exchange.access_key",
				Message: "access_key and secret_key are required in live mode",
			}.Error())
		}
		if c.Exchange.BaseURL == "" {
			errs = append(errs, ValidationError{
				Field:   "exchange.base_url",
				Message: "base_url is required in live mode",
			}.Error())
		}
	}

	if c.Exchange.FeeRate < 0 || c.Exchange.FeeRate >= 1 {
		errs = append(errs, ValidationError{
			Field: "exchange.fee_rate", Value: c.Exchange.FeeRate,
			Message: "must be in [0, 1)",
		}.Error())
	}

	if c.Streams.LocalWSURL == "" || c.Streams.ReferenceWSURL == "" {
		errs = append(errs, ValidationError{
			Field:   "streams",
			Message: "local_ws_url and reference_ws_url are required",
		}.Error())
	}

	if c.Trading.OrderAmount <= 0 {
		errs = append(errs, ValidationError{
			Field: "trading.order_amount", Value: c.Trading.OrderAmount,
			Message: "must be positive",
		}.Error())
	}
	if c.Trading.OrderAmount > 0 && c.Trading.OrderAmount < c.Trading.MinOrderValue {
		errs = append(errs, ValidationError{
			Field: "trading.order_amount", Value: c.Trading.OrderAmount,
			Message: fmt.Sprintf("must be at least min_order_value (%v)", c.Trading.MinOrderValue),
		}.Error())
	}

	if c.Execution.MaxAssetRatio <= 0 || c.Execution.MaxAssetRatio > 1 {
		errs = append(errs, ValidationError{
			Field: "execution.max_asset_ratio", Value: c.Execution.MaxAssetRatio,
			Message: "must be in (0, 1]",
		}.Error())
	}
	if c.Execution.MaxBookRatio <= 0 || c.Execution.MaxBookRatio > 1 {
		errs = append(errs, ValidationError{
			Field: "execution.max_book_ratio", Value: c.Execution.MaxBookRatio,
			Message: "must be in (0, 1]",
		}.Error())
	}

	if c.Tuner.StrategyFile == "" {
		errs = append(errs, ValidationError{
			Field:   "tuner.strategy_file",
			Message: "strategy_file is required",
		}.Error())
	}

	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		errs = append(errs, ValidationError{
			Field: "system.log_level", Value: c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

// LoopDelay returns the decision loop delay as a duration.
func (c *TradingConfig) LoopDelay() time.Duration {
	return time.Duration(c.LoopDelayMS) * time.Millisecond
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} references with environment values.
func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
