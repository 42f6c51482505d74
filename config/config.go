// Package config loads the agent configuration from environment variables,
// optionally pre-loaded from a .env file.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"sip-agent/internal/strategy"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Basket
	Symbols        []string
	BudgetUSDC     float64
	MaxSlippageBps int
	NearDeadline   bool // force execution regardless of the trigger
	DryRun         bool // paper swaps instead of the runner
	PaperSlipBps   int

	// Delegates
	MerchantURL string
	DataURL     string
	RunnerURL   string
	USDCMint    string
	HTTPTimeout time.Duration
	DelegateRPS float64
	CandleTF    string
	CandleLimit int

	Trigger strategy.Config

	// Scheduling
	MaxConcurrency int
	CycleInterval  time.Duration // 0 runs a single cycle

	// Logging
	LogLevel string
	LogFile  string

	// Infrastructure
	SQLitePath     string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	MetricsAddr    string
	PushgatewayURL string

	// Alerts
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads an optional .env file (a missing file is fine) and then the
// environment. Every malformed value is reported in the returned error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	p := &parser{}
	def := strategy.DefaultConfig()

	cfg := &Config{
		Symbols:        ParseSymbols(getEnv("SYMBOLS", "BTC,ETH,SOL")),
		BudgetUSDC:     p.number("BUDGET_USDC", 100),
		MaxSlippageBps: p.integer("MAX_SLIPPAGE_BPS", 30),
		NearDeadline:   p.flag("NEAR_DEADLINE"),
		DryRun:         p.flag("DRY_RUN"),
		PaperSlipBps:   p.integer("PAPER_SLIPPAGE_BPS", 10),

		MerchantURL: getEnv("X402_MERCHANT_URL", "http://localhost:7003"),
		DataURL:     getEnv("DATA_AGENT_URL", "http://localhost:7200"),
		RunnerURL:   getEnv("RUNNER_URL", "http://localhost:7100"),
		USDCMint:    getEnv("USDC_MINT", "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"),
		HTTPTimeout: p.duration("HTTP_TIMEOUT", 15*time.Second),
		DelegateRPS: p.number("DELEGATE_RPS", 10),
		CandleTF:    getEnv("CANDLE_TF", "5m"),
		CandleLimit: p.integer("CANDLE_LIMIT", 500),

		Trigger: strategy.Config{
			RSILength:      p.integer("RSI_LEN", def.RSILength),
			EMAShort:       p.integer("EMA_SHORT", def.EMAShort),
			EMAMedium:      p.integer("EMA_MED", def.EMAMedium),
			EMALong:        p.integer("EMA_LONG", def.EMALong),
			MACDFast:       p.integer("MACD_FAST", def.MACDFast),
			MACDSlow:       p.integer("MACD_SLOW", def.MACDSlow),
			MACDSignal:     p.integer("MACD_SIG", def.MACDSignal),
			ZScoreLength:   p.integer("ZSCORE_LEN", def.ZScoreLength),
			RSIBuyBelow:    p.number("RSI_BUY_BELOW", def.RSIBuyBelow),
			MaxZBelowEMA20: p.number("MAX_ZSCORE_BELOW_EMA20", def.MaxZBelowEMA20),
			MinCandles:     p.integer("MIN_CANDLES", def.MinCandles),
			RequireUptrend: p.boolDefault("REQUIRE_UPTREND_MA", def.RequireUptrend),
		},

		MaxConcurrency: p.integer("MAX_CONCURRENCY", 3),
		CycleInterval:  p.duration("CYCLE_INTERVAL", 0),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		SQLitePath:     getEnv("SQLITE_PATH", ""),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        p.integer("REDIS_DB", 0),
		MetricsAddr:    getEnv("METRICS_ADDR", ""),
		PushgatewayURL: getEnv("PUSHGATEWAY_URL", ""),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}

	if err := cfg.Trigger.Validate(); err != nil {
		p.errs = append(p.errs, err)
	}
	if cfg.BudgetUSDC < 0 {
		p.errs = append(p.errs, fmt.Errorf("BUDGET_USDC: must not be negative, got %v", cfg.BudgetUSDC))
	}
	if cfg.MaxConcurrency < 1 {
		p.errs = append(p.errs, fmt.Errorf("MAX_CONCURRENCY: must be at least 1, got %d", cfg.MaxConcurrency))
	}
	if cfg.HTTPTimeout <= 0 {
		p.errs = append(p.errs, fmt.Errorf("HTTP_TIMEOUT: must be positive, got %s", cfg.HTTPTimeout))
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ParseSymbols splits a comma list, trimming and upper-casing each entry and
// dropping empties.
func ParseSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// parser collects every malformed value instead of stopping at the first.
type parser struct {
	errs []error
}

func (p *parser) integer(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: not an integer: %q", key, v))
		return fallback
	}
	return n
}

func (p *parser) number(key string, fallback float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		p.errs = append(p.errs, fmt.Errorf("%s: not a finite number: %q", key, v))
		return fallback
	}
	return f
}

// flag is true only for "1".
func (p *parser) flag(key string) bool {
	return getEnv(key, "0") == "1"
}

func (p *parser) boolDefault(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: not a boolean: %q", key, v))
		return fallback
	}
	return b
}

// duration accepts bare seconds ("15", "0.5") or a Go duration ("15s").
func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: not a duration: %q", key, v))
		return fallback
	}
	return d
}
