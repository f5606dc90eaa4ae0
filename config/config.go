package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// TradingMode selects where accepted orders are routed.
type TradingMode string

const (
	ModePaper TradingMode = "paper"
	ModeLive  TradingMode = "live"
)

// RiskConfig holds the static limits the engine enforces. It is read once at
// startup and never mutated afterwards.
type RiskConfig struct {
	InitialCash decimal.Decimal

	MaxPositionPct      float64 // single order value / portfolio value
	MaxConcentrationPct float64 // total symbol exposure / portfolio value
	MaxPortfolioHeat    float64 // total exposure / portfolio value
	MaxDrawdownPct      float64
	DailyLossStopPct    float64
	WeeklyLossStopPct   float64

	MaxKellyFraction float64
	MinStopPct       float64
	MaxStopPct       float64
	MinRewardRisk    float64

	CommissionPerTrade decimal.Decimal
	CommissionPerShare decimal.Decimal

	SlippageBps           float64
	MinSlippage           decimal.Decimal
	SlippageSizeStep      int64 // shares per +1.0 of size multiplier
	MaxSlippageMultiplier float64

	MinHarvestLoss     decimal.Decimal
	ShortTermRate      float64
	LongTermRate       float64
	MaxYearEndHarvests int

	EnforceMarketHours bool
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Mode TradingMode
	Risk RiskConfig

	// Infrastructure
	SQLitePath     string
	SQLiteDriver   string // "sqlite3" (mattn, cgo) or "sqlite" (modernc)
	SQLitePoolSize int
	RedisAddr      string
	RedisPassword  string
	PriceCacheTTL  time.Duration
	PriceFeedURL   string
	PaperPrices    string // "AAPL=150,MSFT=300" seeds the static oracle
	MetricsAddr    string

	SnapshotInterval time.Duration
	CleanupInterval  time.Duration

	// Alerts
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string

	LogLevel string

	// Alpaca credentials, live mode only
	AlpacaKeyID     string
	AlpacaSecretKey string
	AlpacaBaseURL   string
}

// DefaultRisk returns the limits used when no override is set.
func DefaultRisk() RiskConfig {
	return RiskConfig{
		InitialCash:           decimal.NewFromInt(100000),
		MaxPositionPct:        0.20,
		MaxConcentrationPct:   0.25,
		MaxPortfolioHeat:      0.80,
		MaxDrawdownPct:        0.20,
		DailyLossStopPct:      0.03,
		WeeklyLossStopPct:     0.06,
		MaxKellyFraction:      0.25,
		MinStopPct:            0.01,
		MaxStopPct:            0.25,
		MinRewardRisk:         2.0,
		CommissionPerTrade:    decimal.NewFromInt(1),
		CommissionPerShare:    decimal.RequireFromString("0.005"),
		SlippageBps:           5,
		MinSlippage:           decimal.RequireFromString("0.01"),
		SlippageSizeStep:      1000,
		MaxSlippageMultiplier: 3.0,
		MinHarvestLoss:        decimal.NewFromInt(100),
		ShortTermRate:         0.37,
		LongTermRate:          0.20,
		MaxYearEndHarvests:    10,
	}
}

// Load reads a .env file if present, then environment variables with
// defaults, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] no .env file found, using process environment")
	}

	var p parser
	def := DefaultRisk()

	cfg := &Config{
		Mode: TradingMode(strings.ToLower(getEnv("TRADING_MODE", string(ModePaper)))),
		Risk: RiskConfig{
			InitialCash:           p.decimal("INITIAL_CASH", def.InitialCash),
			MaxPositionPct:        p.float("MAX_POSITION_PCT", def.MaxPositionPct),
			MaxConcentrationPct:   p.float("MAX_CONCENTRATION_PCT", def.MaxConcentrationPct),
			MaxPortfolioHeat:      p.float("MAX_PORTFOLIO_HEAT", def.MaxPortfolioHeat),
			MaxDrawdownPct:        p.float("MAX_DRAWDOWN_PCT", def.MaxDrawdownPct),
			DailyLossStopPct:      p.float("DAILY_LOSS_STOP_PCT", def.DailyLossStopPct),
			WeeklyLossStopPct:     p.float("WEEKLY_LOSS_STOP_PCT", def.WeeklyLossStopPct),
			MaxKellyFraction:      p.float("MAX_KELLY_FRACTION", def.MaxKellyFraction),
			MinStopPct:            p.float("MIN_STOP_PCT", def.MinStopPct),
			MaxStopPct:            p.float("MAX_STOP_PCT", def.MaxStopPct),
			MinRewardRisk:         p.float("MIN_REWARD_RISK", def.MinRewardRisk),
			CommissionPerTrade:    p.decimal("COMMISSION_PER_TRADE", def.CommissionPerTrade),
			CommissionPerShare:    p.decimal("COMMISSION_PER_SHARE", def.CommissionPerShare),
			SlippageBps:           p.float("SLIPPAGE_BPS", def.SlippageBps),
			MinSlippage:           p.decimal("MIN_SLIPPAGE", def.MinSlippage),
			SlippageSizeStep:      p.int64("SLIPPAGE_SIZE_STEP", def.SlippageSizeStep),
			MaxSlippageMultiplier: p.float("MAX_SLIPPAGE_MULTIPLIER", def.MaxSlippageMultiplier),
			MinHarvestLoss:        p.decimal("MIN_HARVEST_LOSS", def.MinHarvestLoss),
			ShortTermRate:         p.float("SHORT_TERM_RATE", def.ShortTermRate),
			LongTermRate:          p.float("LONG_TERM_RATE", def.LongTermRate),
			MaxYearEndHarvests:    int(p.int64("MAX_YEAR_END_HARVESTS", int64(def.MaxYearEndHarvests))),
			EnforceMarketHours:    p.bool("ENFORCE_MARKET_HOURS", false),
		},

		SQLitePath:     getEnv("SQLITE_PATH", "data/ledger.db"),
		SQLiteDriver:   getEnv("SQLITE_DRIVER", "sqlite3"),
		SQLitePoolSize: int(p.int64("SQLITE_POOL_SIZE", 4)),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		PriceCacheTTL:  p.duration("PRICE_CACHE_TTL", 5*time.Second),
		PriceFeedURL:   getEnv("PRICE_FEED_URL", ""),
		PaperPrices:    getEnv("PAPER_PRICES", ""),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9090"),

		SnapshotInterval: p.duration("SNAPSHOT_INTERVAL", 5*time.Minute),
		CleanupInterval:  p.duration("WASH_SALE_CLEANUP_INTERVAL", 24*time.Hour),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		AlpacaKeyID:     getEnv("APCA_API_KEY_ID", ""),
		AlpacaSecretKey: getEnv("APCA_API_SECRET_KEY", ""),
		AlpacaBaseURL:   getEnv("APCA_API_BASE_URL", ""),
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModePaper:
	case ModeLive:
		if c.AlpacaKeyID == "" || c.AlpacaSecretKey == "" {
			return fmt.Errorf("config: live mode requires APCA_API_KEY_ID and APCA_API_SECRET_KEY")
		}
	default:
		return fmt.Errorf("config: TRADING_MODE must be paper or live, got %q", c.Mode)
	}
	switch c.SQLiteDriver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("config: SQLITE_DRIVER must be sqlite3 or sqlite, got %q", c.SQLiteDriver)
	}
	if c.SQLitePoolSize <= 0 {
		return fmt.Errorf("config: SQLITE_POOL_SIZE must be positive")
	}
	return c.Risk.Validate()
}

// Validate checks that every limit is in range.
func (r RiskConfig) Validate() error {
	if !r.InitialCash.IsPositive() {
		return fmt.Errorf("config: INITIAL_CASH must be positive")
	}
	fractions := map[string]float64{
		"MAX_POSITION_PCT":      r.MaxPositionPct,
		"MAX_CONCENTRATION_PCT": r.MaxConcentrationPct,
		"MAX_PORTFOLIO_HEAT":    r.MaxPortfolioHeat,
		"MAX_DRAWDOWN_PCT":      r.MaxDrawdownPct,
		"DAILY_LOSS_STOP_PCT":   r.DailyLossStopPct,
		"WEEKLY_LOSS_STOP_PCT":  r.WeeklyLossStopPct,
		"MAX_KELLY_FRACTION":    r.MaxKellyFraction,
		"MIN_STOP_PCT":          r.MinStopPct,
		"MAX_STOP_PCT":          r.MaxStopPct,
		"SHORT_TERM_RATE":       r.ShortTermRate,
		"LONG_TERM_RATE":        r.LongTermRate,
	}
	for name, v := range fractions {
		if v < 0 || v > 1 {
			return fmt.Errorf("config: %s must be within [0, 1], got %v", name, v)
		}
	}
	if r.MinStopPct > r.MaxStopPct {
		return fmt.Errorf("config: MIN_STOP_PCT %.4f exceeds MAX_STOP_PCT %.4f", r.MinStopPct, r.MaxStopPct)
	}
	if r.SlippageBps < 0 || r.MinSlippage.IsNegative() {
		return fmt.Errorf("config: slippage must not be negative")
	}
	if r.CommissionPerTrade.IsNegative() || r.CommissionPerShare.IsNegative() {
		return fmt.Errorf("config: commission must not be negative")
	}
	if r.SlippageSizeStep <= 0 || r.MaxSlippageMultiplier < 1 {
		return fmt.Errorf("config: SLIPPAGE_SIZE_STEP must be positive and MAX_SLIPPAGE_MULTIPLIER >= 1")
	}
	return nil
}

// ParsePaperPrices parses "SYM=PRICE,..." pairs, skipping malformed entries.
func (c *Config) ParsePaperPrices() map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal)
	for _, part := range strings.Split(c.PaperPrices, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			log.Printf("[config] skipping invalid paper price: %q", part)
			continue
		}
		px, err := decimal.NewFromString(strings.TrimSpace(kv[1]))
		if err != nil || !px.IsPositive() {
			log.Printf("[config] skipping invalid paper price: %q", part)
			continue
		}
		prices[strings.ToUpper(strings.TrimSpace(kv[0]))] = px
	}
	return prices
}

// parser collects the first parse error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) fail(key, v string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("config: invalid %s=%q: %w", key, v, err)
	}
}

func (p *parser) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return f
}

func (p *parser) int64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return n
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return b
}

func (p *parser) decimal(key string, fallback decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return d
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return d
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
