package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

const (
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

type Config struct {
	Env  string `env:"APP_ENV" envDefault:"development"`
	Port string `env:"PORT" envDefault:"8080"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"redis"`
	RedisURL    string `env:"REDIS_URL" envDefault:"localhost:6379"`
	RedisPass   string `env:"REDIS_PASSWORD"`
	RedisDB     int    `env:"REDIS_DB" envDefault:"0"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"data/casino.db"`

	JWTSecret string        `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	JWTExpiry time.Duration `env:"JWT_EXPIRY" envDefault:"24h"`

	StartingCredits decimal.Decimal `env:"STARTING_CREDITS" envDefault:"1000"`
	MinBet          decimal.Decimal `env:"MIN_BET" envDefault:"0.01"`
	MaxBet          decimal.Decimal `env:"MAX_BET" envDefault:"10000"`

	EdgeFraction  decimal.Decimal `env:"HOUSE_EDGE" envDefault:"0.05"`
	MaxMultiplier decimal.Decimal `env:"MAX_MULTIPLIER" envDefault:"1000000"`
	GrowthRate    decimal.Decimal `env:"CRASH_GROWTH_RATE" envDefault:"0.1"`

	// RevealCrashOnStart returns the crash point in the start response so a
	// client can render its own counter.
	RevealCrashOnStart bool          `env:"REVEAL_CRASH_ON_START" envDefault:"false"`
	EnforceLiveCounter bool          `env:"ENFORCE_LIVE_COUNTER" envDefault:"true"`
	RevealGrace        time.Duration `env:"CRASH_REVEAL_GRACE" envDefault:"2s"`
	RevealMinimum      time.Duration `env:"CRASH_REVEAL_MINIMUM" envDefault:"5s"`
	SweepInterval      time.Duration `env:"CRASH_SWEEP_INTERVAL" envDefault:"30s"`

	RateLimitBets     int           `env:"RATE_LIMIT_BETS" envDefault:"30"`
	RateLimitCashouts int           `env:"RATE_LIMIT_CASHOUTS" envDefault:"60"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// Load reads configuration from the environment. Call godotenv.Load first
// when a .env file should be honoured.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreRedis, StoreSQLite:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.EdgeFraction.LessThanOrEqual(decimal.Zero) || c.EdgeFraction.GreaterThanOrEqual(decimal.NewFromFloat(0.5)) {
		return fmt.Errorf("HOUSE_EDGE must be in (0, 0.5), got %s", c.EdgeFraction)
	}
	if c.MaxMultiplier.LessThan(decimal.NewFromInt(2)) {
		return fmt.Errorf("MAX_MULTIPLIER must be at least 2, got %s", c.MaxMultiplier)
	}
	if !c.GrowthRate.IsPositive() {
		return fmt.Errorf("CRASH_GROWTH_RATE must be positive")
	}
	if !c.MinBet.IsPositive() || c.MaxBet.LessThan(c.MinBet) {
		return fmt.Errorf("invalid bet limits %s..%s", c.MinBet, c.MaxBet)
	}
	if c.StartingCredits.IsNegative() {
		return fmt.Errorf("STARTING_CREDITS must not be negative")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("CRASH_SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
