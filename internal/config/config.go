// Package config loads server configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/kumanofoo/tako/internal/demand"
	"github.com/kumanofoo/tako/internal/market"
)

// Config holds every tunable of the server. Defaults reproduce the classic
// market: 09:00–18:00 JST, make for 40, sell for 50, seed 5000, target 30000.
type Config struct {
	Port int `envconfig:"PORT" default:"8080"`

	// Storage. SQLite is the default; DATABASE_URL switches to PostgreSQL
	// and REDIS_URL adds a read-through cache on top.
	DBPath      string        `envconfig:"TAKO_DB" default:"tako_storage.db"`
	DatabaseURL string        `envconfig:"DATABASE_URL"`
	RedisURL    string        `envconfig:"REDIS_URL"`
	CacheTTL    time.Duration `envconfig:"CACHE_TTL" default:"30s"`

	// Event streaming. Disabled when no brokers are set.
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"tako.events"`

	// Trading window, market-local.
	OpeningTime string `envconfig:"OPENING_TIME" default:"09:00"`
	ClosingTime string `envconfig:"CLOSING_TIME" default:"18:00"`
	UTCOffset   int    `envconfig:"UTC_OFFSET" default:"9"`

	// Unit economics and season thresholds.
	CostPrice    int64 `envconfig:"COST_PRICE" default:"40"`
	SellingPrice int64 `envconfig:"SELLING_PRICE" default:"50"`
	SeedMoney    int64 `envconfig:"SEED_MONEY" default:"5000"`
	TargetMoney  int64 `envconfig:"TARGET_MONEY" default:"30000"`

	// Expected unit sales per weather category.
	SunnySales  int64 `envconfig:"SUNNY_SALES" default:"500"`
	CloudySales int64 `envconfig:"CLOUDY_SALES" default:"300"`
	RainySales  int64 `envconfig:"RAINY_SALES" default:"100"`
	SnowySales  int64 `envconfig:"SNOWY_SALES" default:"100"`

	// Scheduler poll interval.
	TickInterval time.Duration `envconfig:"TICK_INTERVAL" default:"30s"`

	// Forecast service. Empty means no service; every round uses the
	// fallback weather.
	ForecastURL     string        `envconfig:"FORECAST_URL"`
	ForecastTimeout time.Duration `envconfig:"FORECAST_TIMEOUT" default:"10s"`

	// RandomSeed fixes the demand and place randomness for reproducible
	// runs. Zero seeds from the clock.
	RandomSeed int64 `envconfig:"RANDOM_SEED"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogDir   string `envconfig:"LOG_DIR"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if c.CostPrice <= 0 || c.SellingPrice <= 0 {
		return nil, fmt.Errorf("prices must be positive (cost %d, sell %d)", c.CostPrice, c.SellingPrice)
	}
	if c.SeedMoney <= 0 || c.TargetMoney <= c.SeedMoney {
		return nil, fmt.Errorf("target %d must exceed seed %d", c.TargetMoney, c.SeedMoney)
	}
	return &c, nil
}

// Prices returns the configured unit economics.
func (c *Config) Prices() market.Prices {
	return market.Prices{
		Cost: decimal.NewFromInt(c.CostPrice),
		Sell: decimal.NewFromInt(c.SellingPrice),
	}
}

// Seed returns the season-start balance.
func (c *Config) Seed() decimal.Decimal { return decimal.NewFromInt(c.SeedMoney) }

// Target returns the season-winning balance.
func (c *Config) Target() decimal.Decimal { return decimal.NewFromInt(c.TargetMoney) }

// Baselines returns the configured demand baselines.
func (c *Config) Baselines() demand.Baselines {
	return demand.Baselines{
		Sunny:  c.SunnySales,
		Cloudy: c.CloudySales,
		Rainy:  c.RainySales,
		Snowy:  c.SnowySales,
	}
}
