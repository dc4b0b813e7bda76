package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Postgres Postgres
	Redis    Redis
	API      API
	Cache    Cache
	Jobs     Jobs
	FX       FX
	Pricing  Pricing
}

type Postgres struct {
	Host            string `env:"PG_HOST"`
	Port            int    `env:"PG_PORT"`
	DbName          string `env:"PG_DB_NAME"`
	Password        string `env:"PG_PASSWORD"`
	User            string `env:"PG_USER"`
	MaxOpenConns    int    `env:"PG_MAX_OPEN_CONNS" envDefault:"10"`
	ConnMaxLifetime int    `env:"PG_CONN_MAX_LIFETIME" envDefault:"300"`
	MaxIdleConns    int    `env:"PG_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxIdleTime int    `env:"PG_CONN_MAX_IDLE_TIME" envDefault:"60"`
	MigrationDir    string `env:"PG_MIGRATION_DIR" envDefault:"migrations"`
}

type Redis struct {
	Host     string `env:"REDIS_HOST"`
	Port     int    `env:"REDIS_PORT"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type API struct {
	Debug    bool          `env:"API_DEBUG" envDefault:"false"`
	Timeout  time.Duration `env:"API_TIMEOUT" envDefault:"15s"`
	QuoteApi QuoteApi
}

type QuoteApi struct {
	Url string `env:"QUOTE_API_URL"`
}

type Cache struct {
	QuotesExpiration time.Duration `env:"CACHE_QUOTES_EXPIRATION" envDefault:"5m"`
}

type Jobs struct {
	DailySnapshotCrontab string        `env:"DAILY_SNAPSHOT_CRONTAB" envDefault:"5 0 * * *"`
	BackfillInterval     time.Duration `env:"BACKFILL_JOB_INTERVAL" envDefault:"24h"`
}

// FX holds the static exchange-rate table used to normalize amounts into the
// settlement currency. Rates are expressed relative to the base currency,
// e.g. HKD:7.8 means 7.8 HKD per 1 USD.
type FX struct {
	BaseCurrency string             `env:"FX_BASE_CURRENCY" envDefault:"USD"`
	Rates        map[string]float64 `env:"FX_RATES" envDefault:"USD:1,HKD:7.8,MOP:8.03,CNY:7.2"`
}

type Pricing struct {
	// CoverageRatio approximates the share of calendar days that are trading
	// days. A symbol whose cached day count within a requested range falls
	// below rangeDays*CoverageRatio gets re-fetched from the provider.
	CoverageRatio float64 `env:"PRICE_COVERAGE_RATIO" envDefault:"0.6"`
}

func MustLoad() *Config {
	_ = godotenv.Load(".env")

	cfg := &Config{}

	opts := env.Options{RequiredIfNoDef: true}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		log.Fatalf("parse config error: %s", err)
	}

	return cfg
}
