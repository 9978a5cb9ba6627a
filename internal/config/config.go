package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "CRACKERPOS"

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	ShopName      string `envconfig:"SHOP_NAME" default:"CrackerPOS"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"crackerpos.db"`
	DatabaseURL string `envconfig:"DATABASE_URL"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	DashboardTTL      time.Duration `envconfig:"DASHBOARD_TTL" default:"30s"`
	LowStockThreshold int           `envconfig:"LOW_STOCK_THRESHOLD" default:"10"`

	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`

	ReceiptDir         string `envconfig:"RECEIPT_DIR" default:"receipts"`
	ReceiptPrinterAddr string `envconfig:"RECEIPT_PRINTER_ADDR"`
	ReceiptWidth       int    `envconfig:"RECEIPT_WIDTH" default:"32"`

	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"LOG_WARN_STACK" default:"false"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	switch cfg.StoreDriver {
	case StoreSQLite, StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("%s_DATABASE_URL is required for the postgres store", EnvPrefix)
		}
	default:
		return nil, fmt.Errorf("unknown %s_STORE_DRIVER %q", EnvPrefix, cfg.StoreDriver)
	}
	if cfg.AccessTokenTTL <= 0 {
		return nil, fmt.Errorf("%s_ACCESS_TOKEN_TTL must be positive", EnvPrefix)
	}
	if cfg.LowStockThreshold < 0 {
		return nil, fmt.Errorf("%s_LOW_STOCK_THRESHOLD must not be negative", EnvPrefix)
	}
	return &cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
