// Package config defines the top-level configuration for the ledger daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// duration wraps time.Duration so TOML values like "24h" decode directly.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by LEDGERD_* environment
// variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Resolver ResolverConfig `toml:"resolver"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig holds the accounting core parameters.
type LedgerConfig struct {
	// TicketPriceWei is the exact wei price of one ticket, as a decimal
	// string (default 0.001 ETH).
	TicketPriceWei string `toml:"ticket_price_wei"`

	// FeeBps is the initial house fee in basis points of the pool.
	FeeBps uint32 `toml:"fee_bps"`

	// RoundDuration aligns round boundaries; 24h closes rounds at UTC
	// midnight.
	RoundDuration duration `toml:"round_duration"`

	// Markets are the symbols seeded at startup.
	Markets []string `toml:"markets"`

	// Owner is the hex address holding the resolver/owner role.
	Owner string `toml:"owner"`
}

// TicketPrice parses TicketPriceWei into a big integer.
func (c LedgerConfig) TicketPrice() (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(c.TicketPriceWei), 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("config: ticket_price_wei %q is not a positive integer", c.TicketPriceWei)
	}
	return v, nil
}

// OwnerAddress parses the configured owner into an address.
func (c LedgerConfig) OwnerAddress() (common.Address, error) {
	if !common.IsHexAddress(c.Owner) {
		return common.Address{}, fmt.Errorf("config: owner %q is not a hex address", c.Owner)
	}
	return common.HexToAddress(c.Owner), nil
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the settlement
// archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`

	// RetentionDays keeps this many days of settlements out of the archive
	// cutoff.
	RetentionDays int `toml:"retention_days"`
}

// ResolverConfig holds the candle resolver parameters.
type ResolverConfig struct {
	// KlinesURL is the Binance-compatible klines endpoint.
	KlinesURL string `toml:"klines_url"`

	// QuoteAsset is appended to the market symbol to form the trading pair.
	QuoteAsset string `toml:"quote_asset"`

	// Interval is the candle interval requested from the endpoint.
	Interval string `toml:"interval"`

	// RequestTimeout bounds each klines request.
	RequestTimeout duration `toml:"request_timeout"`

	// RetryInterval is the pause before re-attempting a failed settlement.
	RetryInterval duration `toml:"retry_interval"`

	// LockTTL bounds how long a settlement lock may be held.
	LockTTL duration `toml:"lock_ttl"`
}

// ServerConfig holds the HTTP API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`

	// AdminAPIKey gates the admin surface; empty disables it.
	AdminAPIKey string `toml:"admin_api_key"`
}

// Defaults returns the built-in configuration, matching a local development
// setup.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			TicketPriceWei: "1000000000000000", // 0.001 ETH
			FeeBps:         500,
			RoundDuration:  duration{24 * time.Hour},
			Markets:        []string{"BTC", "ETH", "SOL", "XRP"},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "ledgerd",
			User:          "ledgerd",
			SSLMode:       "disable",
			PoolMaxConns:  8,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 8,
		},
		S3: S3Config{
			Region:        "us-east-1",
			RetentionDays: 7,
		},
		Resolver: ResolverConfig{
			KlinesURL:      "https://fapi.binance.com/fapi/v1/klines",
			QuoteAsset:     "USDT",
			Interval:       "1m",
			RequestTimeout: duration{30 * time.Second},
			RetryInterval:  duration{time.Minute},
			LockTTL:        duration{2 * time.Minute},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// Validate checks that the configuration is complete enough for the
// configured mode.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "serve", "resolve", "archive", "full":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if _, err := c.Ledger.TicketPrice(); err != nil {
		return err
	}
	if c.Ledger.FeeBps > 10_000 {
		return fmt.Errorf("config: fee_bps %d exceeds 10000", c.Ledger.FeeBps)
	}
	if c.Ledger.RoundDuration.Duration <= 0 {
		return fmt.Errorf("config: round_duration must be positive")
	}
	if len(c.Ledger.Markets) == 0 {
		return fmt.Errorf("config: at least one market symbol is required")
	}
	if _, err := c.Ledger.OwnerAddress(); err != nil {
		return err
	}

	mode := strings.ToLower(c.Mode)
	if mode == "archive" || mode == "full" {
		if c.S3.Bucket == "" {
			return fmt.Errorf("config: s3.bucket is required in %s mode", mode)
		}
	}
	if (mode == "serve" || mode == "full") && c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("config: server.port must be positive")
	}
	if mode == "resolve" || mode == "full" {
		if c.Resolver.KlinesURL == "" {
			return fmt.Errorf("config: resolver.klines_url is required in %s mode", mode)
		}
	}

	return nil
}
