// Package config defines the top-level configuration for the ring settlement
// simulator and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/ringsim/internal/ledger"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by RINGSIM_* environment variables.
type Config struct {
	Simulation SimulationConfig `toml:"simulation"`
	Keystore   KeystoreConfig   `toml:"keystore"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// SimulationConfig holds the protocol constants of a run: the fee percentage
// base, the protocol addresses, and the tax schedule.
type SimulationConfig struct {
	// FeePercentageBase is the denominator of every fee, waive and tax
	// percentage.
	FeePercentageBase uint16 `toml:"fee_percentage_base"`

	// BlockTimestamp pins the reference time for order validity windows.
	// Zero means the wall clock at run start.
	BlockTimestamp uint64 `toml:"block_timestamp"`

	// StatePath points serve mode at the JSON ledger snapshot batches are
	// simulated against.
	StatePath string `toml:"state_path"`

	SpenderAddress   string `toml:"spender_address"`
	FeeHolderAddress string `toml:"fee_holder_address"`
	FeeTokenAddress  string `toml:"fee_token_address"`
	WETHAddress      string `toml:"weth_address"`

	TaxRates ledger.TaxRates `toml:"tax_rates"`
}

// KeystoreConfig holds signing key material for batch and dual-auth signing.
type KeystoreConfig struct {
	// PrivateKeys are raw hex keys loaded directly, test use only.
	PrivateKeys      []string `toml:"private_keys"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters for the report store.
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

// RedisConfig holds Redis connection parameters for the registry cache.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	TTL        duration `toml:"ttl"`
}

// S3Config holds S3-compatible object storage parameters for report archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters for serve mode.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Simulation: SimulationConfig{
			FeePercentageBase: 1000,
			SpenderAddress:    "0x7777777777777777777777777777777777777777",
			FeeHolderAddress:  "0x8888888888888888888888888888888888888888",
			FeeTokenAddress:   "0x9999999999999999999999999999999999999999",
			WETHAddress:       "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
			TaxRates:          ledger.DefaultTaxRates(),
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "ringsim",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			TTL:        duration{5 * time.Minute},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "ringsim-reports",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Mode:     "simulate",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"simulate": true,
	"serve":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// isHexAddress accepts a 0x-prefixed 20-byte hex string.
func isHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: simulate, serve)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Simulation.FeePercentageBase == 0 {
		errs = append(errs, "simulation: fee_percentage_base must be > 0")
	}
	for name, addr := range map[string]string{
		"spender_address":    c.Simulation.SpenderAddress,
		"fee_holder_address": c.Simulation.FeeHolderAddress,
		"fee_token_address":  c.Simulation.FeeTokenAddress,
		"weth_address":       c.Simulation.WETHAddress,
	} {
		if !isHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("simulation: %s must be a 0x-prefixed 20-byte hex address, got %q", name, addr))
		}
	}

	if c.Keystore.EncryptedKeyPath != "" && c.Keystore.KeyPassword == "" {
		errs = append(errs, "keystore: key_password is required when encrypted_key_path is set")
	}

	if c.Mode == "serve" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}

		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}

		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
