package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies RINGSIM_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known RINGSIM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Simulation ──
	setUint16(&cfg.Simulation.FeePercentageBase, "RINGSIM_SIMULATION_FEE_PERCENTAGE_BASE")
	setUint64(&cfg.Simulation.BlockTimestamp, "RINGSIM_SIMULATION_BLOCK_TIMESTAMP")
	setStr(&cfg.Simulation.StatePath, "RINGSIM_SIMULATION_STATE_PATH")
	setStr(&cfg.Simulation.SpenderAddress, "RINGSIM_SIMULATION_SPENDER_ADDRESS")
	setStr(&cfg.Simulation.FeeHolderAddress, "RINGSIM_SIMULATION_FEE_HOLDER_ADDRESS")
	setStr(&cfg.Simulation.FeeTokenAddress, "RINGSIM_SIMULATION_FEE_TOKEN_ADDRESS")
	setStr(&cfg.Simulation.WETHAddress, "RINGSIM_SIMULATION_WETH_ADDRESS")

	// ── Keystore ──
	setStringSlice(&cfg.Keystore.PrivateKeys, "RINGSIM_KEYSTORE_PRIVATE_KEYS")
	setStr(&cfg.Keystore.EncryptedKeyPath, "RINGSIM_KEYSTORE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Keystore.KeyPassword, "RINGSIM_KEYSTORE_KEY_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "RINGSIM_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "RINGSIM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "RINGSIM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "RINGSIM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "RINGSIM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "RINGSIM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "RINGSIM_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "RINGSIM_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "RINGSIM_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "RINGSIM_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "RINGSIM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RINGSIM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RINGSIM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RINGSIM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RINGSIM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RINGSIM_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.TTL, "RINGSIM_REDIS_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "RINGSIM_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "RINGSIM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RINGSIM_S3_REGION")
	setStr(&cfg.S3.Bucket, "RINGSIM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "RINGSIM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RINGSIM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RINGSIM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RINGSIM_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "RINGSIM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "RINGSIM_SERVER_CORS_ORIGINS")

	// ── Top-level ──
	setStr(&cfg.Mode, "RINGSIM_MODE")
	setStr(&cfg.LogLevel, "RINGSIM_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint16(dst *uint16, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			*dst = uint16(n)
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
