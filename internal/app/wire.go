package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/ringsim/internal/blob/s3"
	"github.com/alanyoungcy/ringsim/internal/cache/redis"
	"github.com/alanyoungcy/ringsim/internal/config"
	"github.com/alanyoungcy/ringsim/internal/crypto"
	"github.com/alanyoungcy/ringsim/internal/domain"
	"github.com/alanyoungcy/ringsim/internal/ledger"
	"github.com/alanyoungcy/ringsim/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// BaseRun holds the run constants from configuration. Each simulation
	// copies it and fills the reference timestamp.
	BaseRun domain.RunContext

	// State is the ledger snapshot simulations read, wrapped with the
	// registry cache in serve mode. Nil in simulate mode when the input file
	// carries its own state.
	State domain.StateReader

	Tax      domain.TaxOracle
	Keystore *crypto.Keystore

	// Serve-mode persistence; nil in simulate mode.
	ReportStore domain.ReportStore
	Archiver    domain.Archiver
	BlobReader  domain.BlobReader
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	feeToken := common.HexToAddress(cfg.Simulation.FeeTokenAddress)
	deps := &Dependencies{
		BaseRun: domain.RunContext{
			BlockTimestamp:    cfg.Simulation.BlockTimestamp,
			FeePercentageBase: cfg.Simulation.FeePercentageBase,
			Spender:           common.HexToAddress(cfg.Simulation.SpenderAddress),
			FeeHolder:         common.HexToAddress(cfg.Simulation.FeeHolderAddress),
			FeeTokenAddr:      feeToken,
		},
		Tax: ledger.NewTaxTable(
			feeToken,
			common.HexToAddress(cfg.Simulation.WETHAddress),
			cfg.Simulation.FeePercentageBase,
			cfg.Simulation.TaxRates,
		),
	}

	// --- Keystore ---
	ks := crypto.NewKeystore()
	for i, keyHex := range cfg.Keystore.PrivateKeys {
		if _, err := ks.AddHexKey(keyHex); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: keystore key %d: %w", i, err)
		}
	}
	if cfg.Keystore.EncryptedKeyPath != "" {
		if _, err := ks.LoadEncrypted(cfg.Keystore.EncryptedKeyPath, cfg.Keystore.KeyPassword); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: encrypted keystore: %w", err)
		}
	}
	deps.Keystore = ks

	// --- Ledger snapshot ---
	if cfg.Simulation.StatePath != "" {
		state, err := loadStateFixture(cfg.Simulation.StatePath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: state snapshot: %w", err)
		}
		deps.State = state
	}

	if cfg.Mode != "serve" {
		return deps, cleanup, nil
	}

	// --- PostgreSQL report store ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.ReportStore = postgres.NewReportStore(pgClient.Pool())

	// --- Redis registry cache ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	if deps.State != nil {
		cache := redis.NewRegistryCache(redisClient)
		deps.State = ledger.NewCachedReader(deps.State, cache, cfg.Redis.TTL.Duration)
	}

	// --- S3 report archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewReportArchiver(s3blob.NewWriter(s3Client))
		deps.BlobReader = s3blob.NewReader(s3Client)
	}

	return deps, cleanup, nil
}

// loadStateFixture reads a JSON ledger fixture from disk and materializes it.
func loadStateFixture(path string) (*ledger.MemoryLedger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fixture ledger.Fixture
	if err := json.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return fixture.Build()
}
