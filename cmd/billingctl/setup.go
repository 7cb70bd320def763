package main

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"fmt"
	"os"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/code-payments/iap-billing/catalog"
	"github.com/code-payments/iap-billing/config"
	"github.com/code-payments/iap-billing/iap"
	"github.com/code-payments/iap-billing/iap/android"
	"github.com/code-payments/iap-billing/iap/apple"
	"github.com/code-payments/iap-billing/iap/cache"
	"github.com/code-payments/iap-billing/iap/memory"
	"github.com/code-payments/iap-billing/iap/postgres"
	"github.com/code-payments/iap-billing/iap/redis"

	_ "github.com/jackc/pgx/v4/stdlib"
	_ "github.com/newrelic/go-agent/v3/integrations/nrpgx"
)

// environment holds everything a command needs. close releases the store
// connections and the product cache.
type environment struct {
	client   iap.Client
	verifier iap.Verifier
	close    func()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.LogDevelopment {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newStore(ctx context.Context, cfg *config.Config) (iap.Store, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := sql.Open(cfg.Database.Driver, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return postgres.NewInPostgres(db), func() { _ = db.Close() }, nil
	case config.StoreRedis:
		client, err := cfg.Redis.NewClient()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return redis.NewInRedis(client), func() { _ = client.Close() }, nil
	default:
		return memory.NewInMemory(), func() {}, nil
	}
}

func memoryKey(cfg *config.Config) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if cfg.MemorySigningSeed == "" {
		return memory.GenerateKeyPair()
	}

	seed, err := base58.Decode(cfg.MemorySigningSeed)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid MEMORY_SIGNING_SEED: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, nil, fmt.Errorf("invalid MEMORY_SIGNING_SEED: want %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return priv.Public().(ed25519.PublicKey), priv, nil
}

// newEnvironment wires the configured platform client. flow carries the
// receipt the device handed over for purchase commands.
func newEnvironment(ctx context.Context, log *zap.Logger, cfg *config.Config, flow iap.Flow) (*environment, error) {
	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var products *catalog.Catalog
	if cfg.CatalogFile != "" {
		products, err = catalog.Load(cfg.CatalogFile)
		if err != nil {
			closeStore()
			return nil, err
		}
	}

	var (
		client   iap.Client
		verifier iap.Verifier
	)
	switch cfg.Platform {
	case config.PlatformAndroid:
		creds, err := os.ReadFile(cfg.Android.ServiceAccountFile)
		if err != nil {
			closeStore()
			return nil, fmt.Errorf("failed to read service account: %w", err)
		}

		client = android.NewClient(
			log,
			cfg.Android.PackageName,
			android.CredentialsDialer(creds),
			flow,
			store,
			android.WithVerificationPolicy(cfg.Policy()),
		)
		verifier, err = android.NewVerifierFromCredentials(ctx, creds, cfg.Android.PackageName)
		if err != nil {
			closeStore()
			return nil, err
		}
	case config.PlatformApple:
		dial := apple.AppStoreDialer()
		client = apple.NewClient(
			log,
			cfg.Apple.BundleID,
			dial,
			products,
			flow,
			store,
			apple.WithSharedSecret(cfg.Apple.SharedSecret),
			apple.WithVerificationPolicy(cfg.Policy()),
		)

		validator, err := dial(ctx)
		if err != nil {
			closeStore()
			return nil, err
		}
		verifier = apple.NewVerifier(validator, cfg.Apple.BundleID, cfg.Apple.SharedSecret)
	default:
		pub, priv, err := memoryKey(cfg)
		if err != nil {
			closeStore()
			return nil, err
		}

		client = memory.NewClient(
			log,
			products,
			priv,
			memory.WithStore(store),
			memory.WithVerificationPolicy(cfg.Policy()),
		)
		verifier = memory.NewVerifier(pub)
	}

	cached := cache.NewInCache(client, cfg.ProductCacheTTL)
	return &environment{
		client:   cached,
		verifier: verifier,
		close: func() {
			cached.Close()
			closeStore()
		},
	}, nil
}
