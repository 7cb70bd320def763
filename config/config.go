package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	goredis "github.com/redis/go-redis/v9"

	"github.com/code-payments/iap-billing/iap"
)

const (
	PlatformMemory  = "memory"
	PlatformAndroid = "android"
	PlatformApple   = "apple"

	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	Platform string `envconfig:"BILLING_PLATFORM" default:"memory"`
	Store    string `envconfig:"BILLING_STORE" default:"memory"`

	CatalogFile        string        `envconfig:"CATALOG_FILE"`
	ProductCacheTTL    time.Duration `envconfig:"PRODUCT_CACHE_TTL" default:"5m"`
	VerificationPolicy string        `envconfig:"VERIFICATION_POLICY" default:"drop"`
	LogDevelopment     bool          `envconfig:"LOG_DEVELOPMENT" default:"false"`

	// MemorySigningSeed is a base58 ed25519 seed for the memory platform's
	// receipts. A fresh key is generated when empty.
	MemorySigningSeed string `envconfig:"MEMORY_SIGNING_SEED"`

	Database Database
	Redis    Redis
	Android  Android
	Apple    Apple
}

type Database struct {
	URL    string `envconfig:"DATABASE_URL"`
	Driver string `envconfig:"DATABASE_DRIVER" default:"pgx"`
}

type Redis struct {
	URL          string        `envconfig:"REDIS_URL"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
}

type Android struct {
	PackageName        string `envconfig:"ANDROID_PACKAGE_NAME"`
	ServiceAccountFile string `envconfig:"ANDROID_SERVICE_ACCOUNT_FILE"`
}

type Apple struct {
	BundleID     string `envconfig:"APPLE_BUNDLE_ID"`
	SharedSecret string `envconfig:"APPLE_SHARED_SECRET"`
}

// Load reads envFile (if it exists) into the environment and then processes
// the environment into a Config.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Platform {
	case PlatformMemory:
		if c.CatalogFile == "" {
			return fmt.Errorf("CATALOG_FILE is required for the %s platform", c.Platform)
		}
	case PlatformAndroid:
		if c.Android.PackageName == "" || c.Android.ServiceAccountFile == "" {
			return fmt.Errorf("ANDROID_PACKAGE_NAME and ANDROID_SERVICE_ACCOUNT_FILE are required for the %s platform", c.Platform)
		}
	case PlatformApple:
		if c.Apple.BundleID == "" || c.CatalogFile == "" {
			return fmt.Errorf("APPLE_BUNDLE_ID and CATALOG_FILE are required for the %s platform", c.Platform)
		}
	default:
		return fmt.Errorf("unknown billing platform %q", c.Platform)
	}

	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s store", c.Store)
		}
		if c.Database.Driver != "pgx" && c.Database.Driver != "nrpgx" {
			return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
		}
	case StoreRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required for the %s store", c.Store)
		}
	default:
		return fmt.Errorf("unknown billing store %q", c.Store)
	}

	if _, ok := iap.ParseVerificationPolicy(c.VerificationPolicy); !ok {
		return fmt.Errorf("unknown verification policy %q", c.VerificationPolicy)
	}
	return nil
}

func (c *Config) Policy() iap.VerificationPolicy {
	policy, _ := iap.ParseVerificationPolicy(c.VerificationPolicy)
	return policy
}

// NewClient opens a redis client and checks the connection.
func (r *Redis) NewClient() (*goredis.Client, error) {
	opts, err := goredis.ParseURL(r.URL)
	if err != nil {
		return nil, err
	}

	opts.ReadTimeout = r.ReadTimeout
	opts.WriteTimeout = r.WriteTimeout
	opts.DialTimeout = r.DialTimeout

	client := goredis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
