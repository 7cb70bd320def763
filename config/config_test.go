package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-billing/iap"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CATALOG_FILE", "catalog.yaml")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, PlatformMemory, cfg.Platform)
	require.Equal(t, StoreMemory, cfg.Store)
	require.Equal(t, 5*time.Minute, cfg.ProductCacheTTL)
	require.Equal(t, "pgx", cfg.Database.Driver)
	require.Equal(t, 3*time.Second, cfg.Redis.ReadTimeout)
	require.Equal(t, iap.PolicyDrop, cfg.Policy())
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"BILLING_PLATFORM=android\n"+
			"ANDROID_PACKAGE_NAME=com.example.app\n"+
			"ANDROID_SERVICE_ACCOUNT_FILE=/secrets/sa.json\n"+
			"BILLING_STORE=postgres\n"+
			"DATABASE_URL=postgres://localhost/billing\n"+
			"VERIFICATION_POLICY=fail_fast\n",
	), 0o600))

	// godotenv never overrides variables that are already set, so make sure
	// the ones under test start out empty and are restored afterwards.
	for _, key := range []string{"BILLING_PLATFORM", "ANDROID_PACKAGE_NAME", "ANDROID_SERVICE_ACCOUNT_FILE", "BILLING_STORE", "DATABASE_URL", "VERIFICATION_POLICY"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, PlatformAndroid, cfg.Platform)
	require.Equal(t, "com.example.app", cfg.Android.PackageName)
	require.Equal(t, StorePostgres, cfg.Store)
	require.Equal(t, iap.PolicyFailFast, cfg.Policy())
}

func TestLoad_MissingEnvFile(t *testing.T) {
	t.Setenv("CATALOG_FILE", "catalog.yaml")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	for name, cfg := range map[string]Config{
		"UnknownPlatform": {Platform: "windows", Store: StoreMemory},
		"MemoryNoCatalog": {Platform: PlatformMemory, Store: StoreMemory},
		"AndroidNoCreds":  {Platform: PlatformAndroid, Store: StoreMemory},
		"AppleNoBundle":   {Platform: PlatformApple, Store: StoreMemory, CatalogFile: "c.yaml"},
		"PostgresNoURL":   {Platform: PlatformMemory, Store: StorePostgres, CatalogFile: "c.yaml"},
		"BadDriver":       {Platform: PlatformMemory, Store: StorePostgres, CatalogFile: "c.yaml", Database: Database{URL: "postgres://", Driver: "mysql"}},
		"RedisNoURL":      {Platform: PlatformMemory, Store: StoreRedis, CatalogFile: "c.yaml"},
		"BadPolicy":       {Platform: PlatformMemory, Store: StoreMemory, CatalogFile: "c.yaml", VerificationPolicy: "maybe"},
	} {
		t.Run(name, func(t *testing.T) {
			require.Error(t, cfg.Validate())
		})
	}
}
