//go:build integration

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	redistest "github.com/code-payments/iap-billing/database/redis/test"
	"github.com/code-payments/iap-billing/iap"
	"github.com/code-payments/iap-billing/iap/tests"
)

var testClient *goredis.Client

func TestMain(m *testing.M) {
	log := logrus.StandardLogger()

	pool, err := dockertest.NewPool("")
	if err != nil {
		log.WithError(err).Error("Error creating docker pool")
		os.Exit(1)
	}

	url, cleanup, err := redistest.StartRedis(pool)
	if err != nil {
		log.WithError(err).Error("Error starting redis image")
		os.Exit(1)
	}

	testClient, err = redistest.WaitForConnection(pool, url)
	if err != nil {
		log.WithError(err).Error("Error waiting for connection")
		cleanup()
		os.Exit(1)
	}

	code := m.Run()
	_ = testClient.Close()
	cleanup()
	os.Exit(code)
}

func TestIap_RedisStore(t *testing.T) {
	testStore := NewInRedisWithPrefix(testClient, "test:")
	teardown := func() {
		testStore.(*store).reset()
	}
	tests.RunStoreTests(t, testStore, teardown)
}

func TestIap_RedisStore_Reindex(t *testing.T) {
	ctx := context.Background()
	testStore := NewInRedisWithPrefix(testClient, "reindex:")
	defer testStore.(*store).reset()

	purchase := &iap.Purchase{
		ID:              "order",
		ProductID:       "coin_100",
		ItemType:        iap.ItemTypeConsumable,
		Token:           "token",
		State:           iap.PurchaseStatePurchased,
		TransactionDate: time.Now(),
	}
	require.NoError(t, testStore.CreatePurchase(ctx, purchase))

	// Lose the index entry, as if a write had been cut short.
	s := testStore.(*store)
	require.NoError(t, testClient.SRem(ctx, s.indexKey(iap.ItemTypeConsumable), purchase.Token).Err())

	purchases, err := testStore.GetPurchases(ctx, iap.ItemTypeConsumable)
	require.NoError(t, err)
	require.Empty(t, purchases)

	purchase.Acknowledged = true
	require.NoError(t, testStore.UpdatePurchase(ctx, purchase))

	purchases, err = testStore.GetPurchases(ctx, iap.ItemTypeConsumable)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	require.True(t, purchases[0].Acknowledged)

	// A duplicate create under another item type doesn't leak into that type.
	duplicate := purchase.Clone()
	duplicate.ItemType = iap.ItemTypeSubscription
	require.Equal(t, iap.ErrExists, testStore.CreatePurchase(ctx, duplicate))

	purchases, err = testStore.GetPurchases(ctx, iap.ItemTypeSubscription)
	require.NoError(t, err)
	require.Empty(t, purchases)
}
