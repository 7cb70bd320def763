package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-billing/iap"
)

func RunStoreTests(t *testing.T, s iap.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s iap.Store){
		testIapStore_HappyPath,
		testIapStore_Update,
		testIapStore_GetPurchases,
		testIapStore_GetPurchaseByPayload,
		testIapStore_RecordPurchase,
	} {
		tf(t, s)
		teardown()
	}
}

func newTestPurchase(token, productID string, itemType iap.ItemType, payload string, at time.Time) *iap.Purchase {
	return &iap.Purchase{
		ID:              "order-" + token,
		ProductID:       productID,
		ItemType:        itemType,
		Platform:        iap.PlatformMemory,
		Token:           token,
		State:           iap.PurchaseStatePurchased,
		Payload:         payload,
		Receipt:         "receipt-" + token,
		TransactionDate: at,
	}
}

func requirePurchaseEqual(t *testing.T, expected, actual *iap.Purchase) {
	require.Equal(t, expected.ID, actual.ID)
	require.Equal(t, expected.ProductID, actual.ProductID)
	require.Equal(t, expected.ItemType, actual.ItemType)
	require.Equal(t, expected.Platform, actual.Platform)
	require.Equal(t, expected.Token, actual.Token)
	require.Equal(t, expected.State, actual.State)
	require.Equal(t, expected.ConsumptionState, actual.ConsumptionState)
	require.Equal(t, expected.Acknowledged, actual.Acknowledged)
	require.Equal(t, expected.AutoRenewing, actual.AutoRenewing)
	require.Equal(t, expected.Payload, actual.Payload)
	require.Equal(t, expected.Receipt, actual.Receipt)
	require.WithinDuration(t, expected.TransactionDate, actual.TransactionDate, time.Millisecond)
}

func testIapStore_HappyPath(t *testing.T, store iap.Store) {
	ctx := context.Background()
	expected := newTestPurchase("token", "coin_100", iap.ItemTypeConsumable, "payload", time.Now())
	expected.AutoRenewing = true

	_, err := store.GetPurchase(ctx, expected.Token)
	require.Equal(t, iap.ErrNotFound, err)

	require.NoError(t, store.CreatePurchase(ctx, expected))

	actual, err := store.GetPurchase(ctx, expected.Token)
	require.NoError(t, err)
	requirePurchaseEqual(t, expected, actual)

	require.Equal(t, iap.ErrExists, store.CreatePurchase(ctx, expected))
}

func testIapStore_Update(t *testing.T, store iap.Store) {
	ctx := context.Background()
	purchase := newTestPurchase("token", "remove_ads", iap.ItemTypeNonConsumable, "", time.Now())

	require.Equal(t, iap.ErrNotFound, store.UpdatePurchase(ctx, purchase))
	require.NoError(t, store.CreatePurchase(ctx, purchase))

	purchase.Acknowledged = true
	purchase.State = iap.PurchaseStateRestored
	require.NoError(t, store.UpdatePurchase(ctx, purchase))

	actual, err := store.GetPurchase(ctx, purchase.Token)
	require.NoError(t, err)
	requirePurchaseEqual(t, purchase, actual)

	purchase.ConsumptionState = iap.ConsumptionStateConsumed
	require.NoError(t, store.UpdatePurchase(ctx, purchase))

	actual, err = store.GetPurchase(ctx, purchase.Token)
	require.NoError(t, err)
	require.True(t, actual.IsConsumed())
}

func testIapStore_GetPurchases(t *testing.T, store iap.Store) {
	ctx := context.Background()
	now := time.Now()

	purchases, err := store.GetPurchases(ctx, iap.ItemTypeConsumable)
	require.NoError(t, err)
	require.NotNil(t, purchases)
	require.Empty(t, purchases)

	second := newTestPurchase("second", "coin_100", iap.ItemTypeConsumable, "", now)
	first := newTestPurchase("first", "coin_100", iap.ItemTypeConsumable, "", now.Add(-time.Minute))
	consumed := newTestPurchase("consumed", "coin_100", iap.ItemTypeConsumable, "", now.Add(-2*time.Minute))
	consumed.ConsumptionState = iap.ConsumptionStateConsumed
	subscription := newTestPurchase("subscription", "premium", iap.ItemTypeSubscription, "", now)

	for _, p := range []*iap.Purchase{second, first, consumed, subscription} {
		require.NoError(t, store.CreatePurchase(ctx, p))
	}

	purchases, err = store.GetPurchases(ctx, iap.ItemTypeConsumable)
	require.NoError(t, err)
	require.Len(t, purchases, 2)
	requirePurchaseEqual(t, first, purchases[0])
	requirePurchaseEqual(t, second, purchases[1])

	purchases, err = store.GetPurchases(ctx, iap.ItemTypeSubscription)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	requirePurchaseEqual(t, subscription, purchases[0])
}

func testIapStore_GetPurchaseByPayload(t *testing.T, store iap.Store) {
	ctx := context.Background()
	now := time.Now()

	_, err := store.GetPurchaseByPayload(ctx, "coin_100", iap.ItemTypeConsumable, "payload")
	require.Equal(t, iap.ErrNotFound, err)

	older := newTestPurchase("older", "coin_100", iap.ItemTypeConsumable, "payload", now.Add(-time.Hour))
	newer := newTestPurchase("newer", "coin_100", iap.ItemTypeConsumable, "payload", now)
	consumed := newTestPurchase("consumed", "coin_100", iap.ItemTypeConsumable, "payload", now.Add(time.Hour))
	consumed.ConsumptionState = iap.ConsumptionStateConsumed
	other := newTestPurchase("other", "coin_100", iap.ItemTypeConsumable, "other", now.Add(time.Hour))

	for _, p := range []*iap.Purchase{older, newer, consumed, other} {
		require.NoError(t, store.CreatePurchase(ctx, p))
	}

	actual, err := store.GetPurchaseByPayload(ctx, "coin_100", iap.ItemTypeConsumable, "payload")
	require.NoError(t, err)
	requirePurchaseEqual(t, newer, actual)

	_, err = store.GetPurchaseByPayload(ctx, "coin_100", iap.ItemTypeSubscription, "payload")
	require.Equal(t, iap.ErrNotFound, err)
}

func testIapStore_RecordPurchase(t *testing.T, store iap.Store) {
	ctx := context.Background()
	purchase := newTestPurchase("token", "coin_100", iap.ItemTypeConsumable, "first", time.Now())

	require.NoError(t, iap.RecordPurchase(ctx, store, purchase))

	// Same token again, as if the receipt were sent a second time.
	replayed := newTestPurchase("token", "coin_100", iap.ItemTypeConsumable, "second", time.Now())
	err := iap.RecordPurchase(ctx, store, replayed)
	require.ErrorIs(t, err, iap.ErrReceiptReplayed)
	code, ok := iap.PurchaseErrorCodeOf(err)
	require.True(t, ok)
	require.Equal(t, iap.PurchaseErrorAlreadyOwned, code)

	actual, err := store.GetPurchase(ctx, purchase.Token)
	require.NoError(t, err)
	requirePurchaseEqual(t, purchase, actual)

	purchase.ConsumptionState = iap.ConsumptionStateConsumed
	purchase.Acknowledged = true
	require.NoError(t, store.UpdatePurchase(ctx, purchase))

	err = iap.RecordPurchase(ctx, store, replayed)
	require.ErrorIs(t, err, iap.ErrAlreadyConsumed)
	code, ok = iap.PurchaseErrorCodeOf(err)
	require.True(t, ok)
	require.Equal(t, iap.PurchaseErrorNotOwned, code)

	actual, err = store.GetPurchase(ctx, purchase.Token)
	require.NoError(t, err)
	require.True(t, actual.IsConsumed())
	require.True(t, actual.Acknowledged)
	require.Equal(t, "first", actual.Payload)
}
