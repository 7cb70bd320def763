package tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-billing/iap"
)

// ClientHarness wraps an adapter under test together with the knobs the
// shared suite needs to drive its platform.
type ClientHarness struct {
	Client iap.Client

	// Products known to the platform, one per item type.
	Consumable    string
	NonConsumable string
	Subscription  string

	// SetAvailable toggles whether the platform accepts connections.
	SetAvailable func(available bool)

	// RejectPayments makes the platform fail every purchase of productID.
	RejectPayments func(productID string)

	// Verifier accepts the genuine purchases this platform produces.
	Verifier iap.Verifier

	// ReplayLastReceipt makes the next purchase flow hand back the receipt
	// of the previous one. Nil for platforms without a device flow.
	ReplayLastReceipt func()
}

// RunClientTests runs the contract every iap.Client must honour. setup is
// called once per test and must return a fresh, disconnected client.
func RunClientTests(t *testing.T, setup func(t *testing.T) *ClientHarness) {
	for name, tf := range map[string]func(t *testing.T, h *ClientHarness){
		"Connect":                  testConnect,
		"GetProductInfo":           testGetProductInfo,
		"NotConnected":             testNotConnected,
		"PurchaseAndConsume":       testPurchaseAndConsume,
		"ConsumeByPayload":         testConsumeByPayload,
		"NonConsumable":            testNonConsumable,
		"PurchaseRejected":         testPurchaseRejected,
		"PurchaseUnknownProduct":   testPurchaseUnknownProduct,
		"ConsumeUnknownPurchase":   testConsumeUnknownPurchase,
		"PurchaseVerification":     testPurchaseVerification,
		"GetPurchasesVerification": testGetPurchasesVerification,
		"ReplayedReceipt":          testReplayedReceipt,
		"ReplayedUnconsumed":       testReplayedUnconsumed,
	} {
		t.Run(name, func(t *testing.T) {
			tf(t, setup(t))
		})
	}
}

func connect(t *testing.T, h *ClientHarness) {
	require.True(t, h.Client.Connect(context.Background()))
	t.Cleanup(func() {
		h.Client.Disconnect(context.Background())
	})
}

func requirePurchaseError(t *testing.T, err error, code iap.PurchaseErrorCode) {
	require.Error(t, err)
	require.ErrorIs(t, err, iap.ErrPurchase)

	actual, ok := iap.PurchaseErrorCodeOf(err)
	require.True(t, ok)
	require.Equal(t, code, actual, "unexpected purchase error code: %v", err)
}

func rejectAll() iap.Verifier {
	return iap.VerifierFunc(func(context.Context, *iap.Purchase) (bool, error) {
		return false, nil
	})
}

func testConnect(t *testing.T, h *ClientHarness) {
	ctx := context.Background()

	h.SetAvailable(false)
	require.False(t, h.Client.Connect(ctx))

	h.SetAvailable(true)
	require.True(t, h.Client.Connect(ctx))

	h.Client.Disconnect(ctx)
	h.Client.Disconnect(ctx)

	require.True(t, h.Client.Connect(ctx))
	h.Client.Disconnect(ctx)
}

func testGetProductInfo(t *testing.T, h *ClientHarness) {
	ctx := context.Background()
	connect(t, h)

	products, err := h.Client.GetProductInfo(ctx, iap.ItemTypeConsumable, h.Consumable, "unknown_product")
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, h.Consumable, products[0].ID)
	require.Equal(t, iap.ItemTypeConsumable, products[0].ItemType)

	products, err = h.Client.GetProductInfo(ctx, iap.ItemTypeConsumable, "unknown_product")
	require.NoError(t, err)
	require.NotNil(t, products)
	require.Empty(t, products)
}

func testNotConnected(t *testing.T, h *ClientHarness) {
	ctx := context.Background()

	_, err := h.Client.GetProductInfo(ctx, iap.ItemTypeConsumable, h.Consumable)
	require.ErrorIs(t, err, iap.ErrNotConnected)

	_, err = h.Client.GetPurchases(ctx, iap.ItemTypeConsumable)
	require.ErrorIs(t, err, iap.ErrNotConnected)

	purchase, err := h.Client.Purchase(ctx, h.Consumable, iap.ItemTypeConsumable, "payload")
	requirePurchaseError(t, err, iap.PurchaseErrorServiceUnavailable)
	require.Nil(t, purchase)

	purchase, err = h.Client.ConsumePurchase(ctx, iap.ConsumeByToken{ProductID: h.Consumable, Token: "token"})
	requirePurchaseError(t, err, iap.PurchaseErrorServiceUnavailable)
	require.Nil(t, purchase)
}

func testPurchaseAndConsume(t *testing.T, h *ClientHarness) {
	ctx := context.Background()
	connect(t, h)

	purchases, err := h.Client.GetPurchases(ctx, iap.ItemTypeConsumable)
	require.NoError(t, err)
	require.NotNil(t, purchases)
	require.Empty(t, purchases)

	purchase, err := h.Client.Purchase(ctx, h.Consumable, iap.ItemTypeConsumable, "user123-payload")
	require.NoError(t, err)
	require.NotNil(t, purchase)
	require.Equal(t, h.Consumable, purchase.ProductID)
	require.Equal(t, iap.ItemTypeConsumable, purchase.ItemType)
	require.Equal(t, iap.PurchaseStatePurchased, purchase.State)
	require.NotEmpty(t, purchase.Token)
	require.False(t, purchase.IsConsumed())

	purchases, err = h.Client.GetPurchases(ctx, iap.ItemTypeConsumable)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	require.Equal(t, purchase.Token, purchases[0].Token)

	consumed, err := h.Client.ConsumePurchase(ctx, iap.ConsumeByToken{ProductID: h.Consumable, Token: purchase.Token})
	require.NoError(t, err)
	require.Equal(t, purchase.Token, consumed.Token)
	require.True(t, consumed.IsConsumed())

	purchases, err = h.Client.GetPurchases(ctx, iap.ItemTypeConsumable)
	require.NoError(t, err)
	require.Empty(t, purchases)

	_, err = h.Client.ConsumePurchase(ctx, iap.ConsumeByToken{ProductID: h.Consumable, Token: purchase.Token})
	requirePurchaseError(t, err, iap.PurchaseErrorNotOwned)
}

func testConsumeByPayload(t *testing.T, h *ClientHarness) {
	ctx := context.Background()
	connect(t, h)

	purchase, err := h.Client.Purchase(ctx, h.Consumable, iap.ItemTypeConsumable, "user123-payload", iap.WithVerifier(h.Verifier))
	require.NoError(t, err)

	_, err = h.Client.ConsumePurchase(ctx, iap.ConsumeByPayload{
		ProductID: h.Consumable,
		ItemType:  iap.ItemTypeConsumable,
		Payload:   "someone-else",
	})
	requirePurchaseError(t, err, iap.PurchaseErrorNotOwned)

	consumed, err := h.Client.ConsumePurchase(ctx, iap.ConsumeByPayload{
		ProductID: h.Consumable,
		ItemType:  iap.ItemTypeConsumable,
		Payload:   "user123-payload",
	}, iap.WithVerifier(h.Verifier))
	require.NoError(t, err)
	require.Equal(t, purchase.Token, consumed.Token)
	require.True(t, consumed.IsConsumed())
}

func testNonConsumable(t *testing.T, h *ClientHarness) {
	ctx := context.Background()
	connect(t, h)

	purchase, err := h.Client.Purchase(ctx, h.NonConsumable, iap.ItemTypeNonConsumable, "")
	require.NoError(t, err)

	acknowledged, err := h.Client.ConsumePurchase(ctx, iap.ConsumeByToken{ProductID: h.NonConsumable, Token: purchase.Token})
	require.NoError(t, err)
	require.True(t, acknowledged.Acknowledged)
	require.False(t, acknowledged.IsConsumed())

	// Still owned after acknowledgement.
	purchases, err := h.Client.GetPurchases(ctx, iap.ItemTypeNonConsumable)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	require.Equal(t, purchase.Token, purchases[0].Token)

	others, err := h.Client.GetPurchases(ctx, iap.ItemTypeConsumable)
	require.NoError(t, err)
	require.Empty(t, others)
}

func testPurchaseRejected(t *testing.T, h *ClientHarness) {
	ctx := context.Background()
	connect(t, h)

	h.RejectPayments(h.Consumable)

	purchase, err := h.Client.Purchase(ctx, h.Consumable, iap.ItemTypeConsumable, "user123-payload")
	require.ErrorIs(t, err, iap.ErrPurchase)
	require.Nil(t, purchase)

	purchases, err := h.Client.GetPurchases(ctx, iap.ItemTypeConsumable)
	require.NoError(t, err)
	require.Empty(t, purchases)
}

func testPurchaseUnknownProduct(t *testing.T, h *ClientHarness) {
	ctx := context.Background()
	connect(t, h)

	purchase, err := h.Client.Purchase(ctx, "unknown_product", iap.ItemTypeConsumable, "")
	require.ErrorIs(t, err, iap.ErrPurchase)
	require.Nil(t, purchase)
}

func testConsumeUnknownPurchase(t *testing.T, h *ClientHarness) {
	ctx := context.Background()
	connect(t, h)

	purchase, err := h.Client.ConsumePurchase(ctx, iap.ConsumeByToken{ProductID: h.Consumable, Token: "unknown"})
	requirePurchaseError(t, err, iap.PurchaseErrorNotOwned)
	require.Nil(t, purchase)

	_, err = h.Client.ConsumePurchase(ctx, iap.ConsumeByToken{ProductID: h.Consumable})
	requirePurchaseError(t, err, iap.PurchaseErrorDeveloperError)
}

func testPurchaseVerification(t *testing.T, h *ClientHarness) {
	ctx := context.Background()
	connect(t, h)

	purchase, err := h.Client.Purchase(ctx, h.Consumable, iap.ItemTypeConsumable, "rejected", iap.WithVerifier(rejectAll()))
	requirePurchaseError(t, err, iap.PurchaseErrorInvalidSignature)
	require.Nil(t, purchase)

	purchase, err = h.Client.Purchase(ctx, h.Consumable, iap.ItemTypeConsumable, "accepted", iap.WithVerifier(h.Verifier))
	require.NoError(t, err)

	_, err = h.Client.ConsumePurchase(ctx, iap.ConsumeByToken{ProductID: h.Consumable, Token: purchase.Token}, iap.WithVerifier(rejectAll()))
	requirePurchaseError(t, err, iap.PurchaseErrorInvalidSignature)

	consumed, err := h.Client.ConsumePurchase(ctx, iap.ConsumeByToken{ProductID: h.Consumable, Token: purchase.Token}, iap.WithVerifier(h.Verifier))
	require.NoError(t, err)
	require.True(t, consumed.IsConsumed())
}

func testGetPurchasesVerification(t *testing.T, h *ClientHarness) {
	ctx := context.Background()
	connect(t, h)

	_, err := h.Client.Purchase(ctx, h.Subscription, iap.ItemTypeSubscription, "")
	require.NoError(t, err)

	purchases, err := h.Client.GetPurchases(ctx, iap.ItemTypeSubscription, iap.WithVerifier(h.Verifier))
	require.NoError(t, err)
	require.Len(t, purchases, 1)

	purchases, err = h.Client.GetPurchases(ctx, iap.ItemTypeSubscription, iap.WithVerifier(rejectAll()))
	require.NoError(t, err)
	require.Empty(t, purchases)

	_, err = h.Client.GetPurchases(ctx, iap.ItemTypeSubscription,
		iap.WithVerifier(rejectAll()),
		iap.WithVerificationPolicy(iap.PolicyFailFast),
	)
	require.ErrorIs(t, err, iap.ErrVerificationFailed)
}

func testReplayedReceipt(t *testing.T, h *ClientHarness) {
	if h.ReplayLastReceipt == nil {
		t.Skip("platform has no device flow")
	}

	ctx := context.Background()
	connect(t, h)

	purchase, err := h.Client.Purchase(ctx, h.Consumable, iap.ItemTypeConsumable, "original")
	require.NoError(t, err)

	_, err = h.Client.ConsumePurchase(ctx, iap.ConsumeByToken{ProductID: h.Consumable, Token: purchase.Token})
	require.NoError(t, err)

	h.ReplayLastReceipt()

	replayed, err := h.Client.Purchase(ctx, h.Consumable, iap.ItemTypeConsumable, "replayed")
	requirePurchaseError(t, err, iap.PurchaseErrorNotOwned)
	require.Nil(t, replayed)

	purchases, err := h.Client.GetPurchases(ctx, iap.ItemTypeConsumable)
	require.NoError(t, err)
	require.Empty(t, purchases)

	_, err = h.Client.ConsumePurchase(ctx, iap.ConsumeByToken{ProductID: h.Consumable, Token: purchase.Token})
	requirePurchaseError(t, err, iap.PurchaseErrorNotOwned)
}

func testReplayedUnconsumed(t *testing.T, h *ClientHarness) {
	if h.ReplayLastReceipt == nil {
		t.Skip("platform has no device flow")
	}

	ctx := context.Background()
	connect(t, h)

	purchase, err := h.Client.Purchase(ctx, h.NonConsumable, iap.ItemTypeNonConsumable, "original")
	require.NoError(t, err)

	h.ReplayLastReceipt()

	_, err = h.Client.Purchase(ctx, h.NonConsumable, iap.ItemTypeNonConsumable, "replayed")
	requirePurchaseError(t, err, iap.PurchaseErrorAlreadyOwned)

	purchases, err := h.Client.GetPurchases(ctx, iap.ItemTypeNonConsumable)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	require.Equal(t, purchase.Token, purchases[0].Token)
	require.Equal(t, "original", purchases[0].Payload)
}
