package android

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"

	"github.com/code-payments/iap-billing/iap"
	"github.com/code-payments/iap-billing/iap/memory"
	"github.com/code-payments/iap-billing/iap/tests"
)

const testPackageName = "com.example.billing"

func newTestClient(t *testing.T) (*Client, *fakePlay) {
	play := newFakePlay()
	client := NewClient(zaptest.NewLogger(t), testPackageName, play.dial, play, memory.NewInMemory())
	return client, play
}

func TestIAP_AndroidClient(t *testing.T) {
	tests.RunClientTests(t, func(t *testing.T) *tests.ClientHarness {
		client, play := newTestClient(t)
		return &tests.ClientHarness{
			Client:         client,
			Consumable:     "coin_100",
			NonConsumable:  "remove_ads",
			Subscription:   "premium_monthly",
			SetAvailable:   play.setAvailable,
			RejectPayments: play.rejectPayments,
			Verifier:       NewVerifier(play, testPackageName),

			ReplayLastReceipt: play.replayLastToken,
		}
	})
}

func TestIAP_AndroidClient_DialFailure(t *testing.T) {
	dial := func(context.Context) (Publisher, error) {
		return nil, errors.New("bad credentials")
	}
	client := NewClient(zaptest.NewLogger(t), testPackageName, dial, iap.ReceiptFlow("token"), memory.NewInMemory())
	require.False(t, client.Connect(context.Background()))
}

func TestIAP_AndroidClient_ProductInfo(t *testing.T) {
	ctx := context.Background()
	client, play := newTestClient(t)
	require.True(t, client.Connect(ctx))

	play.products["retired"] = &androidpublisher.InAppProduct{Sku: "retired", PurchaseType: purchaseTypeManaged, Status: productStatusInactive}

	products, err := client.GetProductInfo(ctx, iap.ItemTypeConsumable, "coin_100", "premium_monthly", "retired")
	require.NoError(t, err)
	require.Len(t, products, 1)

	coins := products[0]
	require.Equal(t, "coin_100 title", coins.Name)
	require.Equal(t, "coin_100 description", coins.Description)
	require.True(t, decimal.RequireFromString("0.99").Equal(coins.Price))
	require.Equal(t, "USD", coins.CurrencyCode)
	require.Equal(t, "0.99 USD", coins.LocalizedPrice)

	products, err = client.GetProductInfo(ctx, iap.ItemTypeSubscription, "premium_monthly")
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, iap.ItemTypeSubscription, products[0].ItemType)
}

func TestIAP_AndroidClient_CanceledPurchase(t *testing.T) {
	ctx := context.Background()
	client, play := newTestClient(t)
	require.True(t, client.Connect(ctx))

	purchase, err := client.Purchase(ctx, "coin_100", iap.ItemTypeConsumable, "payload")
	require.NoError(t, err)

	// Refunded on the console after the fact.
	play.purchases[purchase.Token].PurchaseState = purchaseStateCanceled

	purchases, err := client.GetPurchases(ctx, iap.ItemTypeConsumable)
	require.NoError(t, err)
	require.Empty(t, purchases)

	_, err = client.ConsumePurchase(ctx, iap.ConsumeByToken{ProductID: "coin_100", Token: purchase.Token})
	code, ok := iap.PurchaseErrorCodeOf(err)
	require.True(t, ok)
	require.Equal(t, iap.PurchaseErrorNotOwned, code)
}

func TestIAP_AndroidClient_CancelledFlow(t *testing.T) {
	ctx := context.Background()
	play := newFakePlay()
	flow := iap.FlowFunc(func(context.Context, *iap.FlowRequest) (string, error) {
		return "", iap.ErrFlowCancelled
	})
	client := NewClient(zaptest.NewLogger(t), testPackageName, play.dial, flow, memory.NewInMemory())
	require.True(t, client.Connect(ctx))

	_, err := client.Purchase(ctx, "coin_100", iap.ItemTypeConsumable, "")
	code, ok := iap.PurchaseErrorCodeOf(err)
	require.True(t, ok)
	require.Equal(t, iap.PurchaseErrorUserCancelled, code)
}

func TestFromSubscriptionPurchase(t *testing.T) {
	now := time.Now()
	trial := int64(2)

	purchase, err := fromSubscriptionPurchase(&androidpublisher.SubscriptionPurchase{
		OrderId:          "GPA.1",
		StartTimeMillis:  now.Add(-time.Hour).UnixMilli(),
		ExpiryTimeMillis: now.Add(time.Hour).UnixMilli(),
		PaymentState:     &trial,
	}, "premium_monthly", "token", now)
	require.NoError(t, err)
	require.Equal(t, iap.PurchaseStateFreeTrial, purchase.State)
	require.Equal(t, "GPA.1", purchase.ID)

	_, err = fromSubscriptionPurchase(&androidpublisher.SubscriptionPurchase{
		ExpiryTimeMillis: now.Add(-time.Hour).UnixMilli(),
	}, "premium_monthly", "token", now)
	require.ErrorIs(t, err, ErrPurchaseCanceled)
}

func TestFromProductPurchase_Pending(t *testing.T) {
	purchase, err := fromProductPurchase(&androidpublisher.ProductPurchase{
		PurchaseState: purchaseStatePending,
	}, "coin_100", iap.ItemTypeConsumable, "token")
	require.NoError(t, err)
	require.Equal(t, iap.PurchaseStatePending, purchase.State)
}

func TestToPurchaseError(t *testing.T) {
	for _, tc := range []struct {
		err      error
		expected iap.PurchaseErrorCode
	}{
		{&googleapi.Error{Code: http.StatusNotFound}, iap.PurchaseErrorNotOwned},
		{&googleapi.Error{Code: http.StatusBadRequest}, iap.PurchaseErrorDeveloperError},
		{&googleapi.Error{Code: http.StatusForbidden}, iap.PurchaseErrorBillingUnavailable},
		{&googleapi.Error{Code: http.StatusBadGateway}, iap.PurchaseErrorServiceUnavailable},
		{ErrPurchaseCanceled, iap.PurchaseErrorPaymentInvalid},
		{errors.New("boom"), iap.PurchaseErrorGeneral},
	} {
		err := toPurchaseError("coin_100", tc.err)
		require.ErrorIs(t, err, iap.ErrPurchase)

		code, ok := iap.PurchaseErrorCodeOf(err)
		require.True(t, ok)
		require.Equal(t, tc.expected, code)
	}
}
