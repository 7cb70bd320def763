package android

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"

	"github.com/code-payments/iap-billing/iap"
)

var errPaymentDeclined = errors.New("payment declined")

// fakePlay stands in for both the device billing flow and the Google Play
// Developer API.
type fakePlay struct {
	mu            sync.Mutex
	unavailable   bool
	products      map[string]*androidpublisher.InAppProduct
	purchases     map[string]*androidpublisher.ProductPurchase
	subscriptions map[string]*androidpublisher.SubscriptionPurchase
	rejected      map[string]struct{}

	lastToken string
	replay    bool
}

func newFakePlay() *fakePlay {
	f := &fakePlay{
		products:      map[string]*androidpublisher.InAppProduct{},
		purchases:     map[string]*androidpublisher.ProductPurchase{},
		subscriptions: map[string]*androidpublisher.SubscriptionPurchase{},
		rejected:      map[string]struct{}{},
	}
	f.addProduct("coin_100", purchaseTypeManaged, "990000")
	f.addProduct("remove_ads", purchaseTypeManaged, "2490000")
	f.addProduct("premium_monthly", purchaseTypeSubscription, "4990000")
	return f
}

func (f *fakePlay) addProduct(sku, purchaseType, micros string) {
	f.products[sku] = &androidpublisher.InAppProduct{
		Sku:             sku,
		PurchaseType:    purchaseType,
		Status:          "active",
		DefaultLanguage: "en-US",
		Listings: map[string]androidpublisher.InAppProductListing{
			"en-US": {Title: sku + " title", Description: sku + " description"},
		},
		DefaultPrice: &androidpublisher.Price{Currency: "USD", PriceMicros: micros},
	}
}

func (f *fakePlay) setAvailable(available bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unavailable = !available
}

func (f *fakePlay) rejectPayments(productID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected[productID] = struct{}{}
}

func notFound() error {
	return &googleapi.Error{Code: http.StatusNotFound, Message: "not found"}
}

func (f *fakePlay) dial(context.Context) (Publisher, error) {
	return f, nil
}

// Launch plays the part of the device: it completes the purchase and returns
// the token google play issued.
func (f *fakePlay) Launch(_ context.Context, req *iap.FlowRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.rejected[req.ProductID]; ok {
		return "", errPaymentDeclined
	}
	if f.replay {
		f.replay = false
		return f.lastToken, nil
	}
	product, ok := f.products[req.ProductID]
	if !ok {
		return "", errors.New("item unavailable")
	}

	token := uuid.NewString()
	now := time.Now()
	if product.PurchaseType == purchaseTypeSubscription {
		received := int64(1)
		f.subscriptions[token] = &androidpublisher.SubscriptionPurchase{
			OrderId:          "GPA." + token,
			StartTimeMillis:  now.UnixMilli(),
			ExpiryTimeMillis: now.Add(30 * 24 * time.Hour).UnixMilli(),
			AutoRenewing:     true,
			PaymentState:     &received,
		}
	} else {
		f.purchases[token] = &androidpublisher.ProductPurchase{
			OrderId:            "GPA." + token,
			ProductId:          req.ProductID,
			PurchaseState:      purchaseStatePurchased,
			PurchaseTimeMillis: now.UnixMilli(),
		}
	}
	f.lastToken = token
	return token, nil
}

// replayLastToken makes the next Launch return the previous purchase token.
func (f *fakePlay) replayLastToken() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replay = true
}

func (f *fakePlay) Ping(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.unavailable {
		return &googleapi.Error{Code: http.StatusServiceUnavailable}
	}
	return nil
}

func (f *fakePlay) GetProduct(_ context.Context, _ string, sku string) (*androidpublisher.InAppProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	product, ok := f.products[sku]
	if !ok {
		return nil, notFound()
	}
	return product, nil
}

func (f *fakePlay) GetProductPurchase(_ context.Context, _ string, productID, token string) (*androidpublisher.ProductPurchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pp, ok := f.purchases[token]
	if !ok || pp.ProductId != productID {
		return nil, notFound()
	}
	cloned := *pp
	return &cloned, nil
}

func (f *fakePlay) ConsumeProduct(_ context.Context, _ string, productID, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	pp, ok := f.purchases[token]
	if !ok || pp.ProductId != productID {
		return notFound()
	}
	pp.ConsumptionState = consumptionStateConsumed
	pp.AcknowledgementState = acknowledgementStateAcknowledged
	return nil
}

func (f *fakePlay) AcknowledgeProduct(_ context.Context, _ string, productID, token, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	pp, ok := f.purchases[token]
	if !ok || pp.ProductId != productID {
		return notFound()
	}
	pp.AcknowledgementState = acknowledgementStateAcknowledged
	pp.DeveloperPayload = payload
	return nil
}

func (f *fakePlay) GetSubscriptionPurchase(_ context.Context, _ string, _ string, token string) (*androidpublisher.SubscriptionPurchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sp, ok := f.subscriptions[token]
	if !ok {
		return nil, notFound()
	}
	cloned := *sp
	return &cloned, nil
}

func (f *fakePlay) AcknowledgeSubscription(_ context.Context, _ string, _ string, token, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	sp, ok := f.subscriptions[token]
	if !ok {
		return notFound()
	}
	sp.AcknowledgementState = acknowledgementStateAcknowledged
	sp.DeveloperPayload = payload
	return nil
}
