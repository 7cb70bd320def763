package android

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/api/androidpublisher/v3"

	"github.com/code-payments/iap-billing/iap"
)

var ErrPurchaseCanceled = errors.New("purchase canceled on google play")

// Dialer creates the Publisher used for a session.
type Dialer func(ctx context.Context) (Publisher, error)

// CredentialsDialer dials the real Google Play Developer API.
func CredentialsDialer(serviceAccountJSON []byte) Dialer {
	return func(ctx context.Context) (Publisher, error) {
		return NewPublisher(ctx, serviceAccountJSON)
	}
}

// Client implements iap.Client on top of Google Play. The device runs the
// billing flow and hands back a purchase token; everything else happens
// through the Google Play Developer API.
type Client struct {
	log         *zap.Logger
	packageName string
	dial        Dialer
	flow        iap.Flow
	store       iap.Store
	policy      iap.VerificationPolicy

	mu        sync.RWMutex
	publisher Publisher
}

type ClientOption func(c *Client)

func WithVerificationPolicy(policy iap.VerificationPolicy) ClientOption {
	return func(c *Client) {
		c.policy = policy
	}
}

func NewClient(log *zap.Logger, packageName string, dial Dialer, flow iap.Flow, store iap.Store, opts ...ClientOption) *Client {
	c := &Client{
		log:         log.With(zap.String("package_name", packageName)),
		packageName: packageName,
		dial:        dial,
		flow:        flow,
		store:       store,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Connect(ctx context.Context) bool {
	publisher, err := c.dial(ctx)
	if err != nil {
		c.log.Warn("Failed to create publisher", zap.Error(err))
		return false
	}

	if err := publisher.Ping(ctx, c.packageName); err != nil {
		c.log.Warn("Failed to reach google play", zap.Error(err))
		return false
	}

	c.mu.Lock()
	c.publisher = publisher
	c.mu.Unlock()

	return true
}

func (c *Client) Disconnect(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.publisher = nil
}

func (c *Client) getPublisher() (Publisher, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.publisher, c.publisher != nil
}

func (c *Client) GetProductInfo(ctx context.Context, itemType iap.ItemType, productIDs ...string) ([]*iap.Product, error) {
	publisher, ok := c.getPublisher()
	if !ok {
		return nil, iap.ErrNotConnected
	}

	products := make([]*iap.Product, 0, len(productIDs))
	for _, id := range productIDs {
		product, err := publisher.GetProduct(ctx, c.packageName, id)
		if isNotFound(err) {
			continue
		} else if err != nil {
			c.log.Warn("Failed to get product", zap.String("product_id", id), zap.Error(err))
			return nil, err
		}

		if product.Status == productStatusInactive || !matchesItemType(product.PurchaseType, itemType) {
			continue
		}

		products = append(products, toProduct(product, itemType))
	}
	return products, nil
}

func (c *Client) GetPurchases(ctx context.Context, itemType iap.ItemType, opts ...iap.CallOption) ([]*iap.Purchase, error) {
	publisher, ok := c.getPublisher()
	if !ok {
		return nil, iap.ErrNotConnected
	}

	stored, err := c.store.GetPurchases(ctx, itemType)
	if err != nil {
		return nil, err
	}

	purchases := make([]*iap.Purchase, 0, len(stored))
	for _, purchase := range stored {
		log := c.log.With(zap.String("token", purchase.Token))

		refreshed, err := c.fetchPurchase(ctx, publisher, purchase.ProductID, purchase.ItemType, purchase.Token)
		if err != nil && !errors.Is(err, ErrPurchaseCanceled) {
			// Keep the ledger copy; google play may just be flaky.
			log.Warn("Failed to refresh purchase", zap.Error(err))
			purchases = append(purchases, purchase)
			continue
		}

		if errors.Is(err, ErrPurchaseCanceled) {
			purchase.State = iap.PurchaseStateCanceled
			purchase.ConsumptionState = iap.ConsumptionStateConsumed
			if err := c.store.UpdatePurchase(ctx, purchase); err != nil {
				log.Warn("Failed to retire canceled purchase", zap.Error(err))
			}
			continue
		}

		refreshed.Payload = purchase.Payload
		if err := c.store.UpdatePurchase(ctx, refreshed); err != nil {
			log.Warn("Failed to update purchase", zap.Error(err))
		}
		if refreshed.IsConsumed() {
			continue
		}
		purchases = append(purchases, refreshed)
	}

	return iap.FilterVerified(ctx, c.log, purchases, iap.ApplyCallOptions(c.policy, opts...))
}

func (c *Client) Purchase(ctx context.Context, productID string, itemType iap.ItemType, payload string, opts ...iap.CallOption) (*iap.Purchase, error) {
	publisher, ok := c.getPublisher()
	if !ok {
		return nil, iap.NewPurchaseError(iap.PurchaseErrorServiceUnavailable, productID, iap.ErrNotConnected)
	}

	log := c.log.With(
		zap.String("product_id", productID),
		zap.String("item_type", itemType.String()),
	)

	token, err := c.flow.Launch(ctx, &iap.FlowRequest{
		ProductID: productID,
		ItemType:  itemType,
		Payload:   payload,
	})
	if err != nil {
		log.Debug("Purchase flow failed", zap.Error(err))
		return nil, iap.AsPurchaseError(iap.PurchaseErrorGeneral, productID, err)
	}

	purchase, err := c.fetchPurchase(ctx, publisher, productID, itemType, token)
	if err != nil {
		log.Warn("Failed to get purchase", zap.Error(err))
		return nil, toPurchaseError(productID, err)
	}
	if purchase.IsConsumed() {
		log.Warn("Purchase flow returned a consumed token", zap.String("token", token))
		return nil, iap.NewPurchaseError(iap.PurchaseErrorNotOwned, productID, iap.ErrAlreadyConsumed)
	}
	purchase.Payload = payload

	if err := iap.VerifyForPurchase(ctx, purchase, iap.ApplyCallOptions(c.policy, opts...)); err != nil {
		log.Warn("Purchase failed verification")
		return nil, err
	}

	if err := iap.RecordPurchase(ctx, c.store, purchase); err != nil {
		log.Warn("Failed to record purchase", zap.String("token", token), zap.Error(err))
		return nil, err
	}

	return purchase, nil
}

func (c *Client) ConsumePurchase(ctx context.Context, req iap.ConsumeRequest, opts ...iap.CallOption) (*iap.Purchase, error) {
	productID := iap.ConsumeProductID(req)
	publisher, ok := c.getPublisher()
	if !ok {
		return nil, iap.NewPurchaseError(iap.PurchaseErrorServiceUnavailable, productID, iap.ErrNotConnected)
	}

	purchase, err := iap.ResolveConsume(ctx, c.store, req)
	if err != nil {
		return nil, err
	}

	log := c.log.With(
		zap.String("product_id", purchase.ProductID),
		zap.String("token", purchase.Token),
	)

	if err := iap.VerifyForPurchase(ctx, purchase, iap.ApplyCallOptions(c.policy, opts...)); err != nil {
		log.Warn("Purchase failed verification")
		return nil, err
	}

	switch purchase.ItemType {
	case iap.ItemTypeConsumable:
		err = publisher.ConsumeProduct(ctx, c.packageName, purchase.ProductID, purchase.Token)
		if err == nil {
			purchase.ConsumptionState = iap.ConsumptionStateConsumed
		}
	case iap.ItemTypeNonConsumable:
		if !purchase.Acknowledged {
			err = publisher.AcknowledgeProduct(ctx, c.packageName, purchase.ProductID, purchase.Token, purchase.Payload)
		}
	case iap.ItemTypeSubscription:
		if !purchase.Acknowledged {
			err = publisher.AcknowledgeSubscription(ctx, c.packageName, purchase.ProductID, purchase.Token, purchase.Payload)
		}
	default:
		err = iap.ErrInvalidItemType
	}
	if err != nil {
		log.Warn("Failed to consume purchase", zap.Error(err))
		return nil, toPurchaseError(purchase.ProductID, err)
	}
	purchase.Acknowledged = true

	if err := c.store.UpdatePurchase(ctx, purchase); err != nil {
		log.Warn("Failed to update purchase", zap.Error(err))
		return nil, iap.NewPurchaseError(iap.PurchaseErrorGeneral, purchase.ProductID, err)
	}

	return purchase, nil
}

func (c *Client) fetchPurchase(ctx context.Context, publisher Publisher, productID string, itemType iap.ItemType, token string) (*iap.Purchase, error) {
	switch itemType {
	case iap.ItemTypeConsumable, iap.ItemTypeNonConsumable:
		pp, err := publisher.GetProductPurchase(ctx, c.packageName, productID, token)
		if err != nil {
			return nil, err
		}
		return fromProductPurchase(pp, productID, itemType, token)
	case iap.ItemTypeSubscription:
		sp, err := publisher.GetSubscriptionPurchase(ctx, c.packageName, productID, token)
		if err != nil {
			return nil, err
		}
		return fromSubscriptionPurchase(sp, productID, token, time.Now())
	default:
		return nil, iap.ErrInvalidItemType
	}
}

func fromProductPurchase(pp *androidpublisher.ProductPurchase, productID string, itemType iap.ItemType, token string) (*iap.Purchase, error) {
	purchase := &iap.Purchase{
		ID:              pp.OrderId,
		ProductID:       productID,
		ItemType:        itemType,
		Platform:        iap.PlatformGoogle,
		Token:           token,
		Acknowledged:    pp.AcknowledgementState == acknowledgementStateAcknowledged,
		Receipt:         token,
		TransactionDate: time.UnixMilli(pp.PurchaseTimeMillis),
	}

	switch pp.PurchaseState {
	case purchaseStatePurchased:
		purchase.State = iap.PurchaseStatePurchased
	case purchaseStatePending:
		purchase.State = iap.PurchaseStatePending
	case purchaseStateCanceled:
		return nil, ErrPurchaseCanceled
	default:
		purchase.State = iap.PurchaseStateUnknown
	}

	if pp.ConsumptionState == consumptionStateConsumed {
		purchase.ConsumptionState = iap.ConsumptionStateConsumed
	}

	return purchase, nil
}

func fromSubscriptionPurchase(sp *androidpublisher.SubscriptionPurchase, subscriptionID, token string, now time.Time) (*iap.Purchase, error) {
	if sp.ExpiryTimeMillis > 0 && time.UnixMilli(sp.ExpiryTimeMillis).Before(now) {
		return nil, ErrPurchaseCanceled
	}

	purchase := &iap.Purchase{
		ID:              sp.OrderId,
		ProductID:       subscriptionID,
		ItemType:        iap.ItemTypeSubscription,
		Platform:        iap.PlatformGoogle,
		Token:           token,
		State:           iap.PurchaseStatePurchased,
		Acknowledged:    sp.AcknowledgementState == acknowledgementStateAcknowledged,
		AutoRenewing:    sp.AutoRenewing,
		Receipt:         token,
		TransactionDate: time.UnixMilli(sp.StartTimeMillis),
	}

	// paymentState: 0 pending, 1 received, 2 free trial, 3 deferred.
	if sp.PaymentState != nil {
		switch *sp.PaymentState {
		case 0, 3:
			purchase.State = iap.PurchaseStatePending
		case 2:
			purchase.State = iap.PurchaseStateFreeTrial
		}
	}

	return purchase, nil
}

func matchesItemType(purchaseType string, itemType iap.ItemType) bool {
	switch itemType {
	case iap.ItemTypeConsumable, iap.ItemTypeNonConsumable:
		return purchaseType == purchaseTypeManaged
	case iap.ItemTypeSubscription:
		return purchaseType == purchaseTypeSubscription
	default:
		return false
	}
}

func toProduct(p *androidpublisher.InAppProduct, itemType iap.ItemType) *iap.Product {
	product := &iap.Product{
		ID:       p.Sku,
		ItemType: itemType,
	}

	if listing, ok := p.Listings[p.DefaultLanguage]; ok {
		product.Name = listing.Title
		product.Description = listing.Description
	}

	if p.DefaultPrice != nil {
		micros, err := decimal.NewFromString(p.DefaultPrice.PriceMicros)
		if err == nil {
			product.Price = micros.Shift(-6)
		}
		product.CurrencyCode = p.DefaultPrice.Currency
		product.LocalizedPrice = product.Price.StringFixed(2) + " " + product.CurrencyCode
	}

	return product
}

func toPurchaseError(productID string, err error) error {
	if errors.Is(err, ErrPurchaseCanceled) {
		return iap.NewPurchaseError(iap.PurchaseErrorPaymentInvalid, productID, err)
	}
	if errors.Is(err, iap.ErrInvalidItemType) {
		return iap.NewPurchaseError(iap.PurchaseErrorDeveloperError, productID, err)
	}

	code := statusCode(err)
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return iap.NewPurchaseError(iap.PurchaseErrorNotOwned, productID, err)
	case code == http.StatusBadRequest:
		return iap.NewPurchaseError(iap.PurchaseErrorDeveloperError, productID, err)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return iap.NewPurchaseError(iap.PurchaseErrorBillingUnavailable, productID, err)
	case code >= http.StatusInternalServerError:
		return iap.NewPurchaseError(iap.PurchaseErrorServiceUnavailable, productID, err)
	default:
		return iap.NewPurchaseError(iap.PurchaseErrorGeneral, productID, err)
	}
}
