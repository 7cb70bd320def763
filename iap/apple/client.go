package apple

import (
	"context"
	"sync"
	"time"

	"github.com/awa/go-iap/appstore"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/code-payments/iap-billing/catalog"
	"github.com/code-payments/iap-billing/iap"
)

// Dialer creates the Validator used for a session.
type Dialer func(ctx context.Context) (Validator, error)

// AppStoreDialer validates against the production App Store, falling back to
// the sandbox for sandbox receipts.
func AppStoreDialer() Dialer {
	return func(context.Context) (Validator, error) {
		return appstore.New(), nil
	}
}

// Client implements iap.Client on top of App Store receipt validation. The
// App Store has no server-side product query, so products come from a
// catalog, and consumption is finished on the device and only recorded here.
type Client struct {
	log          *zap.Logger
	bundleID     string
	sharedSecret string
	dial         Dialer
	catalog      *catalog.Catalog
	flow         iap.Flow
	store        iap.Store
	policy       iap.VerificationPolicy

	mu        sync.RWMutex
	validator Validator
}

type ClientOption func(c *Client)

func WithSharedSecret(secret string) ClientOption {
	return func(c *Client) {
		c.sharedSecret = secret
	}
}

func WithVerificationPolicy(policy iap.VerificationPolicy) ClientOption {
	return func(c *Client) {
		c.policy = policy
	}
}

func NewClient(log *zap.Logger, bundleID string, dial Dialer, products *catalog.Catalog, flow iap.Flow, store iap.Store, opts ...ClientOption) *Client {
	c := &Client{
		log:      log.With(zap.String("bundle_id", bundleID)),
		bundleID: bundleID,
		dial:     dial,
		catalog:  products,
		flow:     flow,
		store:    store,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the validator and checks that verifyReceipt answers. An empty
// receipt is rejected with a status code, which is enough to prove the
// service is reachable.
func (c *Client) Connect(ctx context.Context) bool {
	validator, err := c.dial(ctx)
	if err != nil {
		c.log.Warn("Failed to create validator", zap.Error(err))
		return false
	}

	resp := &appstore.IAPResponse{}
	if err := validator.Verify(ctx, appstore.IAPRequest{}, resp); err != nil {
		c.log.Warn("Failed to reach the app store", zap.Error(err))
		return false
	}

	c.mu.Lock()
	c.validator = validator
	c.mu.Unlock()

	return true
}

func (c *Client) Disconnect(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.validator = nil
}

func (c *Client) getValidator() (Validator, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.validator, c.validator != nil
}

func (c *Client) GetProductInfo(_ context.Context, itemType iap.ItemType, productIDs ...string) ([]*iap.Product, error) {
	if _, ok := c.getValidator(); !ok {
		return nil, iap.ErrNotConnected
	}
	return c.catalog.Lookup(itemType, productIDs...), nil
}

func (c *Client) GetPurchases(ctx context.Context, itemType iap.ItemType, opts ...iap.CallOption) ([]*iap.Purchase, error) {
	validator, ok := c.getValidator()
	if !ok {
		return nil, iap.ErrNotConnected
	}

	stored, err := c.store.GetPurchases(ctx, itemType)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	purchases := make([]*iap.Purchase, 0, len(stored))
	for _, purchase := range stored {
		log := c.log.With(zap.String("transaction_id", purchase.Token))

		resp, err := validateReceipt(ctx, validator, purchase.Receipt, c.sharedSecret)
		if err != nil {
			log.Warn("Failed to refresh purchase", zap.Error(err))
			purchases = append(purchases, purchase)
			continue
		}

		tx, ok := findTransaction(resp, purchase.Token)
		if !ok || isRevoked(tx, purchase.ItemType, now) {
			purchase.State = iap.PurchaseStateCanceled
			purchase.ConsumptionState = iap.ConsumptionStateConsumed
			if err := c.store.UpdatePurchase(ctx, purchase); err != nil {
				log.Warn("Failed to retire revoked purchase", zap.Error(err))
			}
			continue
		}

		purchases = append(purchases, purchase)
	}

	return iap.FilterVerified(ctx, c.log, purchases, iap.ApplyCallOptions(c.policy, opts...))
}

func (c *Client) Purchase(ctx context.Context, productID string, itemType iap.ItemType, payload string, opts ...iap.CallOption) (*iap.Purchase, error) {
	validator, ok := c.getValidator()
	if !ok {
		return nil, iap.NewPurchaseError(iap.PurchaseErrorServiceUnavailable, productID, iap.ErrNotConnected)
	}

	log := c.log.With(
		zap.String("product_id", productID),
		zap.String("item_type", itemType.String()),
	)

	product, ok := c.catalog.Get(productID)
	if !ok || product.ItemType != itemType {
		return nil, iap.NewPurchaseError(iap.PurchaseErrorItemUnavailable, productID, nil)
	}

	receipt, err := c.flow.Launch(ctx, &iap.FlowRequest{
		ProductID: productID,
		ItemType:  itemType,
		Payload:   payload,
	})
	if err != nil {
		log.Debug("Purchase flow failed", zap.Error(err))
		return nil, iap.AsPurchaseError(iap.PurchaseErrorGeneral, productID, err)
	}

	resp, err := validateReceipt(ctx, validator, receipt, c.sharedSecret)
	if err != nil {
		log.Warn("Failed to validate receipt", zap.Error(err))
		return nil, toPurchaseError(productID, err)
	}
	if resp.Receipt.BundleID != c.bundleID {
		log.Warn("Receipt is for another bundle", zap.String("receipt_bundle_id", resp.Receipt.BundleID))
		return nil, iap.NewPurchaseError(iap.PurchaseErrorInvalidSignature, productID, ErrBundleMismatch)
	}

	tx, ok := latestTransaction(resp, productID)
	if !ok {
		return nil, iap.NewPurchaseError(iap.PurchaseErrorItemUnavailable, productID, ErrTransactionNotFound)
	}
	if isRevoked(tx, itemType, time.Now()) {
		return nil, iap.NewPurchaseError(iap.PurchaseErrorPaymentInvalid, productID, ErrTransactionRevoked)
	}

	purchase := toPurchase(tx, itemType, receipt)
	purchase.Payload = payload

	if err := iap.VerifyForPurchase(ctx, purchase, iap.ApplyCallOptions(c.policy, opts...)); err != nil {
		log.Warn("Purchase failed verification")
		return nil, err
	}

	if err := iap.RecordPurchase(ctx, c.store, purchase); err != nil {
		log.Warn("Failed to record purchase", zap.String("transaction_id", purchase.Token), zap.Error(err))
		return nil, err
	}

	return purchase, nil
}

func (c *Client) ConsumePurchase(ctx context.Context, req iap.ConsumeRequest, opts ...iap.CallOption) (*iap.Purchase, error) {
	productID := iap.ConsumeProductID(req)
	if _, ok := c.getValidator(); !ok {
		return nil, iap.NewPurchaseError(iap.PurchaseErrorServiceUnavailable, productID, iap.ErrNotConnected)
	}

	purchase, err := iap.ResolveConsume(ctx, c.store, req)
	if err != nil {
		return nil, err
	}

	if err := iap.VerifyForPurchase(ctx, purchase, iap.ApplyCallOptions(c.policy, opts...)); err != nil {
		c.log.Warn("Purchase failed verification", zap.String("transaction_id", purchase.Token))
		return nil, err
	}

	if purchase.ItemType == iap.ItemTypeConsumable {
		purchase.ConsumptionState = iap.ConsumptionStateConsumed
	}
	purchase.Acknowledged = true

	if err := c.store.UpdatePurchase(ctx, purchase); err != nil {
		c.log.Warn("Failed to update purchase", zap.String("transaction_id", purchase.Token), zap.Error(err))
		return nil, iap.NewPurchaseError(iap.PurchaseErrorGeneral, purchase.ProductID, err)
	}

	return purchase, nil
}

func toPurchaseError(productID string, err error) error {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return iap.NewPurchaseError(iap.PurchaseErrorServiceUnavailable, productID, err)
	}

	switch statusErr.Status {
	case 21004:
		// Shared secret mismatch.
		return iap.NewPurchaseError(iap.PurchaseErrorDeveloperError, productID, err)
	case 21005, 21009:
		return iap.NewPurchaseError(iap.PurchaseErrorServiceUnavailable, productID, err)
	case 21010:
		// Account not found or deleted.
		return iap.NewPurchaseError(iap.PurchaseErrorNotOwned, productID, err)
	default:
		return iap.NewPurchaseError(iap.PurchaseErrorPaymentInvalid, productID, err)
	}
}
