package memory

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/code-payments/iap-billing/catalog"
	"github.com/code-payments/iap-billing/iap"
)

var ErrPaymentRejected = errors.New("payment rejected by store")

// Client simulates a platform store entirely in memory. Receipts are signed
// with the store's private key, so Verifier can check them.
type Client struct {
	log     *zap.Logger
	catalog *catalog.Catalog
	key     ed25519.PrivateKey
	store   iap.Store
	policy  iap.VerificationPolicy
	now     func() time.Time

	mu        sync.RWMutex
	connected bool
	available bool
	rejected  map[string]struct{}
}

type ClientOption func(c *Client)

// WithStore replaces the in-memory purchase ledger.
func WithStore(store iap.Store) ClientOption {
	return func(c *Client) {
		c.store = store
	}
}

func WithVerificationPolicy(policy iap.VerificationPolicy) ClientOption {
	return func(c *Client) {
		c.policy = policy
	}
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

func NewClient(log *zap.Logger, products *catalog.Catalog, key ed25519.PrivateKey, opts ...ClientOption) *Client {
	c := &Client{
		log:       log,
		catalog:   products,
		key:       key,
		store:     NewInMemory(),
		now:       time.Now,
		available: true,
		rejected:  map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetAvailable controls whether Connect succeeds. Making the store unavailable
// also drops an existing session.
func (c *Client) SetAvailable(available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.available = available
	if !available {
		c.connected = false
	}
}

// RejectPayments makes every purchase of productID fail as if the payment was
// declined.
func (c *Client) RejectPayments(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rejected[productID] = struct{}{}
}

func (c *Client) Connect(_ context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.available {
		c.log.Debug("Store unavailable, refusing connection")
		return false
	}
	c.connected = true
	return true
}

func (c *Client) Disconnect(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
}

func (c *Client) isConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connected
}

func (c *Client) isRejected(productID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.rejected[productID]
	return ok
}

func (c *Client) GetProductInfo(_ context.Context, itemType iap.ItemType, productIDs ...string) ([]*iap.Product, error) {
	if !c.isConnected() {
		return nil, iap.ErrNotConnected
	}
	return c.catalog.Lookup(itemType, productIDs...), nil
}

func (c *Client) GetPurchases(ctx context.Context, itemType iap.ItemType, opts ...iap.CallOption) ([]*iap.Purchase, error) {
	if !c.isConnected() {
		return nil, iap.ErrNotConnected
	}

	purchases, err := c.store.GetPurchases(ctx, itemType)
	if err != nil {
		return nil, err
	}

	return iap.FilterVerified(ctx, c.log, purchases, iap.ApplyCallOptions(c.policy, opts...))
}

func (c *Client) Purchase(ctx context.Context, productID string, itemType iap.ItemType, payload string, opts ...iap.CallOption) (*iap.Purchase, error) {
	if !c.isConnected() {
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

	if c.isRejected(productID) {
		log.Debug("Rejecting payment")
		return nil, iap.NewPurchaseError(iap.PurchaseErrorPaymentInvalid, productID, ErrPaymentRejected)
	}

	if itemType != iap.ItemTypeConsumable {
		owned, err := c.store.GetPurchases(ctx, itemType)
		if err != nil {
			return nil, iap.NewPurchaseError(iap.PurchaseErrorGeneral, productID, err)
		}
		for _, p := range owned {
			if p.ProductID == productID {
				return nil, iap.NewPurchaseError(iap.PurchaseErrorAlreadyOwned, productID, nil)
			}
		}
	}

	orderID := uuid.New()
	token := base58.Encode(orderID[:])
	purchase := &iap.Purchase{
		ID:              "MEM." + orderID.String(),
		ProductID:       productID,
		ItemType:        itemType,
		Platform:        iap.PlatformMemory,
		Token:           token,
		State:           iap.PurchaseStatePurchased,
		AutoRenewing:    itemType == iap.ItemTypeSubscription,
		Payload:         payload,
		Receipt:         SignReceipt(c.key, token),
		TransactionDate: c.now(),
	}

	if err := iap.VerifyForPurchase(ctx, purchase, iap.ApplyCallOptions(c.policy, opts...)); err != nil {
		log.Warn("Purchase failed verification", zap.String("token", token))
		return nil, err
	}

	if err := iap.RecordPurchase(ctx, c.store, purchase); err != nil {
		log.Warn("Failed to record purchase", zap.Error(err))
		return nil, err
	}

	return purchase, nil
}

func (c *Client) ConsumePurchase(ctx context.Context, req iap.ConsumeRequest, opts ...iap.CallOption) (*iap.Purchase, error) {
	productID := iap.ConsumeProductID(req)
	if !c.isConnected() {
		return nil, iap.NewPurchaseError(iap.PurchaseErrorServiceUnavailable, productID, iap.ErrNotConnected)
	}

	purchase, err := iap.ResolveConsume(ctx, c.store, req)
	if err != nil {
		return nil, err
	}

	if err := iap.VerifyForPurchase(ctx, purchase, iap.ApplyCallOptions(c.policy, opts...)); err != nil {
		return nil, err
	}

	if purchase.ItemType == iap.ItemTypeConsumable {
		purchase.ConsumptionState = iap.ConsumptionStateConsumed
	}
	purchase.Acknowledged = true

	if err := c.store.UpdatePurchase(ctx, purchase); err != nil {
		c.log.Warn("Failed to update purchase", zap.String("token", purchase.Token), zap.Error(err))
		return nil, iap.NewPurchaseError(iap.PurchaseErrorGeneral, productID, err)
	}

	return purchase, nil
}
