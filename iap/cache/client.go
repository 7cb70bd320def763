package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ReneKroon/ttlcache"

	"github.com/code-payments/iap-billing/iap"
)

// Client caches product lookups of the wrapped client. Purchases are never
// cached. The cache only answers while a session opened through this Client
// is up; otherwise every lookup goes to the wrapped client.
type Client struct {
	iap.Client
	cache     *ttlcache.Cache
	connected atomic.Bool
}

func NewInCache(client iap.Client, ttl time.Duration) *Client {
	cache := ttlcache.NewCache()
	cache.SetTTL(ttl)
	return &Client{
		Client: client,
		cache:  cache,
	}
}

func (c *Client) Connect(ctx context.Context) bool {
	ok := c.Client.Connect(ctx)
	c.connected.Store(ok)
	return ok
}

// Disconnect closes the wrapped session and drops everything cached in it.
func (c *Client) Disconnect(ctx context.Context) {
	c.connected.Store(false)
	c.cache.Purge()
	c.Client.Disconnect(ctx)
}

func (c *Client) GetProductInfo(ctx context.Context, itemType iap.ItemType, productIDs ...string) ([]*iap.Product, error) {
	if !c.connected.Load() {
		return c.Client.GetProductInfo(ctx, itemType, productIDs...)
	}

	found := make(map[string]*iap.Product, len(productIDs))
	var missing []string
	for _, id := range productIDs {
		if _, ok := found[id]; ok {
			continue
		}
		if cached, ok := c.cache.Get(toCacheKey(itemType, id)); ok {
			found[id] = cached.(*iap.Product)
		} else {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		fetched, err := c.Client.GetProductInfo(ctx, itemType, missing...)
		if err != nil {
			return nil, err
		}
		for _, product := range fetched {
			cloned := product.Clone()
			c.cache.Set(toCacheKey(itemType, product.ID), cloned)
			found[product.ID] = cloned
		}
	}

	products := make([]*iap.Product, 0, len(found))
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		if product, ok := found[id]; ok {
			products = append(products, product.Clone())
		}
	}
	return products, nil
}

// Close stops the cache's expiry goroutine.
func (c *Client) Close() {
	c.cache.Close()
}

func toCacheKey(itemType iap.ItemType, productID string) string {
	return itemType.String() + ":" + productID
}
