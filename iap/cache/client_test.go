package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-billing/iap"
)

type countingClient struct {
	iap.Client
	products  map[string]*iap.Product
	calls     [][]string
	connected bool
	err       error
}

func (c *countingClient) Connect(context.Context) bool {
	c.connected = true
	return true
}

func (c *countingClient) Disconnect(context.Context) {
	c.connected = false
}

func (c *countingClient) GetProductInfo(_ context.Context, itemType iap.ItemType, productIDs ...string) ([]*iap.Product, error) {
	c.calls = append(c.calls, productIDs)
	if !c.connected {
		return nil, iap.ErrNotConnected
	}
	if c.err != nil {
		return nil, c.err
	}

	var products []*iap.Product
	for _, id := range productIDs {
		if p, ok := c.products[id]; ok && p.ItemType == itemType {
			products = append(products, p.Clone())
		}
	}
	return products, nil
}

func newCountingClient() *countingClient {
	return &countingClient{
		products: map[string]*iap.Product{
			"coin_100": {ID: "coin_100", ItemType: iap.ItemTypeConsumable, Name: "100 Coins"},
			"coin_500": {ID: "coin_500", ItemType: iap.ItemTypeConsumable, Name: "500 Coins"},
		},
	}
}

func newConnectedCache(t *testing.T, backend *countingClient, ttl time.Duration) *Client {
	cached := NewInCache(backend, ttl)
	t.Cleanup(cached.Close)
	require.True(t, cached.Connect(context.Background()))
	return cached
}

func TestCache_GetProductInfo(t *testing.T) {
	ctx := context.Background()
	backend := newCountingClient()
	cached := newConnectedCache(t, backend, time.Minute)

	products, err := cached.GetProductInfo(ctx, iap.ItemTypeConsumable, "coin_100")
	require.NoError(t, err)
	require.Len(t, products, 1)

	// Only the product that isn't cached yet goes to the backend.
	products, err = cached.GetProductInfo(ctx, iap.ItemTypeConsumable, "coin_500", "coin_100")
	require.NoError(t, err)
	require.Len(t, products, 2)
	require.Equal(t, "coin_500", products[0].ID)
	require.Equal(t, "coin_100", products[1].ID)
	require.Equal(t, [][]string{{"coin_100"}, {"coin_500"}}, backend.calls)

	_, err = cached.GetProductInfo(ctx, iap.ItemTypeConsumable, "coin_100", "coin_500", "coin_100")
	require.NoError(t, err)
	require.Len(t, backend.calls, 2)

	// Returned products are copies.
	products[0].Name = "changed"
	products, err = cached.GetProductInfo(ctx, iap.ItemTypeConsumable, "coin_500")
	require.NoError(t, err)
	require.Equal(t, "500 Coins", products[0].Name)
}

func TestCache_Unknown(t *testing.T) {
	ctx := context.Background()
	backend := newCountingClient()
	cached := newConnectedCache(t, backend, time.Minute)

	products, err := cached.GetProductInfo(ctx, iap.ItemTypeConsumable, "unknown")
	require.NoError(t, err)
	require.NotNil(t, products)
	require.Empty(t, products)

	// Misses aren't cached.
	_, err = cached.GetProductInfo(ctx, iap.ItemTypeConsumable, "unknown")
	require.NoError(t, err)
	require.Len(t, backend.calls, 2)

	// Item types are cached separately.
	products, err = cached.GetProductInfo(ctx, iap.ItemTypeSubscription, "coin_100")
	require.NoError(t, err)
	require.Empty(t, products)
}

func TestCache_Error(t *testing.T) {
	backend := newCountingClient()
	cached := newConnectedCache(t, backend, time.Minute)
	backend.err = errors.New("unavailable")

	_, err := cached.GetProductInfo(context.Background(), iap.ItemTypeConsumable, "coin_100")
	require.ErrorIs(t, err, backend.err)
}

func TestCache_Expiry(t *testing.T) {
	ctx := context.Background()
	backend := newCountingClient()
	cached := newConnectedCache(t, backend, 10*time.Millisecond)

	_, err := cached.GetProductInfo(ctx, iap.ItemTypeConsumable, "coin_100")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = cached.GetProductInfo(ctx, iap.ItemTypeConsumable, "coin_100")
	require.NoError(t, err)
	require.Len(t, backend.calls, 2)
}

func TestCache_NotConnected(t *testing.T) {
	ctx := context.Background()
	backend := newCountingClient()
	cached := NewInCache(backend, time.Minute)
	defer cached.Close()

	_, err := cached.GetProductInfo(ctx, iap.ItemTypeConsumable, "coin_100")
	require.ErrorIs(t, err, iap.ErrNotConnected)

	require.True(t, cached.Connect(ctx))
	products, err := cached.GetProductInfo(ctx, iap.ItemTypeConsumable, "coin_100")
	require.NoError(t, err)
	require.Len(t, products, 1)

	cached.Disconnect(ctx)
	require.False(t, backend.connected)

	// The product was cached, but the session is gone.
	_, err = cached.GetProductInfo(ctx, iap.ItemTypeConsumable, "coin_100")
	require.ErrorIs(t, err, iap.ErrNotConnected)

	// A new session starts from an empty cache.
	require.True(t, cached.Connect(ctx))
	calls := len(backend.calls)
	_, err = cached.GetProductInfo(ctx, iap.ItemTypeConsumable, "coin_100")
	require.NoError(t, err)
	require.Len(t, backend.calls, calls+1)
}

func TestCache_ExpiresBeforeRead(t *testing.T) {
	ctx := context.Background()
	backend := newCountingClient()

	// Entries are stale as soon as they are written.
	cached := newConnectedCache(t, backend, time.Nanosecond)

	products, err := cached.GetProductInfo(ctx, iap.ItemTypeConsumable, "coin_100", "coin_500")
	require.NoError(t, err)
	require.Len(t, products, 2)
	require.Equal(t, "coin_100", products[0].ID)
	require.Equal(t, "coin_500", products[1].ID)
}
