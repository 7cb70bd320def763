package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/code-payments/iap-billing/iap"
)

type InMemoryStore struct {
	mu        sync.RWMutex
	purchases map[string]*iap.Purchase
}

func NewInMemory() iap.Store {
	return &InMemoryStore{
		purchases: map[string]*iap.Purchase{},
	}
}

func (s *InMemoryStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purchases = make(map[string]*iap.Purchase)
}

func (s *InMemoryStore) CreatePurchase(_ context.Context, purchase *iap.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.purchases[purchase.Token]
	if ok {
		return iap.ErrExists
	}

	s.purchases[purchase.Token] = purchase.Clone()

	return nil
}

func (s *InMemoryStore) UpdatePurchase(_ context.Context, purchase *iap.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.purchases[purchase.Token]
	if !ok {
		return iap.ErrNotFound
	}

	s.purchases[purchase.Token] = purchase.Clone()

	return nil
}

func (s *InMemoryStore) GetPurchase(_ context.Context, token string) (*iap.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchase, ok := s.purchases[token]
	if !ok {
		return nil, iap.ErrNotFound
	}
	return purchase.Clone(), nil
}

func (s *InMemoryStore) GetPurchases(_ context.Context, itemType iap.ItemType) ([]*iap.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchases := make([]*iap.Purchase, 0)
	for _, purchase := range s.purchases {
		if purchase.ItemType != itemType || purchase.IsConsumed() {
			continue
		}
		purchases = append(purchases, purchase.Clone())
	}

	sort.Slice(purchases, func(i, j int) bool {
		return purchases[i].TransactionDate.Before(purchases[j].TransactionDate)
	})

	return purchases, nil
}

func (s *InMemoryStore) GetPurchaseByPayload(_ context.Context, productID string, itemType iap.ItemType, payload string) (*iap.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *iap.Purchase
	for _, purchase := range s.purchases {
		if purchase.ProductID != productID || purchase.ItemType != itemType || purchase.Payload != payload {
			continue
		}
		if purchase.IsConsumed() {
			continue
		}
		if latest == nil || purchase.TransactionDate.After(latest.TransactionDate) {
			latest = purchase
		}
	}

	if latest == nil {
		return nil, iap.ErrNotFound
	}
	return latest.Clone(), nil
}
