package iap

import (
	"context"
	"errors"
)

var (
	ErrExists   = errors.New("purchase already exists")
	ErrNotFound = errors.New("purchase not found")

	ErrAlreadyConsumed = errors.New("purchase already consumed")
	ErrReceiptReplayed = errors.New("receipt already redeemed")
)

// Store is the purchase ledger adapters keep so that purchases can be listed
// and consumed by payload after the flow that created them has finished.
type Store interface {
	// CreatePurchase records a new purchase keyed by its token.
	CreatePurchase(ctx context.Context, purchase *Purchase) error

	// UpdatePurchase replaces the stored purchase with the same token.
	UpdatePurchase(ctx context.Context, purchase *Purchase) error

	GetPurchase(ctx context.Context, token string) (*Purchase, error)

	// GetPurchases returns the unconsumed purchases of an item type, oldest
	// transaction first.
	GetPurchases(ctx context.Context, itemType ItemType) ([]*Purchase, error)

	// GetPurchaseByPayload returns the most recent unconsumed purchase of a
	// product made with the given developer payload.
	GetPurchaseByPayload(ctx context.Context, productID string, itemType ItemType, payload string) (*Purchase, error)
}

// RecordPurchase adds a purchase that just came back from a purchase flow to
// the ledger. A token the ledger already holds is a replayed receipt: it fails
// with PurchaseErrorNotOwned once consumed and PurchaseErrorAlreadyOwned
// otherwise. The stored entry is never touched.
func RecordPurchase(ctx context.Context, store Store, purchase *Purchase) error {
	existing, err := store.GetPurchase(ctx, purchase.Token)
	if err == nil {
		return replayError(existing)
	} else if !errors.Is(err, ErrNotFound) {
		return NewPurchaseError(PurchaseErrorGeneral, purchase.ProductID, err)
	}

	err = store.CreatePurchase(ctx, purchase)
	if errors.Is(err, ErrExists) {
		// Lost a race with a concurrent flow for the same token.
		return NewPurchaseError(PurchaseErrorAlreadyOwned, purchase.ProductID, ErrReceiptReplayed)
	} else if err != nil {
		return NewPurchaseError(PurchaseErrorGeneral, purchase.ProductID, err)
	}
	return nil
}

func replayError(existing *Purchase) error {
	if existing.IsConsumed() {
		return NewPurchaseError(PurchaseErrorNotOwned, existing.ProductID, errors.Join(ErrReceiptReplayed, ErrAlreadyConsumed))
	}
	return NewPurchaseError(PurchaseErrorAlreadyOwned, existing.ProductID, ErrReceiptReplayed)
}

// ResolveConsume finds the ledger entry a consume request refers to. A missing
// or already consumed purchase is reported as PurchaseErrorNotOwned.
func ResolveConsume(ctx context.Context, store Store, req ConsumeRequest) (*Purchase, error) {
	var (
		purchase *Purchase
		err      error
	)

	switch r := req.(type) {
	case ConsumeByToken:
		if r.Token == "" {
			return nil, NewPurchaseError(PurchaseErrorDeveloperError, r.ProductID, errors.New("purchase token is required"))
		}
		purchase, err = store.GetPurchase(ctx, r.Token)
		if err == nil && purchase.ProductID != r.ProductID {
			err = ErrNotFound
		}
	case ConsumeByPayload:
		purchase, err = store.GetPurchaseByPayload(ctx, r.ProductID, r.ItemType, r.Payload)
	default:
		return nil, NewPurchaseError(PurchaseErrorDeveloperError, ConsumeProductID(req), errors.New("unsupported consume request"))
	}

	if errors.Is(err, ErrNotFound) {
		return nil, NewPurchaseError(PurchaseErrorNotOwned, ConsumeProductID(req), err)
	} else if err != nil {
		return nil, NewPurchaseError(PurchaseErrorGeneral, ConsumeProductID(req), err)
	}

	if purchase.IsConsumed() {
		return nil, NewPurchaseError(PurchaseErrorNotOwned, purchase.ProductID, ErrAlreadyConsumed)
	}
	return purchase, nil
}
