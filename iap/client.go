package iap

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Client is the set of operations every platform adapter implements.
//
// Operations block until the platform answers. Nothing orders calls against
// each other; adapters reject work until Connect has succeeded.
type Client interface {
	// Connect establishes a session with the billing service. Failure is
	// reported as false, never as an error.
	Connect(ctx context.Context) bool

	// Disconnect tears the session down. Calling it more than once is safe.
	Disconnect(ctx context.Context)

	// GetProductInfo returns the products matching productIDs. Unknown ids
	// are skipped, so no match yields an empty slice.
	GetProductInfo(ctx context.Context, itemType ItemType, productIDs ...string) ([]*Product, error)

	// GetPurchases returns the unconsumed purchases of the given type.
	GetPurchases(ctx context.Context, itemType ItemType, opts ...CallOption) ([]*Purchase, error)

	// Purchase runs the purchase flow for a product. Failures are returned as
	// a *PurchaseError.
	Purchase(ctx context.Context, productID string, itemType ItemType, payload string, opts ...CallOption) (*Purchase, error)

	// ConsumePurchase consumes (or, for non-consumables and subscriptions,
	// acknowledges) a purchase. Failures are returned as a *PurchaseError.
	ConsumePurchase(ctx context.Context, req ConsumeRequest, opts ...CallOption) (*Purchase, error)
}

// ConsumeRequest selects the purchase to consume. It is either a
// ConsumeByToken or a ConsumeByPayload.
type ConsumeRequest interface {
	consumeProductID() string
}

// ConsumeByToken consumes the purchase holding Token.
type ConsumeByToken struct {
	ProductID string
	Token     string
}

func (r ConsumeByToken) consumeProductID() string { return r.ProductID }

// ConsumeByPayload consumes the unconsumed purchase of ProductID that was made
// with Payload.
type ConsumeByPayload struct {
	ProductID string
	ItemType  ItemType
	Payload   string
}

func (r ConsumeByPayload) consumeProductID() string { return r.ProductID }

// ConsumeProductID returns the product a consume request targets.
func ConsumeProductID(req ConsumeRequest) string {
	if req == nil {
		return ""
	}
	return req.consumeProductID()
}

// VerificationPolicy controls what GetPurchases does with purchases that fail
// verification.
type VerificationPolicy uint8

const (
	// PolicyDrop leaves unverified purchases out of the result.
	PolicyDrop VerificationPolicy = iota
	// PolicyFailFast fails the whole call with ErrVerificationFailed.
	PolicyFailFast
)

func (p VerificationPolicy) String() string {
	if p == PolicyFailFast {
		return "fail_fast"
	}
	return "drop"
}

func ParseVerificationPolicy(s string) (VerificationPolicy, bool) {
	switch s {
	case "", "drop":
		return PolicyDrop, true
	case "fail_fast":
		return PolicyFailFast, true
	default:
		return PolicyDrop, false
	}
}

type CallOptions struct {
	Verifier Verifier
	Policy   VerificationPolicy
}

type CallOption func(o *CallOptions)

func WithVerifier(v Verifier) CallOption {
	return func(o *CallOptions) {
		if v != nil {
			o.Verifier = v
		}
	}
}

func WithVerificationPolicy(p VerificationPolicy) CallOption {
	return func(o *CallOptions) {
		o.Policy = p
	}
}

// ApplyCallOptions resolves opts on top of the adapter's default policy.
func ApplyCallOptions(policy VerificationPolicy, opts ...CallOption) CallOptions {
	o := CallOptions{
		Verifier: NoVerification,
		Policy:   policy,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// FilterVerified runs the verifier over purchases and applies the policy.
func FilterVerified(ctx context.Context, log *zap.Logger, purchases []*Purchase, o CallOptions) ([]*Purchase, error) {
	verified := make([]*Purchase, 0, len(purchases))
	for _, purchase := range purchases {
		ok, err := o.Verifier.VerifyPurchase(ctx, purchase)
		if err != nil {
			log.Warn("Failed to verify purchase", zap.String("token", purchase.Token), zap.Error(err))
		}
		if err == nil && ok {
			verified = append(verified, purchase)
			continue
		}

		if o.Policy == PolicyFailFast {
			if err != nil {
				return nil, errors.Join(ErrVerificationFailed, err)
			}
			return nil, ErrVerificationFailed
		}

		log.Debug("Dropping unverified purchase",
			zap.String("product_id", purchase.ProductID),
			zap.String("token", purchase.Token),
		)
	}
	return verified, nil
}

// VerifyForPurchase checks a single purchase on the Purchase and
// ConsumePurchase paths, where an unverified purchase is always an error.
func VerifyForPurchase(ctx context.Context, purchase *Purchase, o CallOptions) error {
	ok, err := o.Verifier.VerifyPurchase(ctx, purchase)
	if err != nil {
		return NewPurchaseError(PurchaseErrorInvalidSignature, purchase.ProductID, errors.Join(ErrVerificationFailed, err))
	}
	if !ok {
		return NewPurchaseError(PurchaseErrorInvalidSignature, purchase.ProductID, ErrVerificationFailed)
	}
	return nil
}
