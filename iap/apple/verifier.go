package apple

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/code-payments/iap-billing/iap"
)

// Verifier re-validates a purchase's receipt with the App Store.
type Verifier struct {
	validator Validator

	// BundleID is the app's bundle identifier, e.g. "com.example.app".
	bundleID     string
	sharedSecret string
}

func NewVerifier(validator Validator, bundleID, sharedSecret string) iap.Verifier {
	return &Verifier{
		validator:    validator,
		bundleID:     bundleID,
		sharedSecret: sharedSecret,
	}
}

func (v *Verifier) VerifyPurchase(ctx context.Context, purchase *iap.Purchase) (bool, error) {
	resp, err := validateReceipt(ctx, v.validator, purchase.Receipt, v.sharedSecret)
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		// The App Store rejected the receipt itself.
		return false, nil
	} else if err != nil {
		return false, err
	}

	// Verify the bundle ID.
	if resp.Receipt.BundleID != v.bundleID {
		return false, nil
	}

	// Verify that the receipt holds this transaction for the right product.
	tx, ok := findTransaction(resp, purchase.Token)
	if !ok || tx.ProductID != purchase.ProductID {
		return false, nil
	}

	return !isRevoked(tx, purchase.ItemType, time.Now()), nil
}
