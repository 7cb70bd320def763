package android

import (
	"context"
	"net/http"
	"time"

	"github.com/code-payments/iap-billing/iap"
)

// Verifier uses the Google Play Developer API to check that a purchase token
// is real and still in the purchased state.
type Verifier struct {
	publisher Publisher

	// PackageName is the Android app's package name.
	packageName string
}

func NewVerifier(publisher Publisher, pkgName string) iap.Verifier {
	return &Verifier{
		publisher:   publisher,
		packageName: pkgName,
	}
}

// NewVerifierFromCredentials dials its own Publisher from a service account
// JSON file.
func NewVerifierFromCredentials(ctx context.Context, serviceAccountJSON []byte, pkgName string) (iap.Verifier, error) {
	publisher, err := NewPublisher(ctx, serviceAccountJSON)
	if err != nil {
		return nil, err
	}
	return NewVerifier(publisher, pkgName), nil
}

func (v *Verifier) VerifyPurchase(ctx context.Context, purchase *iap.Purchase) (bool, error) {
	if purchase.ItemType == iap.ItemTypeSubscription {
		sp, err := v.publisher.GetSubscriptionPurchase(ctx, v.packageName, purchase.ProductID, purchase.Token)
		if isNotFound(err) || statusCode(err) == http.StatusBadRequest {
			return false, nil
		} else if err != nil {
			return false, err
		}

		// An expired subscription no longer grants anything.
		return time.UnixMilli(sp.ExpiryTimeMillis).After(time.Now()), nil
	}

	pp, err := v.publisher.GetProductPurchase(ctx, v.packageName, purchase.ProductID, purchase.Token)
	if isNotFound(err) || statusCode(err) == http.StatusBadRequest {
		// Unknown or malformed purchase token.
		return false, nil
	} else if err != nil {
		return false, err
	}

	// 0 = purchased; canceled and pending purchases are not trusted.
	return pp.PurchaseState == purchaseStatePurchased, nil
}
