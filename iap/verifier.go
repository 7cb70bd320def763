package iap

import "context"

// Verifier decides whether a purchase can be trusted.
type Verifier interface {

	// VerifyPurchase checks the purchase (usually its receipt) against the
	// platform or a signing key. An invalid purchase is reported as false; the
	// error is reserved for failures to reach a decision.
	VerifyPurchase(ctx context.Context, purchase *Purchase) (bool, error)
}

type VerifierFunc func(ctx context.Context, purchase *Purchase) (bool, error)

func (f VerifierFunc) VerifyPurchase(ctx context.Context, purchase *Purchase) (bool, error) {
	return f(ctx, purchase)
}

type noVerification struct{}

func (noVerification) VerifyPurchase(context.Context, *Purchase) (bool, error) {
	return true, nil
}

// NoVerification accepts every purchase. It is used when a call is made
// without WithVerifier.
var NoVerification Verifier = noVerification{}
