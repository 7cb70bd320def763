package tests

import (
	"context"
	"testing"

	"github.com/code-payments/iap-billing/iap"
)

type ValidPurchaseFunc func() *iap.Purchase

func RunGenericVerifierTests(t *testing.T, v iap.Verifier, validPurchaseFunc ValidPurchaseFunc, teardown func()) {
	for _, testFunc := range []func(t *testing.T, v iap.Verifier, validPurchaseFunc ValidPurchaseFunc){
		testValidPurchase,
		testInvalidPurchase,
	} {
		testFunc(t, v, validPurchaseFunc)
		teardown()
	}
}

func testValidPurchase(t *testing.T, v iap.Verifier, validPurchaseFunc ValidPurchaseFunc) {
	ctx := context.Background()

	valid, err := v.VerifyPurchase(ctx, validPurchaseFunc())
	if err != nil {
		t.Fatalf("unexpected error verifying valid purchase: %v", err)
	}
	if !valid {
		t.Errorf("expected purchase to be valid, got invalid")
	}
}

func testInvalidPurchase(t *testing.T, v iap.Verifier, validPurchaseFunc ValidPurchaseFunc) {
	ctx := context.Background()

	// Keep the product of a valid purchase but swap in a garbage receipt.
	purchase := validPurchaseFunc()
	purchase.Token = "invalid"
	purchase.Receipt = "invalid"

	valid, _ := v.VerifyPurchase(ctx, purchase)
	if valid {
		t.Errorf("expected purchase to be invalid, got valid")
	}
}
