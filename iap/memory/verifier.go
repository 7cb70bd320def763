package memory

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/code-payments/iap-billing/iap"
)

const receiptSeparator = "|"

var errMalformedReceipt = errors.New("malformed memory receipt")

// Verifier checks the ed25519 signature the in-memory store puts on every
// receipt. A receipt is the base64 signature and the purchase token joined by
// receiptSeparator.
type Verifier struct {
	publicKey ed25519.PublicKey
}

func NewVerifier(pubKey ed25519.PublicKey) iap.Verifier {
	return &Verifier{publicKey: pubKey}
}

func (v *Verifier) VerifyPurchase(_ context.Context, purchase *iap.Purchase) (bool, error) {
	signature, token, err := openReceipt(purchase.Receipt)
	if err != nil || token != purchase.Token {
		return false, nil
	}
	return ed25519.Verify(v.publicKey, []byte(token), signature), nil
}

func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// SignReceipt issues the receipt for a purchase token.
func SignReceipt(key ed25519.PrivateKey, token string) string {
	signature := ed25519.Sign(key, []byte(token))
	return base64.StdEncoding.EncodeToString(signature) + receiptSeparator + token
}

func openReceipt(receipt string) ([]byte, string, error) {
	encoded, token, ok := strings.Cut(receipt, receiptSeparator)
	if !ok || token == "" || strings.Contains(token, receiptSeparator) {
		return nil, "", errMalformedReceipt
	}

	signature, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", errMalformedReceipt, err)
	}
	if len(signature) != ed25519.SignatureSize {
		return nil, "", errMalformedReceipt
	}
	return signature, token, nil
}
