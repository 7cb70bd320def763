package apple

import (
	"context"
	"strconv"
	"time"

	"github.com/awa/go-iap/appstore"
	"github.com/pkg/errors"

	"github.com/code-payments/iap-billing/iap"
)

var (
	ErrBundleMismatch      = errors.New("receipt is for another bundle")
	ErrTransactionNotFound = errors.New("no transaction for product in receipt")
	ErrTransactionRevoked  = errors.New("transaction was cancelled or has expired")
)

// Validator is the part of the App Store receipt validation API in use.
// *appstore.Client implements it.
type Validator interface {
	Verify(ctx context.Context, reqBody appstore.IAPRequest, result interface{}) error
}

// StatusError carries a non-zero verifyReceipt status.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string {
	return "receipt validation failed with status " + strconv.Itoa(e.Status) + ": " + e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func validateReceipt(ctx context.Context, v Validator, receipt, sharedSecret string) (*appstore.IAPResponse, error) {
	req := appstore.IAPRequest{
		ReceiptData: receipt,
		Password:    sharedSecret,
	}

	resp := &appstore.IAPResponse{}
	if err := v.Verify(ctx, req, resp); err != nil {
		return nil, errors.Wrap(err, "failed to call verifyReceipt")
	}

	if err := appstore.HandleError(resp.Status); err != nil {
		return nil, &StatusError{Status: resp.Status, Err: err}
	}
	return resp, nil
}

// latestTransaction picks the newest transaction for productID out of both the
// receipt and the latest renewal info.
func latestTransaction(resp *appstore.IAPResponse, productID string) (*appstore.InApp, bool) {
	var (
		latest     *appstore.InApp
		latestTime time.Time
	)

	candidates := make([]appstore.InApp, 0, len(resp.Receipt.InApp)+len(resp.LatestReceiptInfo))
	candidates = append(candidates, resp.Receipt.InApp...)
	candidates = append(candidates, resp.LatestReceiptInfo...)

	for i := range candidates {
		tx := &candidates[i]
		if tx.ProductID != productID {
			continue
		}
		at := parseMillis(tx.PurchaseDateMS)
		if latest == nil || at.After(latestTime) {
			latest, latestTime = tx, at
		}
	}
	return latest, latest != nil
}

func findTransaction(resp *appstore.IAPResponse, transactionID string) (*appstore.InApp, bool) {
	for _, txs := range [][]appstore.InApp{resp.Receipt.InApp, resp.LatestReceiptInfo} {
		for i := range txs {
			if txs[i].TransactionID == transactionID {
				return &txs[i], true
			}
		}
	}
	return nil, false
}

func isRevoked(tx *appstore.InApp, itemType iap.ItemType, now time.Time) bool {
	if tx.CancellationDateMS != "" {
		return true
	}
	if itemType == iap.ItemTypeSubscription && tx.ExpiresDateMS != "" {
		return parseMillis(tx.ExpiresDateMS).Before(now)
	}
	return false
}

func toPurchase(tx *appstore.InApp, itemType iap.ItemType, receipt string) *iap.Purchase {
	purchase := &iap.Purchase{
		ID:              tx.TransactionID,
		ProductID:       tx.ProductID,
		ItemType:        itemType,
		Platform:        iap.PlatformApple,
		Token:           tx.TransactionID,
		State:           iap.PurchaseStatePurchased,
		AutoRenewing:    itemType == iap.ItemTypeSubscription,
		Receipt:         receipt,
		TransactionDate: parseMillis(tx.PurchaseDateMS),
	}
	if tx.IsTrialPeriod == "true" {
		purchase.State = iap.PurchaseStateFreeTrial
	}
	return purchase
}

func parseMillis(ms string) time.Time {
	v, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
