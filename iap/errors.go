package iap

import (
	"errors"
	"fmt"
)

var (
	// ErrPurchase matches every *PurchaseError through errors.Is.
	ErrPurchase = errors.New("purchase failed")

	ErrNotConnected       = errors.New("billing client not connected")
	ErrVerificationFailed = errors.New("purchase verification failed")
	ErrFlowCancelled      = errors.New("purchase flow cancelled")
	ErrInvalidItemType    = errors.New("invalid item type")
)

type PurchaseErrorCode uint8

const (
	PurchaseErrorGeneral PurchaseErrorCode = iota
	PurchaseErrorUserCancelled
	PurchaseErrorServiceUnavailable
	PurchaseErrorBillingUnavailable
	PurchaseErrorItemUnavailable
	PurchaseErrorDeveloperError
	PurchaseErrorAlreadyOwned
	PurchaseErrorNotOwned
	PurchaseErrorInvalidSignature
	PurchaseErrorPaymentInvalid
	PurchaseErrorProductRequestFailed
)

func (c PurchaseErrorCode) String() string {
	switch c {
	case PurchaseErrorUserCancelled:
		return "user_cancelled"
	case PurchaseErrorServiceUnavailable:
		return "service_unavailable"
	case PurchaseErrorBillingUnavailable:
		return "billing_unavailable"
	case PurchaseErrorItemUnavailable:
		return "item_unavailable"
	case PurchaseErrorDeveloperError:
		return "developer_error"
	case PurchaseErrorAlreadyOwned:
		return "already_owned"
	case PurchaseErrorNotOwned:
		return "not_owned"
	case PurchaseErrorInvalidSignature:
		return "invalid_signature"
	case PurchaseErrorPaymentInvalid:
		return "payment_invalid"
	case PurchaseErrorProductRequestFailed:
		return "product_request_failed"
	default:
		return "general"
	}
}

// PurchaseError is returned by Purchase and ConsumePurchase whenever the
// platform flow fails.
type PurchaseError struct {
	Code      PurchaseErrorCode
	ProductID string
	Err       error
}

func NewPurchaseError(code PurchaseErrorCode, productID string, err error) *PurchaseError {
	return &PurchaseError{
		Code:      code,
		ProductID: productID,
		Err:       err,
	}
}

func (e *PurchaseError) Error() string {
	msg := fmt.Sprintf("purchase of %q failed: %s", e.ProductID, e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PurchaseError) Unwrap() error {
	return e.Err
}

func (e *PurchaseError) Is(target error) bool {
	return target == ErrPurchase
}

// PurchaseErrorCodeOf returns the code of the first *PurchaseError in err's
// chain.
func PurchaseErrorCodeOf(err error) (PurchaseErrorCode, bool) {
	var perr *PurchaseError
	if !errors.As(err, &perr) {
		return PurchaseErrorGeneral, false
	}
	return perr.Code, true
}

// AsPurchaseError wraps err into a *PurchaseError unless it already is one.
func AsPurchaseError(code PurchaseErrorCode, productID string, err error) error {
	var perr *PurchaseError
	if errors.As(err, &perr) {
		return err
	}
	if errors.Is(err, ErrFlowCancelled) {
		code = PurchaseErrorUserCancelled
	}
	return NewPurchaseError(code, productID, err)
}
