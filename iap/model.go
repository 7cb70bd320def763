package iap

import (
	"time"

	"github.com/shopspring/decimal"
)

type ItemType uint8

const (
	ItemTypeUnknown ItemType = iota
	ItemTypeConsumable
	ItemTypeNonConsumable
	ItemTypeSubscription
)

func (t ItemType) String() string {
	switch t {
	case ItemTypeConsumable:
		return "consumable"
	case ItemTypeNonConsumable:
		return "non_consumable"
	case ItemTypeSubscription:
		return "subscription"
	default:
		return "unknown"
	}
}

// ParseItemType is the inverse of ItemType.String.
func ParseItemType(s string) (ItemType, bool) {
	for _, t := range []ItemType{ItemTypeConsumable, ItemTypeNonConsumable, ItemTypeSubscription} {
		if t.String() == s {
			return t, true
		}
	}
	return ItemTypeUnknown, false
}

type Platform uint8

const (
	PlatformUnknown Platform = iota
	PlatformMemory
	PlatformGoogle
	PlatformApple
)

func (p Platform) String() string {
	switch p {
	case PlatformMemory:
		return "memory"
	case PlatformGoogle:
		return "google"
	case PlatformApple:
		return "apple"
	default:
		return "unknown"
	}
}

type PurchaseState uint8

const (
	PurchaseStateUnknown PurchaseState = iota
	PurchaseStatePurchased
	PurchaseStatePending
	PurchaseStateCanceled
	PurchaseStateRefunded
	PurchaseStateRestored
	PurchaseStateFreeTrial
)

func (s PurchaseState) String() string {
	switch s {
	case PurchaseStatePurchased:
		return "purchased"
	case PurchaseStatePending:
		return "pending"
	case PurchaseStateCanceled:
		return "canceled"
	case PurchaseStateRefunded:
		return "refunded"
	case PurchaseStateRestored:
		return "restored"
	case PurchaseStateFreeTrial:
		return "free_trial"
	default:
		return "unknown"
	}
}

type ConsumptionState uint8

const (
	ConsumptionStateNotConsumed ConsumptionState = iota
	ConsumptionStateConsumed
)

// Product is a catalog entry for something that can be bought.
type Product struct {
	ID          string
	ItemType    ItemType
	Name        string
	Description string

	Price          decimal.Decimal
	CurrencyCode   string
	LocalizedPrice string
}

func (p *Product) Clone() *Product {
	cloned := *p
	return &cloned
}

// Purchase is a completed or pending transaction for a product. Token is what
// the platform expects back when the purchase is consumed or acknowledged.
type Purchase struct {
	ID        string
	ProductID string
	ItemType  ItemType
	Platform  Platform
	Token     string

	State            PurchaseState
	ConsumptionState ConsumptionState
	Acknowledged     bool
	AutoRenewing     bool

	// Payload is the developer payload supplied when the purchase was made.
	Payload string

	// Receipt is the raw platform receipt the purchase was decoded from.
	Receipt string

	TransactionDate time.Time
}

func (p *Purchase) Clone() *Purchase {
	cloned := *p
	return &cloned
}

func (p *Purchase) IsConsumed() bool {
	return p.ConsumptionState == ConsumptionStateConsumed
}
