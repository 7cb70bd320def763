package postgres

import (
	"time"

	"github.com/code-payments/iap-billing/iap"
)

const purchaseTable = "billing_purchases"

const allColumns = `"token", "orderId", "productId", "itemType", "platform", "state", "consumptionState", "acknowledged", "autoRenewing", "payload", "receipt", "transactionDate", "createdAt", "updatedAt"`

type purchaseModel struct {
	Token            string    `db:"token"`
	OrderID          string    `db:"orderId"`
	ProductID        string    `db:"productId"`
	ItemType         int16     `db:"itemType"`
	Platform         int16     `db:"platform"`
	State            int16     `db:"state"`
	ConsumptionState int16     `db:"consumptionState"`
	Acknowledged     bool      `db:"acknowledged"`
	AutoRenewing     bool      `db:"autoRenewing"`
	Payload          string    `db:"payload"`
	Receipt          string    `db:"receipt"`
	TransactionDate  time.Time `db:"transactionDate"`
	CreatedAt        time.Time `db:"createdAt"`
	UpdatedAt        time.Time `db:"updatedAt"`
}

func toModel(p *iap.Purchase, now time.Time) *purchaseModel {
	return &purchaseModel{
		Token:            p.Token,
		OrderID:          p.ID,
		ProductID:        p.ProductID,
		ItemType:         int16(p.ItemType),
		Platform:         int16(p.Platform),
		State:            int16(p.State),
		ConsumptionState: int16(p.ConsumptionState),
		Acknowledged:     p.Acknowledged,
		AutoRenewing:     p.AutoRenewing,
		Payload:          p.Payload,
		Receipt:          p.Receipt,
		TransactionDate:  p.TransactionDate.UTC(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func fromModel(m *purchaseModel) *iap.Purchase {
	return &iap.Purchase{
		ID:               m.OrderID,
		ProductID:        m.ProductID,
		ItemType:         iap.ItemType(m.ItemType),
		Platform:         iap.Platform(m.Platform),
		Token:            m.Token,
		State:            iap.PurchaseState(m.State),
		ConsumptionState: iap.ConsumptionState(m.ConsumptionState),
		Acknowledged:     m.Acknowledged,
		AutoRenewing:     m.AutoRenewing,
		Payload:          m.Payload,
		Receipt:          m.Receipt,
		TransactionDate:  m.TransactionDate,
	}
}
