package payloads

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
)

// OrderPlacedEvent is emitted once an order and its stock decrements commit.
type OrderPlacedEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	BuyerID     uuid.UUID       `json:"buyer_id"`
	NetAmount   decimal.Decimal `json:"net_amount"`
	ItemCount   int             `json:"item_count"`
	RefCode     *string         `json:"ref_code,omitempty"`
}

// OrderStatusEvent covers cancellation and delivery.
type OrderStatusEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	From        enums.OrderStatus `json:"from"`
	To          enums.OrderStatus `json:"to"`
	Restocked   int               `json:"restocked_units,omitempty"`
}

// PaymentCapturedEvent is emitted the single time a payment becomes CAPTURED.
type PaymentCapturedEvent struct {
	PaymentID         uuid.UUID            `json:"payment_id"`
	OrderID           uuid.UUID            `json:"order_id"`
	Gateway           enums.PaymentGateway `json:"gateway"`
	ExternalOrderID   string               `json:"external_order_id"`
	ExternalPaymentID string               `json:"external_payment_id,omitempty"`
	AmountMinor       int64                `json:"amount_minor"`
	Currency          string               `json:"currency"`
	Trigger           string               `json:"trigger"`
}

// PaymentFailedEvent is emitted when the gateway reports a failed attempt.
type PaymentFailedEvent struct {
	PaymentID       uuid.UUID `json:"payment_id"`
	OrderID         uuid.UUID `json:"order_id"`
	ExternalOrderID string    `json:"external_order_id"`
	Reason          string    `json:"reason,omitempty"`
}

// PointsEvent is emitted for every loyalty ledger append.
type PointsEvent struct {
	EntryID uuid.UUID             `json:"entry_id"`
	UserID  uuid.UUID             `json:"user_id"`
	Type    enums.PointsEntryType `json:"type"`
	Points  int64                 `json:"points"`
	Source  string                `json:"source"`
	OrderID *uuid.UUID            `json:"order_id,omitempty"`
}

// ShipmentEvent covers shipment creation and normalized status changes.
type ShipmentEvent struct {
	ShipmentID uuid.UUID              `json:"shipment_id"`
	OrderID    uuid.UUID              `json:"order_id"`
	Provider   enums.ShippingProvider `json:"provider"`
	AWB        *string                `json:"awb,omitempty"`
	From       enums.ShipmentStatus   `json:"from,omitempty"`
	Status     enums.ShipmentStatus   `json:"status"`
}

// ReferralAttributedEvent is emitted once per attributed order.
type ReferralAttributedEvent struct {
	ReferralID       uuid.UUID `json:"referral_id"`
	RefCode          string    `json:"ref_code"`
	RetailerID       uuid.UUID `json:"retailer_id"`
	OrderID          uuid.UUID `json:"order_id"`
	CustomerID       uuid.UUID `json:"customer_id"`
	AttributedOrders int64     `json:"attributed_orders"`
}
