package shipments

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
)

// ShippingProvider is the carrier contract. Orchestration in this package
// depends only on it, so adding a carrier never touches the service.
type ShippingProvider interface {
	Name() enums.ShippingProvider
	CreateOrderFromInternal(ctx context.Context, order OrderView) (*Result, error)
	AssignShipment(ctx context.Context, shipmentID string) (*Result, error)
	Track(ctx context.Context, req TrackRequest) (*Result, error)
	Cancel(ctx context.Context, req CancelRequest) (*Result, error)
}

// WebhookSource is implemented by carriers that push tracking updates.
type WebhookSource interface {
	VerifyWebhookToken(token string) bool
	ParseWebhook(body []byte) (*WebhookUpdate, error)
}

// Result is the uniform carrier response. Empty fields mean the carrier did
// not report them.
type Result struct {
	ProviderOrderID string
	ShipmentID      string
	AWB             string
	CourierName     string
	Status          enums.ShipmentStatus
	Raw             json.RawMessage
}

// OrderView is the carrier-neutral projection of an order.
type OrderView struct {
	OrderID       uuid.UUID
	OrderNumber   string
	PlacedAt      time.Time
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	AddressLine   string
	City          string
	State         string
	Pincode       string
	NetAmount     decimal.Decimal
	Items         []ItemView
}

type ItemView struct {
	ProductID uuid.UUID
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	Amount    decimal.Decimal
}

// TrackRequest carries every identifier known for a shipment; carriers use
// the most specific one they support.
type TrackRequest struct {
	AWB             string
	ShipmentID      string
	ProviderOrderID string
}

type CancelRequest = TrackRequest

// WebhookUpdate is a parsed carrier tracking callback.
type WebhookUpdate struct {
	EventID   string
	AWB       string
	RawStatus string
	Status    enums.ShipmentStatus
}

// NewOrderView projects an order with its items.
func NewOrderView(order *models.Order) OrderView {
	view := OrderView{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		PlacedAt:      order.CreatedAt,
		CustomerName:  order.CustomerName,
		CustomerPhone: order.CustomerPhone,
		AddressLine:   order.AddressLine,
		City:          order.City,
		State:         order.State,
		Pincode:       order.Pincode,
		NetAmount:     order.NetAmount,
	}
	if order.CustomerEmail != nil {
		view.CustomerEmail = *order.CustomerEmail
	}
	for _, item := range order.Items {
		unit := item.Amount
		if item.Quantity > 0 {
			unit = item.Amount.Div(decimal.NewFromInt(int64(item.Quantity))).Round(2)
		}
		view.Items = append(view.Items, ItemView{
			ProductID: item.ProductID,
			Name:      item.ProductName,
			Quantity:  item.Quantity,
			UnitPrice: unit,
			Amount:    item.Amount,
		})
	}
	return view
}

// identifier picks AWB, then shipment id, then provider order id.
func (r TrackRequest) identifier() string {
	switch {
	case r.AWB != "":
		return r.AWB
	case r.ShipmentID != "":
		return r.ShipmentID
	default:
		return r.ProviderOrderID
	}
}

func trackRequestFor(shipment *models.Shipment) TrackRequest {
	return TrackRequest{
		AWB:             deref(shipment.AWB),
		ShipmentID:      deref(shipment.ShipmentID),
		ProviderOrderID: deref(shipment.ProviderOrderID),
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
