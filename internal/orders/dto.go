package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
)

// CreateOrderInput is a checkout request. Optional per-line overrides replace
// the values derived from the product.
type CreateOrderInput struct {
	BuyerID       uuid.UUID
	BuyerRole     enums.UserRole
	CustomerName  string
	CustomerPhone string
	CustomerEmail *string
	AddressLine   string
	City          string
	State         string
	Pincode       string
	RefCode       *string
	Items         []ItemInput
}

// ItemInput is one requested line.
type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
	Batch     *string
	Rate      *decimal.Decimal
	Discount  *decimal.Decimal
	CGST      *decimal.Decimal
	SGST      *decimal.Decimal
	Amount    *decimal.Decimal
}

// UpdateStatusInput requests a status change on an order.
type UpdateStatusInput struct {
	OrderID     uuid.UUID
	Status      enums.OrderStatus
	ActorUserID uuid.UUID
	ActorRole   enums.UserRole
}

// DecrementedItem records stock already taken when a non-atomic run fails.
type DecrementedItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}
