package enums

import (
	"fmt"

	"github.com/angelmondragon/pharmaflow-backend/pkg/transition"
)

// OrderStatus tracks the lifecycle of a retailer order.
type OrderStatus string

const (
	OrderStatusPlaced    OrderStatus = "PLACED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPlaced,
	OrderStatusCancelled,
	OrderStatusDelivered,
}

// OrderTransitions guards order status changes.
var OrderTransitions = transition.New[OrderStatus]("order").
	Allow(OrderStatusPlaced, OrderStatusCancelled, OrderStatusDelivered).
	RejectWith(OrderStatusCancelled, "only placed orders can be cancelled").
	RejectWith(OrderStatusDelivered, "only placed orders can be delivered")

func (s OrderStatus) String() string {
	return string(s)
}

func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
