package enums

import "fmt"

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder    OutboxAggregateType = "order"
	AggregatePayment  OutboxAggregateType = "payment"
	AggregatePoints   OutboxAggregateType = "points"
	AggregateShipment OutboxAggregateType = "shipment"
	AggregateReferral OutboxAggregateType = "referral"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayment,
	AggregatePoints,
	AggregateShipment,
	AggregateReferral,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType is the routing key of a published domain event.
type OutboxEventType string

const (
	EventOrderPlaced           OutboxEventType = "order.placed"
	EventOrderCancelled        OutboxEventType = "order.cancelled"
	EventOrderDelivered        OutboxEventType = "order.delivered"
	EventPaymentCaptured       OutboxEventType = "payment.captured"
	EventPaymentFailed         OutboxEventType = "payment.failed"
	EventPointsEarned          OutboxEventType = "points.earned"
	EventPointsRedeemed        OutboxEventType = "points.redeemed"
	EventShipmentCreated       OutboxEventType = "shipment.created"
	EventShipmentStatusChanged OutboxEventType = "shipment.status_changed"
	EventReferralAttributed    OutboxEventType = "referral.attributed"
)

var validEventTypes = []OutboxEventType{
	EventOrderPlaced,
	EventOrderCancelled,
	EventOrderDelivered,
	EventPaymentCaptured,
	EventPaymentFailed,
	EventPointsEarned,
	EventPointsRedeemed,
	EventShipmentCreated,
	EventShipmentStatusChanged,
	EventReferralAttributed,
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
