package enums

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/pharmaflow-backend/pkg/transition"
)

// ShipmentStatus is the normalized carrier status of a shipment.
type ShipmentStatus string

const (
	ShipmentStatusCreated     ShipmentStatus = "CREATED"
	ShipmentStatusAWBAssigned ShipmentStatus = "AWB_ASSIGNED"
	ShipmentStatusReadyToPick ShipmentStatus = "READY_TO_PICK"
	ShipmentStatusPicked      ShipmentStatus = "PICKED"
	ShipmentStatusInTransit   ShipmentStatus = "IN_TRANSIT"
	ShipmentStatusDelivered   ShipmentStatus = "DELIVERED"
	ShipmentStatusRTO         ShipmentStatus = "RTO"
	ShipmentStatusCancelled   ShipmentStatus = "CANCELLED"
	ShipmentStatusFailed      ShipmentStatus = "FAILED"
)

// shipmentProgression lists the forward path in order.
var shipmentProgression = []ShipmentStatus{
	ShipmentStatusCreated,
	ShipmentStatusAWBAssigned,
	ShipmentStatusReadyToPick,
	ShipmentStatusPicked,
	ShipmentStatusInTransit,
	ShipmentStatusDelivered,
}

var validShipmentStatuses = append(append([]ShipmentStatus{}, shipmentProgression...),
	ShipmentStatusRTO,
	ShipmentStatusCancelled,
	ShipmentStatusFailed,
)

// ShipmentTransitions only moves shipments forward. Cancellation is allowed
// until pickup, RTO only after it. DELIVERED, RTO, CANCELLED and FAILED are
// terminal.
var ShipmentTransitions = buildShipmentTransitions()

func buildShipmentTransitions() *transition.Machine[ShipmentStatus] {
	m := transition.New[ShipmentStatus]("shipment")
	picked := ShipmentStatusPicked.rank()
	for i, from := range shipmentProgression[:len(shipmentProgression)-1] {
		m.Allow(from, shipmentProgression[i+1:]...)
		m.Allow(from, ShipmentStatusFailed)
		if i < picked {
			m.Allow(from, ShipmentStatusCancelled)
		} else {
			m.Allow(from, ShipmentStatusRTO)
		}
	}
	return m
}

// rank is the position on the forward path, or -1 for terminal side states.
func (s ShipmentStatus) rank() int {
	for i, candidate := range shipmentProgression {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Terminal reports whether no further carrier updates can change the status.
func (s ShipmentStatus) Terminal() bool {
	switch s {
	case ShipmentStatusDelivered, ShipmentStatusRTO, ShipmentStatusCancelled, ShipmentStatusFailed:
		return true
	}
	return false
}

func (s ShipmentStatus) String() string {
	return string(s)
}

func (s ShipmentStatus) IsValid() bool {
	for _, candidate := range validShipmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseShipmentStatus(value string) (ShipmentStatus, error) {
	for _, candidate := range validShipmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shipment status %q", value)
}

// NormalizeShipmentStatus maps free-form carrier status text onto the
// normalized set. Unknown text yields "" so callers keep what they have.
func NormalizeShipmentStatus(raw string) ShipmentStatus {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	switch {
	case s == "":
		return ""
	case strings.Contains(s, "RTO"), strings.Contains(s, "RETURN"):
		return ShipmentStatusRTO
	case strings.Contains(s, "CANCEL"):
		return ShipmentStatusCancelled
	case strings.Contains(s, "UNDELIVERED"), strings.Contains(s, "FAIL"), strings.Contains(s, "LOST"):
		return ShipmentStatusFailed
	case strings.Contains(s, "DELIVERED"):
		return ShipmentStatusDelivered
	case strings.Contains(s, "TRANSIT"), strings.Contains(s, "OUT FOR DELIVERY"), strings.Contains(s, "DISPATCHED"), strings.Contains(s, "SHIPPED"):
		return ShipmentStatusInTransit
	case strings.Contains(s, "PICKED"):
		return ShipmentStatusPicked
	case strings.Contains(s, "PICKUP"), strings.Contains(s, "MANIFEST"), strings.Contains(s, "READY"):
		return ShipmentStatusReadyToPick
	case strings.Contains(s, "AWB"):
		return ShipmentStatusAWBAssigned
	case s == "NEW", strings.Contains(s, "CREATED"), strings.Contains(s, "PENDING"):
		return ShipmentStatusCreated
	}
	return ""
}
