package enums

import (
	"fmt"

	"github.com/angelmondragon/pharmaflow-backend/pkg/transition"
)

// PaymentStatus tracks the lifecycle of a gateway payment.
type PaymentStatus string

const (
	PaymentStatusCreated    PaymentStatus = "CREATED"
	PaymentStatusAuthorized PaymentStatus = "AUTHORIZED"
	PaymentStatusCaptured   PaymentStatus = "CAPTURED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusCreated,
	PaymentStatusAuthorized,
	PaymentStatusCaptured,
	PaymentStatusFailed,
	PaymentStatusRefunded,
}

// PaymentTransitions guards payment status changes. CAPTURED only moves on to
// REFUNDED, which keeps the captured amount frozen. A FAILED attempt can still
// be followed by a successful capture on the same gateway order.
var PaymentTransitions = transition.New[PaymentStatus]("payment").
	Allow(PaymentStatusCreated, PaymentStatusAuthorized, PaymentStatusCaptured, PaymentStatusFailed).
	Allow(PaymentStatusAuthorized, PaymentStatusCaptured, PaymentStatusFailed).
	Allow(PaymentStatusFailed, PaymentStatusCreated, PaymentStatusCaptured).
	Allow(PaymentStatusCaptured, PaymentStatusRefunded)

func (p PaymentStatus) String() string {
	return string(p)
}

func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// Open reports whether a gateway order for this payment can still be paid.
func (p PaymentStatus) Open() bool {
	return p == PaymentStatusCreated || p == PaymentStatusAuthorized
}

func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
