package enums

import (
	"fmt"

	"github.com/angelmondragon/pharmaflow-backend/pkg/transition"
)

// PaymentIntentStatus tracks a tokenized payment intent.
type PaymentIntentStatus string

const (
	PaymentIntentPending PaymentIntentStatus = "PENDING"
	PaymentIntentSuccess PaymentIntentStatus = "SUCCESS"
	PaymentIntentFailed  PaymentIntentStatus = "FAILED"
)

var validPaymentIntentStatuses = []PaymentIntentStatus{
	PaymentIntentPending,
	PaymentIntentSuccess,
	PaymentIntentFailed,
}

// PaymentIntentTransitions only lets a pending intent settle once.
var PaymentIntentTransitions = transition.New[PaymentIntentStatus]("payment intent").
	Allow(PaymentIntentPending, PaymentIntentSuccess, PaymentIntentFailed)

func (s PaymentIntentStatus) String() string {
	return string(s)
}

func (s PaymentIntentStatus) IsValid() bool {
	for _, candidate := range validPaymentIntentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParsePaymentIntentStatus(value string) (PaymentIntentStatus, error) {
	for _, candidate := range validPaymentIntentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment intent status %q", value)
}
