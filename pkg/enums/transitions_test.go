package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
)

func TestOrderTransitions(t *testing.T) {
	out, err := OrderTransitions.Apply(OrderStatusPlaced, OrderStatusCancelled)
	require.NoError(t, err)
	assert.True(t, out.Changed())

	out, err = OrderTransitions.Apply(OrderStatusCancelled, OrderStatusCancelled)
	require.NoError(t, err)
	assert.True(t, out.Noop)

	_, err = OrderTransitions.Apply(OrderStatusDelivered, OrderStatusCancelled)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition))
	assert.Equal(t, "only placed orders can be cancelled", pkgerrors.As(err).Message())

	_, err = OrderTransitions.Apply(OrderStatusCancelled, OrderStatusPlaced)
	require.Error(t, err)
}

func TestPaymentTransitionsFreezeCapture(t *testing.T) {
	assert.True(t, PaymentTransitions.Can(PaymentStatusCreated, PaymentStatusCaptured))
	assert.True(t, PaymentTransitions.Can(PaymentStatusAuthorized, PaymentStatusCaptured))
	assert.False(t, PaymentTransitions.Can(PaymentStatusCaptured, PaymentStatusFailed))
	assert.False(t, PaymentTransitions.Can(PaymentStatusCaptured, PaymentStatusCreated))
	assert.True(t, PaymentTransitions.Can(PaymentStatusCaptured, PaymentStatusRefunded))
	assert.True(t, PaymentTransitions.Can(PaymentStatusFailed, PaymentStatusCaptured))
}

func TestPaymentIntentTransitions(t *testing.T) {
	assert.True(t, PaymentIntentTransitions.Can(PaymentIntentPending, PaymentIntentSuccess))
	assert.False(t, PaymentIntentTransitions.Can(PaymentIntentSuccess, PaymentIntentFailed))
}

func TestShipmentTransitionsForwardOnly(t *testing.T) {
	cases := []struct {
		from, to ShipmentStatus
		allowed  bool
	}{
		{ShipmentStatusCreated, ShipmentStatusAWBAssigned, true},
		{ShipmentStatusCreated, ShipmentStatusInTransit, true},
		{ShipmentStatusInTransit, ShipmentStatusPicked, false},
		{ShipmentStatusInTransit, ShipmentStatusDelivered, true},
		{ShipmentStatusAWBAssigned, ShipmentStatusCancelled, true},
		{ShipmentStatusInTransit, ShipmentStatusCancelled, false},
		{ShipmentStatusInTransit, ShipmentStatusRTO, true},
		{ShipmentStatusCreated, ShipmentStatusRTO, false},
		{ShipmentStatusDelivered, ShipmentStatusInTransit, false},
		{ShipmentStatusCancelled, ShipmentStatusCreated, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, ShipmentTransitions.Can(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestNormalizeShipmentStatus(t *testing.T) {
	cases := map[string]ShipmentStatus{
		"In Transit":       ShipmentStatusInTransit,
		"DELIVERED":        ShipmentStatusDelivered,
		"Undelivered":      ShipmentStatusFailed,
		"RTO Initiated":    ShipmentStatusRTO,
		"Pickup Scheduled": ShipmentStatusReadyToPick,
		"Picked Up":        ShipmentStatusPicked,
		"AWB Assigned":     ShipmentStatusAWBAssigned,
		"Canceled":         ShipmentStatusCancelled,
		"out-for-delivery": ShipmentStatusInTransit,
		"NEW":              ShipmentStatusCreated,
		"":                 "",
		"something else":   "",
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeShipmentStatus(raw), raw)
	}
}

func TestParseShippingProviderIsCaseInsensitive(t *testing.T) {
	p, err := ParseShippingProvider(" Delhivery ")
	require.NoError(t, err)
	assert.Equal(t, ShippingProviderDelhivery, p)
	assert.Equal(t, WebhookProviderDelhivery, p.Webhook())

	_, err = ParseShippingProvider("fedex")
	require.Error(t, err)
}

func TestCaptureSource(t *testing.T) {
	assert.Equal(t, "RAZORPAY_CAPTURE", PaymentGatewayRazorpay.CaptureSource())
}
