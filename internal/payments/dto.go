package payments

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	"github.com/angelmondragon/pharmaflow-backend/pkg/razorpay"
)

// Gateway is the payment gateway surface settlement depends on.
type Gateway interface {
	Configured() bool
	Currency() string
	CreateOrder(ctx context.Context, params razorpay.CreateOrderParams) (*razorpay.Order, error)
	VerifyPaymentSignature(externalOrderID, externalPaymentID, signature string) bool
	VerifyWebhookSignature(body []byte, signature string) bool
}

type CreateGatewayOrderInput struct {
	OrderID uuid.UUID
	UserID  uuid.UUID
}

type GatewayOrderResult struct {
	ExternalOrderID string `json:"externalOrderId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

type VerifyInput struct {
	ExternalOrderID   string
	ExternalPaymentID string
	Signature         string
	OrderID           uuid.UUID
	UserID            uuid.UUID
}

type VerifyResult struct {
	Verified        bool `json:"verified"`
	AlreadyCaptured bool `json:"alreadyCaptured,omitempty"`
}

// WebhookInput is one signed gateway delivery.
type WebhookInput struct {
	Body      []byte
	Signature string
	EventID   string
}

type CreateIntentInput struct {
	OrderID uuid.UUID
	UserID  uuid.UUID
}

// IntentWebhookInput is a bearer-authenticated intent settlement callback.
type IntentWebhookInput struct {
	Token   string
	Status  enums.PaymentIntentStatus
	EventID string
	Body    []byte
}

const (
	triggerVerify  = "verify"
	triggerWebhook = "webhook"
)

// gatewayEvent is the subset of the gateway webhook body read here.
type gatewayEvent struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity struct {
				ID               string `json:"id"`
				OrderID          string `json:"order_id"`
				Status           string `json:"status"`
				ErrorDescription string `json:"error_description"`
			} `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

func (e gatewayEvent) paymentID() string {
	if e.Payload.Payment == nil {
		return ""
	}
	return e.Payload.Payment.Entity.ID
}

func (e gatewayEvent) externalOrderID() string {
	if e.Payload.Payment != nil && e.Payload.Payment.Entity.OrderID != "" {
		return e.Payload.Payment.Entity.OrderID
	}
	if e.Payload.Order != nil {
		return e.Payload.Order.Entity.ID
	}
	return ""
}

func (e gatewayEvent) failureReason() string {
	if e.Payload.Payment == nil {
		return ""
	}
	return e.Payload.Payment.Entity.ErrorDescription
}
