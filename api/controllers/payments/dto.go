package payments

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
)

type orderRequest struct {
	OrderID string `json:"orderId" validate:"required,uuid"`
}

type verifyRequest struct {
	ExternalOrderID   string `json:"externalOrderId" validate:"required,max=64"`
	ExternalPaymentID string `json:"externalPaymentId" validate:"required,max=64"`
	Signature         string `json:"signature" validate:"required,max=128"`
	InternalOrderID   string `json:"internalOrderId" validate:"required,uuid"`
}

type intentResponse struct {
	Token     string                    `json:"token"`
	OrderID   uuid.UUID                 `json:"orderId"`
	Amount    int64                     `json:"amount"`
	Currency  string                    `json:"currency"`
	Status    enums.PaymentIntentStatus `json:"status"`
	SettledAt *time.Time                `json:"settledAt,omitempty"`
	CreatedAt time.Time                 `json:"createdAt"`
}

func toIntentResponse(intent *models.PaymentIntent) intentResponse {
	return intentResponse{
		Token:     intent.Token,
		OrderID:   intent.OrderID,
		Amount:    intent.AmountMinor,
		Currency:  intent.Currency,
		Status:    intent.Status,
		SettledAt: intent.SettledAt,
		CreatedAt: intent.CreatedAt,
	}
}
