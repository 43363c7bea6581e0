package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
)

// Payment is the gateway side of an order. Amount, currency and the external
// ids are frozen once the payment is CAPTURED.
type Payment struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID            `gorm:"column:order_id;type:uuid;uniqueIndex:ux_payments_order;not null"`
	UserID            uuid.UUID            `gorm:"column:user_id;type:uuid;not null"`
	Gateway           enums.PaymentGateway `gorm:"column:gateway;type:varchar(32);not null"`
	ExternalOrderID   string               `gorm:"column:external_order_id;uniqueIndex:ux_payments_external_order;not null"`
	ExternalPaymentID *string              `gorm:"column:external_payment_id"`
	Signature         *string              `gorm:"column:signature"`
	AmountMinor       int64                `gorm:"column:amount_minor;not null"`
	Currency          string               `gorm:"column:currency;type:varchar(3);not null"`
	Status            enums.PaymentStatus  `gorm:"column:status;type:varchar(16);not null;default:'CREATED'"`
	FailureReason     *string              `gorm:"column:failure_reason"`
	CapturedAt        *time.Time           `gorm:"column:captured_at"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}
