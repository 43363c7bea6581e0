package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
)

// PaymentIntent is the tokenized payment path for gateways that call back
// with an opaque token instead of a signed order id.
type PaymentIntent struct {
	ID          uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	Token       string                    `gorm:"column:token;uniqueIndex:ux_payment_intents_token;not null"`
	OrderID     uuid.UUID                 `gorm:"column:order_id;type:uuid;index:idx_payment_intents_order;not null"`
	UserID      uuid.UUID                 `gorm:"column:user_id;type:uuid;not null"`
	AmountMinor int64                     `gorm:"column:amount_minor;not null"`
	Currency    string                    `gorm:"column:currency;type:varchar(3);not null"`
	Status      enums.PaymentIntentStatus `gorm:"column:status;type:varchar(16);not null;default:'PENDING'"`
	SettledAt   *time.Time                `gorm:"column:settled_at"`
	CreatedAt   time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PaymentIntent) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}
