package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
)

// Shipment is the single carrier shipment of an order.
type Shipment struct {
	ID              uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID              `gorm:"column:order_id;type:uuid;uniqueIndex:ux_shipments_order;not null"`
	Provider        enums.ShippingProvider `gorm:"column:provider;type:varchar(32);not null"`
	ProviderOrderID *string                `gorm:"column:provider_order_id"`
	ShipmentID      *string                `gorm:"column:shipment_id"`
	AWB             *string                `gorm:"column:awb;index:idx_shipments_awb"`
	CourierName     *string                `gorm:"column:courier_name"`
	Status          enums.ShipmentStatus   `gorm:"column:status;type:varchar(16);not null;default:'CREATED'"`
	Raw             json.RawMessage        `gorm:"column:raw;type:jsonb"`
	TrackingPayload json.RawMessage        `gorm:"column:tracking_payload;type:jsonb"`
	LastError       *string                `gorm:"column:last_error"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Shipment) BeforeCreate(*gorm.DB) error {
	assignID(&s.ID)
	return nil
}
