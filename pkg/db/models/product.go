package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is a catalog entry with its live stock count. CurrentStock is only
// changed through conditional writes from the order engine.
type Product struct {
	ID           uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	SKU          string           `gorm:"column:sku;uniqueIndex:ux_products_sku;not null"`
	Name         string           `gorm:"column:name;not null"`
	Manufacturer *string          `gorm:"column:manufacturer"`
	HSNCode      *string          `gorm:"column:hsn_code"`
	CurrentStock int              `gorm:"column:current_stock;not null;default:0;check:chk_products_stock_non_negative,current_stock >= 0"`
	PTR          *decimal.Decimal `gorm:"column:ptr;type:numeric(12,2)"`
	MRP          decimal.Decimal  `gorm:"column:mrp;type:numeric(12,2);not null"`
	GSTPercent   decimal.Decimal  `gorm:"column:gst_percent;type:numeric(5,2);not null;default:0"`
	Version      int64            `gorm:"column:version;not null;default:0"`
	IsActive     bool             `gorm:"column:is_active;not null;default:true"`
	CreatedAt    time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}
