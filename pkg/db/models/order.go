package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
)

// Order is a priced snapshot of a checkout. Line prices are never recomputed
// after placement.
type Order struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber   string            `gorm:"column:order_number;uniqueIndex:ux_orders_order_number;not null"`
	BuyerID       uuid.UUID         `gorm:"column:buyer_id;type:uuid;index:idx_orders_buyer;not null"`
	CustomerName  string            `gorm:"column:customer_name;not null"`
	CustomerPhone string            `gorm:"column:customer_phone;not null"`
	CustomerEmail *string           `gorm:"column:customer_email"`
	AddressLine   string            `gorm:"column:address_line;not null"`
	City          string            `gorm:"column:city;not null"`
	State         string            `gorm:"column:state;not null"`
	Pincode       string            `gorm:"column:pincode;not null"`
	Subtotal      decimal.Decimal   `gorm:"column:subtotal;type:numeric(12,2);not null"`
	TotalDiscount decimal.Decimal   `gorm:"column:total_discount;type:numeric(12,2);not null"`
	TotalGST      decimal.Decimal   `gorm:"column:total_gst;type:numeric(12,2);not null"`
	NetAmount     decimal.Decimal   `gorm:"column:net_amount;type:numeric(12,2);not null"`
	Status        enums.OrderStatus `gorm:"column:status;type:varchar(16);not null;default:'PLACED'"`
	RefCode       *string           `gorm:"column:ref_code"`
	Items         []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}

// OrderItem is one priced line of an order.
type OrderItem struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID       `gorm:"column:order_id;type:uuid;index:idx_order_items_order;not null"`
	ProductID   uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	ProductName string          `gorm:"column:product_name;not null"`
	Batch       *string         `gorm:"column:batch"`
	Quantity    int             `gorm:"column:quantity;not null"`
	Rate        decimal.Decimal `gorm:"column:rate;type:numeric(12,2);not null"`
	Discount    decimal.Decimal `gorm:"column:discount;type:numeric(12,2);not null"`
	GSTPercent  decimal.Decimal `gorm:"column:gst_percent;type:numeric(5,2);not null"`
	CGST        decimal.Decimal `gorm:"column:cgst;type:numeric(12,2);not null"`
	SGST        decimal.Decimal `gorm:"column:sgst;type:numeric(12,2);not null"`
	Amount      decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}
