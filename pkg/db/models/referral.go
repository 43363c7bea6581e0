package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Referral is a retailer's referral code and its attribution counter.
type Referral struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	RefCode          string    `gorm:"column:ref_code;uniqueIndex:ux_referrals_code;not null"`
	RetailerID       uuid.UUID `gorm:"column:retailer_id;type:uuid;uniqueIndex:ux_referrals_retailer;not null"`
	AttributedOrders int64     `gorm:"column:attributed_orders;not null;default:0"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *Referral) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}

// ReferralAttribution links one order to the referral that brought it in.
type ReferralAttribution struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ReferralID uuid.UUID `gorm:"column:referral_id;type:uuid;index:idx_referral_attributions_referral;not null"`
	OrderID    uuid.UUID `gorm:"column:order_id;type:uuid;uniqueIndex:ux_referral_attributions_order;not null"`
	CustomerID uuid.UUID `gorm:"column:customer_id;type:uuid;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (a *ReferralAttribution) BeforeCreate(*gorm.DB) error {
	assignID(&a.ID)
	return nil
}
