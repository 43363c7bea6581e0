package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
)

// PointsLedgerEntry is an append-only loyalty ledger row. The partial unique
// index makes a capture credit land at most once per order and source.
type PointsLedgerEntry struct {
	ID        uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	UserID    uuid.UUID             `gorm:"column:user_id;type:uuid;index:idx_points_user;not null"`
	Type      enums.PointsEntryType `gorm:"column:type;type:varchar(8);not null"`
	Points    int64                 `gorm:"column:points;not null;check:chk_points_positive,points > 0"`
	Source    string                `gorm:"column:source;uniqueIndex:ux_points_earn_order_source,priority:2,where:type = 'EARN' AND order_id IS NOT NULL;not null"`
	OrderID   *uuid.UUID            `gorm:"column:order_id;type:uuid;uniqueIndex:ux_points_earn_order_source,priority:1"`
	Metadata  json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (e *PointsLedgerEntry) BeforeCreate(*gorm.DB) error {
	assignID(&e.ID)
	return nil
}
