package shipments

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error)
	FindByAWB(ctx context.Context, awb string) (*models.Shipment, error)
	Claim(ctx context.Context, shipment *models.Shipment) (bool, error)
	Upsert(ctx context.Context, shipment *models.Shipment) (*models.Shipment, error)
	RecordFailure(ctx context.Context, orderID uuid.UUID, status enums.ShipmentStatus, reason string) (*models.Shipment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.ShipmentStatus, tracking json.RawMessage) (bool, error)
	SaveTracking(ctx context.Context, id uuid.UUID, tracking json.RawMessage) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ?", id).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return &order, nil
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	return r.find(ctx, "order_id = ?", orderID)
}

func (r *repository) FindByAWB(ctx context.Context, awb string) (*models.Shipment, error) {
	return r.find(ctx, "awb = ?", awb)
}

func (r *repository) find(ctx context.Context, query string, arg any) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.db.WithContext(ctx).Where(query, arg).First(&shipment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// Claim inserts the order's placeholder shipment. It reports false when the
// order already has a row, in which case nothing is written.
func (r *repository) Claim(ctx context.Context, shipment *models.Shipment) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoNothing: true,
		}).
		Create(shipment)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Upsert writes the one shipment row of an order. A forced re-create lands
// on the same row instead of adding a second one.
func (r *repository) Upsert(ctx context.Context, shipment *models.Shipment) (*models.Shipment, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "order_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"provider", "provider_order_id", "shipment_id", "awb", "courier_name",
				"status", "raw", "last_error", "updated_at",
			}),
		}).
		Create(shipment).Error
	if err != nil {
		return nil, err
	}
	return r.FindByOrderID(ctx, shipment.OrderID)
}

// RecordFailure stores a failed carrier call without touching the carrier
// references already on the row.
func (r *repository) RecordFailure(ctx context.Context, orderID uuid.UUID, status enums.ShipmentStatus, reason string) (*models.Shipment, error) {
	err := r.db.WithContext(ctx).
		Model(&models.Shipment{}).
		Where("order_id = ?", orderID).
		Updates(map[string]any{"status": status, "last_error": reason}).Error
	if err != nil {
		return nil, err
	}
	return r.FindByOrderID(ctx, orderID)
}

// UpdateStatus is a guarded write: it lands only while the stored status
// still equals from.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.ShipmentStatus, tracking json.RawMessage) (bool, error) {
	updates := map[string]any{"status": to}
	if len(tracking) > 0 {
		updates["tracking_payload"] = tracking
	}
	res := r.db.WithContext(ctx).
		Model(&models.Shipment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) SaveTracking(ctx context.Context, id uuid.UUID, tracking json.RawMessage) error {
	if len(tracking) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Shipment{}).
		Where("id = ?", id).
		Update("tracking_payload", tracking).Error
}
