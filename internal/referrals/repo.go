package referrals

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByCode(ctx context.Context, code string) (*models.Referral, error)
	FindByRetailer(ctx context.Context, retailerID uuid.UUID) (*models.Referral, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Referral, error)
	// Create reports false when another row already holds the code or the
	// retailer.
	Create(ctx context.Context, referral *models.Referral) (bool, error)
	// CreateAttribution reports false when the order is already attributed.
	CreateAttribution(ctx context.Context, attribution *models.ReferralAttribution) (bool, error)
	IncrementAttributed(ctx context.Context, referralID uuid.UUID) error
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

func (r *repository) FindByCode(ctx context.Context, code string) (*models.Referral, error) {
	return r.find(ctx, "ref_code = ?", code)
}

func (r *repository) FindByRetailer(ctx context.Context, retailerID uuid.UUID) (*models.Referral, error) {
	return r.find(ctx, "retailer_id = ?", retailerID)
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Referral, error) {
	return r.find(ctx, "id = ?", id)
}

func (r *repository) find(ctx context.Context, query string, arg any) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).Where(query, arg).First(&referral).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &referral, nil
}

func (r *repository) Create(ctx context.Context, referral *models.Referral) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(referral)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) CreateAttribution(ctx context.Context, attribution *models.ReferralAttribution) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(attribution)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) IncrementAttributed(ctx context.Context, referralID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Referral{}).
		Where("id = ?", referralID).
		Update("attributed_orders", gorm.Expr("attributed_orders + 1")).Error
}
