package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
)

// Repository persists payments and tokenized intents. Finders return nil, nil
// when nothing matches, except FindOrder which maps a miss to NOT_FOUND.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	FindByExternalOrderID(ctx context.Context, externalOrderID string) (*models.Payment, error)
	Create(ctx context.Context, payment *models.Payment) error
	Reopen(ctx context.Context, id uuid.UUID, externalOrderID string, amountMinor int64, currency string) (bool, error)
	MarkCaptured(ctx context.Context, id uuid.UUID, from enums.PaymentStatus, externalPaymentID, signature *string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, from enums.PaymentStatus, reason *string) (bool, error)

	CreateIntent(ctx context.Context, intent *models.PaymentIntent) error
	FindIntentByToken(ctx context.Context, token string) (*models.PaymentIntent, error)
	FindPendingIntent(ctx context.Context, orderID uuid.UUID) (*models.PaymentIntent, error)
	SettleIntent(ctx context.Context, id uuid.UUID, from, to enums.PaymentIntentStatus, at time.Time) (bool, error)
	ExpirePendingIntents(ctx context.Context, createdBefore, at time.Time) (int64, error)
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
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return &order, nil
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	return r.findPayment(ctx, "order_id = ?", orderID)
}

func (r *repository) FindByExternalOrderID(ctx context.Context, externalOrderID string) (*models.Payment, error) {
	return r.findPayment(ctx, "external_order_id = ?", externalOrderID)
}

func (r *repository) findPayment(ctx context.Context, query string, arg any) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where(query, arg).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

// Reopen points a FAILED payment at a fresh gateway order.
func (r *repository) Reopen(ctx context.Context, id uuid.UUID, externalOrderID string, amountMinor int64, currency string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, enums.PaymentStatusFailed).
		Updates(map[string]any{
			"external_order_id":   externalOrderID,
			"external_payment_id": nil,
			"signature":           nil,
			"amount_minor":        amountMinor,
			"currency":            currency,
			"status":              enums.PaymentStatusCreated,
			"failure_reason":      nil,
		})
	return res.RowsAffected == 1, res.Error
}

// MarkCaptured is the guarded capture write: it only lands while the stored
// status still equals from.
func (r *repository) MarkCaptured(ctx context.Context, id uuid.UUID, from enums.PaymentStatus, externalPaymentID, signature *string, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":      enums.PaymentStatusCaptured,
		"captured_at": at,
	}
	if externalPaymentID != nil {
		updates["external_payment_id"] = *externalPaymentID
	}
	if signature != nil {
		updates["signature"] = *signature
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, from enums.PaymentStatus, reason *string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":         enums.PaymentStatusFailed,
			"failure_reason": reason,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) CreateIntent(ctx context.Context, intent *models.PaymentIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *repository) FindIntentByToken(ctx context.Context, token string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) FindPendingIntent(ctx context.Context, orderID uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.PaymentIntentPending).
		Order("created_at DESC").
		First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) SettleIntent(ctx context.Context, id uuid.UUID, from, to enums.PaymentIntentStatus, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "settled_at": at})
	return res.RowsAffected == 1, res.Error
}

// ExpirePendingIntents fails intents nobody settled before the cutoff.
func (r *repository) ExpirePendingIntents(ctx context.Context, createdBefore, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("status = ? AND created_at < ?", enums.PaymentIntentPending, createdBefore).
		Updates(map[string]any{"status": enums.PaymentIntentFailed, "settled_at": at})
	return res.RowsAffected, res.Error
}
