package points

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	"github.com/angelmondragon/pharmaflow-backend/pkg/pagination"
)

// Repository persists the append-only loyalty ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Append(ctx context.Context, entry *models.PointsLedgerEntry) (bool, error)
	HasOrderCredit(ctx context.Context, orderID uuid.UUID, source string) (bool, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	LockUser(ctx context.Context, userID uuid.UUID) error
	History(ctx context.Context, userID uuid.UUID, limit int, after *pagination.Cursor) ([]models.PointsLedgerEntry, error)
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

// Append inserts the entry. Order-linked EARN rows skip silently when the
// (order_id, source) credit already exists; the bool reports whether a row
// was written.
func (r *repository) Append(ctx context.Context, entry *models.PointsLedgerEntry) (bool, error) {
	q := r.db.WithContext(ctx)
	if entry.Type == enums.PointsEarn && entry.OrderID != nil {
		q = q.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "order_id"}, {Name: "source"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "type = 'EARN' AND order_id IS NOT NULL"},
			}},
			DoNothing: true,
		})
	}
	res := q.Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) HasOrderCredit(ctx context.Context, orderID uuid.UUID, source string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PointsLedgerEntry{}).
		Where("type = ? AND order_id = ? AND source = ?", enums.PointsEarn, orderID, source).
		Count(&count).Error
	return count > 0, err
}

// Balance is the signed sum of the user's entries.
func (r *repository) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := r.db.WithContext(ctx).
		Model(&models.PointsLedgerEntry{}).
		Select("COALESCE(SUM(CASE WHEN type = ? THEN points ELSE -points END), 0)", enums.PointsEarn).
		Where("user_id = ?", userID).
		Scan(&balance).Error
	return balance, err
}

// LockUser serializes balance-checked writes for one user until the
// surrounding transaction ends. Only postgres has advisory locks; sqlite
// already serializes writers on its database lock.
func (r *repository) LockUser(ctx context.Context, userID uuid.UUID) error {
	if r.db.Dialector.Name() != "postgres" {
		return nil
	}
	return r.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", userID.String()).Error
}

func (r *repository) History(ctx context.Context, userID uuid.UUID, limit int, after *pagination.Cursor) ([]models.PointsLedgerEntry, error) {
	q := pagination.Keyset(r.db.WithContext(ctx).Where("user_id = ?", userID), after).Limit(limit)
	var entries []models.PointsLedgerEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
