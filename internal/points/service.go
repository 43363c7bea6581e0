package points

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/pkg/db"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/pharmaflow-backend/pkg/pagination"
)

const (
	SourceManual     = "MANUAL"
	SourceRedemption = "REDEMPTION"
)

// rupeesPerPoint converts a captured order amount into loyalty points.
var rupeesPerPoint = decimal.NewFromInt(100)

// CaptureCredit describes a payment capture that may earn points.
type CaptureCredit struct {
	UserID    uuid.UUID
	OrderID   uuid.UUID
	NetAmount decimal.Decimal
	Gateway   enums.PaymentGateway
}

// AdjustInput is a manual earn or a redemption.
type AdjustInput struct {
	UserID uuid.UUID
	Points int64
	Source string
	Actor  *outbox.ActorRef
}

// HistoryPage is one page of ledger entries, newest first.
type HistoryPage struct {
	Entries    []models.PointsLedgerEntry `json:"entries"`
	NextCursor string                     `json:"next_cursor,omitempty"`
}

// Crediter is the slice of the ledger the payment flow depends on.
type Crediter interface {
	CreditOnCapture(ctx context.Context, tx *gorm.DB, credit CaptureCredit) (*models.PointsLedgerEntry, error)
}

type Service interface {
	Crediter
	Earn(ctx context.Context, input AdjustInput) (*models.PointsLedgerEntry, error)
	Redeem(ctx context.Context, input AdjustInput) (*models.PointsLedgerEntry, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	History(ctx context.Context, userID uuid.UUID, params pagination.Params) (*HistoryPage, error)
}

type service struct {
	repo   Repository
	uow    db.UnitOfWork
	outbox outbox.Emitter
	logg   *logger.Logger
	locks  userLocks
}

// userLocks serializes redemptions per user inside this process, including
// under the sequential unit of work where no database lock can be held.
type userLocks [64]sync.Mutex

func (l *userLocks) lock(userID uuid.UUID) func() {
	mu := &l[int(userID[15])%len(l)]
	mu.Lock()
	return mu.Unlock
}

func NewService(repo Repository, uow db.UnitOfWork, emitter outbox.Emitter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("points repository required")
	}
	if uow == nil {
		return nil, fmt.Errorf("unit of work required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: repo, uow: uow, outbox: emitter, logg: logg}, nil
}

// PointsFor returns floor(netAmount / 100).
func PointsFor(netAmount decimal.Decimal) int64 {
	if !netAmount.IsPositive() {
		return 0
	}
	return netAmount.Div(rupeesPerPoint).Floor().IntPart()
}

// CreditOnCapture appends the capture EARN entry for an order at most once.
// It runs on the caller's handle so the credit commits with the capture. A nil
// entry with a nil error means nothing was owed or it was already credited.
func (s *service) CreditOnCapture(ctx context.Context, tx *gorm.DB, credit CaptureCredit) (*models.PointsLedgerEntry, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "points credit requires a database handle")
	}
	earned := PointsFor(credit.NetAmount)
	if earned <= 0 {
		return nil, nil
	}

	repo := s.repo.WithTx(tx)
	source := credit.Gateway.CaptureSource()
	exists, err := repo.HasOrderCredit(ctx, credit.OrderID, source)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check capture credit")
	}
	if exists {
		return nil, nil
	}

	orderID := credit.OrderID
	metadata, _ := json.Marshal(map[string]string{"orderId": orderID.String()})
	entry := &models.PointsLedgerEntry{
		UserID:   credit.UserID,
		Type:     enums.PointsEarn,
		Points:   earned,
		Source:   source,
		OrderID:  &orderID,
		Metadata: metadata,
	}
	written, err := repo.Append(ctx, entry)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append capture credit")
	}
	if !written {
		return nil, nil
	}
	if err := s.emit(ctx, tx, entry, nil); err != nil {
		return nil, err
	}

	ctx = s.logg.WithOrderID(ctx, orderID.String())
	s.logg.Info(s.logg.WithField(ctx, "points", earned), "capture points credited")
	return entry, nil
}

func (s *service) Earn(ctx context.Context, input AdjustInput) (*models.PointsLedgerEntry, error) {
	if err := validateAdjust(input); err != nil {
		return nil, err
	}
	entry := &models.PointsLedgerEntry{
		UserID: input.UserID,
		Type:   enums.PointsEarn,
		Points: input.Points,
		Source: sourceOr(input.Source, SourceManual),
	}
	err := s.uow.Do(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.WithTx(tx).Append(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append earn entry")
		}
		return s.emit(ctx, tx, entry, input.Actor)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Redeem appends a REDEEM entry when the balance covers it. The balance read
// and the append run under a per-user lock so concurrent redemptions cannot
// overdraw the ledger.
func (s *service) Redeem(ctx context.Context, input AdjustInput) (*models.PointsLedgerEntry, error) {
	if err := validateAdjust(input); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(input.UserID)
	defer unlock()

	entry := &models.PointsLedgerEntry{
		UserID: input.UserID,
		Type:   enums.PointsRedeem,
		Points: input.Points,
		Source: sourceOr(input.Source, SourceRedemption),
	}
	err := s.uow.Do(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.LockUser(ctx, input.UserID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock points ledger")
		}
		balance, err := repo.Balance(ctx, input.UserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load points balance")
		}
		if input.Points > balance {
			return pkgerrors.New(pkgerrors.CodeInsufficientPoints, "insufficient points").
				WithDetails(map[string]any{"balance": balance, "requested": input.Points})
		}
		if _, err := repo.Append(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append redeem entry")
		}
		return s.emit(ctx, tx, entry, input.Actor)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	balance, err := s.repo.Balance(ctx, userID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load points balance")
	}
	return balance, nil
}

func (s *service) History(ctx context.Context, userID uuid.UUID, params pagination.Params) (*HistoryPage, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	after, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.History(ctx, userID, pagination.LimitWithBuffer(params.Limit), after)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load points history")
	}
	entries, next := pagination.Page(rows, params.Limit, func(e models.PointsLedgerEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
	if entries == nil {
		entries = []models.PointsLedgerEntry{}
	}
	return &HistoryPage{Entries: entries, NextCursor: next}, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, entry *models.PointsLedgerEntry, actor *outbox.ActorRef) error {
	eventType := enums.EventPointsEarned
	if entry.Type == enums.PointsRedeem {
		eventType = enums.EventPointsRedeemed
	}
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePoints,
		AggregateID:   entry.UserID,
		Actor:         actor,
		Data: payloads.PointsEvent{
			EntryID: entry.ID,
			UserID:  entry.UserID,
			Type:    entry.Type,
			Points:  entry.Points,
			Source:  entry.Source,
			OrderID: entry.OrderID,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit points event")
	}
	return nil
}

func validateAdjust(input AdjustInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.Points < 1 {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "points must be at least 1")
	}
	return nil
}

func sourceOr(source, fallback string) string {
	if trimmed := strings.ToUpper(strings.TrimSpace(source)); trimmed != "" {
		return trimmed
	}
	return fallback
}
