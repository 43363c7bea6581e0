package points

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/pkg/db"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox"
	"github.com/angelmondragon/pharmaflow-backend/pkg/pagination"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t, &models.PointsLedgerEntry{}, &models.OutboxEvent{})
	svc, err := NewService(
		NewRepository(conn),
		db.NewTxUnitOfWork(db.NewFromConn(conn)),
		outbox.NewService(outbox.NewRepository(conn), nil),
		logger.Nop(),
	)
	require.NoError(t, err)
	return svc, conn
}

func TestPointsFor(t *testing.T) {
	cases := map[string]int64{"0": 0, "99.99": 0, "100": 1, "1234.56": 12, "-500": 0}
	for amount, want := range cases {
		assert.Equal(t, want, PointsFor(decimal.RequireFromString(amount)), amount)
	}
}

func TestCreditOnCaptureIsExactlyOnce(t *testing.T) {
	svc, conn := newTestService(t)
	credit := CaptureCredit{UserID: uuid.New(), OrderID: uuid.New(), NetAmount: decimal.RequireFromString("2599.00"), Gateway: enums.PaymentGatewayRazorpay}

	entry, err := svc.CreditOnCapture(context.Background(), conn, credit)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.EqualValues(t, 25, entry.Points)
	assert.Equal(t, "RAZORPAY_CAPTURE", entry.Source)
	assert.JSONEq(t, `{"orderId":"`+credit.OrderID.String()+`"}`, string(entry.Metadata))

	again, err := svc.CreditOnCapture(context.Background(), conn, credit)
	require.NoError(t, err)
	assert.Nil(t, again)

	balance, err := svc.Balance(context.Background(), credit.UserID)
	require.NoError(t, err)
	assert.EqualValues(t, 25, balance)
}

func TestCreditOnCaptureSkipsDuplicateInsertRace(t *testing.T) {
	svc, conn := newTestService(t)
	orderID := uuid.New()
	userID := uuid.New()

	// A credit that landed between the existence check and the insert.
	written, err := NewRepository(conn).Append(context.Background(), &models.PointsLedgerEntry{
		UserID: userID, Type: enums.PointsEarn, Points: 3, Source: "RAZORPAY_CAPTURE", OrderID: &orderID,
	})
	require.NoError(t, err)
	require.True(t, written)

	written, err = NewRepository(conn).Append(context.Background(), &models.PointsLedgerEntry{
		UserID: userID, Type: enums.PointsEarn, Points: 3, Source: "RAZORPAY_CAPTURE", OrderID: &orderID,
	})
	require.NoError(t, err)
	assert.False(t, written)

	entry, err := svc.CreditOnCapture(context.Background(), conn, CaptureCredit{UserID: userID, OrderID: orderID, NetAmount: decimal.NewFromInt(300), Gateway: enums.PaymentGatewayRazorpay})
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestCreditOnCaptureBelowOnePointIsNoop(t *testing.T) {
	svc, conn := newTestService(t)
	entry, err := svc.CreditOnCapture(context.Background(), conn, CaptureCredit{UserID: uuid.New(), OrderID: uuid.New(), NetAmount: decimal.RequireFromString("99.99"), Gateway: enums.PaymentGatewayIntent})
	require.NoError(t, err)
	assert.Nil(t, entry)

	var count int64
	require.NoError(t, conn.Model(&models.PointsLedgerEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRedeemBoundary(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.Earn(ctx, AdjustInput{UserID: userID, Points: 70})
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, AdjustInput{UserID: userID, Points: 71})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientPoints), "got %v", err)

	_, err = svc.Redeem(ctx, AdjustInput{UserID: userID, Points: 0})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidAmount), "got %v", err)

	entry, err := svc.Redeem(ctx, AdjustInput{UserID: userID, Points: 70})
	require.NoError(t, err)
	assert.Equal(t, enums.PointsRedeem, entry.Type)
	assert.Equal(t, SourceRedemption, entry.Source)

	balance, err := svc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

// pausingRepository widens the gap between the balance read and the append.
type pausingRepository struct {
	Repository
	pause time.Duration
}

func (r pausingRepository) WithTx(tx *gorm.DB) Repository {
	return pausingRepository{Repository: r.Repository.WithTx(tx), pause: r.pause}
}

func (r pausingRepository) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	balance, err := r.Repository.Balance(ctx, userID)
	time.Sleep(r.pause)
	return balance, err
}

func TestConcurrentRedeemsCannotOverdraw(t *testing.T) {
	conn := dbtest.Open(t, &models.PointsLedgerEntry{}, &models.OutboxEvent{})
	svc, err := NewService(
		pausingRepository{Repository: NewRepository(conn), pause: 30 * time.Millisecond},
		db.NewSequentialUnitOfWork(conn),
		outbox.NewService(outbox.NewRepository(conn), nil),
		logger.Nop(),
	)
	require.NoError(t, err)
	ctx := context.Background()
	userID := uuid.New()

	_, err = svc.Earn(ctx, AdjustInput{UserID: userID, Points: 70})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Redeem(ctx, AdjustInput{UserID: userID, Points: 70})
		}(i)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case pkgerrors.HasCode(err, pkgerrors.CodeInsufficientPoints):
			rejected++
		default:
			t.Fatalf("unexpected redeem error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	balance, err := svc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestEarnValidatesAndEmits(t *testing.T) {
	svc, conn := newTestService(t)
	_, err := svc.Earn(context.Background(), AdjustInput{UserID: uuid.New(), Points: 0})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidAmount))

	entry, err := svc.Earn(context.Background(), AdjustInput{UserID: uuid.New(), Points: 5, Source: " promo "})
	require.NoError(t, err)
	assert.Equal(t, "PROMO", entry.Source)

	var events []models.OutboxEvent
	require.NoError(t, conn.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventPointsEarned, events[0].EventType)
}

func TestHistoryPaginatesNewestFirst(t *testing.T) {
	svc, conn := newTestService(t)
	userID := uuid.New()
	base := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, conn.Create(&models.PointsLedgerEntry{
			UserID: userID, Type: enums.PointsEarn, Points: int64(i + 1), Source: SourceManual,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}).Error)
	}

	first, err := svc.History(context.Background(), userID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Entries, 2)
	assert.EqualValues(t, 3, first.Entries[0].Points)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.History(context.Background(), userID, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Entries, 1)
	assert.EqualValues(t, 1, second.Entries[0].Points)
	assert.Empty(t, second.NextCursor)
}
