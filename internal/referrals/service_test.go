package referrals

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"github.com/google/uuid"
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
)

func newTestService(t *testing.T, codes CodeGenerator) (Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t, &models.Referral{}, &models.ReferralAttribution{}, &models.OutboxEvent{})
	svc, err := NewService(
		NewRepository(conn),
		db.NewTxUnitOfWork(db.NewFromConn(conn)),
		outbox.NewService(outbox.NewRepository(conn), nil),
		logger.Nop(),
		codes,
	)
	require.NoError(t, err)
	return svc, conn
}

func TestRandomCodeShape(t *testing.T) {
	pattern := regexp.MustCompile(`^REF-[A-HJ-NP-Z2-9]{6}$`)
	for i := 0; i < 50; i++ {
		code, err := RandomCode()
		require.NoError(t, err)
		assert.Regexp(t, pattern, code)
	}
}

func TestCreateIsIdempotentPerRetailer(t *testing.T) {
	svc, _ := newTestService(t, nil)
	retailer := uuid.New()

	first, err := svc.Create(context.Background(), retailer)
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), retailer)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.RefCode, second.RefCode)

	_, err = svc.Create(context.Background(), uuid.Nil)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestCreateRetriesCodeCollision(t *testing.T) {
	var mu sync.Mutex
	codes := []string{"REF-AAAAAA", "REF-AAAAAA", "REF-BBBBBB"}
	svc, _ := newTestService(t, func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[0]
		codes = codes[1:]
		return code, nil
	})

	first, err := svc.Create(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "REF-AAAAAA", first.RefCode)

	second, err := svc.Create(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "REF-BBBBBB", second.RefCode)
}

func TestAttributeOncePerOrder(t *testing.T) {
	svc, conn := newTestService(t, nil)
	referral, err := svc.Create(context.Background(), uuid.New())
	require.NoError(t, err)
	orderID := uuid.New()
	customer := uuid.New()

	first, err := svc.Attribute(context.Background(), AttributeInput{RefCode: " " + referral.RefCode + " ", OrderID: orderID, CustomerID: customer})
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.False(t, first.Existing)
	assert.EqualValues(t, 1, first.Referral.AttributedOrders)

	again, err := svc.Attribute(context.Background(), AttributeInput{RefCode: referral.RefCode, OrderID: orderID, CustomerID: customer})
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.True(t, again.Existing)

	var stored models.Referral
	require.NoError(t, conn.First(&stored, "id = ?", referral.ID).Error)
	assert.EqualValues(t, 1, stored.AttributedOrders)

	var attributions, events int64
	require.NoError(t, conn.Model(&models.ReferralAttribution{}).Count(&attributions).Error)
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventReferralAttributed).Count(&events).Error)
	assert.EqualValues(t, 1, attributions)
	assert.EqualValues(t, 1, events)
}

func TestAttributeCountsDistinctOrders(t *testing.T) {
	svc, _ := newTestService(t, nil)
	referral, err := svc.Create(context.Background(), uuid.New())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.Attribute(context.Background(), AttributeInput{RefCode: referral.RefCode, OrderID: uuid.New(), CustomerID: uuid.New()})
		require.NoError(t, err)
	}
	result, err := svc.Attribute(context.Background(), AttributeInput{RefCode: referral.RefCode, OrderID: uuid.New(), CustomerID: uuid.New()})
	require.NoError(t, err)
	assert.EqualValues(t, 4, result.Referral.AttributedOrders)
}

func TestAttributeUnknownCodeIsNeutral(t *testing.T) {
	svc, conn := newTestService(t, nil)

	result, err := svc.Attribute(context.Background(), AttributeInput{RefCode: "REF-NOPE00", OrderID: uuid.New(), CustomerID: uuid.New()})
	require.NoError(t, err)
	assert.Nil(t, result)

	var n int64
	require.NoError(t, conn.Model(&models.ReferralAttribution{}).Count(&n).Error)
	assert.Zero(t, n)

	require.NoError(t, svc.AttributeOrder(context.Background(), "ref-nope00", uuid.New(), uuid.New()))
}

func TestAttributeValidation(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.Attribute(context.Background(), AttributeInput{OrderID: uuid.New(), CustomerID: uuid.New()})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = svc.Attribute(context.Background(), AttributeInput{RefCode: "REF-AAAAAA"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
