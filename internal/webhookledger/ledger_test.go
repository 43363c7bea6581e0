package webhookledger

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
)

func TestDeriveEventIDPrecedence(t *testing.T) {
	payload := []byte(`{"a":1}`)

	require.Equal(t, "RAZORPAY_evt_1", DeriveEventID(enums.WebhookProviderRazorpay, "evt_1", "order_1", payload))
	require.Equal(t, "RAZORPAY_order_1", DeriveEventID(enums.WebhookProviderRazorpay, " ", "order_1", payload))

	hashed := DeriveEventID(enums.WebhookProviderShiprocket, "", "", payload)
	require.True(t, strings.HasPrefix(hashed, "SHIPROCKET_"))
	require.Len(t, strings.TrimPrefix(hashed, "SHIPROCKET_"), 64)
	require.Equal(t, hashed, DeriveEventID(enums.WebhookProviderShiprocket, "", "", payload))
}

func TestDeriveEventIDHashesLongIdentifiers(t *testing.T) {
	long := strings.Repeat("a", maxIDLength+1)
	id := DeriveEventID(enums.WebhookProviderDelhivery, long, "", nil)
	require.Equal(t, "DELHIVERY_"+hashHex([]byte(long)), id)

	exact := strings.Repeat("b", maxIDLength)
	require.Equal(t, "DELHIVERY_"+exact, DeriveEventID(enums.WebhookProviderDelhivery, exact, "", nil))
}

func TestRecordGatesDuplicates(t *testing.T) {
	db := dbtest.Open(t, &models.WebhookEvent{})
	l := New()
	ctx := context.Background()
	entry := Entry{Provider: enums.WebhookProviderRazorpay, EventID: "RAZORPAY_evt_1", EventType: "payment.captured", Payload: []byte(`{"x":1}`)}

	first, err := l.Record(ctx, db, entry)
	require.NoError(t, err)
	require.Equal(t, Result{Processed: true}, first)

	second, err := l.Record(ctx, db, entry)
	require.NoError(t, err)
	require.Equal(t, Result{Processed: true, Existing: true}, second)

	// Same id under another provider is a different delivery.
	entry.Provider = enums.WebhookProviderIntent
	third, err := l.Record(ctx, db, entry)
	require.NoError(t, err)
	require.False(t, third.Existing)

	var count int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&count).Error)
	require.EqualValues(t, 2, count)
}

func TestRecordRollsBackWithTransaction(t *testing.T) {
	db := dbtest.Open(t, &models.WebhookEvent{})
	l := New()
	entry := Entry{Provider: enums.WebhookProviderShiprocket, EventID: "SHIPROCKET_awb:DELIVERED", Payload: []byte("not json")}

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := l.Record(context.Background(), tx, entry); err != nil {
			return err
		}
		return gorm.ErrInvalidData
	})
	require.ErrorIs(t, err, gorm.ErrInvalidData)

	res, err := l.Record(context.Background(), db, entry)
	require.NoError(t, err)
	require.False(t, res.Existing, "a rolled back delivery must be retryable")
}

func TestRecordValidatesInput(t *testing.T) {
	db := dbtest.Open(t, &models.WebhookEvent{})
	_, err := New().Record(context.Background(), db, Entry{Provider: "PAYPAL", EventID: "x"})
	require.Error(t, err)
	_, err = New().Record(context.Background(), db, Entry{Provider: enums.WebhookProviderIntent})
	require.Error(t, err)
}
