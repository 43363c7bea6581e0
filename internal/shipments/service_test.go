package shipments

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/internal/webhookledger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox"
)

type stubProvider struct {
	mu        sync.Mutex
	name      enums.ShippingProvider
	creates   int
	assigns   int
	delay     time.Duration
	createErr error
	assignErr error
	create    Result
	assign    Result
	track     Result
	lastTrack TrackRequest
	lastView  OrderView
}

func (p *stubProvider) Name() enums.ShippingProvider { return p.name }

func (p *stubProvider) CreateOrderFromInternal(_ context.Context, order OrderView) (*Result, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates++
	p.lastView = order
	if p.createErr != nil {
		return nil, p.createErr
	}
	result := p.create
	return &result, nil
}

func (p *stubProvider) AssignShipment(_ context.Context, shipmentID string) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assigns++
	if p.assignErr != nil {
		return nil, p.assignErr
	}
	result := p.assign
	result.ShipmentID = shipmentID
	return &result, nil
}

func (p *stubProvider) Track(_ context.Context, req TrackRequest) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastTrack = req
	result := p.track
	return &result, nil
}

func (p *stubProvider) Cancel(_ context.Context, req CancelRequest) (*Result, error) {
	return &Result{AWB: req.AWB, Status: enums.ShipmentStatusCancelled}, nil
}

func (p *stubProvider) VerifyWebhookToken(token string) bool { return token == "hook-secret" }

func (p *stubProvider) ParseWebhook(body []byte) (*WebhookUpdate, error) {
	var payload struct {
		AWB    string `json:"awb"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return &WebhookUpdate{AWB: payload.AWB, RawStatus: payload.Status, Status: enums.NormalizeShipmentStatus(payload.Status)}, nil
}

type harness struct {
	conn     *gorm.DB
	svc      Service
	provider *stubProvider
}

func newHarness(t *testing.T) harness {
	t.Helper()
	conn := dbtest.Open(t, &models.Order{}, &models.OrderItem{}, &models.Shipment{}, &models.WebhookEvent{}, &models.OutboxEvent{})
	provider := &stubProvider{
		name:   enums.ShippingProviderShiprocket,
		create: Result{ProviderOrderID: "1001", ShipmentID: "2002", Status: enums.ShipmentStatusCreated},
		assign: Result{AWB: "AWB123", CourierName: "Bluedart", Status: enums.ShipmentStatusAWBAssigned},
	}
	svc, err := NewService(ServiceParams{
		Repo:       NewRepository(conn),
		UnitOfWork: db.NewTxUnitOfWork(db.NewFromConn(conn)),
		Providers:  []ShippingProvider{provider},
		Ledger:     webhookledger.New(),
		Outbox:     outbox.NewService(outbox.NewRepository(conn), nil),
		Logger:     logger.Nop(),
	})
	require.NoError(t, err)
	return harness{conn: conn, svc: svc, provider: provider}
}

func (h harness) seedOrder(t *testing.T) models.Order {
	t.Helper()
	email := "asha@example.com"
	order := models.Order{
		OrderNumber:   "ORD-20260903-" + uuid.NewString()[:6],
		BuyerID:       uuid.New(),
		CustomerName:  "Asha",
		CustomerPhone: "9800000000",
		CustomerEmail: &email,
		AddressLine:   "12 MG Road",
		City:          "Pune",
		State:         "MH",
		Pincode:       "411001",
		NetAmount:     decimal.RequireFromString("420.00"),
		Status:        enums.OrderStatusPlaced,
		Items: []models.OrderItem{{
			ProductID:   uuid.New(),
			ProductName: "Paracetamol 500",
			Quantity:    4,
			Amount:      decimal.RequireFromString("420.00"),
		}},
	}
	require.NoError(t, h.conn.Create(&order).Error)
	return order
}

func (h harness) shipmentCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(&models.Shipment{}).Count(&n).Error)
	return n
}

func TestCreateAssignsAwbWhenMissing(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t)

	shipment, err := h.svc.Create(context.Background(), CreateInput{OrderID: order.ID})
	require.NoError(t, err)
	assert.Equal(t, enums.ShipmentStatusAWBAssigned, shipment.Status)
	require.NotNil(t, shipment.AWB)
	assert.Equal(t, "AWB123", *shipment.AWB)
	assert.Equal(t, "Bluedart", *shipment.CourierName)
	assert.Equal(t, 1, h.provider.assigns)

	require.Len(t, h.provider.lastView.Items, 1)
	assert.Equal(t, "105", h.provider.lastView.Items[0].UnitPrice.String())
	assert.Equal(t, "asha@example.com", h.provider.lastView.CustomerEmail)
}

func TestCreateWithoutForceIsIdempotent(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t)

	first, err := h.svc.Create(context.Background(), CreateInput{OrderID: order.ID})
	require.NoError(t, err)
	second, err := h.svc.Create(context.Background(), CreateInput{OrderID: order.ID})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.AWB, second.AWB)
	assert.Equal(t, 1, h.provider.creates)
	assert.EqualValues(t, 1, h.shipmentCount(t))
}

func TestForcedCreateUpsertsSameRow(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t)

	first, err := h.svc.Create(context.Background(), CreateInput{OrderID: order.ID})
	require.NoError(t, err)

	h.provider.create = Result{ProviderOrderID: "1002", ShipmentID: "2003", AWB: "AWB999", CourierName: "Delhivery"}
	second, err := h.svc.Create(context.Background(), CreateInput{OrderID: order.ID, Force: true})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "AWB999", *second.AWB)
	assert.Equal(t, 2, h.provider.creates)
	assert.EqualValues(t, 1, h.shipmentCount(t))
}

func TestForcedCreateFailureKeepsCarrierReferences(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t)

	first, err := h.svc.Create(context.Background(), CreateInput{OrderID: order.ID})
	require.NoError(t, err)
	require.Equal(t, enums.ShipmentStatusAWBAssigned, first.Status)

	h.provider.createErr = errors.New("carrier timeout")
	second, err := h.svc.Create(context.Background(), CreateInput{OrderID: order.ID, Force: true})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, enums.ShipmentStatusAWBAssigned, second.Status)
	require.NotNil(t, second.AWB)
	assert.Equal(t, "AWB123", *second.AWB)
	require.NotNil(t, second.ProviderOrderID)
	assert.Equal(t, "1001", *second.ProviderOrderID)
	require.NotNil(t, second.LastError)
	assert.Contains(t, *second.LastError, "carrier timeout")

	// tracking callbacks still find the live shipment
	_, err = h.svc.HandleWebhook(context.Background(), WebhookInput{
		Provider: enums.ShippingProviderShiprocket,
		Token:    "hook-secret",
		Body:     []byte(`{"awb":"AWB123","status":"In Transit"}`),
	})
	require.NoError(t, err)
	var stored models.Shipment
	require.NoError(t, h.conn.First(&stored, "id = ?", first.ID).Error)
	assert.Equal(t, enums.ShipmentStatusInTransit, stored.Status)
}

func TestConcurrentCreatesCallCarrierOnce(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t)
	h.provider.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Create(context.Background(), CreateInput{OrderID: order.ID})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, h.provider.creates)
	assert.EqualValues(t, 1, h.shipmentCount(t))

	var stored models.Shipment
	require.NoError(t, h.conn.First(&stored, "order_id = ?", order.ID).Error)
	require.NotNil(t, stored.AWB)
	assert.Equal(t, "AWB123", *stored.AWB)
}

func TestCreateProviderFailurePersistsFailedShipment(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t)
	h.provider.createErr = errors.New("carrier unreachable")

	shipment, err := h.svc.Create(context.Background(), CreateInput{OrderID: order.ID})
	require.NoError(t, err)
	assert.Equal(t, enums.ShipmentStatusFailed, shipment.Status)
	require.NotNil(t, shipment.LastError)
	assert.Contains(t, *shipment.LastError, "carrier unreachable")

	h.provider.createErr = nil
	h.provider.create = Result{ProviderOrderID: "1003", AWB: "AWB555"}
	retried, err := h.svc.Create(context.Background(), CreateInput{OrderID: order.ID, Force: true})
	require.NoError(t, err)
	assert.Equal(t, shipment.ID, retried.ID)
	assert.Equal(t, enums.ShipmentStatusAWBAssigned, retried.Status)
	assert.Nil(t, retried.LastError)
}

func TestCreateAssignFailureIsNonFatal(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t)
	h.provider.assignErr = errors.New("no courier")

	shipment, err := h.svc.Create(context.Background(), CreateInput{OrderID: order.ID})
	require.NoError(t, err)
	assert.Equal(t, enums.ShipmentStatusCreated, shipment.Status)
	assert.Nil(t, shipment.AWB)
	require.NotNil(t, shipment.ProviderOrderID)
	assert.Equal(t, "1001", *shipment.ProviderOrderID)
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Create(context.Background(), CreateInput{})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.Create(context.Background(), CreateInput{OrderID: uuid.New()})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	order := h.seedOrder(t)
	_, err = h.svc.Create(context.Background(), CreateInput{OrderID: order.ID, Provider: enums.ShippingProviderDelhivery})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestTrackMovesForwardOnly(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t)
	_, err := h.svc.Create(context.Background(), CreateInput{OrderID: order.ID})
	require.NoError(t, err)

	h.provider.track = Result{Status: enums.ShipmentStatusInTransit, Raw: json.RawMessage(`{"step":"transit"}`)}
	shipment, err := h.svc.Track(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ShipmentStatusInTransit, shipment.Status)
	assert.Equal(t, "AWB123", h.provider.lastTrack.AWB)

	h.provider.track = Result{Status: enums.ShipmentStatusPicked, Raw: json.RawMessage(`{"step":"stale"}`)}
	shipment, err = h.svc.Track(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ShipmentStatusInTransit, shipment.Status)
	assert.JSONEq(t, `{"step":"stale"}`, string(shipment.TrackingPayload))

	_, err = h.svc.Track(context.Background(), uuid.New())
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestCancelIsIdempotentAndGuarded(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t)
	_, err := h.svc.Create(context.Background(), CreateInput{OrderID: order.ID})
	require.NoError(t, err)

	cancelled, err := h.svc.Cancel(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ShipmentStatusCancelled, cancelled.Status)

	again, err := h.svc.Cancel(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ShipmentStatusCancelled, again.Status)

	other := h.seedOrder(t)
	_, err = h.svc.Create(context.Background(), CreateInput{OrderID: other.ID})
	require.NoError(t, err)
	h.provider.track = Result{Status: enums.ShipmentStatusInTransit}
	_, err = h.svc.Track(context.Background(), other.ID)
	require.NoError(t, err)
	_, err = h.svc.Cancel(context.Background(), other.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition))
}

func TestCarrierWebhookDedupAndAuth(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t)
	_, err := h.svc.Create(context.Background(), CreateInput{OrderID: order.ID})
	require.NoError(t, err)

	body := []byte(`{"awb":"AWB123","status":"Out for delivery"}`)
	_, err = h.svc.HandleWebhook(context.Background(), WebhookInput{Provider: enums.ShippingProviderShiprocket, Token: "wrong", Body: body})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))

	input := WebhookInput{Provider: enums.ShippingProviderShiprocket, Token: "hook-secret", Body: body}
	first, err := h.svc.HandleWebhook(context.Background(), input)
	require.NoError(t, err)
	assert.False(t, first.Existing)

	second, err := h.svc.HandleWebhook(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, second.Existing)

	var shipment models.Shipment
	require.NoError(t, h.conn.First(&shipment, "order_id = ?", order.ID).Error)
	assert.Equal(t, enums.ShipmentStatusInTransit, shipment.Status)

	var events int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventShipmentStatusChanged).Count(&events).Error)
	assert.EqualValues(t, 1, events)

	unknown, err := h.svc.HandleWebhook(context.Background(), WebhookInput{
		Provider: enums.ShippingProviderShiprocket, Token: "hook-secret", Body: []byte(`{"awb":"NOPE","status":"Delivered"}`),
	})
	require.NoError(t, err)
	assert.True(t, unknown.Processed)
}
