package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/internal/orders"
	"github.com/angelmondragon/pharmaflow-backend/internal/payments"
	"github.com/angelmondragon/pharmaflow-backend/internal/points"
	"github.com/angelmondragon/pharmaflow-backend/internal/referrals"
	"github.com/angelmondragon/pharmaflow-backend/internal/shipments"
	"github.com/angelmondragon/pharmaflow-backend/internal/webhookledger"
	pkgAuth "github.com/angelmondragon/pharmaflow-backend/pkg/auth"
	"github.com/angelmondragon/pharmaflow-backend/pkg/config"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/pagination"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type stubOrders struct {
	created orders.CreateOrderInput
	calls   int
}

func (s *stubOrders) Create(_ context.Context, input orders.CreateOrderInput) (*models.Order, error) {
	s.created = input
	s.calls++
	return &models.Order{
		ID:           uuid.New(),
		OrderNumber:  "ORD-20261015-0001",
		BuyerID:      input.BuyerID,
		CustomerName: input.CustomerName,
		NetAmount:    decimal.RequireFromString("112.00"),
		Status:       enums.OrderStatusPlaced,
	}, nil
}

func (s *stubOrders) UpdateStatus(_ context.Context, input orders.UpdateStatusInput) (*models.Order, error) {
	return &models.Order{ID: input.OrderID, Status: input.Status}, nil
}

func (s *stubOrders) Get(_ context.Context, orderID, _ uuid.UUID, _ enums.UserRole) (*models.Order, error) {
	return &models.Order{ID: orderID, Status: enums.OrderStatusPlaced}, nil
}

type stubPayments struct {
	webhook       payments.WebhookInput
	intentWebhook payments.IntentWebhookInput
}

func (s *stubPayments) CreateGatewayOrder(context.Context, payments.CreateGatewayOrderInput) (*payments.GatewayOrderResult, error) {
	return &payments.GatewayOrderResult{}, nil
}

func (s *stubPayments) VerifyPayment(context.Context, payments.VerifyInput) (*payments.VerifyResult, error) {
	return &payments.VerifyResult{}, nil
}

func (s *stubPayments) HandleWebhook(_ context.Context, input payments.WebhookInput) (webhookledger.Result, error) {
	s.webhook = input
	if input.Signature != "good" {
		return webhookledger.Result{}, pkgerrors.New(pkgerrors.CodeInvalidSignature, "signature mismatch")
	}
	return webhookledger.Result{Processed: true}, nil
}

func (s *stubPayments) CreateIntent(context.Context, payments.CreateIntentInput) (*models.PaymentIntent, error) {
	return &models.PaymentIntent{}, nil
}

func (s *stubPayments) GetIntent(context.Context, string, uuid.UUID, enums.UserRole) (*models.PaymentIntent, error) {
	return &models.PaymentIntent{}, nil
}

func (s *stubPayments) HandleIntentWebhook(_ context.Context, input payments.IntentWebhookInput) (webhookledger.Result, error) {
	s.intentWebhook = input
	return webhookledger.Result{Processed: true}, nil
}

type stubPoints struct{}

func (stubPoints) CreditOnCapture(context.Context, *gorm.DB, points.CaptureCredit) (*models.PointsLedgerEntry, error) {
	return nil, nil
}

func (stubPoints) Earn(_ context.Context, input points.AdjustInput) (*models.PointsLedgerEntry, error) {
	return &models.PointsLedgerEntry{UserID: input.UserID, Points: input.Points}, nil
}

func (stubPoints) Redeem(_ context.Context, input points.AdjustInput) (*models.PointsLedgerEntry, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInsufficientPoints, "insufficient points")
}

func (stubPoints) Balance(context.Context, uuid.UUID) (int64, error) {
	return 42, nil
}

func (stubPoints) History(context.Context, uuid.UUID, pagination.Params) (*points.HistoryPage, error) {
	return &points.HistoryPage{}, nil
}

type stubShipments struct {
	webhook shipments.WebhookInput
}

func (s *stubShipments) Create(_ context.Context, input shipments.CreateInput) (*models.Shipment, error) {
	return &models.Shipment{OrderID: input.OrderID, Provider: input.Provider}, nil
}

func (s *stubShipments) Track(_ context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	return &models.Shipment{OrderID: orderID}, nil
}

func (s *stubShipments) Cancel(_ context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	return &models.Shipment{OrderID: orderID}, nil
}

func (s *stubShipments) HandleWebhook(_ context.Context, input shipments.WebhookInput) (webhookledger.Result, error) {
	s.webhook = input
	return webhookledger.Result{Processed: true}, nil
}

type stubReferrals struct{}

func (stubReferrals) Create(_ context.Context, retailerID uuid.UUID) (*models.Referral, error) {
	return &models.Referral{ID: uuid.New(), RefCode: "REF-ABCDEF", RetailerID: retailerID}, nil
}

func (stubReferrals) Attribute(context.Context, referrals.AttributeInput) (*referrals.AttributeResult, error) {
	return nil, nil
}

func (stubReferrals) AttributeOrder(context.Context, string, uuid.UUID, uuid.UUID) error {
	return nil
}

// memoryCache satisfies Cache without a redis server.
type memoryCache struct {
	values map[string]string
}

func (m *memoryCache) Ping(context.Context) error { return nil }

func (m *memoryCache) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.values[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryCache) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	switch v := value.(type) {
	case string:
		m.values[key] = v
	case []byte:
		m.values[key] = string(v)
	default:
		raw, _ := json.Marshal(v)
		m.values[key] = string(raw)
	}
	return true, nil
}

func (m *memoryCache) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *memoryCache) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (m *memoryCache) FixedWindowAllow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	return true, 1, nil
}

type harness struct {
	cfg       *config.Config
	handler   http.Handler
	orders    *stubOrders
	payments  *stubPayments
	shipments *stubShipments
}

func newHarness(t *testing.T, cache Cache) *harness {
	t.Helper()
	cfg := &config.Config{
		App:     config.AppConfig{Env: "test"},
		JWT:     config.JWTConfig{Secret: "router-secret", Issuer: "pharmaflow", ExpirationMinutes: 15},
		Intents: config.IntentsConfig{WebhookToken: "intent-hook"},
	}
	h := &harness{
		cfg:       cfg,
		orders:    &stubOrders{},
		payments:  &stubPayments{},
		shipments: &stubShipments{},
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	h.handler = NewRouter(cfg, logger.Nop(), stubPinger{}, cache, metrics, Services{
		Orders:    h.orders,
		Payments:  h.payments,
		Points:    stubPoints{},
		Shipments: h.shipments,
		Referrals: stubReferrals{},
	})
	return h
}

func (h *harness) token(t *testing.T, role enums.UserRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(h.cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{UserID: uuid.New(), Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	h.handler.ServeHTTP(resp, req)
	return resp
}

const orderBody = `{"customerName":"Asha Rao","customerPhone":"9800000000","addressLine":"12 MG Road","city":"Pune","state":"MH","pincode":"411001","items":[{"productId":"6f1c3c3e-9d4a-4b8e-9a57-0d7c1e3f2a11","quantity":2}]}`

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t, nil)

	live := h.do(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if live.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", live.Code)
	}
	if got := live.Header().Get("X-PharmaFlow-Env"); got != "test" {
		t.Fatalf("expected env header, got %q", got)
	}

	ready := h.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if ready.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", ready.Code)
	}

	metrics := h.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if metrics.Code != http.StatusOK || !strings.Contains(metrics.Body.String(), "# metrics") {
		t.Fatalf("metrics not mounted: %d %s", metrics.Code, metrics.Body.String())
	}
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	cfg := &config.Config{JWT: config.JWTConfig{Secret: "s", Issuer: "i", ExpirationMinutes: 1}}
	handler := NewRouter(cfg, logger.Nop(), stubPinger{err: errors.New("connection refused")}, nil, nil, Services{})

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestAPIRequiresJWT(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/points/balance", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestCreateOrderReturnsCamelCase(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(orderBody))
	req.Header.Set("Authorization", "Bearer "+h.token(t, enums.UserRoleCustomer))
	req.Header.Set("Content-Type", "application/json")
	resp := h.do(req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}

	var body struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data["orderNumber"] != "ORD-20261015-0001" || body.Data["customerName"] != "Asha Rao" {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
	if h.orders.created.BuyerRole != enums.UserRoleCustomer || len(h.orders.created.Items) != 1 {
		t.Fatalf("unexpected service input: %+v", h.orders.created)
	}
}

func TestCreateOrderRequiresIdempotencyKeyWithCache(t *testing.T) {
	h := newHarness(t, &memoryCache{values: map[string]string{}})
	token := h.token(t, enums.UserRoleCustomer)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(orderBody))
	req.Header.Set("Authorization", "Bearer "+token)
	resp := h.do(req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(orderBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", "order-1")
	resp = h.do(req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(orderBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", "order-1")
	replay := h.do(req)
	if replay.Code != http.StatusCreated || replay.Body.String() != resp.Body.String() {
		t.Fatalf("expected replayed response got %d: %s", replay.Code, replay.Body.String())
	}
	if h.orders.calls != 1 {
		t.Fatalf("expected one service call got %d", h.orders.calls)
	}
}

func TestStaffOnlyRoutes(t *testing.T) {
	h := newHarness(t, nil)
	orderID := uuid.NewString()

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		role   enums.UserRole
		status int
	}{
		{"customer creates shipment", http.MethodPost, "/api/v1/shipments", `{"orderId":"` + orderID + `"}`, enums.UserRoleCustomer, http.StatusForbidden},
		{"retailer cancels shipment", http.MethodPost, "/api/v1/shipments/" + orderID + "/cancel", "", enums.UserRoleRetailer, http.StatusForbidden},
		{"distributor tracks shipment", http.MethodPost, "/api/v1/shipments/" + orderID + "/track", "", enums.UserRoleDistributor, http.StatusOK},
		{"customer updates status", http.MethodPatch, "/api/v1/orders/" + orderID + "/status", `{"status":"DELIVERED"}`, enums.UserRoleCustomer, http.StatusForbidden},
		{"admin updates status", http.MethodPatch, "/api/v1/orders/" + orderID + "/status", `{"status":"delivered"}`, enums.UserRoleAdmin, http.StatusOK},
		{"customer earns points", http.MethodPost, "/api/v1/points/earn", `{"userId":"` + orderID + `","points":10,"source":"promo"}`, enums.UserRoleCustomer, http.StatusForbidden},
		{"customer issues referral", http.MethodPost, "/api/v1/referrals", "", enums.UserRoleCustomer, http.StatusForbidden},
		{"retailer issues referral", http.MethodPost, "/api/v1/referrals", "", enums.UserRoleRetailer, http.StatusCreated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var req *http.Request
			if tc.body == "" {
				req = httptest.NewRequest(tc.method, tc.path, nil)
			} else {
				req = httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			}
			req.Header.Set("Authorization", "Bearer "+h.token(t, tc.role))
			resp := h.do(req)
			if resp.Code != tc.status {
				t.Fatalf("expected %d got %d: %s", tc.status, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestRedeemSurfacesDomainError(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/points/redeem", strings.NewReader(`{"points":500,"source":"checkout"}`))
	req.Header.Set("Authorization", "Bearer "+h.token(t, enums.UserRoleCustomer))
	resp := h.do(req)
	if resp.Code == http.StatusOK || resp.Code == http.StatusCreated {
		t.Fatalf("expected an error got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), string(pkgerrors.CodeInsufficientPoints)) {
		t.Fatalf("expected insufficient points code: %s", resp.Body.String())
	}
}

func TestRazorpayWebhookIsPublicAndPassesSignature(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/razorpay", strings.NewReader(`{"event":"payment.captured"}`))
	req.Header.Set("X-Razorpay-Signature", "good")
	req.Header.Set("X-Razorpay-Event-Id", "evt_1")
	resp := h.do(req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if h.payments.webhook.EventID != "evt_1" || string(h.payments.webhook.Body) != `{"event":"payment.captured"}` {
		t.Fatalf("unexpected webhook input: %+v", h.payments.webhook)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/razorpay", strings.NewReader(`{}`))
	req.Header.Set("X-Razorpay-Signature", "forged")
	resp = h.do(req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}

	resp = h.do(httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/razorpay", strings.NewReader(`{}`)))
	if resp.Code != http.StatusBadRequest || !strings.Contains(resp.Body.String(), string(pkgerrors.CodeInvalidSignature)) {
		t.Fatalf("expected 400 for missing signature got %d", resp.Code)
	}
}

func TestPaymentIntentWebhookNeedsBearerSecret(t *testing.T) {
	h := newHarness(t, nil)
	body := `{"token":"pi_tok","status":"succeeded","eventId":"ev-9"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment-intents", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer wrong")
	if resp := h.do(req); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment-intents", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer intent-hook")
	resp := h.do(req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if h.payments.intentWebhook.Status != enums.PaymentIntentStatus("SUCCEEDED") || h.payments.intentWebhook.Token != "pi_tok" {
		t.Fatalf("unexpected intent input: %+v", h.payments.intentWebhook)
	}
}

func TestCarrierWebhookReadsAPIKey(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/shiprocket", strings.NewReader(`{"awb":"AWB1"}`))
	req.Header.Set("X-Api-Key", "sr-hook")
	resp := h.do(req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if h.shipments.webhook.Token != "sr-hook" || h.shipments.webhook.Provider != enums.ShippingProviderShiprocket {
		t.Fatalf("unexpected webhook input: %+v", h.shipments.webhook)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/delhivery", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer dl-hook")
	h.do(req)
	if h.shipments.webhook.Token != "dl-hook" || h.shipments.webhook.Provider != enums.ShippingProviderDelhivery {
		t.Fatalf("unexpected webhook input: %+v", h.shipments.webhook)
	}
}

func TestShipmentRoutesWithoutCarrierAnswerServiceUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.handler = NewRouter(h.cfg, logger.Nop(), stubPinger{}, nil, nil, Services{
		Orders:    h.orders,
		Payments:  h.payments,
		Points:    stubPoints{},
		Referrals: stubReferrals{},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/shipments/"+uuid.NewString()+"/track", nil)
	req.Header.Set("Authorization", "Bearer "+h.token(t, enums.UserRoleDistributor))
	resp := h.do(req)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d: %s", resp.Code, resp.Body.String())
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeDependency) {
		t.Fatalf("expected %s got %s", pkgerrors.CodeDependency, payload.Error.Code)
	}

	hook := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/delhivery", strings.NewReader(`{}`))
	hook.Header.Set("X-Api-Key", "dl-hook")
	if resp := h.do(hook); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected webhook 503 got %d", resp.Code)
	}
}
