package shiprocket

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/pharmaflow-backend/internal/shipments"
	"github.com/angelmondragon/pharmaflow-backend/pkg/config"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
)

const (
	defaultBaseURL = "https://apiv2.shiprocket.in"
	responseLimit  = 1 << 20
	// Login tokens are valid for ten days; refresh a day early.
	tokenTTL = 9 * 24 * time.Hour
)

var errCredentialsRequired = errors.New("shiprocket email and password are required")

// TokenCache shares the login token across instances. *redis.Client
// satisfies it.
type TokenCache interface {
	CachedToken(ctx context.Context, provider string) (string, error)
	StoreToken(ctx context.Context, provider, token string, ttl time.Duration) error
}

// Client implements shipments.ShippingProvider against the Shiprocket API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	email          string
	password       string
	pickupLocation string
	webhookToken   string
	tokens         TokenCache
	logger         *logger.Logger

	mu    sync.Mutex
	token string
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTokenCache stores login tokens outside the process.
func WithTokenCache(cache TokenCache) Option {
	return func(c *Client) {
		c.tokens = cache
	}
}

func NewClient(cfg config.ShiprocketConfig, timeout time.Duration, logg *logger.Logger, opts ...Option) (*Client, error) {
	email := strings.TrimSpace(cfg.Email)
	password := strings.TrimSpace(cfg.Password)
	if email == "" || password == "" {
		return nil, errCredentialsRequired
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logg == nil {
		logg = logger.Nop()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := &Client{
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        baseURL,
		email:          email,
		password:       password,
		pickupLocation: strings.TrimSpace(cfg.PickupLocation),
		webhookToken:   strings.TrimSpace(cfg.WebhookToken),
		logger:         logg,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

func (c *Client) Name() enums.ShippingProvider {
	return enums.ShippingProviderShiprocket
}

type orderItem struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Units        int    `json:"units"`
	SellingPrice string `json:"selling_price"`
}

type adhocOrder struct {
	OrderID           string      `json:"order_id"`
	OrderDate         string      `json:"order_date"`
	PickupLocation    string      `json:"pickup_location"`
	BillingName       string      `json:"billing_customer_name"`
	BillingLastName   string      `json:"billing_last_name"`
	BillingAddress    string      `json:"billing_address"`
	BillingCity       string      `json:"billing_city"`
	BillingPincode    string      `json:"billing_pincode"`
	BillingState      string      `json:"billing_state"`
	BillingCountry    string      `json:"billing_country"`
	BillingEmail      string      `json:"billing_email"`
	BillingPhone      string      `json:"billing_phone"`
	ShippingIsBilling bool        `json:"shipping_is_billing"`
	Items             []orderItem `json:"order_items"`
	PaymentMethod     string      `json:"payment_method"`
	SubTotal          string      `json:"sub_total"`
	Length            float64     `json:"length"`
	Breadth           float64     `json:"breadth"`
	Height            float64     `json:"height"`
	Weight            float64     `json:"weight"`
}

type adhocResponse struct {
	OrderID     json.Number `json:"order_id"`
	ShipmentID  json.Number `json:"shipment_id"`
	Status      string      `json:"status"`
	AWBCode     string      `json:"awb_code"`
	CourierName string      `json:"courier_name"`
}

func (c *Client) CreateOrderFromInternal(ctx context.Context, order shipments.OrderView) (*shipments.Result, error) {
	items := make([]orderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItem{
			Name:         item.Name,
			SKU:          item.ProductID.String(),
			Units:        item.Quantity,
			SellingPrice: item.UnitPrice.StringFixed(2),
		})
	}
	payload := adhocOrder{
		OrderID:           order.OrderNumber,
		OrderDate:         order.PlacedAt.Format("2006-01-02 15:04"),
		PickupLocation:    c.pickupLocation,
		BillingName:       order.CustomerName,
		BillingAddress:    order.AddressLine,
		BillingCity:       order.City,
		BillingPincode:    order.Pincode,
		BillingState:      order.State,
		BillingCountry:    "India",
		BillingEmail:      order.CustomerEmail,
		BillingPhone:      order.CustomerPhone,
		ShippingIsBilling: true,
		Items:             items,
		PaymentMethod:     "Prepaid",
		SubTotal:          order.NetAmount.StringFixed(2),
		Length:            10,
		Breadth:           10,
		Height:            10,
		Weight:            0.5,
	}

	var resp adhocResponse
	raw, err := c.do(ctx, http.MethodPost, "/v1/external/orders/create/adhoc", payload, &resp)
	if err != nil {
		return nil, err
	}
	if resp.OrderID.String() == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shiprocket returned an order without id")
	}
	return &shipments.Result{
		ProviderOrderID: resp.OrderID.String(),
		ShipmentID:      resp.ShipmentID.String(),
		AWB:             resp.AWBCode,
		CourierName:     resp.CourierName,
		Status:          enums.NormalizeShipmentStatus(resp.Status),
		Raw:             raw,
	}, nil
}

type assignResponse struct {
	AssignStatus int `json:"awb_assign_status"`
	Response     struct {
		Data struct {
			AWBCode     string      `json:"awb_code"`
			CourierName string      `json:"courier_name"`
			ShipmentID  json.Number `json:"shipment_id"`
		} `json:"data"`
	} `json:"response"`
}

func (c *Client) AssignShipment(ctx context.Context, shipmentID string) (*shipments.Result, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(shipmentID), 10, 64)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "shiprocket shipment id must be numeric")
	}
	var resp assignResponse
	raw, err := c.do(ctx, http.MethodPost, "/v1/external/courier/assign/awb", map[string]any{"shipment_id": id}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.AssignStatus != 1 || resp.Response.Data.AWBCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shiprocket did not assign an awb")
	}
	return &shipments.Result{
		ShipmentID:  shipmentID,
		AWB:         resp.Response.Data.AWBCode,
		CourierName: resp.Response.Data.CourierName,
		Status:      enums.ShipmentStatusAWBAssigned,
		Raw:         raw,
	}, nil
}

type trackResponse struct {
	TrackingData struct {
		ShipmentStatus int `json:"shipment_status"`
		ShipmentTrack  []struct {
			AWBCode       string `json:"awb_code"`
			CourierName   string `json:"courier_name"`
			CurrentStatus string `json:"current_status"`
		} `json:"shipment_track"`
		Error string `json:"error"`
	} `json:"tracking_data"`
}

type orderShowResponse struct {
	Data struct {
		ID        json.Number `json:"id"`
		Status    string      `json:"status"`
		Shipments struct {
			ID      json.Number `json:"id"`
			AWB     string      `json:"awb"`
			Courier string      `json:"courier"`
		} `json:"shipments"`
	} `json:"data"`
}

func (c *Client) Track(ctx context.Context, req shipments.TrackRequest) (*shipments.Result, error) {
	switch {
	case req.AWB != "":
		return c.trackBy(ctx, "/v1/external/courier/track/awb/"+req.AWB)
	case req.ShipmentID != "":
		return c.trackBy(ctx, "/v1/external/courier/track/shipment/"+req.ShipmentID)
	case req.ProviderOrderID != "":
		var resp orderShowResponse
		raw, err := c.do(ctx, http.MethodGet, "/v1/external/orders/show/"+req.ProviderOrderID, nil, &resp)
		if err != nil {
			return nil, err
		}
		return &shipments.Result{
			ProviderOrderID: resp.Data.ID.String(),
			ShipmentID:      resp.Data.Shipments.ID.String(),
			AWB:             resp.Data.Shipments.AWB,
			CourierName:     resp.Data.Shipments.Courier,
			Status:          enums.NormalizeShipmentStatus(resp.Data.Status),
			Raw:             raw,
		}, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "shiprocket tracking needs an awb, shipment id or order id")
}

func (c *Client) trackBy(ctx context.Context, path string) (*shipments.Result, error) {
	var resp trackResponse
	raw, err := c.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		return nil, err
	}
	result := &shipments.Result{Raw: raw}
	if len(resp.TrackingData.ShipmentTrack) > 0 {
		latest := resp.TrackingData.ShipmentTrack[0]
		result.AWB = latest.AWBCode
		result.CourierName = latest.CourierName
		result.Status = enums.NormalizeShipmentStatus(latest.CurrentStatus)
	}
	return result, nil
}

func (c *Client) Cancel(ctx context.Context, req shipments.CancelRequest) (*shipments.Result, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(req.ProviderOrderID), 10, 64)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "shiprocket cancel needs the provider order id")
	}
	raw, err := c.do(ctx, http.MethodPost, "/v1/external/orders/cancel", map[string]any{"ids": []int64{id}}, nil)
	if err != nil {
		return nil, err
	}
	return &shipments.Result{ProviderOrderID: req.ProviderOrderID, Status: enums.ShipmentStatusCancelled, Raw: raw}, nil
}

// do sends an authenticated request. A 401 drops the cached token and retries
// once with a fresh login.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) (json.RawMessage, error) {
	raw, status, err := c.send(ctx, method, path, body, false)
	if err == nil && status == http.StatusUnauthorized {
		raw, status, err = c.send(ctx, method, path, body, true)
	}
	if err != nil {
		return nil, err
	}
	if status >= http.StatusMultipleChoices {
		return nil, mapStatusError(status, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode shiprocket response")
		}
	}
	return raw, nil
}

func (c *Client) send(ctx context.Context, method, path string, body any, refresh bool) ([]byte, int, error) {
	token, err := c.authToken(ctx, refresh)
	if err != nil {
		return nil, 0, err
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode shiprocket request")
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build shiprocket request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "shiprocket request failed")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseLimit))
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read shiprocket response")
	}
	return raw, resp.StatusCode, nil
}

func (c *Client) authToken(ctx context.Context, refresh bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !refresh {
		if c.token != "" {
			return c.token, nil
		}
		if c.tokens != nil {
			cached, err := c.tokens.CachedToken(ctx, string(c.Name()))
			if err != nil {
				c.logger.Warn(c.logger.WithField(ctx, "error", err.Error()), "shiprocket token cache read failed")
			} else if cached != "" {
				c.token = cached
				return cached, nil
			}
		}
	}

	token, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	if c.tokens != nil {
		if err := c.tokens.StoreToken(ctx, string(c.Name()), token, tokenTTL); err != nil {
			c.logger.Warn(c.logger.WithField(ctx, "error", err.Error()), "shiprocket token cache write failed")
		}
	}
	return token, nil
}

func (c *Client) login(ctx context.Context) (string, error) {
	encoded, _ := json.Marshal(map[string]string{"email": c.email, "password": c.password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/external/auth/login", bytes.NewReader(encoded))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build shiprocket login")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "shiprocket login failed")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseLimit))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read shiprocket login")
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("shiprocket login rejected with status %d", resp.StatusCode))
	}
	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Token == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "shiprocket login returned no token")
	}
	c.logger.Info(ctx, "shiprocket login refreshed")
	return parsed.Token, nil
}

func mapStatusError(status int, raw []byte) error {
	var parsed struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &parsed)
	msg := strings.TrimSpace(parsed.Message)
	if msg == "" {
		msg = http.StatusText(status)
	}
	code := pkgerrors.CodeDependency
	switch {
	case status == http.StatusTooManyRequests:
		code = pkgerrors.CodeRateLimit
	case status == http.StatusUnprocessableEntity || status == http.StatusBadRequest:
		code = pkgerrors.CodeValidation
	}
	return pkgerrors.New(code, "shiprocket: "+msg).WithDetails(map[string]any{"status": status})
}

type webhookPayload struct {
	AWB           json.RawMessage `json:"awb"`
	CurrentStatus string          `json:"current_status"`
	ShipmentState string          `json:"shipment_status"`
	Timestamp     string          `json:"current_timestamp"`
}

// VerifyWebhookToken compares the x-api-key header configured in the
// Shiprocket dashboard.
func (c *Client) VerifyWebhookToken(token string) bool {
	if c.webhookToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.webhookToken), []byte(strings.TrimSpace(token))) == 1
}

func (c *Client) ParseWebhook(body []byte) (*shipments.WebhookUpdate, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	// Shiprocket sends the AWB as a number or a string depending on courier.
	awb := strings.Trim(strings.TrimSpace(string(payload.AWB)), `"`)
	if awb == "null" {
		awb = ""
	}
	rawStatus := payload.CurrentStatus
	if rawStatus == "" {
		rawStatus = payload.ShipmentState
	}
	return &shipments.WebhookUpdate{
		AWB:       awb,
		RawStatus: rawStatus,
		Status:    enums.NormalizeShipmentStatus(rawStatus),
	}, nil
}
