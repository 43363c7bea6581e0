package delhivery

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/pharmaflow-backend/internal/shipments"
	"github.com/angelmondragon/pharmaflow-backend/pkg/config"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
)

const (
	defaultBaseURL = "https://track.delhivery.com"
	courierName    = "Delhivery"
	responseLimit  = 1 << 20
)

var errTokenRequired = errors.New("delhivery api token is required")

// Client implements shipments.ShippingProvider against the Delhivery CMU
// and packages APIs.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiToken       string
	pickupLocation string
	webhookToken   string
	logger         *logger.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(cfg config.DelhiveryConfig, timeout time.Duration, logg *logger.Logger, opts ...Option) (*Client, error) {
	token := strings.TrimSpace(cfg.APIToken)
	if token == "" {
		return nil, errTokenRequired
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
		apiToken:       token,
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
	return enums.ShippingProviderDelhivery
}

type cmuShipment struct {
	Name          string `json:"name"`
	Add           string `json:"add"`
	Pin           string `json:"pin"`
	City          string `json:"city"`
	State         string `json:"state"`
	Country       string `json:"country"`
	Phone         string `json:"phone"`
	Order         string `json:"order"`
	PaymentMode   string `json:"payment_mode"`
	ProductsDesc  string `json:"products_desc"`
	TotalAmount   string `json:"total_amount"`
	Quantity      string `json:"quantity"`
	OrderDate     string `json:"order_date"`
	ShippingMode  string `json:"shipping_mode"`
	CODAmount     string `json:"cod_amount"`
	SellerInvoice string `json:"seller_inv"`
}

type cmuRequest struct {
	Shipments      []cmuShipment     `json:"shipments"`
	PickupLocation map[string]string `json:"pickup_location"`
}

type cmuResponse struct {
	Success   bool   `json:"success"`
	UploadWBN string `json:"upload_wbn"`
	RMK       string `json:"rmk"`
	Packages  []struct {
		Waybill string   `json:"waybill"`
		RefNum  string   `json:"refnum"`
		Status  string   `json:"status"`
		Remarks []string `json:"remarks"`
	} `json:"packages"`
}

// CreateOrderFromInternal manifests the order. The order number doubles as
// the shipment reference used for waybill lookups.
func (c *Client) CreateOrderFromInternal(ctx context.Context, order shipments.OrderView) (*shipments.Result, error) {
	names := make([]string, 0, len(order.Items))
	quantity := 0
	for _, item := range order.Items {
		names = append(names, item.Name)
		quantity += item.Quantity
	}
	data, err := json.Marshal(cmuRequest{
		Shipments: []cmuShipment{{
			Name:          order.CustomerName,
			Add:           order.AddressLine,
			Pin:           order.Pincode,
			City:          order.City,
			State:         order.State,
			Country:       "India",
			Phone:         order.CustomerPhone,
			Order:         order.OrderNumber,
			PaymentMode:   "Prepaid",
			ProductsDesc:  strings.Join(names, ", "),
			TotalAmount:   order.NetAmount.StringFixed(2),
			Quantity:      strconv.Itoa(quantity),
			OrderDate:     order.PlacedAt.Format(time.RFC3339),
			ShippingMode:  "Surface",
			CODAmount:     "0",
			SellerInvoice: order.OrderNumber,
		}},
		PickupLocation: map[string]string{"name": c.pickupLocation},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode delhivery manifest")
	}
	form := url.Values{"format": {"json"}, "data": {string(data)}}

	raw, err := c.send(ctx, http.MethodPost, "/api/cmu/create.json", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	var resp cmuResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode delhivery manifest")
	}
	if !resp.Success || len(resp.Packages) == 0 {
		reason := resp.RMK
		if len(resp.Packages) > 0 && len(resp.Packages[0].Remarks) > 0 {
			reason = strings.Join(resp.Packages[0].Remarks, "; ")
		}
		if reason == "" {
			reason = "manifest rejected"
		}
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "delhivery: "+reason)
	}
	pkg := resp.Packages[0]
	ref := pkg.RefNum
	if ref == "" {
		ref = order.OrderNumber
	}
	result := &shipments.Result{
		ProviderOrderID: resp.UploadWBN,
		ShipmentID:      ref,
		AWB:             pkg.Waybill,
		Status:          enums.ShipmentStatusCreated,
		Raw:             raw,
	}
	if pkg.Waybill != "" {
		result.CourierName = courierName
		result.Status = enums.ShipmentStatusAWBAssigned
	}
	return result, nil
}

// AssignShipment reads back the waybill Delhivery allocated to the shipment
// reference.
func (c *Client) AssignShipment(ctx context.Context, shipmentID string) (*shipments.Result, error) {
	result, err := c.packages(ctx, url.Values{"ref_ids": {shipmentID}})
	if err != nil {
		return nil, err
	}
	if result.AWB == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "delhivery has not allocated a waybill yet")
	}
	result.ShipmentID = shipmentID
	if result.Status == "" || result.Status == enums.ShipmentStatusCreated {
		result.Status = enums.ShipmentStatusAWBAssigned
	}
	return result, nil
}

func (c *Client) Track(ctx context.Context, req shipments.TrackRequest) (*shipments.Result, error) {
	switch {
	case req.AWB != "":
		return c.packages(ctx, url.Values{"waybill": {req.AWB}})
	case req.ShipmentID != "":
		return c.packages(ctx, url.Values{"ref_ids": {req.ShipmentID}})
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "delhivery tracking needs a waybill or shipment reference")
}

type packagesResponse struct {
	ShipmentData []struct {
		Shipment shipmentInfo `json:"Shipment"`
	} `json:"ShipmentData"`
}

type shipmentInfo struct {
	AWB         string `json:"AWB"`
	ReferenceNo string `json:"ReferenceNo"`
	Status      struct {
		Status         string `json:"Status"`
		StatusType     string `json:"StatusType"`
		StatusDateTime string `json:"StatusDateTime"`
	} `json:"Status"`
}

func (c *Client) packages(ctx context.Context, query url.Values) (*shipments.Result, error) {
	raw, err := c.send(ctx, http.MethodGet, "/api/v1/packages/json/?"+query.Encode(), "", nil)
	if err != nil {
		return nil, err
	}
	var resp packagesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode delhivery tracking")
	}
	result := &shipments.Result{Raw: raw}
	if len(resp.ShipmentData) == 0 {
		return result, nil
	}
	info := resp.ShipmentData[0].Shipment
	result.AWB = info.AWB
	result.ShipmentID = info.ReferenceNo
	result.Status = enums.NormalizeShipmentStatus(info.Status.Status)
	if info.AWB != "" {
		result.CourierName = courierName
	}
	return result, nil
}

func (c *Client) Cancel(ctx context.Context, req shipments.CancelRequest) (*shipments.Result, error) {
	if req.AWB == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "delhivery cancel needs a waybill")
	}
	body, _ := json.Marshal(map[string]string{"waybill": req.AWB, "cancellation": "true"})
	raw, err := c.send(ctx, http.MethodPost, "/api/p/edit", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return &shipments.Result{AWB: req.AWB, Status: enums.ShipmentStatusCancelled, Raw: raw}, nil
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build delhivery request")
	}
	req.Header.Set("Authorization", "Token "+c.apiToken)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delhivery request failed")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseLimit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read delhivery response")
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		code := pkgerrors.CodeDependency
		if resp.StatusCode == http.StatusTooManyRequests {
			code = pkgerrors.CodeRateLimit
		}
		c.logger.Warn(c.logger.WithField(ctx, "status", resp.StatusCode), "delhivery request rejected")
		return nil, pkgerrors.New(code, "delhivery: "+http.StatusText(resp.StatusCode)).
			WithDetails(map[string]any{"status": resp.StatusCode})
	}
	return raw, nil
}

// VerifyWebhookToken compares the shared token Delhivery sends with pushes.
func (c *Client) VerifyWebhookToken(token string) bool {
	if c.webhookToken == "" {
		return false
	}
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Token "))
	return subtle.ConstantTimeCompare([]byte(c.webhookToken), []byte(token)) == 1
}

func (c *Client) ParseWebhook(body []byte) (*shipments.WebhookUpdate, error) {
	var payload struct {
		Shipment shipmentInfo `json:"Shipment"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	info := payload.Shipment
	update := &shipments.WebhookUpdate{
		AWB:       strings.TrimSpace(info.AWB),
		RawStatus: info.Status.Status,
		Status:    enums.NormalizeShipmentStatus(info.Status.Status),
	}
	if update.AWB != "" && info.Status.StatusDateTime != "" {
		update.EventID = update.AWB + ":" + info.Status.StatusDateTime
	}
	return update, nil
}
