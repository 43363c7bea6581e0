package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/pharmaflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/metrics"
)

const providerName = "razorpay"

var errLoggerRequired = errors.New("razorpay logger is required")

// CreateOrderParams describes a gateway order in minor currency units.
type CreateOrderParams struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// Order is the subset of the gateway order response the settlement flow reads.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// Client talks to the Razorpay orders API and verifies its signatures.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	currency      string
	logger        *logger.Logger
	metrics       *metrics.SettlementMetrics
}

// NewClient builds the gateway wrapper. A client without credentials is valid;
// Configured reports whether order creation can be attempted.
func NewClient(cfg config.RazorpayConfig, logg *logger.Logger, m *metrics.SettlementMetrics) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "INR"
	}
	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		keyID:         strings.TrimSpace(cfg.KeyID),
		keySecret:     strings.TrimSpace(cfg.KeySecret),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		currency:      currency,
		logger:        logg,
		metrics:       m,
	}, nil
}

// Configured reports whether API credentials are present.
func (c *Client) Configured() bool {
	return c != nil && c.keyID != "" && c.keySecret != "" && c.baseURL != ""
}

// Currency returns the default settlement currency.
func (c *Client) Currency() string {
	if c == nil {
		return ""
	}
	return c.currency
}

// CreateOrder registers an order with the gateway and returns its id.
func (c *Client) CreateOrder(ctx context.Context, params CreateOrderParams) (*Order, error) {
	if !c.Configured() {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway is not configured")
	}
	if params.AmountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = c.currency
	}

	body, err := json.Marshal(map[string]any{
		"amount":   params.AmountMinor,
		"currency": currency,
		"receipt":  params.Receipt,
		"notes":    params.Notes,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode razorpay order")
	}

	c.log(ctx, "request", "create_order", map[string]any{"receipt": params.Receipt, "amount": params.AmountMinor})
	started := time.Now()
	order, err := c.postOrder(ctx, body)
	c.metrics.ObserveProviderCall(providerName, "create_order", time.Since(started), err)
	if err != nil {
		c.log(ctx, "error", "create_order", map[string]any{"error": err.Error()})
		return nil, err
	}
	c.log(ctx, "response", "create_order", map[string]any{"order_id": order.ID, "status": order.Status})
	return order, nil
}

func (c *Client) postOrder(ctx context.Context, body []byte) (*Order, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build razorpay request")
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "razorpay create order failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read razorpay response")
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, mapStatusError(resp.StatusCode, raw)
	}

	var order Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode razorpay order")
	}
	if order.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "razorpay returned an order without id")
	}
	return &order, nil
}

// VerifyPaymentSignature checks the checkout signature, the hex HMAC-SHA256 of
// "orderId|paymentId" keyed with the API secret.
func (c *Client) VerifyPaymentSignature(externalOrderID, externalPaymentID, signature string) bool {
	if c == nil || c.keySecret == "" {
		return false
	}
	return validSignature(c.keySecret, []byte(externalOrderID+"|"+externalPaymentID), signature)
}

// VerifyWebhookSignature checks X-Razorpay-Signature against the raw body.
func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	if c == nil || c.webhookSecret == "" {
		return false
	}
	return validSignature(c.webhookSecret, body, signature)
}

// Sign returns the hex HMAC-SHA256 of message keyed with secret.
func Sign(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, message []byte, signature string) bool {
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(provided) == 0 {
		return false
	}
	expected, _ := hex.DecodeString(Sign(secret, message))
	return hmac.Equal(expected, provided)
}

func mapStatusError(status int, raw []byte) error {
	var parsed apiError
	_ = json.Unmarshal(raw, &parsed)
	desc := strings.TrimSpace(parsed.Error.Description)
	if desc == "" {
		desc = http.StatusText(status)
	}

	code := pkgerrors.CodeDependency
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		// Credential problems are ours, not the caller's.
		code = pkgerrors.CodeDependency
	case status == http.StatusTooManyRequests:
		code = pkgerrors.CodeRateLimit
	case status >= 400 && status < 500:
		code = pkgerrors.CodeValidation
	}
	return pkgerrors.New(code, fmt.Sprintf("razorpay create order failed: %s", desc)).
		WithDetails(map[string]any{"status": status, "gateway_code": parsed.Error.Code})
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("razorpay %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("razorpay %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"secret", "signature", "email", "phone"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}
