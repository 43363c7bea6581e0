package enums

import (
	"fmt"
	"strings"
)

// WebhookProvider namespaces idempotency ledger entries.
type WebhookProvider string

const (
	WebhookProviderRazorpay   WebhookProvider = "RAZORPAY"
	WebhookProviderShiprocket WebhookProvider = "SHIPROCKET"
	WebhookProviderDelhivery  WebhookProvider = "DELHIVERY"
	WebhookProviderIntent     WebhookProvider = "INTENT"
)

var validWebhookProviders = []WebhookProvider{
	WebhookProviderRazorpay,
	WebhookProviderShiprocket,
	WebhookProviderDelhivery,
	WebhookProviderIntent,
}

func (p WebhookProvider) String() string {
	return string(p)
}

func (p WebhookProvider) IsValid() bool {
	for _, candidate := range validWebhookProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

// ShippingProvider identifies a carrier integration.
type ShippingProvider string

const (
	ShippingProviderShiprocket ShippingProvider = "shiprocket"
	ShippingProviderDelhivery  ShippingProvider = "delhivery"
)

var validShippingProviders = []ShippingProvider{
	ShippingProviderShiprocket,
	ShippingProviderDelhivery,
}

func (p ShippingProvider) String() string {
	return string(p)
}

func (p ShippingProvider) IsValid() bool {
	for _, candidate := range validShippingProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

// Webhook returns the ledger namespace used for this carrier's callbacks.
func (p ShippingProvider) Webhook() WebhookProvider {
	return WebhookProvider(strings.ToUpper(string(p)))
}

// ParseShippingProvider is case-insensitive.
func ParseShippingProvider(value string) (ShippingProvider, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validShippingProviders {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shipping provider %q", value)
}

// PaymentGateway names the gateway a payment was settled through.
type PaymentGateway string

const (
	PaymentGatewayRazorpay PaymentGateway = "RAZORPAY"
	PaymentGatewayIntent   PaymentGateway = "INTENT"
)

func (g PaymentGateway) String() string {
	return string(g)
}

// CaptureSource is the points ledger source recorded for a capture credit.
func (g PaymentGateway) CaptureSource() string {
	return string(g) + "_CAPTURE"
}
