package models

// All lists every persisted model, in dependency order, for dev
// auto-migration and tests.
func All() []any {
	return []any{
		&Product{},
		&Order{},
		&OrderItem{},
		&Payment{},
		&PaymentIntent{},
		&WebhookEvent{},
		&Shipment{},
		&PointsLedgerEntry{},
		&Referral{},
		&ReferralAttribution{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
