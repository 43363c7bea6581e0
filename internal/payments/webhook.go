package payments

import (
	"context"
	"encoding/json"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/internal/webhookledger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
	"github.com/angelmondragon/pharmaflow-backend/pkg/metrics"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox/payloads"
)

const (
	eventPaymentCaptured = "payment.captured"
	eventOrderPaid       = "order.paid"
	eventPaymentFailed   = "payment.failed"
)

// HandleWebhook processes one gateway delivery. Once the signature checks
// out, unknown payments and unhandled events are acknowledged without change
// so the gateway stops retrying.
func (s *service) HandleWebhook(ctx context.Context, input WebhookInput) (webhookledger.Result, error) {
	provider := enums.WebhookProviderRazorpay
	if !s.gateway.VerifyWebhookSignature(input.Body, input.Signature) {
		s.metrics.WebhookReceived(provider.String(), metrics.OutcomeRejected)
		s.logg.Warn(ctx, "payment webhook signature mismatch")
		return webhookledger.Result{}, pkgerrors.New(pkgerrors.CodeInvalidSignature, "invalid webhook signature")
	}

	// A signed body that does not decode is still recorded under its payload
	// hash and acknowledged; the zero event applies nothing.
	var event gatewayEvent
	if err := json.Unmarshal(input.Body, &event); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "undecodable payment webhook acknowledged")
		event = gatewayEvent{}
	}
	event.Event = strings.TrimSpace(event.Event)

	naturalKey := ""
	if ref := firstNonEmpty(event.paymentID(), event.externalOrderID()); ref != "" {
		naturalKey = event.Event + ":" + ref
	}
	entry := webhookledger.Entry{
		Provider:  provider,
		EventID:   webhookledger.DeriveEventID(provider, input.EventID, naturalKey, input.Body),
		EventType: event.Event,
		Payload:   input.Body,
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"provider": provider.String(), "event_id": entry.EventID, "event_type": event.Event})

	var result webhookledger.Result
	err := s.uow.Do(ctx, func(tx *gorm.DB) error {
		recorded, err := s.ledger.Record(ctx, tx, entry)
		if err != nil {
			return err
		}
		result = recorded
		if recorded.Existing {
			return nil
		}
		return s.applyGatewayEvent(ctx, tx, event)
	})
	if err != nil {
		s.metrics.WebhookReceived(provider.String(), metrics.OutcomeFailed)
		return webhookledger.Result{}, err
	}

	if result.Existing {
		s.metrics.WebhookReceived(provider.String(), metrics.OutcomeDuplicate)
		s.logg.Info(ctx, "duplicate payment webhook ignored")
	} else {
		s.metrics.WebhookReceived(provider.String(), metrics.OutcomeProcessed)
	}
	return result, nil
}

func (s *service) applyGatewayEvent(ctx context.Context, tx *gorm.DB, event gatewayEvent) error {
	switch event.Event {
	case eventPaymentCaptured, eventOrderPaid, eventPaymentFailed:
	default:
		return nil
	}

	externalOrderID := event.externalOrderID()
	if externalOrderID == "" {
		s.logg.Warn(ctx, "payment webhook without order reference")
		return nil
	}
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByExternalOrderID(ctx, externalOrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if payment == nil {
		s.logg.Warn(s.logg.WithField(ctx, "external_order_id", externalOrderID), "payment webhook for unknown payment")
		return nil
	}

	if event.Event == eventPaymentFailed {
		return s.fail(ctx, tx, payment, event.failureReason())
	}

	var paymentID *string
	if id := event.paymentID(); id != "" {
		paymentID = &id
	}
	_, err = s.capture(ctx, tx, payment, paymentID, nil, triggerWebhook)
	if pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition) {
		// A refunded payment does not go back to captured.
		s.logg.Warn(s.logg.WithField(ctx, "status", payment.Status.String()), "capture webhook ignored")
		return nil
	}
	return err
}

func (s *service) fail(ctx context.Context, tx *gorm.DB, payment *models.Payment, reason string) error {
	outcome, err := enums.PaymentTransitions.Apply(payment.Status, enums.PaymentStatusFailed)
	if err != nil {
		// Captured payments never regress on a late failure notice.
		s.logg.Info(s.logg.WithField(ctx, "status", payment.Status.String()), "payment failure ignored")
		return nil
	}
	if !outcome.Changed() {
		return nil
	}

	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	updated, err := s.repo.WithTx(tx).MarkFailed(ctx, payment.ID, outcome.From, reasonPtr)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark payment failed")
	}
	if !updated {
		return nil
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentFailed,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Data: payloads.PaymentFailedEvent{
			PaymentID:       payment.ID,
			OrderID:         payment.OrderID,
			ExternalOrderID: payment.ExternalOrderID,
			Reason:          reason,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit payment failed")
	}
	s.logg.Info(s.logg.WithOrderID(ctx, payment.OrderID.String()), "payment marked failed")
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
