package payments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/internal/points"
	"github.com/angelmondragon/pharmaflow-backend/internal/webhookledger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
	"github.com/angelmondragon/pharmaflow-backend/pkg/metrics"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox/payloads"
)

const (
	intentTokenBytes = 24
	defaultCurrency  = "INR"
)

// CreateIntent issues an opaque token for an owned order. A pending intent is
// reused rather than replaced.
func (s *service) CreateIntent(ctx context.Context, input CreateIntentInput) (*models.PaymentIntent, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.payableOrder(ctx, input.OrderID, input.UserID)
	if err != nil {
		return nil, err
	}

	var intent *models.PaymentIntent
	err = s.uow.Do(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.FindByOrderID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
		}
		if payment != nil && payment.Status == enums.PaymentStatusCaptured {
			return pkgerrors.New(pkgerrors.CodeAlreadyPaid, "order already paid")
		}

		pending, err := repo.FindPendingIntent(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment intent")
		}
		if pending != nil {
			intent = pending
			return nil
		}

		token, err := newIntentToken()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate intent token")
		}
		created := &models.PaymentIntent{
			Token:       token,
			OrderID:     order.ID,
			UserID:      order.BuyerID,
			AmountMinor: AmountMinor(order.NetAmount),
			Currency:    s.intentCurrency(),
			Status:      enums.PaymentIntentPending,
		}
		if err := repo.CreateIntent(ctx, created); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment intent")
		}
		intent = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

func (s *service) GetIntent(ctx context.Context, token string, actorID uuid.UUID, actorRole enums.UserRole) (*models.PaymentIntent, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "token required")
	}
	intent, err := s.repo.FindIntentByToken(ctx, token)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment intent")
	}
	if intent == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
	}
	if !actorRole.Staff() && intent.UserID != actorID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payment intent does not belong to caller")
	}
	return intent, nil
}

// HandleIntentWebhook settles a pending intent. Callers authenticate the
// sender before calling.
func (s *service) HandleIntentWebhook(ctx context.Context, input IntentWebhookInput) (webhookledger.Result, error) {
	provider := enums.WebhookProviderIntent
	input.Token = strings.TrimSpace(input.Token)
	if input.Token == "" {
		s.metrics.WebhookReceived(provider.String(), metrics.OutcomeRejected)
		return webhookledger.Result{}, pkgerrors.New(pkgerrors.CodeValidation, "token required")
	}
	if input.Status != enums.PaymentIntentSuccess && input.Status != enums.PaymentIntentFailed {
		s.metrics.WebhookReceived(provider.String(), metrics.OutcomeRejected)
		return webhookledger.Result{}, pkgerrors.New(pkgerrors.CodeValidation, "status must be SUCCESS or FAILED")
	}

	entry := webhookledger.Entry{
		Provider:  provider,
		EventID:   webhookledger.DeriveEventID(provider, input.EventID, input.Token+":"+input.Status.String(), input.Body),
		EventType: "intent." + strings.ToLower(input.Status.String()),
		Payload:   input.Body,
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"provider": provider.String(), "event_id": entry.EventID})

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
		return s.settleIntent(ctx, tx, input)
	})
	if err != nil {
		s.metrics.WebhookReceived(provider.String(), metrics.OutcomeFailed)
		return webhookledger.Result{}, err
	}
	if result.Existing {
		s.metrics.WebhookReceived(provider.String(), metrics.OutcomeDuplicate)
	} else {
		s.metrics.WebhookReceived(provider.String(), metrics.OutcomeProcessed)
	}
	return result, nil
}

func (s *service) settleIntent(ctx context.Context, tx *gorm.DB, input IntentWebhookInput) error {
	repo := s.repo.WithTx(tx)
	intent, err := repo.FindIntentByToken(ctx, input.Token)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment intent")
	}
	if intent == nil {
		s.logg.Warn(ctx, "intent webhook for unknown token")
		return nil
	}

	outcome, err := enums.PaymentIntentTransitions.Apply(intent.Status, input.Status)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "status", intent.Status.String()), "intent webhook ignored")
		return nil
	}
	if !outcome.Changed() {
		return nil
	}
	settled, err := repo.SettleIntent(ctx, intent.ID, outcome.From, outcome.To, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "settle payment intent")
	}
	if !settled {
		return nil
	}

	if outcome.To == enums.PaymentIntentFailed {
		return s.emitIntent(ctx, tx, enums.EventPaymentFailed, payloads.PaymentFailedEvent{
			PaymentID:       intent.ID,
			OrderID:         intent.OrderID,
			ExternalOrderID: intent.Token,
		}, intent)
	}

	order, err := repo.FindOrder(ctx, intent.OrderID)
	if err != nil {
		return err
	}
	if _, err := s.points.CreditOnCapture(ctx, tx, points.CaptureCredit{
		UserID:    intent.UserID,
		OrderID:   intent.OrderID,
		NetAmount: order.NetAmount,
		Gateway:   enums.PaymentGatewayIntent,
	}); err != nil {
		return err
	}
	if err := s.emitIntent(ctx, tx, enums.EventPaymentCaptured, payloads.PaymentCapturedEvent{
		PaymentID:       intent.ID,
		OrderID:         intent.OrderID,
		Gateway:         enums.PaymentGatewayIntent,
		ExternalOrderID: intent.Token,
		AmountMinor:     intent.AmountMinor,
		Currency:        intent.Currency,
		Trigger:         triggerWebhook,
	}, intent); err != nil {
		return err
	}
	s.metrics.PaymentCaptured(enums.PaymentGatewayIntent.String(), triggerWebhook)
	return nil
}

func (s *service) emitIntent(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, data any, intent *models.PaymentIntent) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   intent.ID,
		Data:          data,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit intent event")
	}
	return nil
}

func (s *service) intentCurrency() string {
	if currency := s.gateway.Currency(); currency != "" {
		return currency
	}
	return defaultCurrency
}

func newIntentToken() (string, error) {
	buf := make([]byte, intentTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "pi_" + hex.EncodeToString(buf), nil
}
