package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/internal/points"
	"github.com/angelmondragon/pharmaflow-backend/internal/webhookledger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/metrics"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/pharmaflow-backend/pkg/razorpay"
)

var minorUnits = decimal.NewFromInt(100)

// Service settles order payments through the gateway or tokenized intents.
type Service interface {
	CreateGatewayOrder(ctx context.Context, input CreateGatewayOrderInput) (*GatewayOrderResult, error)
	VerifyPayment(ctx context.Context, input VerifyInput) (*VerifyResult, error)
	HandleWebhook(ctx context.Context, input WebhookInput) (webhookledger.Result, error)

	CreateIntent(ctx context.Context, input CreateIntentInput) (*models.PaymentIntent, error)
	GetIntent(ctx context.Context, token string, actorID uuid.UUID, actorRole enums.UserRole) (*models.PaymentIntent, error)
	HandleIntentWebhook(ctx context.Context, input IntentWebhookInput) (webhookledger.Result, error)
}

type ServiceParams struct {
	Repo       Repository
	UnitOfWork db.UnitOfWork
	Gateway    Gateway
	Ledger     webhookledger.Ledger
	Points     points.Crediter
	Outbox     outbox.Emitter
	Logger     *logger.Logger
	Metrics    *metrics.SettlementMetrics
	Clock      func() time.Time
}

type service struct {
	repo    Repository
	uow     db.UnitOfWork
	gateway Gateway
	ledger  webhookledger.Ledger
	points  points.Crediter
	outbox  outbox.Emitter
	logg    *logger.Logger
	metrics *metrics.SettlementMetrics
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.UnitOfWork == nil {
		return nil, fmt.Errorf("unit of work required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("webhook ledger required")
	}
	if params.Points == nil {
		return nil, fmt.Errorf("points crediter required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	return &service{
		repo:    params.Repo,
		uow:     params.UnitOfWork,
		gateway: params.Gateway,
		ledger:  params.Ledger,
		points:  params.Points,
		outbox:  params.Outbox,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     params.Clock,
	}, nil
}

// AmountMinor converts a rupee amount into paise.
func AmountMinor(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnits).Round(0).IntPart()
}

// CreateGatewayOrder returns the gateway order a client should pay. An open
// payment is reused so one internal order never maps to two gateway orders.
func (s *service) CreateGatewayOrder(ctx context.Context, input CreateGatewayOrderInput) (*GatewayOrderResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.payableOrder(ctx, input.OrderID, input.UserID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByOrderID(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if existing != nil {
		if result, err := reuse(existing); result != nil || err != nil {
			return result, err
		}
	}

	if !s.gateway.Configured() {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway is not configured")
	}
	amount := AmountMinor(order.NetAmount)
	currency := s.gateway.Currency()
	gatewayOrder, err := s.gateway.CreateOrder(ctx, razorpay.CreateOrderParams{
		AmountMinor: amount,
		Currency:    currency,
		Receipt:     order.OrderNumber,
		Notes:       map[string]string{"order_id": order.ID.String()},
	})
	if err != nil {
		return nil, err
	}

	err = s.uow.Do(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if existing != nil {
			reopened, err := repo.Reopen(ctx, existing.ID, gatewayOrder.ID, amount, currency)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reopen payment")
			}
			if !reopened {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "payment changed concurrently")
			}
			return nil
		}
		return repo.Create(ctx, &models.Payment{
			OrderID:         order.ID,
			UserID:          order.BuyerID,
			Gateway:         enums.PaymentGatewayRazorpay,
			ExternalOrderID: gatewayOrder.ID,
			AmountMinor:     amount,
			Currency:        currency,
			Status:          enums.PaymentStatusCreated,
		})
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			// Lost a race with a concurrent request for the same order.
			current, findErr := s.repo.FindByOrderID(ctx, order.ID)
			if findErr == nil && current != nil {
				if result, reuseErr := reuse(current); result != nil || reuseErr != nil {
					return result, reuseErr
				}
			}
		}
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist payment")
		}
		return nil, err
	}

	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	s.logg.Info(s.logg.WithField(ctx, "external_order_id", gatewayOrder.ID), "gateway order created")
	return &GatewayOrderResult{ExternalOrderID: gatewayOrder.ID, Amount: amount, Currency: currency}, nil
}

// reuse returns the existing gateway order for open payments, ALREADY_PAID for
// settled ones and nil, nil when a new gateway order is needed.
func reuse(payment *models.Payment) (*GatewayOrderResult, error) {
	switch {
	case payment.Status.Open():
		return &GatewayOrderResult{
			ExternalOrderID: payment.ExternalOrderID,
			Amount:          payment.AmountMinor,
			Currency:        payment.Currency,
		}, nil
	case payment.Status == enums.PaymentStatusCaptured, payment.Status == enums.PaymentStatusRefunded:
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyPaid, "order already paid")
	default:
		return nil, nil
	}
}

func (s *service) payableOrder(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller")
	}
	if order.Status == enums.OrderStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cancelled orders cannot be paid")
	}
	if !order.NetAmount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "order has nothing to pay")
	}
	return order, nil
}

// VerifyPayment confirms a checkout synchronously. The signature is checked
// before anything is read or written.
func (s *service) VerifyPayment(ctx context.Context, input VerifyInput) (*VerifyResult, error) {
	input.ExternalOrderID = strings.TrimSpace(input.ExternalOrderID)
	input.ExternalPaymentID = strings.TrimSpace(input.ExternalPaymentID)
	input.Signature = strings.TrimSpace(input.Signature)
	if input.ExternalOrderID == "" || input.ExternalPaymentID == "" || input.Signature == "" || input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "externalOrderId, externalPaymentId, signature and internalOrderId are required")
	}
	if !s.gateway.VerifyPaymentSignature(input.ExternalOrderID, input.ExternalPaymentID, input.Signature) {
		s.logg.Warn(s.logg.WithField(ctx, "external_order_id", input.ExternalOrderID), "payment signature mismatch")
		return nil, pkgerrors.New(pkgerrors.CodeInvalidSignature, "invalid payment signature")
	}

	result := &VerifyResult{Verified: true}
	err := s.uow.Do(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.FindByExternalOrderID(ctx, input.ExternalOrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
		}
		if payment == nil || payment.OrderID != input.OrderID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		if input.UserID != uuid.Nil && payment.UserID != input.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "payment does not belong to caller")
		}

		captured, err := s.capture(ctx, tx, payment, &input.ExternalPaymentID, &input.Signature, triggerVerify)
		if err != nil {
			return err
		}
		result.AlreadyCaptured = !captured
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// capture moves a payment to CAPTURED and credits loyalty points. It reports
// false without side effects when the payment was already captured, either
// before this call or by a concurrent path between read and write.
func (s *service) capture(ctx context.Context, tx *gorm.DB, payment *models.Payment, externalPaymentID, signature *string, trigger string) (bool, error) {
	outcome, err := enums.PaymentTransitions.Apply(payment.Status, enums.PaymentStatusCaptured)
	if err != nil {
		return false, err
	}
	if !outcome.Changed() {
		return false, nil
	}

	repo := s.repo.WithTx(tx)
	now := s.now().UTC()
	updated, err := repo.MarkCaptured(ctx, payment.ID, outcome.From, externalPaymentID, signature, now)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "capture payment")
	}
	if !updated {
		current, err := repo.FindByExternalOrderID(ctx, payment.ExternalOrderID)
		if err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload payment")
		}
		if current != nil && current.Status == enums.PaymentStatusCaptured {
			return false, nil
		}
		return false, pkgerrors.New(pkgerrors.CodeStateConflict, "payment changed concurrently")
	}

	order, err := repo.FindOrder(ctx, payment.OrderID)
	if err != nil {
		return false, err
	}
	if _, err := s.points.CreditOnCapture(ctx, tx, points.CaptureCredit{
		UserID:    payment.UserID,
		OrderID:   payment.OrderID,
		NetAmount: order.NetAmount,
		Gateway:   payment.Gateway,
	}); err != nil {
		return false, err
	}

	paymentRef := ""
	if externalPaymentID != nil {
		paymentRef = *externalPaymentID
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentCaptured,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Data: payloads.PaymentCapturedEvent{
			PaymentID:         payment.ID,
			OrderID:           payment.OrderID,
			Gateway:           payment.Gateway,
			ExternalOrderID:   payment.ExternalOrderID,
			ExternalPaymentID: paymentRef,
			AmountMinor:       payment.AmountMinor,
			Currency:          payment.Currency,
			Trigger:           trigger,
		},
	}); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit payment captured")
	}

	s.metrics.PaymentCaptured(payment.Gateway.String(), trigger)
	ctx = s.logg.WithOrderID(ctx, payment.OrderID.String())
	s.logg.Info(s.logg.WithField(ctx, "trigger", trigger), "payment captured")
	return true, nil
}
