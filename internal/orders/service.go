package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/pkg/db"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/metrics"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox/payloads"
)

const defaultNumberAttempts = 5

// Service places orders and moves them through their lifecycle.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error)
	Get(ctx context.Context, orderID, actorID uuid.UUID, actorRole enums.UserRole) (*models.Order, error)
}

// ServiceParams wires the order engine.
type ServiceParams struct {
	Repo           Repository
	UnitOfWork     db.UnitOfWork
	Outbox         outbox.Emitter
	Referrals      ReferralAttributor
	Logger         *logger.Logger
	Metrics        *metrics.SettlementMetrics
	NumberPrefix   string
	NumberAttempts int
	Numbers        NumberGenerator
	Clock          func() time.Time
}

type service struct {
	repo      Repository
	uow       db.UnitOfWork
	outbox    outbox.Emitter
	referrals ReferralAttributor
	logg      *logger.Logger
	metrics   *metrics.SettlementMetrics
	attempts  int
	numbers   NumberGenerator
	now       func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.UnitOfWork == nil {
		return nil, fmt.Errorf("unit of work required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.NumberAttempts <= 0 {
		params.NumberAttempts = defaultNumberAttempts
	}
	if params.Numbers == nil {
		params.Numbers = RandomNumberGenerator(params.NumberPrefix)
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	return &service{
		repo:      params.Repo,
		uow:       params.UnitOfWork,
		outbox:    params.Outbox,
		referrals: params.Referrals,
		logg:      params.Logger,
		metrics:   params.Metrics,
		attempts:  params.NumberAttempts,
		numbers:   params.Numbers,
		now:       params.Clock,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if err := validateCreate(input); err != nil {
		s.metrics.OrderOutcome("rejected")
		return nil, err
	}

	var (
		order       *models.Order
		decremented []DecrementedItem
	)
	err := s.uow.Do(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		number, err := s.allocateNumber(ctx, repo)
		if err != nil {
			return err
		}

		built := &models.Order{
			OrderNumber:   number,
			BuyerID:       input.BuyerID,
			CustomerName:  strings.TrimSpace(input.CustomerName),
			CustomerPhone: strings.TrimSpace(input.CustomerPhone),
			CustomerEmail: input.CustomerEmail,
			AddressLine:   strings.TrimSpace(input.AddressLine),
			City:          strings.TrimSpace(input.City),
			State:         strings.TrimSpace(input.State),
			Pincode:       strings.TrimSpace(input.Pincode),
			Status:        enums.OrderStatusPlaced,
			RefCode:       input.RefCode,
			Items:         make([]models.OrderItem, 0, len(input.Items)),
		}

		for _, item := range input.Items {
			product, err := repo.FindProduct(ctx, item.ProductID)
			if err != nil {
				return err
			}
			if product.CurrentStock < item.Quantity {
				return insufficientStock(product, item.Quantity)
			}
			ok, err := repo.DecrementStock(ctx, product.ID, item.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				s.metrics.StockConflict()
				return insufficientStock(product, item.Quantity)
			}
			decremented = append(decremented, DecrementedItem{ProductID: product.ID, Quantity: item.Quantity})
			built.Items = append(built.Items, priceLine(product, item))
		}
		applyTotals(built)

		if err := repo.CreateOrder(ctx, built); err != nil {
			if db.IsUniqueViolation(err, "ux_orders_order_number") {
				return pkgerrors.Wrap(pkgerrors.CodeOrderNumberExhausted, err, "order number taken concurrently")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert order")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			AggregateID:   built.ID,
			Actor:         &outbox.ActorRef{UserID: input.BuyerID, Role: input.BuyerRole.String()},
			Data: payloads.OrderPlacedEvent{
				OrderID:     built.ID,
				OrderNumber: built.OrderNumber,
				BuyerID:     built.BuyerID,
				NetAmount:   built.NetAmount,
				ItemCount:   len(built.Items),
				RefCode:     built.RefCode,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order placed")
		}

		order = built
		return nil
	})
	if err != nil {
		return nil, s.createFailure(ctx, err, decremented)
	}

	s.metrics.OrderOutcome("placed")
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	s.logg.Info(s.logg.WithField(ctx, "order_number", order.OrderNumber), "order placed")

	s.attributeReferral(ctx, order)
	return order, nil
}

// createFailure reports how far a failed placement got. Without atomicity the
// decrements that already landed stay applied and the caller must reconcile.
func (s *service) createFailure(ctx context.Context, err error, decremented []DecrementedItem) error {
	if s.uow.Atomic() || len(decremented) == 0 {
		if pkgerrors.IsClientFacing(codeOf(err)) {
			s.metrics.OrderOutcome("rejected")
		} else {
			s.metrics.OrderOutcome("failed")
		}
		return err
	}

	return s.partialFailure(ctx, err, "order failed after stock was decremented", map[string]any{
		"decremented": decremented,
	})
}

// partialFailure reports writes that landed before err under the sequential
// unit of work. Nothing is undone; details tell an operator what to reconcile.
func (s *service) partialFailure(ctx context.Context, err error, msg string, applied map[string]any) error {
	s.metrics.OrderOutcome("partial")
	details := make(map[string]any, len(applied)+1)
	for k, v := range applied {
		details[k] = v
	}
	details["cause"] = string(codeOf(err))
	s.logg.Error(s.logg.WithFields(ctx, applied), "order partially applied", err)
	return pkgerrors.Wrap(pkgerrors.CodePartiallyApplied, err, msg).WithDetails(details)
}

func (s *service) attributeReferral(ctx context.Context, order *models.Order) {
	if s.referrals == nil || order.RefCode == nil || strings.TrimSpace(*order.RefCode) == "" {
		return
	}
	if err := s.referrals.AttributeOrder(ctx, *order.RefCode, order.ID, order.BuyerID); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "referral attribution failed")
	}
}

func (s *service) allocateNumber(ctx context.Context, repo Repository) (string, error) {
	for attempt := 0; attempt < s.attempts; attempt++ {
		candidate := s.numbers(s.now())
		exists, err := repo.OrderNumberExists(ctx, candidate)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check order number")
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", pkgerrors.New(pkgerrors.CodeOrderNumberExhausted, "could not allocate a unique order number").
		WithDetails(map[string]any{"attempts": s.attempts})
}

func (s *service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}

	var (
		result        *models.Order
		statusWritten bool
		restockedRows []DecrementedItem
	)
	err := s.uow.Do(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrder(ctx, input.OrderID)
		if err != nil {
			return err
		}

		outcome, err := enums.OrderTransitions.Apply(order.Status, input.Status)
		if err != nil {
			return err
		}
		if !outcome.Changed() {
			result = order
			return nil
		}

		updated, err := repo.UpdateOrderStatus(ctx, order.ID, outcome.From, outcome.To)
		if err != nil {
			return err
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently")
		}
		statusWritten = true

		restocked := 0
		if outcome.To == enums.OrderStatusCancelled {
			for _, item := range order.Items {
				if err := repo.RestockProduct(ctx, item.ProductID, item.Quantity); err != nil {
					return err
				}
				restocked += item.Quantity
				restockedRows = append(restockedRows, DecrementedItem{ProductID: item.ProductID, Quantity: item.Quantity})
			}
		}

		eventType := enums.EventOrderDelivered
		if outcome.To == enums.OrderStatusCancelled {
			eventType = enums.EventOrderCancelled
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.ActorUserID, Role: input.ActorRole.String()},
			Data: payloads.OrderStatusEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				From:        outcome.From,
				To:          outcome.To,
				Restocked:   restocked,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order status")
		}

		order.Status = outcome.To
		result = order
		return nil
	})
	if err != nil {
		if statusWritten && !s.uow.Atomic() {
			return nil, s.partialFailure(ctx, err, "order status changed but follow-up writes failed", map[string]any{
				"order_id":  input.OrderID,
				"status":    input.Status,
				"restocked": restockedRows,
			})
		}
		return nil, err
	}
	return result, nil
}

func (s *service) Get(ctx context.Context, orderID, actorID uuid.UUID, actorRole enums.UserRole) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actorRole.Staff() && order.BuyerID != actorID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller")
	}
	return order, nil
}

func validateCreate(input CreateOrderInput) error {
	if input.BuyerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	if strings.TrimSpace(input.CustomerName) == "" || strings.TrimSpace(input.CustomerPhone) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer name and phone are required")
	}
	if len(input.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one item")
	}
	for i, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "product id required").
				WithDetails(map[string]any{"item": i})
		}
		if item.Quantity < 1 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1").
				WithDetails(map[string]any{"item": i})
		}
	}
	return nil
}

func insufficientStock(product *models.Product, requested int) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, fmt.Sprintf("insufficient stock for %s", product.Name)).
		WithDetails(map[string]any{
			"product_id": product.ID.String(),
			"requested":  requested,
			"available":  product.CurrentStock,
		})
}

func codeOf(err error) pkgerrors.Code {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Code()
	}
	return pkgerrors.CodeInternal
}
