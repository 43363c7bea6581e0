package shipments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/internal/webhookledger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db"
	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmaflow-backend/pkg/errors"
	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/metrics"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox/payloads"
)

type CreateInput struct {
	OrderID  uuid.UUID
	Provider enums.ShippingProvider
	Force    bool
}

// WebhookInput is one carrier tracking callback with its shared-secret token.
type WebhookInput struct {
	Provider enums.ShippingProvider
	Token    string
	Body     []byte
}

type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Shipment, error)
	Track(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error)
	Cancel(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error)
	HandleWebhook(ctx context.Context, input WebhookInput) (webhookledger.Result, error)
}

type ServiceParams struct {
	Repo            Repository
	UnitOfWork      db.UnitOfWork
	Providers       []ShippingProvider
	DefaultProvider enums.ShippingProvider
	Ledger          webhookledger.Ledger
	Outbox          outbox.Emitter
	Logger          *logger.Logger
	Metrics         *metrics.SettlementMetrics
}

type service struct {
	repo            Repository
	uow             db.UnitOfWork
	providers       map[enums.ShippingProvider]ShippingProvider
	defaultProvider enums.ShippingProvider
	ledger          webhookledger.Ledger
	outbox          outbox.Emitter
	logg            *logger.Logger
	metrics         *metrics.SettlementMetrics
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("shipments repository required")
	}
	if params.UnitOfWork == nil {
		return nil, fmt.Errorf("unit of work required")
	}
	if len(params.Providers) == 0 {
		return nil, fmt.Errorf("at least one shipping provider required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("webhook ledger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}

	providers := make(map[enums.ShippingProvider]ShippingProvider, len(params.Providers))
	for _, provider := range params.Providers {
		if provider == nil {
			return nil, fmt.Errorf("nil shipping provider")
		}
		providers[provider.Name()] = provider
	}
	if params.DefaultProvider == "" {
		params.DefaultProvider = params.Providers[0].Name()
	}
	if _, ok := providers[params.DefaultProvider]; !ok {
		return nil, fmt.Errorf("default shipping provider %q not registered", params.DefaultProvider)
	}

	return &service{
		repo:            params.Repo,
		uow:             params.UnitOfWork,
		providers:       providers,
		defaultProvider: params.DefaultProvider,
		ledger:          params.Ledger,
		outbox:          params.Outbox,
		logg:            params.Logger,
		metrics:         params.Metrics,
	}, nil
}

func (s *service) provider(name enums.ShippingProvider) (ShippingProvider, error) {
	if name == "" {
		name = s.defaultProvider
	}
	provider, ok := s.providers[name]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported shipping provider %q", name))
	}
	return provider, nil
}

// Create provisions the order's shipment. Without force an existing shipment
// is returned as is and the carrier is not called. A first create claims the
// order's row before calling the carrier, so concurrent callers share one
// carrier shipment. Carrier failures are persisted instead of failing the
// request.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.Shipment, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())

	existing, err := s.repo.FindByOrderID(ctx, input.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load shipment")
	}
	if existing != nil && !input.Force {
		return existing, nil
	}

	providerName := input.Provider
	if providerName == "" && existing != nil {
		providerName = existing.Provider
	}
	provider, err := s.provider(providerName)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.FindOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status == enums.OrderStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cancelled orders cannot be shipped")
	}

	ctx = s.logg.WithProvider(ctx, provider.Name().String())
	if existing == nil {
		holder, claimed, err := s.claim(ctx, order.ID, provider.Name())
		if err != nil {
			return nil, err
		}
		if !claimed {
			s.logg.Info(ctx, "shipment already being provisioned")
			return holder, nil
		}
	}

	result, err := s.call(provider, "create", func() (*Result, error) {
		return provider.CreateOrderFromInternal(ctx, NewOrderView(order))
	})
	if err != nil {
		s.logg.Error(ctx, "shipment creation failed", err)
		return s.recordFailure(ctx, order.ID, existing, err)
	}
	if result.AWB == "" && result.ShipmentID != "" {
		assigned, assignErr := s.call(provider, "assign", func() (*Result, error) {
			return provider.AssignShipment(ctx, result.ShipmentID)
		})
		if assignErr != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", assignErr.Error()), "awb assignment failed")
		} else {
			result = merge(result, assigned)
		}
	}
	record := &models.Shipment{OrderID: order.ID, Provider: provider.Name()}
	applyResult(record, result)

	var saved *models.Shipment
	err = s.uow.Do(ctx, func(tx *gorm.DB) error {
		upserted, err := s.repo.WithTx(tx).Upsert(ctx, record)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist shipment")
		}
		saved = upserted
		return s.emit(ctx, tx, enums.EventShipmentCreated, saved, "")
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithField(ctx, "status", saved.Status.String()), "shipment provisioned")
	return saved, nil
}

// claim inserts a CREATED placeholder for the order. When another caller
// holds the row already, that row is returned with claimed false.
func (s *service) claim(ctx context.Context, orderID uuid.UUID, provider enums.ShippingProvider) (*models.Shipment, bool, error) {
	var (
		holder  *models.Shipment
		claimed bool
	)
	err := s.uow.Do(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		placeholder := &models.Shipment{OrderID: orderID, Provider: provider, Status: enums.ShipmentStatusCreated}
		ok, err := repo.Claim(ctx, placeholder)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim shipment")
		}
		claimed = ok
		if ok {
			return nil
		}
		current, err := repo.FindByOrderID(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load shipment")
		}
		holder = current
		return nil
	})
	return holder, claimed, err
}

// recordFailure keeps whatever carrier references the row already has. A
// failed re-create of a live shipment leaves its status alone so tracking and
// webhooks keep matching it; anything else becomes FAILED.
func (s *service) recordFailure(ctx context.Context, orderID uuid.UUID, existing *models.Shipment, cause error) (*models.Shipment, error) {
	status := enums.ShipmentStatusFailed
	if existing != nil && hasCarrierReference(existing) && !existing.Status.Terminal() {
		status = existing.Status
	}
	var saved *models.Shipment
	err := s.uow.Do(ctx, func(tx *gorm.DB) error {
		failed, err := s.repo.WithTx(tx).RecordFailure(ctx, orderID, status, cause.Error())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist shipment failure")
		}
		saved = failed
		return nil
	})
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "shipment row missing after failed create")
	}
	return saved, nil
}

func hasCarrierReference(shipment *models.Shipment) bool {
	return shipment.AWB != nil || shipment.ShipmentID != nil || shipment.ProviderOrderID != nil
}

// Track refreshes the shipment from its carrier. Statuses only move forward;
// a stale carrier status keeps the stored one and only refreshes the payload.
func (s *service) Track(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	shipment, provider, err := s.resolve(ctx, orderID)
	if err != nil {
		return nil, err
	}
	req := trackRequestFor(shipment)
	if req.identifier() == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "shipment has no carrier reference to track")
	}

	ctx = s.logg.WithProvider(s.logg.WithOrderID(ctx, orderID.String()), provider.Name().String())
	result, err := s.call(provider, "track", func() (*Result, error) {
		return provider.Track(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	var refreshed *models.Shipment
	err = s.uow.Do(ctx, func(tx *gorm.DB) error {
		if err := s.applyStatus(ctx, tx, shipment, result.Status, result.Raw); err != nil {
			return err
		}
		current, err := s.repo.WithTx(tx).FindByOrderID(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload shipment")
		}
		refreshed = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refreshed, nil
}

// Cancel cancels the shipment with its carrier. Cancelling twice is a no-op.
func (s *service) Cancel(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	shipment, provider, err := s.resolve(ctx, orderID)
	if err != nil {
		return nil, err
	}
	outcome, err := enums.ShipmentTransitions.Apply(shipment.Status, enums.ShipmentStatusCancelled)
	if err != nil {
		return nil, err
	}
	if !outcome.Changed() {
		return shipment, nil
	}

	ctx = s.logg.WithProvider(s.logg.WithOrderID(ctx, orderID.String()), provider.Name().String())
	result, err := s.call(provider, "cancel", func() (*Result, error) {
		return provider.Cancel(ctx, trackRequestFor(shipment))
	})
	if err != nil {
		return nil, err
	}

	var cancelled *models.Shipment
	err = s.uow.Do(ctx, func(tx *gorm.DB) error {
		if err := s.applyStatus(ctx, tx, shipment, enums.ShipmentStatusCancelled, result.Raw); err != nil {
			return err
		}
		current, err := s.repo.WithTx(tx).FindByOrderID(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload shipment")
		}
		cancelled = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// HandleWebhook applies an authenticated carrier tracking callback once.
func (s *service) HandleWebhook(ctx context.Context, input WebhookInput) (webhookledger.Result, error) {
	provider, err := s.provider(input.Provider)
	if err != nil {
		return webhookledger.Result{}, err
	}
	ledgerProvider := provider.Name().Webhook()
	source, ok := provider.(WebhookSource)
	if !ok {
		return webhookledger.Result{}, pkgerrors.New(pkgerrors.CodeNotFound, "carrier does not accept webhooks")
	}
	if !source.VerifyWebhookToken(input.Token) {
		s.metrics.WebhookReceived(ledgerProvider.String(), metrics.OutcomeRejected)
		s.logg.Warn(s.logg.WithProvider(ctx, provider.Name().String()), "carrier webhook token mismatch")
		return webhookledger.Result{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook token")
	}

	update, err := source.ParseWebhook(input.Body)
	if err != nil {
		s.metrics.WebhookReceived(ledgerProvider.String(), metrics.OutcomeRejected)
		return webhookledger.Result{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid carrier webhook payload")
	}

	naturalKey := ""
	if update.AWB != "" {
		naturalKey = update.AWB + ":" + strings.ToUpper(strings.TrimSpace(update.RawStatus))
	}
	entry := webhookledger.Entry{
		Provider:  ledgerProvider,
		EventID:   webhookledger.DeriveEventID(ledgerProvider, update.EventID, naturalKey, input.Body),
		EventType: "tracking",
		Payload:   input.Body,
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"provider": provider.Name().String(), "event_id": entry.EventID, "awb": update.AWB})

	var result webhookledger.Result
	err = s.uow.Do(ctx, func(tx *gorm.DB) error {
		recorded, err := s.ledger.Record(ctx, tx, entry)
		if err != nil {
			return err
		}
		result = recorded
		if recorded.Existing || update.AWB == "" {
			return nil
		}
		shipment, err := s.repo.WithTx(tx).FindByAWB(ctx, update.AWB)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load shipment")
		}
		if shipment == nil {
			s.logg.Warn(ctx, "carrier webhook for unknown awb")
			return nil
		}
		return s.applyStatus(ctx, tx, shipment, update.Status, input.Body)
	})
	if err != nil {
		s.metrics.WebhookReceived(ledgerProvider.String(), metrics.OutcomeFailed)
		return webhookledger.Result{}, err
	}
	if result.Existing {
		s.metrics.WebhookReceived(ledgerProvider.String(), metrics.OutcomeDuplicate)
	} else {
		s.metrics.WebhookReceived(ledgerProvider.String(), metrics.OutcomeProcessed)
	}
	return result, nil
}

func (s *service) resolve(ctx context.Context, orderID uuid.UUID) (*models.Shipment, ShippingProvider, error) {
	if orderID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	shipment, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load shipment")
	}
	if shipment == nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
	}
	provider, err := s.provider(shipment.Provider)
	if err != nil {
		return nil, nil, err
	}
	return shipment, provider, nil
}

// applyStatus moves the shipment forward when the carrier status allows it
// and always keeps the latest tracking payload.
func (s *service) applyStatus(ctx context.Context, tx *gorm.DB, shipment *models.Shipment, target enums.ShipmentStatus, tracking json.RawMessage) error {
	repo := s.repo.WithTx(tx)
	if target == "" {
		return wrapInternal(repo.SaveTracking(ctx, shipment.ID, tracking), "save tracking payload")
	}
	outcome, err := enums.ShipmentTransitions.Apply(shipment.Status, target)
	if err != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{"from": shipment.Status.String(), "to": target.String()}), "carrier status not applied")
		return wrapInternal(repo.SaveTracking(ctx, shipment.ID, tracking), "save tracking payload")
	}
	if !outcome.Changed() {
		return wrapInternal(repo.SaveTracking(ctx, shipment.ID, tracking), "save tracking payload")
	}

	updated, err := repo.UpdateStatus(ctx, shipment.ID, outcome.From, outcome.To, tracking)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update shipment status")
	}
	if !updated {
		// A concurrent refresh already moved it.
		return nil
	}
	from := shipment.Status
	next := *shipment
	next.Status = outcome.To
	return s.emit(ctx, tx, enums.EventShipmentStatusChanged, &next, from)
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, shipment *models.Shipment, from enums.ShipmentStatus) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateShipment,
		AggregateID:   shipment.ID,
		Data: payloads.ShipmentEvent{
			ShipmentID: shipment.ID,
			OrderID:    shipment.OrderID,
			Provider:   shipment.Provider,
			AWB:        shipment.AWB,
			From:       from,
			Status:     shipment.Status,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit shipment event")
	}
	return nil
}

func (s *service) call(provider ShippingProvider, op string, fn func() (*Result, error)) (*Result, error) {
	started := time.Now()
	result, err := fn()
	s.metrics.ObserveProviderCall(provider.Name().String(), op, time.Since(started), err)
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s %s failed", provider.Name(), op))
		}
		return nil, err
	}
	if result == nil {
		result = &Result{}
	}
	return result, nil
}

func applyResult(record *models.Shipment, result *Result) {
	record.ProviderOrderID = optional(result.ProviderOrderID)
	record.ShipmentID = optional(result.ShipmentID)
	record.AWB = optional(result.AWB)
	record.CourierName = optional(result.CourierName)
	record.Raw = result.Raw
	record.Status = result.Status
	if record.Status == "" || record.Status == enums.ShipmentStatusCreated {
		if result.AWB != "" {
			record.Status = enums.ShipmentStatusAWBAssigned
		} else {
			record.Status = enums.ShipmentStatusCreated
		}
	}
}

// merge fills gaps in base from the assignment result.
func merge(base, assigned *Result) *Result {
	merged := *base
	if assigned.AWB != "" {
		merged.AWB = assigned.AWB
	}
	if assigned.CourierName != "" {
		merged.CourierName = assigned.CourierName
	}
	if assigned.ShipmentID != "" {
		merged.ShipmentID = assigned.ShipmentID
	}
	if assigned.Status != "" {
		merged.Status = assigned.Status
	}
	return &merged
}

func wrapInternal(err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg)
}
