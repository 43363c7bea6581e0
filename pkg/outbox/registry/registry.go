// Package registry knows which outbox event types the publisher may ship and
// how to decode each one before it leaves the process.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox"
	"github.com/angelmondragon/pharmaflow-backend/pkg/outbox/payloads"
)

// EventDescriptor is the route and schema for one event type.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	newPayload    func() any
}

// ResolvedEvent is an outbox row that passed validation.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that will fail the same way on every attempt.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func schema[T any]() func() any {
	return func() any { return new(T) }
}

// NewEventRegistry routes every domain event to topic.
func NewEventRegistry(topic string) (*EventRegistry, error) {
	if topic == "" {
		return nil, errors.New("event topic is required")
	}
	routes := []EventDescriptor{
		{EventType: enums.EventOrderPlaced, AggregateType: enums.AggregateOrder, newPayload: schema[payloads.OrderPlacedEvent]()},
		{EventType: enums.EventOrderCancelled, AggregateType: enums.AggregateOrder, newPayload: schema[payloads.OrderStatusEvent]()},
		{EventType: enums.EventOrderDelivered, AggregateType: enums.AggregateOrder, newPayload: schema[payloads.OrderStatusEvent]()},
		{EventType: enums.EventPaymentCaptured, AggregateType: enums.AggregatePayment, newPayload: schema[payloads.PaymentCapturedEvent]()},
		{EventType: enums.EventPaymentFailed, AggregateType: enums.AggregatePayment, newPayload: schema[payloads.PaymentFailedEvent]()},
		{EventType: enums.EventPointsEarned, AggregateType: enums.AggregatePoints, newPayload: schema[payloads.PointsEvent]()},
		{EventType: enums.EventPointsRedeemed, AggregateType: enums.AggregatePoints, newPayload: schema[payloads.PointsEvent]()},
		{EventType: enums.EventShipmentCreated, AggregateType: enums.AggregateShipment, newPayload: schema[payloads.ShipmentEvent]()},
		{EventType: enums.EventShipmentStatusChanged, AggregateType: enums.AggregateShipment, newPayload: schema[payloads.ShipmentEvent]()},
		{EventType: enums.EventReferralAttributed, AggregateType: enums.AggregateReferral, newPayload: schema[payloads.ReferralAttributedEvent]()},
	}
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(routes))}
	for _, d := range routes {
		d.Topic = topic
		reg.entries[d.EventType] = d
	}
	return reg, nil
}

// Resolve checks the row against its descriptor and decodes the typed payload.
// Every failure is non-retryable since the row itself is bad.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("%s: aggregate %s, expected %s", event.EventType, event.AggregateType, desc.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(fmt.Errorf("%s: missing aggregate_id", event.EventType))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}
	payload := desc.newPayload()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
